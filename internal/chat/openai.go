// Package chat provides chat stream collaborators: an OpenAI-compatible
// streaming client and a stream over piped text.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/charmbracelet/log"
	"github.com/sashabaranov/go-openai"

	"github.com/novera-ai/novera/internal/ttypes"
)

// ErrNoAPIKey is returned when no OpenAI credentials are configured.
var ErrNoAPIKey = errors.New("chat: OPENAI_API_KEY is not set")

// DefaultSystemPrompt keeps answers short and speakable.
const DefaultSystemPrompt = "You are NovEra, a friendly voice assistant. Answer in plain, " +
	"conversational sentences that read well aloud. Avoid tables and code unless asked."

// Config holds the OpenAI client settings.
type Config struct {
	APIKey       string
	BaseURL      string // Empty for api.openai.com
	Model        string
	SystemPrompt string
	Temperature  float32
	MaxTokens    int
}

// DefaultConfig returns the default chat settings. The API key comes from
// the environment.
func DefaultConfig() Config {
	return Config{
		Model:        openai.GPT4oMini,
		SystemPrompt: DefaultSystemPrompt,
		Temperature:  0.7,
	}
}

// OpenAI streams chat completions from an OpenAI-compatible endpoint.
type OpenAI struct {
	client *openai.Client
	config Config
	logger *log.Logger
}

// NewOpenAI creates a streaming chat client.
func NewOpenAI(config Config, logger *log.Logger) (*OpenAI, error) {
	if config.APIKey == "" {
		return nil, ErrNoAPIKey
	}
	if config.Model == "" {
		config.Model = DefaultConfig().Model
	}
	if logger == nil {
		logger = log.New(io.Discard)
	}

	cc := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		cc.BaseURL = config.BaseURL
	}
	return &OpenAI{
		client: openai.NewClientWithConfig(cc),
		config: config,
		logger: logger.WithPrefix("chat"),
	}, nil
}

// Stream implements ttypes.ChatStreamer.
func (o *OpenAI) Stream(ctx context.Context, query string, history []ttypes.HistoryEntry) (<-chan ttypes.ChatChunk, <-chan error) {
	out := make(chan ttypes.ChatChunk)
	errs := make(chan error, 1)

	go func() {
		defer close(out)
		if err := o.stream(ctx, o.request(query, history), out); err != nil {
			errs <- err
		}
	}()
	return out, errs
}

func (o *OpenAI) request(query string, history []ttypes.HistoryEntry) openai.ChatCompletionRequest {
	msgs := make([]openai.ChatCompletionMessage, 0, len(history)+2)
	if o.config.SystemPrompt != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: o.config.SystemPrompt})
	}
	for _, h := range history {
		role := openai.ChatMessageRoleUser
		if h.Role == ttypes.RoleModel {
			role = openai.ChatMessageRoleAssistant
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: h.Text})
	}
	msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: query})

	return openai.ChatCompletionRequest{
		Model:       o.config.Model,
		Messages:    msgs,
		MaxTokens:   o.config.MaxTokens,
		Temperature: o.config.Temperature,
		Stream:      true,
	}
}

func (o *OpenAI) stream(ctx context.Context, req openai.ChatCompletionRequest, out chan<- ttypes.ChatChunk) error {
	stream, err := o.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return fmt.Errorf("creating completion stream: %w", err)
	}
	defer stream.Close()

	calls := make(map[int]*openai.ToolCall)
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("receiving completion: %w", err)
		}
		if len(resp.Choices) == 0 {
			continue
		}

		choice := resp.Choices[0]
		var chunk ttypes.ChatChunk
		chunk.TextDelta = choice.Delta.Content
		for _, tc := range choice.Delta.ToolCalls {
			accumulate(calls, tc)
		}
		if choice.FinishReason == openai.FinishReasonToolCalls {
			chunk.ToolCalls = o.flush(calls)
		}
		if chunk.TextDelta == "" && len(chunk.ToolCalls) == 0 {
			continue
		}

		select {
		case out <- chunk:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// accumulate merges a streamed tool call fragment; names and IDs arrive once,
// arguments in pieces.
func accumulate(calls map[int]*openai.ToolCall, tc openai.ToolCall) {
	idx := 0
	if tc.Index != nil {
		idx = *tc.Index
	}
	call, ok := calls[idx]
	if !ok {
		call = &openai.ToolCall{Index: tc.Index, Type: tc.Type}
		calls[idx] = call
	}
	if tc.ID != "" {
		call.ID = tc.ID
	}
	if tc.Function.Name != "" {
		call.Function.Name = tc.Function.Name
	}
	call.Function.Arguments += tc.Function.Arguments
}

func (o *OpenAI) flush(calls map[int]*openai.ToolCall) []ttypes.ToolCall {
	idxs := make([]int, 0, len(calls))
	for idx := range calls {
		idxs = append(idxs, idx)
	}
	sort.Ints(idxs)

	out := make([]ttypes.ToolCall, 0, len(idxs))
	for _, idx := range idxs {
		call := calls[idx]
		delete(calls, idx)
		if call.Function.Name == "" {
			continue
		}
		tc := ttypes.ToolCall{Name: call.Function.Name}
		if call.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(call.Function.Arguments), &tc.Args); err != nil {
				o.logger.Warn("tool call arguments are not JSON", "tool", tc.Name, "err", err)
			}
		}
		out = append(out, tc)
	}
	return out
}
