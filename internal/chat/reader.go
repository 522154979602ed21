package chat

import (
	"context"
	"errors"
	"io"
	"unicode/utf8"

	"github.com/novera-ai/novera/internal/ttypes"
)

const defaultReadSize = 256

// ReaderStream is a chat stream over text that is already being produced
// elsewhere, such as another program's output piped to stdin. The query and
// history are ignored.
type ReaderStream struct {
	r    io.Reader
	size int
}

// NewReaderStream streams r as it is read, at most size bytes per chunk.
func NewReaderStream(r io.Reader, size int) *ReaderStream {
	if size < utf8.UTFMax {
		size = defaultReadSize
	}
	return &ReaderStream{r: r, size: size}
}

// Stream implements ttypes.ChatStreamer. Chunks never split a UTF-8 sequence.
func (s *ReaderStream) Stream(ctx context.Context, _ string, _ []ttypes.HistoryEntry) (<-chan ttypes.ChatChunk, <-chan error) {
	out := make(chan ttypes.ChatChunk)
	errs := make(chan error, 1)

	go func() {
		defer close(out)

		send := func(text string) bool {
			select {
			case out <- ttypes.ChatChunk{TextDelta: text}:
				return true
			case <-ctx.Done():
				errs <- ctx.Err()
				return false
			}
		}

		buf := make([]byte, s.size)
		var pending []byte
		for {
			n, err := s.r.Read(buf)
			if n > 0 {
				pending = append(pending, buf[:n]...)
				cut := completePrefix(pending)
				if cut > 0 {
					if !send(string(pending[:cut])) {
						return
					}
					pending = append(pending[:0], pending[cut:]...)
				}
			}
			if errors.Is(err, io.EOF) {
				if len(pending) > 0 {
					send(string(pending))
				}
				return
			}
			if err != nil {
				errs <- err
				return
			}
		}
	}()
	return out, errs
}

// completePrefix returns the length of b without a trailing partial rune.
func completePrefix(b []byte) int {
	for i := len(b) - 1; i >= 0 && i >= len(b)-utf8.UTFMax; i-- {
		if utf8.RuneStart(b[i]) {
			if utf8.FullRune(b[i:]) {
				return len(b)
			}
			return i
		}
	}
	return len(b)
}
