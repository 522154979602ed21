package segment

import "testing"

func TestClean(t *testing.T) {
	tests := []struct {
		name     string
		sentence string
		want     string
	}{
		{"Bold and italic", "This is **bold** and *italic* text.", "This is bold and italic text."},
		{"Links", "Visit [Google](https://google.com) now.", "Visit Google now."},
		{"Citations", "According to the docs [1], it works [2, 3].", "According to the docs, it works."},
		{"Heading", "## Heading here", "Heading here"},
		{"Bullet", "- item one", "item one"},
		{"Ordinal", "2. Second step.", "Second step."},
		{"Inline code", "Use `go test` now.", "Use go test now."},
		{"Raw URL", "See https://example.com for more.", "See for more."},
		{"Snake case survives", "Set max_size to ten.", "Set max_size to ten."},
		{"Markup only", "**", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Clean(tt.sentence); got != tt.want {
				t.Errorf("Clean(%q) = %q, want %q", tt.sentence, got, tt.want)
			}
		})
	}
}

func TestPlainText(t *testing.T) {
	tests := []struct {
		name     string
		markdown string
		want     string
	}{
		{
			name:     "Headings become sentences",
			markdown: "# Title\n\nThis is a paragraph. It has two sentences.",
			want:     "Title.\n\nThis is a paragraph. It has two sentences.",
		},
		{
			name:     "Lists",
			markdown: "Items:\n- First item\n- Second item",
			want:     "Items:\n\nFirst item.\n\nSecond item.",
		},
		{
			name:     "Code blocks are skipped",
			markdown: "Here is text.\n\n```go\nx := 1\n```\n\nMore text.",
			want:     "Here is text.\n\nMore text.",
		},
		{
			name:     "Inline markup",
			markdown: "Visit [Google](https://google.com) for **more** info.",
			want:     "Visit Google for more info.",
		},
		{
			name:     "Soft line breaks",
			markdown: "Line one\nline two.",
			want:     "Line one line two.",
		},
		{
			name:     "Empty",
			markdown: "",
			want:     "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PlainText(tt.markdown); got != tt.want {
				t.Errorf("PlainText() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPlainText_ChunksCleanly(t *testing.T) {
	got := Chunk(PlainText("# Plan\n\n1. Buy milk\n2. Call home"), 400)
	want := []string{"Plan. Buy milk. Call home."}
	if !sameSentences(got, want) {
		t.Errorf("Chunk(PlainText()) = %q, want %q", got, want)
	}
}
