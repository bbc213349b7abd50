package sentencizer

import "testing"

func TestMarkdownFilterInline(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain text untouched", "Just a normal sentence.", "Just a normal sentence."},
		{"bold stars", "This is **important** now.", "This is important now."},
		{"bold underscores", "This is __important__ now.", "This is important now."},
		{"italic stars", "This is *subtle* now.", "This is subtle now."},
		{"inline code", "Run `go test` to check.", "Run go test to check."},
		{"link keeps text", "See [the docs](https://example.com) first.", "See the docs first."},
		{"image announced", "Look: ![a graph](graph.png)", "Look: Here is an image: a graph."},
		{"strikethrough", "It was ~~wrong~~ fixed.", "It was wrong fixed."},
		{"heading marker", "## Summary of results", "Summary of results"},
		{"bullet marker", "- first point", "first point"},
		{"numbered marker", "1. first point", "first point"},
		{"blockquote marker", "> quoted wisdom", "quoted wisdom"},
		{"whitespace collapsed", "too   many\n\nspaces", "too many spaces"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewMarkdownFilter()
			got, ok := f.Filter(tt.in)
			if !ok {
				t.Fatalf("Filter(%q) skipped the chunk", tt.in)
			}
			if got != tt.want {
				t.Errorf("Filter(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestMarkdownFilterEmptyChunk(t *testing.T) {
	f := NewMarkdownFilter()
	if _, ok := f.Filter(""); ok {
		t.Error("empty chunk not skipped")
	}
	if _, ok := f.Filter("   "); ok {
		t.Error("whitespace-only chunk not skipped")
	}
}

func TestMarkdownFilterCodeBlock(t *testing.T) {
	f := NewMarkdownFilter()

	got, ok := f.Filter("Sure, here you go: ```python")
	if !ok {
		t.Fatal("opening chunk skipped")
	}
	if got != "Here's a code snippet. Sure, here you go:" {
		t.Errorf("opening chunk = %q", got)
	}

	// Content inside the block is suppressed without re-announcing.
	if _, ok := f.Filter("print('hello')"); ok {
		t.Error("code content not suppressed")
	}
	if _, ok := f.Filter("print('world')"); ok {
		t.Error("code content not suppressed across chunks")
	}

	got, ok = f.Filter("``` That covers it.")
	if !ok {
		t.Fatal("closing chunk skipped")
	}
	if got != "That covers it." {
		t.Errorf("closing chunk = %q", got)
	}
}

func TestMarkdownFilterMermaid(t *testing.T) {
	f := NewMarkdownFilter()
	got, ok := f.Filter("```mermaid")
	if !ok {
		t.Fatal("mermaid opening skipped")
	}
	if got != "Here's a diagram." {
		t.Errorf("announcement = %q", got)
	}
	if _, ok := f.Filter("graph TD; A-->B;"); ok {
		t.Error("diagram content not suppressed")
	}
}

func TestMarkdownFilterSplitFence(t *testing.T) {
	f := NewMarkdownFilter()

	// A fence split across chunks: trailing backticks are held back.
	got, ok := f.Filter("Try this: `")
	if !ok {
		t.Fatal("chunk with trailing backtick skipped")
	}
	if got != "Try this:" {
		t.Errorf("chunk = %q", got)
	}

	got, ok = f.Filter("``go")
	if !ok {
		t.Fatal("fence completion skipped")
	}
	if got != "Here's a code snippet." {
		t.Errorf("completion = %q", got)
	}
	if _, ok := f.Filter("fmt.Println(1)"); ok {
		t.Error("code content not suppressed after split fence")
	}
}

func TestMarkdownFilterSecondBlockAnnouncedAgain(t *testing.T) {
	f := NewMarkdownFilter()
	f.Filter("```go")
	f.Filter("code")
	if _, ok := f.Filter("```"); ok {
		t.Error("bare closing fence produced output")
	}

	got, ok := f.Filter("And another: ```python")
	if !ok {
		t.Fatal("second opening skipped")
	}
	if got != "Here's a code snippet. And another:" {
		t.Errorf("second opening = %q", got)
	}
}

func TestMarkdownFilterReset(t *testing.T) {
	f := NewMarkdownFilter()
	f.Filter("```go")
	f.Reset()
	got, ok := f.Filter("Back to normal text.")
	if !ok {
		t.Fatal("chunk skipped after reset")
	}
	if got != "Back to normal text." {
		t.Errorf("chunk = %q", got)
	}
}
