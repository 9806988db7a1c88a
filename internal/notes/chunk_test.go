package notes

import (
	"strings"
	"testing"
)

func TestSplitChunks_Empty(t *testing.T) {
	if got := SplitChunks(""); got != nil {
		t.Errorf("SplitChunks(\"\") = %v, want nil", got)
	}
	if got := SplitChunks("   \n\n  "); got != nil {
		t.Errorf("SplitChunks(whitespace) = %v, want nil", got)
	}
}

func TestSplitChunks_SingleParagraph(t *testing.T) {
	got := SplitChunks("a short note")
	if len(got) != 1 {
		t.Fatalf("got %d chunks, want 1", len(got))
	}
	if got[0].Content != "a short note" {
		t.Errorf("content = %q", got[0].Content)
	}
	if got[0].Index != 0 {
		t.Errorf("index = %d, want 0", got[0].Index)
	}
}

func TestSplitChunks_GroupsParagraphs(t *testing.T) {
	content := "first paragraph\n\nsecond paragraph\n\nthird paragraph"
	got := SplitChunks(content)
	if len(got) != 1 {
		t.Fatalf("got %d chunks, want 1 (short paragraphs share a chunk)", len(got))
	}
	if !strings.Contains(got[0].Content, "first paragraph") || !strings.Contains(got[0].Content, "third paragraph") {
		t.Errorf("content = %q", got[0].Content)
	}
}

func TestSplitChunks_SplitsAtParagraphBoundary(t *testing.T) {
	para := strings.Repeat("word ", 150) // ~750 chars
	content := strings.TrimSpace(para) + "\n\n" + strings.TrimSpace(para)
	got := SplitChunks(content)
	if len(got) != 2 {
		t.Fatalf("got %d chunks, want 2", len(got))
	}
	for i, c := range got {
		if len(c.Content) > maxChunkChars {
			t.Errorf("chunk %d is %d chars, over the limit", i, len(c.Content))
		}
		if c.Index != i {
			t.Errorf("chunk %d has index %d", i, c.Index)
		}
	}
}

func TestSplitChunks_OversizedParagraph(t *testing.T) {
	content := strings.TrimSpace(strings.Repeat("word ", 600)) // ~3000 chars, no breaks
	got := SplitChunks(content)
	if len(got) < 2 {
		t.Fatalf("got %d chunks, want several", len(got))
	}
	for i, c := range got {
		if len(c.Content) > maxChunkChars+chunkOverlapChars {
			t.Errorf("chunk %d is %d chars", i, len(c.Content))
		}
	}
	// Overlap: the tail of each chunk reappears at the head of the next.
	for i := 1; i < len(got); i++ {
		prev := got[i-1].Content
		tail := prev[len(prev)-20:]
		if !strings.Contains(got[i].Content[:min(len(got[i].Content), chunkOverlapChars+40)], strings.TrimSpace(tail)) {
			t.Errorf("chunk %d does not overlap its predecessor", i)
		}
	}
}
