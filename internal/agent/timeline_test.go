package agent

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/ananyateklu/second-brain-go/internal/llm"
)

func TestTimeline_PassThroughUnderCeiling(t *testing.T) {
	tl := NewTimeline(100)

	emitted, ok := tl.AppendText("hello ")
	if !ok || emitted != "hello " {
		t.Errorf("AppendText = (%q, %v), want (%q, true)", emitted, ok, "hello ")
	}
	emitted, ok = tl.AppendText("world")
	if !ok || emitted != "world" {
		t.Errorf("AppendText = (%q, %v), want (%q, true)", emitted, ok, "world")
	}

	if tl.Text() != "hello world" {
		t.Errorf("Text() = %q, want %q", tl.Text(), "hello world")
	}
	if tl.Truncated() {
		t.Error("Truncated() = true for response under ceiling")
	}
}

func TestTimeline_ClipsAtCeiling(t *testing.T) {
	tl := NewTimeline(10)

	tl.AppendText("12345")
	emitted, ok := tl.AppendText("6789012345")
	if !ok {
		t.Error("clipping delta should still report ok")
	}
	if !strings.HasSuffix(emitted, TruncationMarker) {
		t.Errorf("clipping delta %q should end with marker", emitted)
	}
	if !strings.HasPrefix(emitted, "67890") {
		t.Errorf("clipping delta %q should keep the part that fits", emitted)
	}

	if !tl.Truncated() {
		t.Error("Truncated() = false after ceiling hit")
	}
	if got := strings.Count(tl.Text(), TruncationMarker); got != 1 {
		t.Errorf("marker appears %d times, want 1", got)
	}
}

func TestTimeline_DropsTextAfterSaturation(t *testing.T) {
	tl := NewTimeline(5)
	tl.AppendText("123456")

	before := tl.Text()
	emitted, ok := tl.AppendText("more")
	if ok || emitted != "" {
		t.Errorf("AppendText after saturation = (%q, %v), want (\"\", false)", emitted, ok)
	}
	if tl.Text() != before {
		t.Error("text changed after saturation")
	}
	if got := strings.Count(tl.Text(), TruncationMarker); got != 1 {
		t.Errorf("marker appears %d times, want 1", got)
	}
}

func TestTimeline_Unbounded(t *testing.T) {
	tl := NewTimeline(0)
	big := strings.Repeat("x", 1<<20)
	if emitted, ok := tl.AppendText(big); !ok || emitted != big {
		t.Error("unbounded timeline should pass everything through")
	}
	if tl.Truncated() {
		t.Error("unbounded timeline reported truncation")
	}
}

func TestTimeline_PreToolTextCapture(t *testing.T) {
	tl := NewTimeline(0)
	now := time.Now()

	tl.AppendText("Let me check your notes.")
	tl.StartTool(llm.ToolCall{ID: "c1", Name: "search_notes", Arguments: json.RawMessage(`{"query":"go"}`)}, now)
	tl.EndTool("c1", "Found 2 notes", true, now.Add(50*time.Millisecond))
	tl.AppendText(" Here is what I found.")

	recs := tl.ToolRecords()
	if len(recs) != 1 {
		t.Fatalf("got %d records, want 1", len(recs))
	}
	rec := recs[0]
	if rec.PreToolText != "Let me check your notes." {
		t.Errorf("PreToolText = %q", rec.PreToolText)
	}
	if rec.Result != "Found 2 notes" || !rec.Success {
		t.Errorf("result = (%q, %v)", rec.Result, rec.Success)
	}
	if rec.DurationMs != 50 {
		t.Errorf("DurationMs = %d, want 50", rec.DurationMs)
	}
}

func TestTimeline_PreToolTextAdvancesPerTool(t *testing.T) {
	tl := NewTimeline(0)
	now := time.Now()

	tl.AppendText("first thoughts. ")
	tl.StartTool(llm.ToolCall{ID: "c1", Name: "search_notes"}, now)
	tl.EndTool("c1", "ok", true, now.Add(time.Millisecond))
	tl.AppendText("second thoughts. ")
	tl.StartTool(llm.ToolCall{ID: "c2", Name: "get_note"}, now)
	tl.EndTool("c2", "ok", true, now.Add(time.Millisecond))

	recs := tl.ToolRecords()
	if len(recs) != 2 {
		t.Fatalf("got %d records, want 2", len(recs))
	}
	if recs[0].PreToolText != "first thoughts. " {
		t.Errorf("first PreToolText = %q", recs[0].PreToolText)
	}
	if recs[1].PreToolText != "second thoughts. " {
		t.Errorf("second PreToolText = %q, want only the text since the previous tool finished", recs[1].PreToolText)
	}
}

func TestTimeline_ParallelBatchSharesPreToolText(t *testing.T) {
	tl := NewTimeline(0)
	now := time.Now()

	tl.AppendText("checking two things. ")
	tl.StartTool(llm.ToolCall{ID: "c1", Name: "search_notes"}, now)
	tl.StartTool(llm.ToolCall{ID: "c2", Name: "recent_notes"}, now)
	tl.EndTool("c1", "ok", true, now.Add(time.Millisecond))
	tl.EndTool("c2", "ok", true, now.Add(time.Millisecond))

	recs := tl.ToolRecords()
	if len(recs) != 2 {
		t.Fatalf("got %d records, want 2", len(recs))
	}
	// Both calls started before either finished, so both claim the same text.
	for i, rec := range recs {
		if rec.PreToolText != "checking two things. " {
			t.Errorf("record %d PreToolText = %q", i, rec.PreToolText)
		}
	}
}

func TestTimeline_StartToolIdempotent(t *testing.T) {
	tl := NewTimeline(0)
	now := time.Now()
	call := llm.ToolCall{ID: "c1", Name: "search_notes"}

	tl.StartTool(call, now)
	tl.AppendText("some text")
	tl.StartTool(call, now.Add(time.Second))

	recs := tl.ToolRecords()
	if len(recs) != 1 {
		t.Fatalf("got %d records, want 1", len(recs))
	}
	if recs[0].PreToolText != "" {
		t.Errorf("second StartTool overwrote PreToolText: %q", recs[0].PreToolText)
	}
}

func TestTimeline_EndToolUnknownID(t *testing.T) {
	tl := NewTimeline(0)
	tl.EndTool("missing", "result", true, time.Now())
	if len(tl.ToolRecords()) != 0 {
		t.Error("EndTool on unknown id created a record")
	}
}

func TestTimeline_ToolsCompleteAfterTruncation(t *testing.T) {
	tl := NewTimeline(5)
	now := time.Now()

	tl.AppendText("123456")
	tl.StartTool(llm.ToolCall{ID: "c1", Name: "get_note"}, now)
	tl.EndTool("c1", "note body", true, now.Add(time.Millisecond))

	recs := tl.ToolRecords()
	if len(recs) != 1 || !recs[0].Success {
		t.Fatal("tool record should complete normally after truncation")
	}
}
