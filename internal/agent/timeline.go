package agent

import (
	"strings"
	"time"

	"github.com/ananyateklu/second-brain-go/internal/conversation"
	"github.com/ananyateklu/second-brain-go/internal/llm"
)

// TruncationMarker is appended to a response that hit the size ceiling.
const TruncationMarker = "\n\n[Response truncated: maximum length reached]"

// Timeline reconstructs a turn's response as an ordered record: the streamed
// text, the tool calls interleaved with it, and which text preceded each
// tool. It also enforces the response size ceiling: once the ceiling is hit
// the marker is appended exactly once and further text is dropped, while
// in-flight tool executions still complete and record normally.
type Timeline struct {
	maxChars  int
	text      strings.Builder
	truncated bool
	cursor    int // start of text not yet claimed by a finished tool call

	records []conversation.ToolCallRecord
	index   map[string]int // tool call id -> records index
}

// NewTimeline creates a timeline with the given response character ceiling.
// ceiling <= 0 means unbounded.
func NewTimeline(maxChars int) *Timeline {
	return &Timeline{
		maxChars: maxChars,
		index:    make(map[string]int),
	}
}

// AppendText adds a response text delta. It returns the portion that fits
// under the ceiling (possibly clipped, with the marker appended on the
// clipping delta) and false once the response is saturated and the delta was
// dropped entirely.
func (t *Timeline) AppendText(delta string) (string, bool) {
	if delta == "" {
		return "", !t.truncated
	}
	if t.truncated {
		return "", false
	}
	if t.maxChars <= 0 || t.text.Len()+len(delta) <= t.maxChars {
		t.text.WriteString(delta)
		return delta, true
	}

	// Ceiling hit: keep what fits, then mark once.
	keep := t.maxChars - t.text.Len()
	if keep < 0 {
		keep = 0
	}
	clipped := delta[:keep] + TruncationMarker
	t.text.WriteString(clipped)
	t.truncated = true
	return clipped, true
}

// StartTool records a tool call beginning, capturing the text emitted since
// the last completed tool call as its pre-tool text. Calls are keyed by tool
// call id so parallel executions correlate correctly.
func (t *Timeline) StartTool(call llm.ToolCall, startedAt time.Time) {
	if _, exists := t.index[call.ID]; exists {
		return
	}
	t.index[call.ID] = len(t.records)
	t.records = append(t.records, conversation.ToolCallRecord{
		ID:          call.ID,
		Name:        call.Name,
		Arguments:   call.Arguments,
		PreToolText: t.text.String()[t.cursor:],
		StartedAt:   startedAt,
	})
}

// EndTool records a tool call's outcome and advances the pre-tool text cursor
// so later tool calls only capture text emitted after this one finished.
// Unknown ids are ignored.
func (t *Timeline) EndTool(id, result string, success bool, completedAt time.Time) {
	i, ok := t.index[id]
	if !ok {
		return
	}
	rec := &t.records[i]
	rec.Result = result
	rec.Success = success
	rec.CompletedAt = completedAt
	rec.DurationMs = completedAt.Sub(rec.StartedAt).Milliseconds()
	t.cursor = t.text.Len()
}

// Text returns the accumulated response text, including the truncation
// marker when the ceiling was hit. Idempotent.
func (t *Timeline) Text() string {
	return t.text.String()
}

// Truncated reports whether the response hit the size ceiling.
func (t *Timeline) Truncated() bool {
	return t.truncated
}

// ToolRecords returns the tool call records in start order. The returned
// slice is the timeline's own; callers persist it, they do not mutate it.
func (t *Timeline) ToolRecords() []conversation.ToolCallRecord {
	return t.records
}
