package agent

import (
	"encoding/json"

	"github.com/ananyateklu/second-brain-go/internal/conversation"
	"github.com/ananyateklu/second-brain-go/internal/llm"
)

const (
	// charsPerToken is the estimation ratio used when the provider does not
	// report usage. Roughly right for English prose across current models.
	charsPerToken = 4

	// messageOverheadTokens approximates the per-message framing cost
	// (role markers, separators) providers charge beyond the raw text.
	messageOverheadTokens = 4
)

// EstimateTokens approximates the token count of a text using the character
// heuristic. Returns 0 for empty text.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + charsPerToken - 1) / charsPerToken
}

// Accountant attributes a turn's token usage to its sources. Counts start as
// character-based estimates; when the provider reports usage, the input and
// output totals are replaced with measured values and the estimated flag is
// cleared. The per-bucket attribution always stays heuristic.
type Accountant struct {
	inputEstimate   int
	outputEstimate  int
	toolDefinitions int
	toolArguments   int
	toolResults     int
	retrievalCtx    int
	retrievalChunks int

	measuredInput  int
	measuredOutput int
	measured       bool
}

func NewAccountant() *Accountant {
	return &Accountant{}
}

// AddMessages estimates the input cost of a message history.
func (a *Accountant) AddMessages(msgs []llm.Message) {
	for _, m := range msgs {
		a.inputEstimate += messageOverheadTokens
		for _, p := range m.Parts {
			a.inputEstimate += EstimateTokens(p.Text)
			if p.ToolCall != nil {
				a.inputEstimate += EstimateTokens(string(p.ToolCall.Arguments))
			}
			if p.ToolResult != nil {
				a.inputEstimate += EstimateTokens(p.ToolResult.Content)
			}
		}
	}
}

// AddToolDefinitions estimates the cost of the tool specs sent with a request.
func (a *Accountant) AddToolDefinitions(specs []llm.ToolSpec) {
	for _, spec := range specs {
		n := EstimateTokens(spec.Name) + EstimateTokens(spec.Description)
		if schema, err := json.Marshal(spec.Schema); err == nil {
			n += EstimateTokens(string(schema))
		}
		a.toolDefinitions += n
		a.inputEstimate += n
	}
}

// AddToolArguments attributes the arguments of a model-issued tool call.
func (a *Accountant) AddToolArguments(args json.RawMessage) {
	n := EstimateTokens(string(args))
	a.toolArguments += n
	a.outputEstimate += n
}

// AddToolResult attributes a tool result fed back to the model.
func (a *Accountant) AddToolResult(content string) {
	n := EstimateTokens(content) + messageOverheadTokens
	a.toolResults += n
	a.inputEstimate += n
}

// AddRetrievalContext attributes the injected note context: the rendered
// block's token estimate and the number of chunks it carries.
func (a *Accountant) AddRetrievalContext(block string, chunks int) {
	n := EstimateTokens(block)
	a.retrievalCtx += n
	a.inputEstimate += n
	a.retrievalChunks += chunks
}

// AddOutputText attributes streamed response text.
func (a *Accountant) AddOutputText(text string) {
	a.outputEstimate += EstimateTokens(text)
}

// RecordUsage records provider-reported usage. Providers may report usage
// per round-trip, so values accumulate.
func (a *Accountant) RecordUsage(u llm.Usage) {
	a.measuredInput += u.InputTokens
	a.measuredOutput += u.OutputTokens
	a.measured = true
}

// Breakdown returns the final attribution for persistence.
func (a *Accountant) Breakdown() *conversation.TokenBreakdown {
	b := &conversation.TokenBreakdown{
		InputTokens:      a.inputEstimate,
		OutputTokens:     a.outputEstimate,
		ToolDefinitions:  a.toolDefinitions,
		ToolArguments:    a.toolArguments,
		ToolResults:      a.toolResults,
		RetrievalContext: a.retrievalCtx,
		RetrievalChunks:  a.retrievalChunks,
		Estimated:        true,
	}
	if a.measured {
		b.InputTokens = a.measuredInput
		b.OutputTokens = a.measuredOutput
		b.Estimated = false
	}
	return b
}
