package agent

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ananyateklu/second-brain-go/internal/conversation"
	"github.com/ananyateklu/second-brain-go/internal/llm"
	"github.com/ananyateklu/second-brain-go/internal/metrics"
	"github.com/ananyateklu/second-brain-go/internal/rag"
	"github.com/ananyateklu/second-brain-go/internal/tools"
)

const (
	defaultMaxToolCalls     = 20
	defaultMaxResponseChars = 120000
)

const defaultSystemPrompt = `You are a personal knowledge assistant. You answer using the user's own notes when relevant context is provided, and you say so when their notes contain nothing useful. Use the available tools to look up notes when the provided context is not enough.`

// Options bounds the engine's turns.
type Options struct {
	MaxToolCalls     int    // Tool executions allowed per turn before failing closed
	MaxResponseChars int    // Response text ceiling before truncation
	MaxOutputTokens  int    // Passed through to the provider
	SystemPrompt     string // Override for the default system prompt
}

// TurnRequest describes one user turn.
type TurnRequest struct {
	ConversationID string // Empty to start a new conversation
	UserID         string
	Message        string
	SkipRetrieval  bool // Skip the note retrieval pass for this turn
}

// Engine orchestrates a conversation turn: retrieval, the provider stream,
// tool dispatch, and persistence. Callers serialize turns per conversation;
// distinct conversations may run concurrently.
type Engine struct {
	provider   llm.Provider
	registry   *tools.Registry
	dispatcher *tools.Dispatcher
	retriever  *rag.Gateway
	store      *conversation.Store
	opts       Options
}

func NewEngine(provider llm.Provider, registry *tools.Registry, retriever *rag.Gateway, store *conversation.Store, opts Options) *Engine {
	if registry == nil {
		registry = tools.NewRegistry()
	}
	if opts.MaxToolCalls <= 0 {
		opts.MaxToolCalls = defaultMaxToolCalls
	}
	if opts.MaxResponseChars <= 0 {
		opts.MaxResponseChars = defaultMaxResponseChars
	}
	if opts.SystemPrompt == "" {
		opts.SystemPrompt = defaultSystemPrompt
	}
	return &Engine{
		provider:   provider,
		registry:   registry,
		dispatcher: tools.NewDispatcher(registry),
		retriever:  retriever,
		store:      store,
		opts:       opts,
	}
}

// RegisterTool adds a tool to the engine's registry.
func (e *Engine) RegisterTool(tool tools.Tool) {
	e.registry.Register(tool)
}

// StreamTurn persists the user message, then runs the turn in a goroutine,
// returning its event stream. The final event is always done or error; the
// channel is closed after it. The user message is committed before any
// provider work, so a failed or cancelled turn never loses it. When
// req.ConversationID is empty a conversation is created and its ID written
// back to req before StreamTurn returns.
func (e *Engine) StreamTurn(ctx context.Context, req *TurnRequest) (<-chan Event, error) {
	if strings.TrimSpace(req.UserID) == "" {
		return nil, fmt.Errorf("user_id is required")
	}
	if strings.TrimSpace(req.Message) == "" {
		return nil, fmt.Errorf("message is required")
	}

	conv, err := e.ensureConversation(ctx, req)
	if err != nil {
		return nil, err
	}

	userMsg := &conversation.Message{
		Role:     llm.RoleUser,
		Content:  req.Message,
		Sequence: -1,
	}
	if err := e.store.AddMessage(ctx, conv.ID, userMsg); err != nil {
		return nil, fmt.Errorf("persist user message: %w", err)
	}
	if err := e.store.IncrementUserTurns(ctx, conv.ID); err != nil {
		log.Warn().Err(err).Str("conversation", conv.ID).Msg("failed to bump user turn count")
	}

	history, err := e.store.GetMessages(ctx, conv.ID, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("load conversation history: %w", err)
	}

	metrics.TurnsStarted.Inc()
	events := make(chan Event, 16)
	go e.runTurn(ctx, conv, *req, history, events)
	return events, nil
}

func (e *Engine) ensureConversation(ctx context.Context, req *TurnRequest) (*conversation.Conversation, error) {
	if req.ConversationID != "" {
		conv, err := e.store.Get(ctx, req.ConversationID)
		if err != nil {
			return nil, err
		}
		if conv == nil {
			return nil, fmt.Errorf("conversation not found: %s", req.ConversationID)
		}
		if conv.UserID != req.UserID {
			return nil, fmt.Errorf("conversation not found: %s", req.ConversationID)
		}
		return conv, nil
	}

	conv := &conversation.Conversation{
		UserID:   req.UserID,
		Title:    conversation.TruncateTitle(req.Message),
		Provider: e.provider.Name(),
	}
	if err := e.store.Create(ctx, conv); err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	req.ConversationID = conv.ID
	return conv, nil
}

func (e *Engine) runTurn(ctx context.Context, conv *conversation.Conversation, req TurnRequest, history []conversation.Message, events chan<- Event) {
	start := time.Now()
	timeline := NewTimeline(e.opts.MaxResponseChars)
	accountant := NewAccountant()
	var retrieval *rag.Context

	defer close(events)
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("conversation", conv.ID).Interface("panic", r).Msg("turn panicked")
			e.finishWithError(ctx, conv, timeline, accountant, retrieval, start, events,
				fmt.Errorf("internal error during turn"))
		}
	}()

	specs := e.registry.AllSpecs()
	caps := e.provider.Capabilities()
	if len(specs) > 0 && !caps.ToolCalls {
		e.finishWithError(ctx, conv, timeline, accountant, retrieval, start, events,
			fmt.Errorf("provider %s does not support tool calls", e.provider.Name()))
		return
	}

	// Retrieval happens before the first provider call. The event is emitted
	// even when nothing was found so clients always see the outcome.
	if e.retriever != nil && !req.SkipRetrieval {
		retrieval = e.retriever.Retrieve(ctx, req.UserID, req.Message, rag.RetrieveOptions{
			ConversationID: conv.ID,
		})
		metrics.RetrievalLatency.Observe(retrieval.Duration.Seconds())
		metrics.RetrievalNotes.Observe(float64(len(retrieval.Notes)))
		events <- Event{Kind: EventContextRetrieval, Retrieval: retrieval}
	}

	msgs := e.buildModelMessages(history, retrieval, accountant)
	accountant.AddMessages(msgs)
	accountant.AddToolDefinitions(specs)

	llmReq := llm.Request{
		Messages:        msgs,
		Tools:           specs,
		ToolChoice:      llm.ToolChoice{Mode: llm.ToolChoiceAuto},
		MaxOutputTokens: e.opts.MaxOutputTokens,
	}

	toolBudget := e.opts.MaxToolCalls
	executed := 0

	for attempt := 0; ; attempt++ {
		if attempt > toolBudget {
			e.finishWithError(ctx, conv, timeline, accountant, retrieval, start, events,
				fmt.Errorf("turn exceeded %d provider round-trips", toolBudget))
			return
		}

		stream, err := e.provider.Stream(ctx, llmReq)
		if err != nil {
			e.finishWithError(ctx, conv, timeline, accountant, retrieval, start, events, err)
			return
		}

		var toolCalls []llm.ToolCall
		var roundText strings.Builder
		for {
			event, err := stream.Recv()
			if err == io.EOF {
				break
			}
			if err != nil {
				stream.Close()
				e.finishWithError(ctx, conv, timeline, accountant, retrieval, start, events, err)
				return
			}
			switch event.Type {
			case llm.EventTextDelta:
				if event.Text == "" {
					continue
				}
				roundText.WriteString(event.Text)
				accountant.AddOutputText(event.Text)
				if emitted, _ := timeline.AppendText(event.Text); emitted != "" {
					events <- Event{Kind: EventToken, Text: emitted}
				}
			case llm.EventThinkingDelta:
				if event.Text != "" {
					events <- Event{Kind: EventThinking, Text: event.Text}
				}
			case llm.EventGrounding:
				events <- Event{Kind: EventGrounding, Grounding: event.Grounding}
			case llm.EventCodeExecution:
				events <- Event{Kind: EventCodeExecution, CodeExec: event.CodeExec}
			case llm.EventUsage:
				if event.Use != nil {
					accountant.RecordUsage(*event.Use)
				}
			case llm.EventToolCall:
				if event.Tool != nil {
					toolCalls = append(toolCalls, *event.Tool)
				}
			case llm.EventError:
				stream.Close()
				e.finishWithError(ctx, conv, timeline, accountant, retrieval, start, events, event.Err)
				return
			}
		}
		stream.Close()

		if len(toolCalls) == 0 {
			e.finishComplete(ctx, conv, timeline, accountant, retrieval, executed, start, events)
			return
		}

		toolCalls = ensureToolCallIDs(toolCalls)
		toolCalls = dedupeToolCalls(toolCalls)

		// The tool budget fails closed: a batch that would cross it ends the
		// turn with an error instead of running a partial batch.
		if executed+len(toolCalls) > toolBudget {
			e.finishWithError(ctx, conv, timeline, accountant, retrieval, start, events,
				fmt.Errorf("turn exceeded tool call limit (%d)", toolBudget))
			return
		}

		now := time.Now()
		for _, call := range toolCalls {
			timeline.StartTool(call, now)
			accountant.AddToolArguments(call.Arguments)
			events <- Event{
				Kind:        EventToolStart,
				ToolID:      call.ID,
				ToolName:    call.Name,
				ToolPreview: e.dispatcher.Preview(call.Name, call.Arguments),
			}
		}

		outcomes := e.executeToolCalls(ctx, toolCalls)
		executed += len(toolCalls)

		var resultMsgs []llm.Message
		for i, call := range toolCalls {
			out := outcomes[i]
			timeline.EndTool(call.ID, out.Content, out.Success, time.Now())
			accountant.AddToolResult(out.Content)
			outcome := "success"
			if !out.Success {
				outcome = "failure"
			}
			metrics.ToolExecutions.WithLabelValues(call.Name, outcome).Inc()
			events <- Event{
				Kind:        EventToolEnd,
				ToolID:      call.ID,
				ToolName:    call.Name,
				ToolSuccess: out.Success,
				ToolResult:  out.Content,
			}
			if out.Success {
				resultMsgs = append(resultMsgs, llm.ToolResultMessage(call.ID, call.Name, out.Content))
			} else {
				resultMsgs = append(resultMsgs, llm.ToolErrorMessage(call.ID, call.Name, out.Content))
			}
		}

		assistantMsg := buildAssistantMessage(roundText.String(), toolCalls)
		llmReq.Messages = append(llmReq.Messages, assistantMsg)
		llmReq.Messages = append(llmReq.Messages, resultMsgs...)
		accountant.AddMessages([]llm.Message{assistantMsg})
	}
}

// buildModelMessages converts the stored history into provider messages. The
// system prompt carries the retrieval context; past assistant messages replay
// their tool calls and results so the model sees what it already did.
func (e *Engine) buildModelMessages(history []conversation.Message, retrieval *rag.Context, accountant *Accountant) []llm.Message {
	system := e.opts.SystemPrompt
	if retrieval != nil {
		block := retrieval.PromptBlock()
		accountant.AddRetrievalContext(block, len(retrieval.Notes))
		system += "\n\n" + block
	}

	msgs := []llm.Message{llm.SystemText(system)}
	for _, m := range history {
		switch m.Role {
		case llm.RoleUser:
			msgs = append(msgs, llm.UserText(m.Content))
		case llm.RoleAssistant:
			if len(m.ToolCalls) == 0 {
				if m.Content != "" {
					msgs = append(msgs, llm.AssistantText(m.Content))
				}
				continue
			}
			calls := make([]llm.ToolCall, len(m.ToolCalls))
			for i, rec := range m.ToolCalls {
				calls[i] = llm.ToolCall{ID: rec.ID, Name: rec.Name, Arguments: rec.Arguments}
			}
			msgs = append(msgs, buildAssistantMessage(m.Content, calls))
			for _, rec := range m.ToolCalls {
				if rec.Success {
					msgs = append(msgs, llm.ToolResultMessage(rec.ID, rec.Name, rec.Result))
				} else {
					msgs = append(msgs, llm.ToolErrorMessage(rec.ID, rec.Name, rec.Result))
				}
			}
		}
	}
	return msgs
}

// buildAssistantMessage creates an assistant message with text and tool calls.
func buildAssistantMessage(text string, toolCalls []llm.ToolCall) llm.Message {
	var parts []llm.Part
	if text != "" {
		parts = append(parts, llm.Part{Type: llm.PartText, Text: text})
	}
	for i := range toolCalls {
		call := toolCalls[i]
		parts = append(parts, llm.Part{Type: llm.PartToolCall, ToolCall: &call})
	}
	return llm.Message{Role: llm.RoleAssistant, Parts: parts}
}

// executeToolCalls runs a batch of tool calls, in parallel when there is more
// than one, and returns outcomes in request order.
func (e *Engine) executeToolCalls(ctx context.Context, calls []llm.ToolCall) []tools.Outcome {
	if len(calls) == 1 {
		return []tools.Outcome{e.dispatcher.Execute(ctx, calls[0].Name, calls[0].Arguments)}
	}

	outcomes := make([]tools.Outcome, len(calls))
	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(idx int, c llm.ToolCall) {
			defer wg.Done()
			outcomes[idx] = e.dispatcher.Execute(ctx, c.Name, c.Arguments)
		}(i, call)
	}
	wg.Wait()
	return outcomes
}

func (e *Engine) finishComplete(ctx context.Context, conv *conversation.Conversation, timeline *Timeline, accountant *Accountant, retrieval *rag.Context, executed int, start time.Time, events chan<- Event) {
	breakdown := accountant.Breakdown()
	result := &TurnResult{
		ConversationID: conv.ID,
		Text:           timeline.Text(),
		Truncated:      timeline.Truncated(),
		ToolCalls:      timeline.ToolRecords(),
		Tokens:         breakdown,
		DurationMs:     time.Since(start).Milliseconds(),
	}
	if retrieval != nil {
		result.RetrievedNotes = retrieval.Notes
		result.RetrievalID = retrieval.RetrievalID
	}

	e.persistAssistant(ctx, conv, result, conversation.StatusComplete, executed)

	if result.Truncated {
		metrics.ResponsesTruncated.Inc()
	}
	metrics.TurnsCompleted.WithLabelValues(string(conversation.StatusComplete)).Inc()
	metrics.TokensUsed.WithLabelValues("input").Add(float64(breakdown.InputTokens))
	metrics.TokensUsed.WithLabelValues("output").Add(float64(breakdown.OutputTokens))

	events <- Event{Kind: EventDone, Result: result}
}

func (e *Engine) finishWithError(ctx context.Context, conv *conversation.Conversation, timeline *Timeline, accountant *Accountant, retrieval *rag.Context, start time.Time, events chan<- Event, cause error) {
	status := conversation.StatusError
	if ctx.Err() != nil {
		status = conversation.StatusInterrupted
		cause = fmt.Errorf("turn cancelled: %w", ctx.Err())
	}

	// Best-effort persistence of whatever streamed before the failure. The
	// user message is already committed.
	result := &TurnResult{
		ConversationID: conv.ID,
		Text:           timeline.Text(),
		Truncated:      timeline.Truncated(),
		ToolCalls:      timeline.ToolRecords(),
		Tokens:         accountant.Breakdown(),
		DurationMs:     time.Since(start).Milliseconds(),
	}
	if retrieval != nil {
		result.RetrievedNotes = retrieval.Notes
		result.RetrievalID = retrieval.RetrievalID
	}
	if result.Text != "" || len(result.ToolCalls) > 0 {
		e.persistAssistant(context.WithoutCancel(ctx), conv, result, status, len(result.ToolCalls))
	} else if err := e.store.UpdateStatus(context.WithoutCancel(ctx), conv.ID, status); err != nil {
		log.Warn().Err(err).Str("conversation", conv.ID).Msg("failed to update conversation status")
	}

	metrics.TurnsCompleted.WithLabelValues(string(status)).Inc()
	log.Error().Err(cause).Str("conversation", conv.ID).Msg("turn failed")
	events <- Event{Kind: EventError, Err: cause, Text: cause.Error()}
}

func (e *Engine) persistAssistant(ctx context.Context, conv *conversation.Conversation, result *TurnResult, status conversation.Status, toolCalls int) {
	msg := &conversation.Message{
		Role:           llm.RoleAssistant,
		Content:        result.Text,
		ToolCalls:      result.ToolCalls,
		RetrievedNotes: result.RetrievedNotes,
		RetrievalID:    result.RetrievalID,
		Tokens:         result.Tokens,
		Truncated:      result.Truncated,
		DurationMs:     result.DurationMs,
		Sequence:       -1,
	}
	if err := e.store.AddMessage(ctx, conv.ID, msg); err != nil {
		log.Error().Err(err).Str("conversation", conv.ID).Msg("failed to persist assistant message")
	}
	if err := e.store.AddMetrics(ctx, conv.ID, 1, toolCalls, result.Tokens.InputTokens, result.Tokens.OutputTokens); err != nil {
		log.Warn().Err(err).Str("conversation", conv.ID).Msg("failed to update conversation metrics")
	}
	if err := e.store.UpdateStatus(ctx, conv.ID, status); err != nil {
		log.Warn().Err(err).Str("conversation", conv.ID).Msg("failed to update conversation status")
	}
}

func ensureToolCallIDs(calls []llm.ToolCall) []llm.ToolCall {
	for i := range calls {
		if strings.TrimSpace(calls[i].ID) == "" {
			calls[i].ID = fmt.Sprintf("toolcall-%d", i+1)
		}
	}
	return calls
}

func dedupeToolCalls(calls []llm.ToolCall) []llm.ToolCall {
	if len(calls) < 2 {
		return calls
	}
	seen := make(map[string]struct{}, len(calls))
	out := make([]llm.ToolCall, 0, len(calls))
	for _, call := range calls {
		id := strings.TrimSpace(call.ID)
		if id == "" {
			out = append(out, call)
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, call)
	}
	return out
}
