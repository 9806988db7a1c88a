package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// GeminiProvider implements Provider using the Google Gemini API. Gemini is
// the one provider that can surface search grounding citations and executed
// code blocks, which stream through as grounding and code_execution events.
type GeminiProvider struct {
	apiKey string
	model  string
}

func NewGeminiProvider(apiKey, model string) (*GeminiProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key not configured")
	}
	if model == "" {
		model = "gemini-2.5-flash"
	}
	return &GeminiProvider{apiKey: apiKey, model: model}, nil
}

func (p *GeminiProvider) Name() string {
	return fmt.Sprintf("Gemini (%s)", p.model)
}

func (p *GeminiProvider) Capabilities() Capabilities {
	return Capabilities{ToolCalls: true}
}

func (p *GeminiProvider) newClient(ctx context.Context) (*genai.Client, error) {
	return genai.NewClient(ctx, &genai.ClientConfig{APIKey: p.apiKey})
}

func (p *GeminiProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	return newEventStream(ctx, func(ctx context.Context, events chan<- Event) error {
		client, err := p.newClient(ctx)
		if err != nil {
			return fmt.Errorf("create gemini client: %w", err)
		}

		system, contents := buildGeminiContents(req.Messages)
		if len(contents) == 0 {
			return fmt.Errorf("no user content provided")
		}

		config := &genai.GenerateContentConfig{}
		if system != "" {
			config.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
		}
		if req.MaxOutputTokens > 0 {
			config.MaxOutputTokens = int32(req.MaxOutputTokens)
		}

		// Function declarations cannot combine with Gemini's built-in tools,
		// so search grounding and code execution are only enabled on
		// tool-free requests.
		if len(req.Tools) > 0 {
			config.Tools = buildGeminiTools(req.Tools)
			config.ToolConfig = buildGeminiToolConfig(req.ToolChoice)
			return p.generateWithTools(ctx, client, contents, config, req, events)
		}
		config.Tools = []*genai.Tool{
			{GoogleSearch: &genai.GoogleSearch{}},
			{CodeExecution: &genai.ToolCodeExecution{}},
		}

		var sources []GroundingSource
		var lastResp *genai.GenerateContentResponse
		for resp, err := range client.Models.GenerateContentStream(ctx, chooseModel(req.Model, p.model), contents, config) {
			if err != nil {
				return fmt.Errorf("gemini streaming error: %w", err)
			}
			lastResp = resp
			for _, cand := range resp.Candidates {
				if cand.Content != nil {
					for _, part := range cand.Content.Parts {
						if err := emitGeminiPart(ctx, events, part); err != nil {
							return err
						}
					}
				}
				sources = appendGroundingSources(sources, cand)
			}
		}

		if len(sources) > 0 {
			if err := sendEvent(ctx, events, Event{Type: EventGrounding, Grounding: sources}); err != nil {
				return err
			}
		}
		if err := emitGeminiUsage(ctx, events, lastResp); err != nil {
			return err
		}
		return sendEvent(ctx, events, Event{Type: EventDone})
	}), nil
}

// generateWithTools uses the non-streaming API: Gemini returns function calls
// as complete parts of a single response, not as deltas.
func (p *GeminiProvider) generateWithTools(ctx context.Context, client *genai.Client, contents []*genai.Content, config *genai.GenerateContentConfig, req Request, events chan<- Event) error {
	resp, err := client.Models.GenerateContent(ctx, chooseModel(req.Model, p.model), contents, config)
	if err != nil {
		return fmt.Errorf("gemini API error: %w", err)
	}
	if len(resp.Candidates) > 0 && resp.Candidates[0].Content != nil {
		for _, part := range resp.Candidates[0].Content.Parts {
			if err := emitGeminiPart(ctx, events, part); err != nil {
				return err
			}
			if part.FunctionCall != nil {
				args, _ := json.Marshal(part.FunctionCall.Args)
				ev := Event{Type: EventToolCall, Tool: &ToolCall{
					ID:        part.FunctionCall.ID,
					Name:      part.FunctionCall.Name,
					Arguments: args,
				}}
				if err := sendEvent(ctx, events, ev); err != nil {
					return err
				}
			}
		}
	}
	if err := emitGeminiUsage(ctx, events, resp); err != nil {
		return err
	}
	return sendEvent(ctx, events, Event{Type: EventDone})
}

func emitGeminiPart(ctx context.Context, events chan<- Event, part *genai.Part) error {
	if part == nil {
		return nil
	}
	if part.Text != "" && !part.Thought {
		return sendEvent(ctx, events, Event{Type: EventTextDelta, Text: part.Text})
	}
	if part.ExecutableCode != nil {
		// The result arrives as a separate part; this one only shows the code.
		return sendEvent(ctx, events, Event{Type: EventCodeExecution, CodeExec: &CodeExecutionResult{
			Language: strings.ToLower(string(part.ExecutableCode.Language)),
			Code:     part.ExecutableCode.Code,
			Success:  true,
		}})
	}
	if part.CodeExecutionResult != nil {
		return sendEvent(ctx, events, Event{Type: EventCodeExecution, CodeExec: &CodeExecutionResult{
			Output:  part.CodeExecutionResult.Output,
			Success: part.CodeExecutionResult.Outcome == genai.OutcomeOK,
		}})
	}
	return nil
}

func appendGroundingSources(sources []GroundingSource, cand *genai.Candidate) []GroundingSource {
	if cand.GroundingMetadata == nil {
		return sources
	}
	for _, chunk := range cand.GroundingMetadata.GroundingChunks {
		if chunk.Web == nil || chunk.Web.URI == "" {
			continue
		}
		src := GroundingSource{Title: chunk.Web.Title, URL: chunk.Web.URI}
		dup := false
		for _, s := range sources {
			if s.URL == src.URL {
				dup = true
				break
			}
		}
		if !dup {
			sources = append(sources, src)
		}
	}
	return sources
}

func emitGeminiUsage(ctx context.Context, events chan<- Event, resp *genai.GenerateContentResponse) error {
	if resp == nil || resp.UsageMetadata == nil || resp.UsageMetadata.TotalTokenCount == 0 {
		return nil
	}
	return sendEvent(ctx, events, Event{Type: EventUsage, Use: &Usage{
		InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
		OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
	}})
}

func buildGeminiContents(messages []Message) (string, []*genai.Content) {
	var systemParts []string
	contents := make([]*genai.Content, 0, len(messages))

	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			if text := CollectText(msg.Parts); text != "" {
				systemParts = append(systemParts, text)
			}
		case RoleUser:
			if c := buildGeminiContent(genai.RoleUser, msg.Parts); c != nil {
				contents = append(contents, c)
			}
		case RoleAssistant:
			if c := buildGeminiContent(genai.RoleModel, msg.Parts); c != nil {
				contents = append(contents, c)
			}
		case RoleTool:
			if c := buildGeminiToolResultContent(msg.Parts); c != nil {
				contents = append(contents, c)
			}
		}
	}

	return strings.Join(systemParts, "\n\n"), contents
}

func buildGeminiContent(role string, parts []Part) *genai.Content {
	content := &genai.Content{Role: role}
	for _, part := range parts {
		switch part.Type {
		case PartText:
			if part.Text != "" {
				content.Parts = append(content.Parts, &genai.Part{Text: part.Text})
			}
		case PartToolCall:
			if part.ToolCall == nil {
				continue
			}
			var args map[string]any
			if len(part.ToolCall.Arguments) > 0 {
				_ = json.Unmarshal(part.ToolCall.Arguments, &args)
			}
			content.Parts = append(content.Parts, &genai.Part{
				FunctionCall: &genai.FunctionCall{
					ID:   part.ToolCall.ID,
					Name: part.ToolCall.Name,
					Args: args,
				},
			})
		}
	}
	if len(content.Parts) == 0 {
		return nil
	}
	return content
}

func buildGeminiToolResultContent(parts []Part) *genai.Content {
	content := &genai.Content{Role: genai.RoleUser}
	for _, part := range parts {
		if part.Type != PartToolResult || part.ToolResult == nil {
			continue
		}
		content.Parts = append(content.Parts, &genai.Part{
			FunctionResponse: &genai.FunctionResponse{
				ID:       part.ToolResult.ID,
				Name:     part.ToolResult.Name,
				Response: map[string]any{"output": part.ToolResult.Content},
			},
		})
	}
	if len(content.Parts) == 0 {
		return nil
	}
	return content
}

func buildGeminiTools(specs []ToolSpec) []*genai.Tool {
	tools := make([]*genai.Tool, 0, len(specs))
	for _, spec := range specs {
		tools = append(tools, &genai.Tool{
			FunctionDeclarations: []*genai.FunctionDeclaration{{
				Name:        spec.Name,
				Description: spec.Description,
				Parameters:  schemaToGenai(spec.Schema),
			}},
		})
	}
	return tools
}

func buildGeminiToolConfig(choice ToolChoice) *genai.ToolConfig {
	mode := genai.FunctionCallingConfigModeAuto
	var allowed []string

	switch choice.Mode {
	case ToolChoiceNone:
		mode = genai.FunctionCallingConfigModeNone
	case ToolChoiceName:
		if strings.TrimSpace(choice.Name) != "" {
			mode = genai.FunctionCallingConfigModeAny
			allowed = []string{choice.Name}
		}
	}

	return &genai.ToolConfig{
		FunctionCallingConfig: &genai.FunctionCallingConfig{
			Mode:                 mode,
			AllowedFunctionNames: allowed,
		},
	}
}

func schemaToGenai(schema map[string]interface{}) *genai.Schema {
	if schema == nil {
		return &genai.Schema{Type: genai.TypeObject}
	}

	out := &genai.Schema{
		Type:        genaiSchemaType(schema),
		Description: genaiStringField(schema, "description"),
		Required:    schemaRequired(schema),
	}

	if props, ok := schema["properties"].(map[string]interface{}); ok {
		out.Properties = make(map[string]*genai.Schema, len(props))
		for name, prop := range props {
			if propMap, ok := prop.(map[string]interface{}); ok {
				out.Properties[name] = schemaToGenai(propMap)
			}
		}
	}
	if items, ok := schema["items"].(map[string]interface{}); ok {
		out.Items = schemaToGenai(items)
	}
	return out
}

func genaiSchemaType(schema map[string]interface{}) genai.Type {
	switch genaiStringField(schema, "type") {
	case "string":
		return genai.TypeString
	case "integer":
		return genai.TypeInteger
	case "number":
		return genai.TypeNumber
	case "boolean":
		return genai.TypeBoolean
	case "array":
		return genai.TypeArray
	case "object":
		return genai.TypeObject
	}
	return genai.TypeString
}

func genaiStringField(schema map[string]interface{}, key string) string {
	if v, ok := schema[key].(string); ok {
		return v
	}
	return ""
}
