package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/call"
)

// AnthropicToolLLM speaks Anthropic's Messages API directly over net/http,
// declaring update_qualification and set_call_outcome as tools and
// decoding whichever tool_use block, if any, comes back alongside the
// spoken text.
//
// Hand-rolled rather than built on the official SDK: the dialog engine's
// contract (text + at most one typed tool call) maps directly onto the
// Messages API's documented tool_use content-block shape, and the pack's
// only references to anthropic-sdk-go are manifest-only go.mod entries
// with no accompanying source to ground a request-builder API against.
type AnthropicToolLLM struct {
	apiKey string
	url    string
	model  string
}

// NewAnthropicToolLLM constructs a tool-call-capable Anthropic client.
func NewAnthropicToolLLM(apiKey, model string) *AnthropicToolLLM {
	if model == "" {
		model = "claude-3-5-sonnet-20240620"
	}
	return &AnthropicToolLLM{
		apiKey: apiKey,
		url:    "https://api.anthropic.com/v1/messages",
		model:  model,
	}
}

func (l *AnthropicToolLLM) Name() string { return "anthropic-tool-llm" }

var anthropicToolDefs = []map[string]any{
	{
		"name":        "update_qualification",
		"description": "Record the caller's answer to the current qualification question.",
		"input_schema": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"field": map[string]any{
					"type": "string",
					"enum": []string{
						string(call.FieldVerifiedInfo),
						string(call.FieldNoAlzheimers),
						string(call.FieldNoHospice),
						string(call.FieldAgeQualified),
						string(call.FieldHasBankAccount),
					},
				},
				"value": map[string]any{"type": "boolean"},
			},
			"required": []string{"field", "value"},
		},
	},
	{
		"name":        "set_call_outcome",
		"description": "Record a terminal dialog outcome for this call.",
		"input_schema": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"outcome": map[string]any{
					"type": "string",
					"enum": []string{
						string(call.DialogOutcomeTransferToAgent),
						string(call.DialogOutcomeDisqualified),
						string(call.DialogOutcomeUserDeclined),
						string(call.DialogOutcomeUserRequestedEnd),
					},
				},
			},
			"required": []string{"outcome"},
		},
	},
}

// CompleteTurn implements dialog.LLMTurnProvider.
func (l *AnthropicToolLLM) CompleteTurn(ctx context.Context, systemPrompt string, history []call.Turn, userUtterance string) (string, *call.ToolCall, error) {
	messages := make([]map[string]string, 0, len(history)+1)
	for _, t := range history {
		role := "assistant"
		if t.Speaker == call.SpeakerUser {
			role = "user"
		}
		messages = append(messages, map[string]string{"role": role, "content": t.Text})
	}
	if userUtterance != "" {
		messages = append(messages, map[string]string{"role": "user", "content": userUtterance})
	}

	payload := map[string]any{
		"model":      l.model,
		"system":     systemPrompt,
		"messages":   messages,
		"max_tokens": 1024,
		"tools":      anthropicToolDefs,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.url, bytes.NewReader(body))
	if err != nil {
		return "", nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", l.apiKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errResp any
		json.NewDecoder(resp.Body).Decode(&errResp)
		return "", nil, fmt.Errorf("anthropic tool llm error (status %d): %v", resp.StatusCode, errResp)
	}

	var result struct {
		Content []struct {
			Type  string          `json:"type"`
			Text  string          `json:"text"`
			Name  string          `json:"name"`
			Input json.RawMessage `json:"input"`
		} `json:"content"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", nil, err
	}

	var text string
	var tool *call.ToolCall
	for _, block := range result.Content {
		switch block.Type {
		case "text":
			text += block.Text
		case "tool_use":
			parsed, err := parseAnthropicTool(block.Name, block.Input)
			if err != nil {
				return "", nil, fmt.Errorf("anthropic tool llm: %w", err)
			}
			tool = parsed
		}
	}
	return text, tool, nil
}

func parseAnthropicTool(name string, input json.RawMessage) (*call.ToolCall, error) {
	switch name {
	case "update_qualification":
		var args struct {
			Field string `json:"field"`
			Value bool   `json:"value"`
		}
		if err := json.Unmarshal(input, &args); err != nil {
			return nil, err
		}
		state := call.False
		if args.Value {
			state = call.True
		}
		return &call.ToolCall{UpdateQualification: &call.UpdateQualificationCall{
			Field: call.Field(args.Field),
			Value: state,
		}}, nil
	case "set_call_outcome":
		var args struct {
			Outcome string `json:"outcome"`
		}
		if err := json.Unmarshal(input, &args); err != nil {
			return nil, err
		}
		return &call.ToolCall{SetCallOutcome: &call.SetCallOutcomeCall{Outcome: call.DialogOutcome(args.Outcome)}}, nil
	default:
		return nil, fmt.Errorf("unrecognized tool %q", name)
	}
}
