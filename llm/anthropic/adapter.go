package anthropic

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/aschepis/backscratcher/streamchat/llm"
	"github.com/samber/lo"
)

// ToSystemBlocks converts system content to Anthropic text blocks. Parts marked
// cacheable carry an ephemeral cache_control.
func ToSystemBlocks(system llm.Content) ([]anthropic.TextBlockParam, error) {
	parts := system.AsParts()
	blocks := make([]anthropic.TextBlockParam, 0, len(parts))
	for _, part := range parts {
		if part.Type != llm.ContentPartTypeText {
			return nil, llm.NewInvalidRequestError(fmt.Sprintf("system content does not support %s parts", part.Type), nil)
		}
		block := anthropic.TextBlockParam{Text: part.Text}
		if part.Cacheable {
			block.CacheControl = anthropic.NewCacheControlEphemeralParam()
		}
		blocks = append(blocks, block)
	}
	return blocks, nil
}

// ToContentBlockParam converts one content part to an Anthropic content block.
func ToContentBlockParam(part llm.ContentPart) (anthropic.ContentBlockParamUnion, error) {
	switch part.Type {
	case llm.ContentPartTypeText:
		block := anthropic.TextBlockParam{Text: part.Text}
		if part.Cacheable {
			block.CacheControl = anthropic.NewCacheControlEphemeralParam()
		}
		return anthropic.ContentBlockParamUnion{OfText: &block}, nil

	case llm.ContentPartTypeImage:
		if part.MediaType == "" {
			return anthropic.ContentBlockParamUnion{}, llm.NewInvalidRequestError("image part has no media type", nil)
		}
		return anthropic.NewImageBlockBase64(part.MediaType, base64.StdEncoding.EncodeToString(part.Data)), nil

	case llm.ContentPartTypeOther:
		var head struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(part.Raw, &head); err != nil || head.Type == "" {
			return anthropic.ContentBlockParamUnion{}, llm.NewInvalidRequestError("unsupported content part", err)
		}
		var block anthropic.ContentBlockParamUnion
		if err := block.UnmarshalJSON(part.Raw); err != nil {
			return anthropic.ContentBlockParamUnion{}, llm.NewInvalidRequestError("unsupported content part", err)
		}
		return block, nil

	default:
		return anthropic.ContentBlockParamUnion{}, llm.NewInvalidRequestError(fmt.Sprintf("unknown content part type %q", part.Type), nil)
	}
}

// ToMessageParam converts a user or assistant turn to an Anthropic MessageParam.
func ToMessageParam(turn llm.Turn) (anthropic.MessageParam, error) {
	parts := turn.Content.AsParts()
	blocks := make([]anthropic.ContentBlockParamUnion, 0, len(parts))
	for _, part := range parts {
		block, err := ToContentBlockParam(part)
		if err != nil {
			return anthropic.MessageParam{}, err
		}
		blocks = append(blocks, block)
	}

	switch turn.Role {
	case llm.RoleUser:
		return anthropic.NewUserMessage(blocks...), nil
	case llm.RoleAssistant:
		return anthropic.NewAssistantMessage(blocks...), nil
	default:
		return anthropic.MessageParam{}, llm.NewInvalidRequestError(fmt.Sprintf("role %q cannot appear after the system turn", turn.Role), nil)
	}
}

// ToMessageParams converts a slice of turns to Anthropic MessageParams.
func ToMessageParams(turns []llm.Turn) ([]anthropic.MessageParam, error) {
	// loop instead of lo.Map because conversion can fail
	result := make([]anthropic.MessageParam, 0, len(turns))
	for _, turn := range turns {
		msg, err := ToMessageParam(turn)
		if err != nil {
			return nil, err
		}
		result = append(result, msg)
	}
	return result, nil
}

// ToMessageNewParams builds the Anthropic request body for req.
func ToMessageNewParams(req *llm.Request) (anthropic.MessageNewParams, error) {
	system, err := ToSystemBlocks(req.System)
	if err != nil {
		return anthropic.MessageNewParams{}, err
	}
	messages, err := ToMessageParams(req.Turns)
	if err != nil {
		return anthropic.MessageNewParams{}, err
	}

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(req.Model),
		MaxTokens:   req.MaxTokens,
		Messages:    messages,
		System:      system,
		Temperature: anthropic.Float(req.Temperature),
	}
	if req.Thinking.Enabled {
		params.Thinking = anthropic.ThinkingConfigParamOfEnabled(req.Thinking.BudgetTokens)
	}
	return params, nil
}

// FromUsage converts SDK usage to llm.Usage.
func FromUsage(u anthropic.Usage) llm.Usage {
	return llm.Usage{
		InputTokens:              u.InputTokens,
		OutputTokens:             u.OutputTokens,
		CacheCreationInputTokens: u.CacheCreationInputTokens,
		CacheReadInputTokens:     u.CacheReadInputTokens,
	}
}

// FromStreamEvent converts one SDK stream event to an llm.StreamEvent.
//
// Message delta usage from the API is cumulative, so only its output tokens are
// carried; input and cache tokens were already reported by message start.
func FromStreamEvent(event anthropic.MessageStreamEventUnion) llm.StreamEvent {
	switch evt := event.AsAny().(type) {
	case anthropic.MessageStartEvent:
		return llm.MessageStart(FromUsage(evt.Message.Usage))

	case anthropic.ContentBlockStartEvent:
		switch evt.ContentBlock.AsAny().(type) {
		case anthropic.ThinkingBlock:
			return llm.BlockStart(llm.BlockKindThinking)
		case anthropic.TextBlock:
			return llm.BlockStart(llm.BlockKindText)
		default:
			return llm.BlockStart(llm.BlockKindOther)
		}

	case anthropic.ContentBlockDeltaEvent:
		switch d := evt.Delta.AsAny().(type) {
		case anthropic.ThinkingDelta:
			return llm.BlockDelta(llm.BlockKindThinking, d.Thinking)
		case anthropic.TextDelta:
			return llm.BlockDelta(llm.BlockKindText, d.Text)
		default:
			// signatures, tool input and citations carry no text
			return llm.OtherEvent()
		}

	case anthropic.ContentBlockStopEvent:
		return llm.BlockStop()

	case anthropic.MessageDeltaEvent:
		return llm.MessageDelta(llm.Usage{OutputTokens: evt.Usage.OutputTokens})

	default:
		return llm.OtherEvent()
	}
}

// modelIDs extracts identifiers from SDK model descriptions.
func modelIDs(models []anthropic.ModelInfo) []string {
	return lo.Map(models, func(m anthropic.ModelInfo, _ int) string {
		return m.ID
	})
}
