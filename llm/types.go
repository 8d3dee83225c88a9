package llm

import (
	"bytes"
	"encoding/json"
)

// MessageRole represents the role of a turn in a conversation.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
)

// Turn represents a single message in a conversation.
// Turn 0 of a conversation is always the system turn.
type Turn struct {
	Role    MessageRole
	Content Content
}

// contentKind discriminates the two shapes a turn's content can take.
type contentKind uint8

const (
	contentPlain contentKind = iota
	contentParts
)

// Content is either plain text or an ordered list of content parts.
// The shape is fixed when the value is built; use Text or Parts to read it.
type Content struct {
	kind  contentKind
	text  string
	parts []ContentPart
}

// PlainText builds text-only content.
func PlainText(text string) Content {
	return Content{kind: contentPlain, text: text}
}

// PartList builds content from an ordered list of parts.
func PartList(parts ...ContentPart) Content {
	return Content{kind: contentParts, parts: parts}
}

// IsPlain reports whether the content is plain text.
func (c Content) IsPlain() bool {
	return c.kind == contentPlain
}

// Text returns the plain text and true when the content is plain text.
func (c Content) Text() (string, bool) {
	if c.kind != contentPlain {
		return "", false
	}
	return c.text, true
}

// Parts returns the part list and true when the content is a part list.
// The returned slice is shared with the content; use Clone before mutating it.
func (c Content) Parts() ([]ContentPart, bool) {
	if c.kind != contentParts {
		return nil, false
	}
	return c.parts, true
}

// AsParts returns the content as a part list, converting plain text into a
// single text part. The result never aliases the receiver.
func (c Content) AsParts() []ContentPart {
	if c.kind == contentPlain {
		return []ContentPart{NewTextPart(c.text)}
	}
	return c.Clone().parts
}

// Clone returns a deep copy of the content.
func (c Content) Clone() Content {
	if c.kind == contentPlain {
		return c
	}
	parts := make([]ContentPart, len(c.parts))
	for i, p := range c.parts {
		parts[i] = p.Clone()
	}
	return Content{kind: contentParts, parts: parts}
}

// Equal compares two contents structurally. Cache annotations are ignored.
func (c Content) Equal(other Content) bool {
	if c.kind != other.kind {
		return false
	}
	if c.kind == contentPlain {
		return c.text == other.text
	}
	if len(c.parts) != len(other.parts) {
		return false
	}
	for i := range c.parts {
		if !c.parts[i].Equal(other.parts[i]) {
			return false
		}
	}
	return true
}

// MarshalJSON encodes plain text as a JSON string and part lists as arrays,
// matching the shape conversations use on disk.
func (c Content) MarshalJSON() ([]byte, error) {
	if c.kind == contentPlain {
		return json.Marshal(c.text)
	}
	return json.Marshal(c.parts)
}

// UnmarshalJSON resolves the content shape once from its JSON form.
func (c *Content) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var text string
		if err := json.Unmarshal(trimmed, &text); err != nil {
			return err
		}
		*c = PlainText(text)
		return nil
	}
	var parts []ContentPart
	if err := json.Unmarshal(trimmed, &parts); err != nil {
		return err
	}
	*c = PartList(parts...)
	return nil
}

// ContentPartType represents the type of a content part.
type ContentPartType string

const (
	ContentPartTypeText  ContentPartType = "text"
	ContentPartTypeImage ContentPartType = "image"
	ContentPartTypeOther ContentPartType = "other"
)

// ContentPart represents a single part of a turn's content.
type ContentPart struct {
	Type      ContentPartType `json:"type"`
	Text      string          `json:"text,omitempty"`       // For text parts
	Cacheable bool            `json:"cacheable,omitempty"`  // For text parts
	MediaType string          `json:"media_type,omitempty"` // For image parts
	Data      []byte          `json:"data,omitempty"`       // For image parts, raw bytes
	Raw       json.RawMessage `json:"raw,omitempty"`        // For other parts, passed through
}

// NewTextPart creates a text content part.
func NewTextPart(text string) ContentPart {
	return ContentPart{Type: ContentPartTypeText, Text: text}
}

// NewImagePart creates an image content part from encoded image bytes.
func NewImagePart(mediaType string, data []byte) ContentPart {
	return ContentPart{Type: ContentPartTypeImage, MediaType: mediaType, Data: data}
}

// NewOtherPart creates a pass-through content part from a provider-shaped JSON block.
func NewOtherPart(raw json.RawMessage) ContentPart {
	return ContentPart{Type: ContentPartTypeOther, Raw: raw}
}

// Clone returns a deep copy of the part.
func (p ContentPart) Clone() ContentPart {
	if p.Data != nil {
		p.Data = bytes.Clone(p.Data)
	}
	if p.Raw != nil {
		p.Raw = bytes.Clone(p.Raw)
	}
	return p
}

// Equal compares two parts structurally, ignoring Cacheable.
func (p ContentPart) Equal(other ContentPart) bool {
	return p.Type == other.Type &&
		p.Text == other.Text &&
		p.MediaType == other.MediaType &&
		bytes.Equal(p.Data, other.Data) &&
		bytes.Equal(p.Raw, other.Raw)
}

// NewTextTurn creates a turn with plain text content.
func NewTextTurn(role MessageRole, text string) Turn {
	return Turn{Role: role, Content: PlainText(text)}
}

// Clone returns a deep copy of the turn.
func (t Turn) Clone() Turn {
	return Turn{Role: t.Role, Content: t.Content.Clone()}
}

// CloneTurns returns a deep copy of a turn list.
func CloneTurns(turns []Turn) []Turn {
	if turns == nil {
		return nil
	}
	out := make([]Turn, len(turns))
	for i, t := range turns {
		out[i] = t.Clone()
	}
	return out
}

// ThinkingConfig controls extended thinking on the outbound request.
type ThinkingConfig struct {
	Enabled      bool
	BudgetTokens int64
}

// Request represents a complete, annotated outbound streaming request.
type Request struct {
	Model       string
	System      Content
	Turns       []Turn
	MaxTokens   int64
	Temperature float64
	Thinking    ThinkingConfig
	Betas       []string
}

// Usage represents token usage information reported by the provider.
type Usage struct {
	InputTokens              int64
	OutputTokens             int64
	CacheCreationInputTokens int64
	CacheReadInputTokens     int64
}

// Metric names reported for streamed chats.
const (
	MetricInputTokens  = "stream_chat.input_tokens"
	MetricOutputTokens = "stream_chat.output_tokens"
)

// UsageRecord is one metric sample handed to a UsageSink.
type UsageRecord struct {
	Component      string
	Metric         string
	Quantity       int64
	Metadata       map[string]any
	Model          string
	ConversationID string
}

// BlockKind represents the kind of a streamed content block.
type BlockKind string

const (
	BlockKindThinking BlockKind = "thinking"
	BlockKindText     BlockKind = "text"
	BlockKindOther    BlockKind = "other"
)

// StreamEventType represents the type of an inbound streaming event.
type StreamEventType string

const (
	StreamEventTypeMessageStart StreamEventType = "message_start"
	StreamEventTypeBlockStart   StreamEventType = "block_start"
	StreamEventTypeBlockDelta   StreamEventType = "block_delta"
	StreamEventTypeBlockStop    StreamEventType = "block_stop"
	StreamEventTypeMessageDelta StreamEventType = "message_delta"
	StreamEventTypeOther        StreamEventType = "other"
)

// StreamEvent represents one inbound provider event.
// Kind is set for block events, Text for block deltas, and Usage for message
// start and message delta events.
type StreamEvent struct {
	Type  StreamEventType
	Kind  BlockKind
	Text  string
	Usage *Usage
}

// MessageStart creates a message start event.
func MessageStart(usage Usage) StreamEvent {
	return StreamEvent{Type: StreamEventTypeMessageStart, Usage: &usage}
}

// BlockStart creates a content block start event.
func BlockStart(kind BlockKind) StreamEvent {
	return StreamEvent{Type: StreamEventTypeBlockStart, Kind: kind}
}

// BlockDelta creates a content block delta event.
func BlockDelta(kind BlockKind, text string) StreamEvent {
	return StreamEvent{Type: StreamEventTypeBlockDelta, Kind: kind, Text: text}
}

// BlockStop creates a content block stop event.
func BlockStop() StreamEvent {
	return StreamEvent{Type: StreamEventTypeBlockStop}
}

// MessageDelta creates a message delta event.
func MessageDelta(usage Usage) StreamEvent {
	return StreamEvent{Type: StreamEventTypeMessageDelta, Usage: &usage}
}

// OtherEvent creates an event the reducer ignores.
func OtherEvent() StreamEvent {
	return StreamEvent{Type: StreamEventTypeOther}
}
