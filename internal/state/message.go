package state

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Milix-M/DeepReSearch/pkg/schema"
)

// Message roles. The ledger accumulates system, human, assistant and tool
// turns in execution order.
const (
	RoleSystem    = "system"
	RoleHuman     = "human"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Fragment types for structured message content.
const (
	FragmentText       = "text"
	FragmentToolUse    = "tool_use"
	FragmentToolResult = "tool_result"
)

// Fragment is one typed part of a structured message content list.
type Fragment struct {
	Type string `json:"type"`

	// text
	Text string `json:"text,omitempty"`

	// tool_use
	ID    string         `json:"id,omitempty"`
	Name  string         `json:"name,omitempty"`
	Input map[string]any `json:"input,omitempty"`

	// tool_result
	ToolCallID string `json:"tool_call_id,omitempty"`
	Content    string `json:"content,omitempty"`
}

// Message is one role-tagged entry in the append-only ledger. Content is
// either a plain string or a list of typed fragments; the JSON form mirrors
// that union ("content" is a string or an array).
type Message struct {
	Role      string
	Content   string
	Fragments []Fragment
}

// NewSystemMessage returns a plain-text system message.
func NewSystemMessage(text string) Message {
	return Message{Role: RoleSystem, Content: text}
}

// NewHumanMessage returns a plain-text human message.
func NewHumanMessage(text string) Message {
	return Message{Role: RoleHuman, Content: text}
}

// NewAssistantMessage returns an assistant message with structured content.
func NewAssistantMessage(fragments ...Fragment) Message {
	return Message{Role: RoleAssistant, Fragments: fragments}
}

// NewToolMessage returns a tool-result message answering one tool call.
func NewToolMessage(toolCallID, name, content string) Message {
	return Message{Role: RoleTool, Fragments: []Fragment{{
		Type:       FragmentToolResult,
		ToolCallID: toolCallID,
		Name:       name,
		Content:    content,
	}}}
}

// TextFragment builds a text content part.
func TextFragment(text string) Fragment {
	return Fragment{Type: FragmentText, Text: text}
}

// ToolUseFragment builds a tool-call content part.
func ToolUseFragment(id, name string, input map[string]any) Fragment {
	return Fragment{Type: FragmentToolUse, ID: id, Name: name, Input: input}
}

// TextContent flattens the message content to plain text. String content is
// returned as-is; fragment lists concatenate their text parts with blank-line
// separators, skipping tool plumbing.
func (m Message) TextContent() string {
	if len(m.Fragments) == 0 {
		return m.Content
	}
	var parts []string
	for _, f := range m.Fragments {
		switch f.Type {
		case FragmentText:
			if f.Text != "" {
				parts = append(parts, f.Text)
			}
		case FragmentToolUse, FragmentToolResult:
			// not report material
		default:
			if f.Text != "" {
				parts = append(parts, f.Text)
			}
		}
	}
	return strings.Join(parts, "\n\n")
}

// ToolCalls returns the tool_use fragments in content order.
func (m Message) ToolCalls() []Fragment {
	var calls []Fragment
	for _, f := range m.Fragments {
		if f.Type == FragmentToolUse {
			calls = append(calls, f)
		}
	}
	return calls
}

// HasToolCalls reports whether the message requests at least one tool call.
func (m Message) HasToolCalls() bool {
	for _, f := range m.Fragments {
		if f.Type == FragmentToolUse {
			return true
		}
	}
	return false
}

// wireMessage is the JSON envelope; content carries the string/array union.
type wireMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

// MarshalJSON encodes content as a string when the message is plain text and
// as a fragment array otherwise.
func (m Message) MarshalJSON() ([]byte, error) {
	var content json.RawMessage
	var err error
	if len(m.Fragments) > 0 {
		content, err = json.Marshal(m.Fragments)
	} else {
		content, err = json.Marshal(m.Content)
	}
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireMessage{Role: m.Role, Content: content})
}

// UnmarshalJSON accepts both content forms.
func (m *Message) UnmarshalJSON(data []byte) error {
	var wire wireMessage
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	m.Role = wire.Role
	m.Content = ""
	m.Fragments = nil
	if len(wire.Content) == 0 || string(wire.Content) == "null" {
		return nil
	}
	switch wire.Content[0] {
	case '"':
		return json.Unmarshal(wire.Content, &m.Content)
	case '[':
		return json.Unmarshal(wire.Content, &m.Fragments)
	default:
		return schema.NewErrorf(schema.ErrCodeValidation,
			"message content must be a string or fragment list, got %s", firstToken(wire.Content))
	}
}

func firstToken(raw json.RawMessage) string {
	s := strings.TrimSpace(string(raw))
	if len(s) > 12 {
		s = s[:12] + "..."
	}
	return fmt.Sprintf("%q", s)
}

// Clone deep-copies the message, including fragment input maps.
func (m Message) Clone() Message {
	out := Message{Role: m.Role, Content: m.Content}
	if len(m.Fragments) > 0 {
		out.Fragments = make([]Fragment, len(m.Fragments))
		for i, f := range m.Fragments {
			cp := f
			if f.Input != nil {
				cp.Input = cloneMap(f.Input)
			}
			out.Fragments[i] = cp
		}
	}
	return out
}

// cloneMap deep-copies a JSON-shaped map (maps, slices, primitives).
func cloneMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch tv := v.(type) {
	case map[string]any:
		return cloneMap(tv)
	case []any:
		out := make([]any, len(tv))
		for i, item := range tv {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}
