// ABOUTME: Typed view over the loosely-typed graph state mapping
// ABOUTME: Validates raw snapshots against a JSON Schema before decoding messages

package engine

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// Message list keys carried by the consultation graph.
const (
	KeyMessages           = "messages"
	KeySpecialistMessages = "specialist_messages"
	KeyPathoMessages      = "patho_messages"
	KeyRadioMessages      = "radio_messages"
	KeyCurrentAgent       = "current_agent"
	KeyPatientID          = "patient_id"
)

// MessageKeys lists the message-list keys in the order they are scanned.
var MessageKeys = []string{KeyMessages, KeySpecialistMessages, KeyPathoMessages, KeyRadioMessages}

// IsMessageKey reports whether key holds a message list.
func IsMessageKey(key string) bool {
	for _, k := range MessageKeys {
		if k == key {
			return true
		}
	}
	return false
}

// Message types as serialized by the engine.
const (
	MessageHuman  = "human"
	MessageAI     = "ai"
	MessageTool   = "tool"
	MessageSystem = "system"
)

// ToolCall is a tool invocation requested by an AI message.
type ToolCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// Message is one chat message in a message list.
type Message struct {
	Type       string          `json:"type"`
	Content    json.RawMessage `json:"content,omitempty"` // string or list of content blocks
	ID         string          `json:"id,omitempty"`
	Name       string          `json:"name,omitempty"`
	ToolCalls  []ToolCall      `json:"tool_calls,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
}

// Text returns the message's text content. List content is flattened by
// joining the text of its text blocks.
func (m Message) Text() string {
	if len(m.Content) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(m.Content, &s); err == nil {
		return s
	}

	var blocks []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(m.Content, &blocks); err != nil {
		return ""
	}

	var parts []string
	for _, b := range blocks {
		if b.Text != "" && (b.Type == "" || b.Type == "text") {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "")
}

// IsAI reports whether the message was produced by a model.
func (m Message) IsAI() bool {
	return m.Type == MessageAI || m.Type == "AIMessage" || m.Type == "AIMessageChunk"
}

// IsTool reports whether the message is a tool result.
func (m Message) IsTool() bool {
	return m.Type == MessageTool || m.Type == "ToolMessage"
}

// Snapshot is one full state of the graph after a step.
type Snapshot struct {
	Values       map[string]any
	Lists        map[string][]Message
	CurrentAgent string
}

// Messages returns the message list stored under key.
func (s *Snapshot) Messages(key string) []Message {
	if s == nil {
		return nil
	}
	return s.Lists[key]
}

// LastAIText returns the text of the last AI message with non-empty text,
// looking in messages first and then specialist_messages.
func (s *Snapshot) LastAIText() string {
	for _, key := range []string{KeyMessages, KeySpecialistMessages} {
		msgs := s.Messages(key)
		for i := len(msgs) - 1; i >= 0; i-- {
			if msgs[i].IsAI() {
				if text := strings.TrimSpace(msgs[i].Text()); text != "" {
					return msgs[i].Text()
				}
			}
		}
	}
	return ""
}

const snapshotSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"definitions": {
		"toolCall": {
			"type": "object",
			"required": ["name"],
			"properties": {
				"id": {"type": ["string", "null"]},
				"name": {"type": "string"},
				"args": {"type": ["object", "null"]}
			}
		},
		"message": {
			"type": "object",
			"required": ["type"],
			"properties": {
				"type": {"type": "string"},
				"content": {"type": ["string", "array", "null"]},
				"id": {"type": ["string", "null"]},
				"name": {"type": ["string", "null"]},
				"tool_call_id": {"type": ["string", "null"]},
				"tool_calls": {
					"type": ["array", "null"],
					"items": {"$ref": "#/definitions/toolCall"}
				}
			}
		},
		"messageList": {
			"type": ["array", "null"],
			"items": {"$ref": "#/definitions/message"}
		}
	},
	"properties": {
		"messages": {"$ref": "#/definitions/messageList"},
		"specialist_messages": {"$ref": "#/definitions/messageList"},
		"patho_messages": {"$ref": "#/definitions/messageList"},
		"radio_messages": {"$ref": "#/definitions/messageList"},
		"current_agent": {"type": ["string", "null"]}
	}
}`

var (
	schemaOnce sync.Once
	schema     *gojsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*gojsonschema.Schema, error) {
	schemaOnce.Do(func() {
		schema, schemaErr = gojsonschema.NewSchema(gojsonschema.NewStringLoader(snapshotSchema))
	})
	return schema, schemaErr
}

// ParseSnapshot validates raw state JSON and decodes it into a Snapshot.
func ParseSnapshot(raw []byte) (*Snapshot, error) {
	sch, err := compiledSchema()
	if err != nil {
		return nil, fmt.Errorf("compiling snapshot schema: %w", err)
	}

	result, err := sch.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, fmt.Errorf("validating snapshot: %w", err)
	}
	if !result.Valid() {
		var problems []string
		for _, e := range result.Errors() {
			problems = append(problems, e.String())
		}
		return nil, fmt.Errorf("invalid snapshot: %s", strings.Join(problems, "; "))
	}

	var values map[string]any
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil, fmt.Errorf("decoding snapshot: %w", err)
	}

	var typed struct {
		Messages           []Message `json:"messages"`
		SpecialistMessages []Message `json:"specialist_messages"`
		PathoMessages      []Message `json:"patho_messages"`
		RadioMessages      []Message `json:"radio_messages"`
		CurrentAgent       *string   `json:"current_agent"`
	}
	if err := json.Unmarshal(raw, &typed); err != nil {
		return nil, fmt.Errorf("decoding snapshot messages: %w", err)
	}

	snap := &Snapshot{
		Values: values,
		Lists: map[string][]Message{
			KeyMessages:           typed.Messages,
			KeySpecialistMessages: typed.SpecialistMessages,
			KeyPathoMessages:      typed.PathoMessages,
			KeyRadioMessages:      typed.RadioMessages,
		},
	}
	if typed.CurrentAgent != nil {
		snap.CurrentAgent = *typed.CurrentAgent
	}
	return snap, nil
}

// SnapshotFromValues encodes a state mapping and parses it as a Snapshot.
func SnapshotFromValues(values map[string]any) (*Snapshot, error) {
	raw, err := json.Marshal(values)
	if err != nil {
		return nil, fmt.Errorf("encoding state: %w", err)
	}
	return ParseSnapshot(raw)
}
