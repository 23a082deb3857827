// Package message defines the queue wire contract shared with judge
// workers. The envelope is self-describing: message_type is authoritative
// for dispatch, payload stays opaque until a consumer asserts the type it
// expects.
package message

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/THUSAAC-PSD/broccoli-sub000/internal/domain"
)

// Message type tags used by the pipeline.
const (
	TypeJudgeJob    = "judge_job"
	TypeJudgeResult = "judge_result"
)

// Metadata travels with every envelope. Timestamp is unix seconds.
type Metadata struct {
	Priority      uint8             `json:"priority"`
	Timestamp     int64             `json:"timestamp"`
	RetryCount    uint8             `json:"retry_count"`
	MaxRetries    uint8             `json:"max_retries"`
	Source        string            `json:"source,omitempty"`
	CustomHeaders map[string]string `json:"custom_headers,omitempty"`
}

// Envelope is the canonical record on every queue.
type Envelope struct {
	MessageType string          `json:"message_type"`
	MessageID   string          `json:"message_id"`
	Metadata    Metadata        `json:"metadata"`
	Payload     json.RawMessage `json:"payload"`
	RoutingKey  string          `json:"routing_key,omitempty"`
}

// Option tweaks envelope construction.
type Option func(*Envelope)

func WithMessageID(id string) Option {
	return func(e *Envelope) { e.MessageID = id }
}

func WithPriority(p uint8) Option {
	return func(e *Envelope) { e.Metadata.Priority = p }
}

func WithMaxRetries(n uint8) Option {
	return func(e *Envelope) { e.Metadata.MaxRetries = n }
}

func WithSource(source string) Option {
	return func(e *Envelope) { e.Metadata.Source = source }
}

func WithRoutingKey(key string) Option {
	return func(e *Envelope) { e.RoutingKey = key }
}

func WithHeader(key, value string) Option {
	return func(e *Envelope) {
		if e.Metadata.CustomHeaders == nil {
			e.Metadata.CustomHeaders = make(map[string]string)
		}
		e.Metadata.CustomHeaders[key] = value
	}
}

// Wrap encodes a typed payload into an envelope. A fresh message_id is
// assigned unless an option supplies one; retry_count starts at zero.
func Wrap(messageType string, payload any, opts ...Option) (*Envelope, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, domain.NewSerializationError(
			fmt.Sprintf("marshal %s payload", messageType), err)
	}

	env := &Envelope{
		MessageType: messageType,
		MessageID:   uuid.NewString(),
		Metadata: Metadata{
			Timestamp:  time.Now().Unix(),
			MaxRetries: 3,
		},
		Payload: body,
	}
	for _, opt := range opts {
		opt(env)
	}
	return env, nil
}

// Decode unwraps the payload after asserting the type tag. The tag check
// runs before any payload decoding so consumers can route mismatches as
// poison without touching the bytes.
func (e *Envelope) Decode(expectedType string, out any) error {
	if e.MessageType != expectedType {
		return &domain.TypeMismatchError{Expected: expectedType, Actual: e.MessageType}
	}
	if err := json.Unmarshal(e.Payload, out); err != nil {
		return domain.NewSerializationError(
			fmt.Sprintf("unmarshal %s payload", expectedType), err)
	}
	return nil
}

// Marshal renders the envelope for publishing.
func (e *Envelope) Marshal() ([]byte, error) {
	body, err := json.Marshal(e)
	if err != nil {
		return nil, domain.NewSerializationError("marshal envelope", err)
	}
	return body, nil
}

// Unmarshal parses a delivery body into an envelope.
func Unmarshal(body []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, domain.NewSerializationError("unmarshal envelope", err)
	}
	return &env, nil
}
