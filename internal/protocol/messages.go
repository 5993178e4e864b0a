package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeClientAudioChunk MessageType = "client_audio_chunk"
	TypePersonSignal     MessageType = "person_signal"
	TypeClientControl    MessageType = "client_control"

	TypeUtteranceCommitted      MessageType = "utterance_committed"
	TypeAgentReply              MessageType = "agent_reply"
	TypeSwitchInteractionPerson MessageType = "switch_interaction_person"
	TypeNotification            MessageType = "notification"
	TypeSystemEvent             MessageType = "system_event"
	TypeErrorEvent              MessageType = "error_event"
)

// Control actions accepted in client_control messages.
const (
	ActionEnd   = "end"
	ActionFlush = "flush"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// ClientAudioChunk carries one PCM16LE mono frame from the glasses.
type ClientAudioChunk struct {
	Type        MessageType `json:"type"`
	ChannelID   string      `json:"channel_id"`
	Seq         int         `json:"seq"`
	PCM16Base64 string      `json:"pcm16_base64"`
	SampleRate  int         `json:"sample_rate"`
	TSMs        int64       `json:"ts_ms"`
}

// PersonSignal reports a face recognition change: a person entered the frame
// (present=true) or left it. An empty person id with present=true means an
// unrecognized face.
type PersonSignal struct {
	Type        MessageType `json:"type"`
	ChannelID   string      `json:"channel_id"`
	PersonID    string      `json:"person_id,omitempty"`
	Present     bool        `json:"present"`
	DisplayName string      `json:"display_name,omitempty"`
	TSMs        int64       `json:"ts_ms"`
}

type ClientControl struct {
	Type      MessageType `json:"type"`
	ChannelID string      `json:"channel_id"`
	Action    string      `json:"action"`
}

// UtteranceCommitted tells the client a completed turn was transcribed and
// appended to the active conversation.
type UtteranceCommitted struct {
	Type           MessageType `json:"type"`
	ChannelID      string      `json:"channel_id"`
	ConversationID string      `json:"conversation_id"`
	PersonID       string      `json:"person_id,omitempty"`
	Text           string      `json:"text"`
	DurationMs     int64       `json:"duration_ms"`
	TSMs           int64       `json:"ts_ms"`
}

type AgentReply struct {
	Type           MessageType `json:"type"`
	ChannelID      string      `json:"channel_id"`
	ConversationID string      `json:"conversation_id"`
	Text           string      `json:"text"`
}

// SwitchInteractionPerson announces the new active person along with a recap
// of previous conversations, for the heads-up display.
type SwitchInteractionPerson struct {
	Type       MessageType `json:"type"`
	ChannelID  string      `json:"channel_id"`
	PersonID   string      `json:"person_id,omitempty"`
	PersonName string      `json:"person_name,omitempty"`
	Recap      string      `json:"recap,omitempty"`
}

type Notification struct {
	Type      MessageType `json:"type"`
	ChannelID string      `json:"channel_id"`
	Title     string      `json:"title"`
	Message   string      `json:"message"`
}

type SystemEvent struct {
	Type      MessageType `json:"type"`
	ChannelID string      `json:"channel_id"`
	Code      string      `json:"code"`
	Detail    string      `json:"detail,omitempty"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	ChannelID string      `json:"channel_id"`
	Code      string      `json:"code"`
	Source    string      `json:"source"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

// ParseClientMessage decodes and validates one inbound websocket payload.
func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeClientAudioChunk:
		var msg ClientAudioChunk
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.PCM16Base64 == "" || msg.SampleRate <= 0 {
			return nil, errors.New("invalid client_audio_chunk")
		}
		return msg, nil
	case TypePersonSignal:
		var msg PersonSignal
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case TypeClientControl:
		var msg ClientControl
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.Action != ActionEnd && msg.Action != ActionFlush {
			return nil, fmt.Errorf("invalid client_control action %q", msg.Action)
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
