// Package wsserver is the websocket transport between the overlay core and
// the host process.
//
// # Frame protocol
//
// Every websocket binary message is one CBOR map (core deterministic
// encoding):
//
//	{"topic": text, "seq": uint, "payload": any}
//
// seq increases by one per sender. Payload shapes are fixed per topic; see
// the *Payload types below and render.Sample / toast.Toast / settings.Patch
// for the host-originated topics.
package wsserver

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"perfhud/internal/bridge"
	"perfhud/internal/hotkeys"
	"perfhud/internal/settings"
)

// TopicError is sent back to a peer whose frame could not be handled.
const TopicError bridge.Topic = "error"

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encOptions := cbor.CoreDetEncOptions()
	encOptions.Time = cbor.TimeRFC3339Nano
	encOptions.TextMarshaler = cbor.TextMarshalerTextString
	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("wsserver: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		TextUnmarshaler: cbor.TextUnmarshalerTextString,
	}.DecMode()
	if err != nil {
		panic("wsserver: CBOR decoder initialization failed: " + err.Error())
	}
}

// Envelope is one decoded frame. Payload stays encoded until the receiver
// knows which type to decode it into.
type Envelope struct {
	Topic   bridge.Topic    `cbor:"topic"`
	Seq     uint64          `cbor:"seq"`
	Payload cbor.RawMessage `cbor:"payload"`
}

// Decode decodes the payload into v.
func (e Envelope) Decode(v any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("wsserver: decode %s payload: empty", e.Topic)
	}
	if err := decMode.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("wsserver: decode %s payload: %w", e.Topic, err)
	}
	return nil
}

// SettingsPayload is pushed on the settings topic. It never carries
// shortcuts.
type SettingsPayload struct {
	Version  uint64            `cbor:"version"`
	Settings settings.HostView `cbor:"settings"`
}

// ShortcutsPayload is pushed on the shortcuts topic.
type ShortcutsPayload struct {
	Version   uint64                              `cbor:"version"`
	Shortcuts map[settings.Action]hotkeys.Binding `cbor:"shortcuts"`
}

// ShortcutStatusPayload is the host's result of registering one binding
// with the OS.
type ShortcutStatusPayload struct {
	Action      settings.Action `cbor:"action"`
	Accelerator string          `cbor:"accelerator"`
	Registered  bool            `cbor:"registered"`
	Error       string          `cbor:"error,omitempty"`
}

// ShortcutTriggeredPayload reports that the host caught the global
// shortcut bound to Action.
type ShortcutTriggeredPayload struct {
	Action settings.Action `cbor:"action"`
}

// ProcessSelectPayload asks the host to track the process with PID.
type ProcessSelectPayload struct {
	PID int `cbor:"pid"`
}

// HostStatusPayload is published on the bus when the host connects or
// disconnects. It never goes over the wire.
type HostStatusPayload struct {
	Connected  bool   `cbor:"connected"`
	RemoteAddr string `cbor:"remoteAddr,omitempty"`
}

// ErrorPayload is sent on the error topic.
type ErrorPayload struct {
	Message string `cbor:"message"`
}

// EncodeEnvelope builds one frame.
func EncodeEnvelope(topic bridge.Topic, seq uint64, payload any) ([]byte, error) {
	if topic == "" {
		return nil, fmt.Errorf("wsserver: encode envelope: topic must not be empty")
	}
	raw, err := encMode.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("wsserver: encode %s payload: %w", topic, err)
	}
	frame, err := encMode.Marshal(Envelope{Topic: topic, Seq: seq, Payload: raw})
	if err != nil {
		return nil, fmt.Errorf("wsserver: encode %s envelope: %w", topic, err)
	}
	return frame, nil
}

// DecodeEnvelope parses a frame produced by EncodeEnvelope.
func DecodeEnvelope(frame []byte) (Envelope, error) {
	if len(frame) == 0 {
		return Envelope{}, fmt.Errorf("wsserver: decode envelope: empty frame")
	}
	var env Envelope
	if err := decMode.Unmarshal(frame, &env); err != nil {
		return Envelope{}, fmt.Errorf("wsserver: decode envelope: %w", err)
	}
	if env.Topic == "" {
		return Envelope{}, fmt.Errorf("wsserver: decode envelope: missing topic")
	}
	return env, nil
}

// inboundTopics are the topics a host may send.
var inboundTopics = map[bridge.Topic]struct{}{
	bridge.TopicTelemetry:         {},
	bridge.TopicSettingsPatch:     {},
	bridge.TopicShortcutStatus:    {},
	bridge.TopicShortcutTriggered: {},
	bridge.TopicToast:             {},
}
