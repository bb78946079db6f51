package commsutil

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	comms "github.com/nats-io/nats.go"
)

const codecLogPrefix = "commsutil:codec"

var (
	// ErrEmptyPayload is returned when a message carries no data.
	ErrEmptyPayload = errors.New("empty payload")
	// ErrNoReply is returned when replying to a message published without a reply subject.
	ErrNoReply = errors.New("message has no reply subject")
)

// EncodePayload serializes a value to JSON bytes.
func EncodePayload(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to encode %T: %w", codecLogPrefix, v, err)
	}
	return data, nil
}

// DecodePayload deserializes JSON bytes into v.
func DecodePayload(data []byte, v any) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return ErrEmptyPayload
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%s - invalid payload: %w", codecLogPrefix, err)
	}
	return nil
}

// Reply encodes v and sends it to the reply subject of msg.
func Reply(msg *comms.Msg, v any) error {
	if msg.Reply == "" {
		return ErrNoReply
	}
	data, err := EncodePayload(v)
	if err != nil {
		return err
	}
	if err := msg.Respond(data); err != nil {
		return fmt.Errorf("%s - reply to %s failed: %w", codecLogPrefix, msg.Reply, err)
	}
	return nil
}
