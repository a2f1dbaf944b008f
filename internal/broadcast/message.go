package broadcast

import (
	"encoding/json"
	"fmt"
)

type MessageType string

const (
	ConfigChanged MessageType = "config_changed"
	DataChanged   MessageType = "data_changed"
)

// Message is the cross-context wire format. Key is set for config_changed,
// DataType (the collection name) for data_changed.
type Message struct {
	Type     MessageType     `json:"type"`
	Key      string          `json:"key,omitempty"`
	DataType string          `json:"dataType,omitempty"`
	Value    json.RawMessage `json:"value"`
	Origin   string          `json:"origin,omitempty"`
}

func NewConfigChanged(key string, value any) (Message, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return Message{}, fmt.Errorf("marshal config value %s: %w", key, err)
	}
	return Message{Type: ConfigChanged, Key: key, Value: raw}, nil
}

func NewDataChanged(collection string, value any) (Message, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return Message{}, fmt.Errorf("marshal change for %s: %w", collection, err)
	}
	return Message{Type: DataChanged, DataType: collection, Value: raw}, nil
}

// Decode unmarshals the value into dst.
func (m Message) Decode(dst any) error {
	if len(m.Value) == 0 {
		return json.Unmarshal([]byte("null"), dst)
	}
	return json.Unmarshal(m.Value, dst)
}

func (m Message) validate() error {
	switch m.Type {
	case ConfigChanged:
		if m.Key == "" {
			return fmt.Errorf("config_changed without key")
		}
	case DataChanged:
		if m.DataType == "" {
			return fmt.Errorf("data_changed without dataType")
		}
	default:
		return fmt.Errorf("unknown message type %q", m.Type)
	}
	return nil
}

func decodeMessage(payload []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(payload, &m); err != nil {
		return Message{}, err
	}
	return m, m.validate()
}

func encodeMessage(m Message) ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal broadcast: %w", err)
	}
	return data, nil
}
