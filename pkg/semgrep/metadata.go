package semgrep

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Metadata is a rule's metadata object with its keys kept in document
// order, so "the first value" means the same thing on every run
type Metadata struct {
	keys   []string
	values map[string]json.RawMessage
}

// UnmarshalJSON decodes the object token by token to record the key order
func (m *Metadata) UnmarshalJSON(data []byte) error {
	m.keys = nil
	m.values = nil

	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil
	}

	decoder := json.NewDecoder(bytes.NewReader(data))
	token, err := decoder.Token()
	if err != nil {
		return err
	}

	if delim, ok := token.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("metadata must be an object: got=%v", token)
	}

	m.values = make(map[string]json.RawMessage)
	for decoder.More() {
		token, err := decoder.Token()
		if err != nil {
			return err
		}

		key, ok := token.(string)
		if !ok {
			return fmt.Errorf("unexpected metadata key: key=%v", token)
		}

		var value json.RawMessage
		if err := decoder.Decode(&value); err != nil {
			return fmt.Errorf("could not decode metadata value: key=%q error=%w", key, err)
		}

		if _, seen := m.values[key]; !seen {
			m.keys = append(m.keys, key)
		}
		m.values[key] = value
	}

	_, err = decoder.Token()
	return err
}

// MarshalJSON writes the keys back out in their original order
func (m Metadata) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')

	for i, key := range m.keys {
		if i > 0 {
			buf.WriteByte(',')
		}

		encodedKey, err := json.Marshal(key)
		if err != nil {
			return nil, err
		}

		buf.Write(encodedKey)
		buf.WriteByte(':')
		buf.Write(m.values[key])
	}

	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Len is the number of keys
func (m Metadata) Len() int {
	return len(m.keys)
}

// Keys returns the keys in document order
func (m Metadata) Keys() []string {
	return append([]string(nil), m.keys...)
}

// Get returns the value for key rendered as text
func (m Metadata) Get(key string) (string, bool) {
	value, ok := m.values[key]
	if !ok {
		return "", false
	}
	return renderValue(value), true
}

// First returns the value of the first key in the document
func (m Metadata) First() (string, bool) {
	if len(m.keys) == 0 {
		return "", false
	}
	return m.Get(m.keys[0])
}

// renderValue returns strings as is, lists of strings joined by commas
// and anything else as compact JSON
func renderValue(value json.RawMessage) string {
	var s string
	if err := json.Unmarshal(value, &s); err == nil {
		return s
	}

	var list []string
	if err := json.Unmarshal(value, &list); err == nil {
		return strings.Join(list, ", ")
	}

	var compact bytes.Buffer
	if err := json.Compact(&compact, value); err != nil {
		return string(value)
	}
	return compact.String()
}
