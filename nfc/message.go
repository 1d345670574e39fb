package nfc

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"unicode/utf8"
)

// Type Name Format values used by attendance tags.
const (
	TNFEmpty     byte = 0x00
	TNFWellKnown byte = 0x01
	TNFMIME      byte = 0x02
	TNFURI       byte = 0x03
	TNFExternal  byte = 0x04
)

// NDEFRecord represents a single NDEF record within a message.
type NDEFRecord struct {
	TNF     byte   // Type Name Format (0x00-0x07)
	Type    []byte // Record type (e.g., "T" for text, "application/json")
	ID      []byte // Optional record ID
	Payload []byte // Record payload data
}

// IsTextRecord returns true if this is a Text Record (TNF=0x01, Type='T').
func (r *NDEFRecord) IsTextRecord() bool {
	return r.TNF == TNFWellKnown && len(r.Type) == 1 && r.Type[0] == 'T'
}

// GetText extracts text from a Text Record.
// Returns (text, true) if this is a text record, or ("", false) otherwise.
func (r *NDEFRecord) GetText() (string, bool) {
	if !r.IsTextRecord() {
		return "", false
	}
	text, err := parseTextRecordPayload(r.Payload)
	if err != nil {
		return "", false
	}
	return text, true
}

// DecodeText returns the record payload as text. Text Records follow the
// NDEF text-record layout (status byte, language code, UTF-8/UTF-16 body);
// every other record type must carry valid UTF-8.
func (r *NDEFRecord) DecodeText() (string, error) {
	if r.IsTextRecord() {
		return parseTextRecordPayload(r.Payload)
	}
	if !utf8.Valid(r.Payload) {
		return "", fmt.Errorf("payload of %q record is not valid UTF-8", string(r.Type))
	}
	return string(r.Payload), nil
}

// ndefRecordJSON is the wire shape of a record. Byte fields are decoded by
// decodeByteField since phones send them as number arrays.
type ndefRecordJSON struct {
	TNF     uint8           `json:"tnf"`
	Type    json.RawMessage `json:"type,omitempty"`
	ID      json.RawMessage `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// UnmarshalJSON accepts byte fields as arrays of numbers (0-255). Type and ID
// may also be plain strings; Payload may also be a base64 string.
func (r *NDEFRecord) UnmarshalJSON(data []byte) error {
	var raw ndefRecordJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.TNF > 0x07 {
		return fmt.Errorf("invalid TNF value: 0x%02X", raw.TNF)
	}

	recordType, err := decodeByteField(raw.Type, false)
	if err != nil {
		return fmt.Errorf("record type: %w", err)
	}
	recordID, err := decodeByteField(raw.ID, false)
	if err != nil {
		return fmt.Errorf("record id: %w", err)
	}
	payload, err := decodeByteField(raw.Payload, true)
	if err != nil {
		return fmt.Errorf("record payload: %w", err)
	}

	*r = NDEFRecord{TNF: raw.TNF, Type: recordType, ID: recordID, Payload: payload}
	return nil
}

// MarshalJSON writes byte fields as number arrays, the shape phones send.
func (r NDEFRecord) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		TNF     uint8 `json:"tnf"`
		Type    []int `json:"type"`
		ID      []int `json:"id,omitempty"`
		Payload []int `json:"payload"`
	}{
		TNF:     r.TNF,
		Type:    bytesToInts(r.Type),
		ID:      bytesToInts(r.ID),
		Payload: bytesToInts(r.Payload),
	})
}

func decodeByteField(raw json.RawMessage, stringIsBase64 bool) ([]byte, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	switch raw[0] {
	case '[':
		var values []int
		if err := json.Unmarshal(raw, &values); err != nil {
			return nil, err
		}
		return intsToBytes(values)
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		if !stringIsBase64 {
			return []byte(s), nil
		}
		return base64.StdEncoding.DecodeString(s)
	default:
		return nil, fmt.Errorf("expected array or string, got %s", string(raw))
	}
}

func intsToBytes(values []int) ([]byte, error) {
	out := make([]byte, len(values))
	for i, v := range values {
		if v < 0 || v > 0xFF {
			return nil, fmt.Errorf("byte value %d at index %d out of range", v, i)
		}
		out[i] = byte(v)
	}
	return out, nil
}

func bytesToInts(b []byte) []int {
	if b == nil {
		return nil
	}
	out := make([]int, len(b))
	for i, v := range b {
		out[i] = int(v)
	}
	return out
}

// NDEFMessage represents a structured NDEF message with multiple records.
type NDEFMessage struct {
	records []NDEFRecord
}

// NewNDEFMessage creates a new empty NDEF message.
func NewNDEFMessage() *NDEFMessage {
	return &NDEFMessage{records: []NDEFRecord{}}
}

// AddRecord adds a raw NDEF record to the message.
func (m *NDEFMessage) AddRecord(record NDEFRecord) *NDEFMessage {
	m.records = append(m.records, record)
	return m
}

// AddText adds an NDEF Text Record to the message.
func (m *NDEFMessage) AddText(text, langCode string) *NDEFMessage {
	if langCode == "" {
		langCode = "en"
	}
	m.records = append(m.records, NDEFRecord{
		TNF:     TNFWellKnown,
		Type:    []byte("T"),
		Payload: MakeTextRecordPayload(text, langCode),
	})
	return m
}

// AddMIME adds a MIME media record (e.g. "application/json") to the message.
func (m *NDEFMessage) AddMIME(mimeType string, data []byte) *NDEFMessage {
	m.records = append(m.records, NDEFRecord{
		TNF:     TNFMIME,
		Type:    []byte(mimeType),
		Payload: data,
	})
	return m
}

// Records returns the list of NDEF records in this message.
func (m *NDEFMessage) Records() []NDEFRecord {
	return m.records
}

// Encode converts the NDEF message to bytes.
func (m *NDEFMessage) Encode() ([]byte, error) {
	if len(m.records) == 0 {
		return nil, fmt.Errorf("cannot encode empty NDEF message")
	}
	return encodeNDEFRecords(m.records)
}

// GetText returns the text content from the first Text Record in the message.
func (m *NDEFMessage) GetText() (string, error) {
	for _, r := range m.records {
		if text, ok := r.GetText(); ok {
			return text, nil
		}
	}
	return "", fmt.Errorf("no text record found in NDEF message")
}

// DecodeNDEF parses raw bytes into an NDEFMessage.
// Returns error if the data is not valid NDEF format.
func DecodeNDEF(data []byte) (*NDEFMessage, error) {
	records, err := parseNDEFRecords(data)
	if err != nil {
		return nil, err
	}
	return &NDEFMessage{records: records}, nil
}
