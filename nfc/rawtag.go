package nfc

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// TagID is the hardware UID of a tag in whichever representation the
// capability reported it. Each variant normalizes itself to the canonical
// uppercase hex form.
type TagID interface {
	Normalize() string
	isTagID()
}

// HexUID is a UID that was already reported as a hex string.
type HexUID string

// Normalize uppercases the string as-is.
func (u HexUID) Normalize() string { return strings.ToUpper(string(u)) }

func (HexUID) isTagID() {}

// ByteUID is a UID reported as an ordered sequence of byte values.
type ByteUID []byte

// Normalize renders each byte as two hex digits, uppercased.
func (u ByteUID) Normalize() string { return strings.ToUpper(hex.EncodeToString(u)) }

func (ByteUID) isTagID() {}

// IndexedUID is a UID reported as a byte-array-like object keyed by index,
// e.g. {"0":4,"1":162}. Keys are ordered numerically.
type IndexedUID map[int]byte

// Normalize orders bytes by index and renders them like ByteUID.
func (u IndexedUID) Normalize() string {
	return ByteUID(u.Bytes()).Normalize()
}

// Bytes returns the values ordered by their numeric index.
func (u IndexedUID) Bytes() []byte {
	keys := make([]int, 0, len(u))
	for k := range u {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	out := make([]byte, len(keys))
	for i, k := range keys {
		out[i] = u[k]
	}
	return out
}

func (IndexedUID) isTagID() {}

// RawTag is what a capability yields for a single scan.
type RawTag struct {
	ID          TagID        `json:"-"`
	NDEFMessage []NDEFRecord `json:"-"`
	TechTypes   []string     `json:"-"`

	// RecordErrors lists NDEF records dropped while decoding JSON. They are
	// logged by the Resolver and never fail the tag.
	RecordErrors []RecordError `json:"-"`
}

// RecordError is an NDEF record that could not be decoded.
type RecordError struct {
	Index int
	Err   error
}

func (e RecordError) Error() string {
	return fmt.Sprintf("record %d: %v", e.Index, e.Err)
}

func (e RecordError) Unwrap() error { return e.Err }

type rawTagJSON struct {
	ID          json.RawMessage `json:"id,omitempty"`
	NDEFMessage []NDEFRecord    `json:"ndefMessage,omitempty"`
	TechTypes   []string        `json:"techTypes,omitempty"`
}

type rawTagWire struct {
	ID          json.RawMessage   `json:"id,omitempty"`
	NDEFMessage []json.RawMessage `json:"ndefMessage,omitempty"`
	TechTypes   []string          `json:"techTypes,omitempty"`
}

// UnmarshalJSON picks the TagID variant from the JSON token kind of "id".
// Records are decoded one at a time; a bad record lands in RecordErrors.
func (t *RawTag) UnmarshalJSON(data []byte) error {
	var raw rawTagWire
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	id, err := ParseTagID(raw.ID)
	if err != nil {
		return fmt.Errorf("tag id: %w", err)
	}

	tag := RawTag{ID: id, TechTypes: raw.TechTypes}
	for i, msg := range raw.NDEFMessage {
		var rec NDEFRecord
		if err := json.Unmarshal(msg, &rec); err != nil {
			tag.RecordErrors = append(tag.RecordErrors, RecordError{Index: i, Err: err})
			continue
		}
		tag.NDEFMessage = append(tag.NDEFMessage, rec)
	}
	*t = tag
	return nil
}

// MarshalJSON writes the tag in the same shape UnmarshalJSON reads.
func (t RawTag) MarshalJSON() ([]byte, error) {
	out := rawTagJSON{NDEFMessage: t.NDEFMessage, TechTypes: t.TechTypes}
	var err error
	switch id := t.ID.(type) {
	case nil:
	case HexUID:
		out.ID, err = json.Marshal(string(id))
	case ByteUID:
		out.ID, err = json.Marshal(bytesToInts(id))
	case IndexedUID:
		m := make(map[string]int, len(id))
		for k, v := range id {
			m[strconv.Itoa(k)] = int(v)
		}
		out.ID, err = json.Marshal(m)
	default:
		return nil, fmt.Errorf("unknown tag id type %T", t.ID)
	}
	if err != nil {
		return nil, err
	}
	return json.Marshal(out)
}

// ParseTagID decodes a JSON "id" value. Absent, null and empty values yield
// a nil TagID.
func ParseTagID(raw json.RawMessage) (TagID, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		if s == "" {
			return nil, nil
		}
		return HexUID(s), nil
	case '[':
		var values []int
		if err := json.Unmarshal(raw, &values); err != nil {
			return nil, err
		}
		b, err := intsToBytes(values)
		if err != nil {
			return nil, err
		}
		if len(b) == 0 {
			return nil, nil
		}
		return ByteUID(b), nil
	case '{':
		var obj map[string]int
		if err := json.Unmarshal(raw, &obj); err != nil {
			return nil, err
		}
		if len(obj) == 0 {
			return nil, nil
		}
		indexed := make(IndexedUID, len(obj))
		for k, v := range obj {
			idx, err := strconv.Atoi(k)
			if err != nil || idx < 0 {
				return nil, fmt.Errorf("invalid byte index %q", k)
			}
			if v < 0 || v > 0xFF {
				return nil, fmt.Errorf("byte value %d at index %d out of range", v, idx)
			}
			indexed[idx] = byte(v)
		}
		return indexed, nil
	default:
		return nil, fmt.Errorf("unsupported id value %s", string(raw))
	}
}
