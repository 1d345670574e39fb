package nfc

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/hashicorp/go-hclog"
)

// Identifier is the canonical identity derived from a scanned tag.
type Identifier struct {
	NFCID string `json:"nfc_id"`
	// Fields holds the full JSON object for NDEF-derived identifiers,
	// nfc_id included. Nil for UID-derived identifiers.
	Fields map[string]any `json:"-"`
}

// MarshalJSON emits Fields with nfc_id set to NFCID. A numeric nfc_id read
// from the tag stays a JSON number.
func (id Identifier) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(id.Fields)+1)
	for k, v := range id.Fields {
		out[k] = v
	}
	if n, ok := id.Fields["nfc_id"].(json.Number); !ok || n.String() != id.NFCID {
		out["nfc_id"] = id.NFCID
	}
	return json.Marshal(out)
}

// Resolver turns raw scan results into identifiers. The zero value is usable
// and discards its log output.
type Resolver struct {
	Logger hclog.Logger
}

// Resolve uses a silent Resolver.
func Resolve(raw *RawTag) *Identifier {
	return (&Resolver{}).Resolve(raw)
}

// Resolve returns the identifier carried by raw, or nil when the tag has no
// usable data. A JSON NDEF record with a truthy nfc_id wins over the UID.
func (r *Resolver) Resolve(raw *RawTag) *Identifier {
	if raw == nil {
		return nil
	}

	for _, bad := range raw.RecordErrors {
		r.logger().Debug("skipping NDEF record", "index", bad.Index, "error", NewDecodeError("Resolve", bad.Err))
	}
	for i := range raw.NDEFMessage {
		ident, err := identifierFromRecord(&raw.NDEFMessage[i])
		if err != nil {
			r.logger().Debug("skipping NDEF record", "index", i, "error", NewDecodeError("Resolve", err))
			continue
		}
		if ident != nil {
			return ident
		}
	}

	if raw.ID != nil {
		if id := raw.ID.Normalize(); id != "" {
			return &Identifier{NFCID: id}
		}
	}
	return nil
}

func (r *Resolver) logger() hclog.Logger {
	if r.Logger == nil {
		return hclog.NewNullLogger()
	}
	return r.Logger
}

// identifierFromRecord returns nil, nil for a valid JSON object lacking a
// truthy nfc_id.
func identifierFromRecord(record *NDEFRecord) (*Identifier, error) {
	text, err := record.DecodeText()
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader([]byte(text)))
	dec.UseNumber()
	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return nil, fmt.Errorf("parse JSON: %w", err)
	}
	if fields == nil {
		return nil, fmt.Errorf("payload is not a JSON object")
	}

	id, ok := truthyID(fields["nfc_id"])
	if !ok {
		return nil, nil
	}
	return &Identifier{NFCID: id, Fields: fields}, nil
}

// truthyID accepts non-empty strings and non-zero numbers.
func truthyID(v any) (string, bool) {
	switch val := v.(type) {
	case string:
		return val, val != ""
	case json.Number:
		f, err := val.Float64()
		if err != nil || f == 0 {
			return "", false
		}
		return val.String(), true
	default:
		return "", false
	}
}
