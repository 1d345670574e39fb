package nfc

import (
	"bytes"
	"strings"
	"testing"
)

func TestTextRecordEncodeDecode(t *testing.T) {
	tests := []struct {
		text     string
		langCode string
	}{
		{"Hello", "en"},
		{"Bonjour", "fr"},
		{"こんにちは", "ja"},
		{"", ""},
		{`{"nfc_id":"ABC123"}`, "en"},
		{strings.Repeat("x", 300), "en"},
	}

	for _, tt := range tests {
		encoded, err := NewNDEFMessage().AddText(tt.text, tt.langCode).Encode()
		if err != nil {
			t.Fatalf("Encode() error = %v", err)
		}
		msg, err := DecodeNDEF(encoded)
		if err != nil {
			t.Fatalf("DecodeNDEF() error = %v", err)
		}
		got, err := msg.GetText()
		if err != nil {
			t.Fatalf("GetText() error = %v", err)
		}
		if got != tt.text {
			t.Errorf("text mismatch for langCode=%q: got %q, want %q", tt.langCode, got, tt.text)
		}
	}
}

func TestEncodeNDEFRecordsMultiple(t *testing.T) {
	msg := NewNDEFMessage().
		AddText("first", "en").
		AddMIME("application/json", []byte(`{"nfc_id":"X"}`)).
		AddRecord(NDEFRecord{TNF: TNFExternal, Type: []byte("davi:id"), ID: []byte("r3"), Payload: []byte{1}})

	encoded, err := msg.Encode()
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if encoded[0]&0x80 == 0 {
		t.Error("first record missing MB flag")
	}

	decoded, err := DecodeNDEF(encoded)
	if err != nil {
		t.Fatalf("DecodeNDEF() error = %v", err)
	}
	records := decoded.Records()
	if len(records) != 3 {
		t.Fatalf("records = %d, want 3", len(records))
	}
	if string(records[1].Type) != "application/json" || records[1].TNF != TNFMIME {
		t.Errorf("record 1 = %+v", records[1])
	}
	if string(records[2].ID) != "r3" {
		t.Errorf("record 2 ID = %q, want r3", records[2].ID)
	}
}

func TestParseMalformedNDEF(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"header only", []byte{0xD1}},
		{"missing payload length", []byte{0xD1, 0x01}},
		{"truncated type", []byte{0xD1, 0x05, 0x00, 'T'}},
		{"truncated payload", []byte{0xD1, 0x01, 0x10, 'T', 0x02}},
		{"truncated long length", []byte{0xC1, 0x01, 0x00, 0x00}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeNDEF(tt.data); err == nil {
				t.Error("DecodeNDEF() error = nil, want error")
			}
		})
	}
}

func TestMakeTextRecordPayload(t *testing.T) {
	payload := MakeTextRecordPayload("hi", "en")
	want := []byte{0x02, 'e', 'n', 'h', 'i'}
	if !bytes.Equal(payload, want) {
		t.Errorf("MakeTextRecordPayload() = %v, want %v", payload, want)
	}
}

func TestParseTextRecordPayloadUTF16(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
		want    string
		wantErr bool
	}{
		{
			name:    "big endian without BOM",
			payload: []byte{0x82, 'e', 'n', 0x00, 'O', 0x00, 'K'},
			want:    "OK",
		},
		{
			name:    "little endian BOM",
			payload: []byte{0x82, 'e', 'n', 0xFF, 0xFE, 'O', 0x00, 'K', 0x00},
			want:    "OK",
		},
		{
			name:    "odd length",
			payload: []byte{0x80, 0x00, 'O', 0x00},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseTextRecordPayload(tt.payload)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseTextRecordPayload() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("parseTextRecordPayload() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDecodeText(t *testing.T) {
	text := textRecord("hello")
	if got, err := text.DecodeText(); err != nil || got != "hello" {
		t.Errorf("DecodeText(text) = %q, %v", got, err)
	}

	mime := NDEFRecord{TNF: TNFMIME, Type: []byte("text/plain"), Payload: []byte("raw")}
	if got, err := mime.DecodeText(); err != nil || got != "raw" {
		t.Errorf("DecodeText(mime) = %q, %v", got, err)
	}

	binary := NDEFRecord{TNF: TNFMIME, Type: []byte("application/octet-stream"), Payload: []byte{0xff, 0xfe, 0xfd}}
	if _, err := binary.DecodeText(); err == nil {
		t.Error("DecodeText(binary) error = nil, want error")
	}
}
