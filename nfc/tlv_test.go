package nfc

import (
	"bytes"
	"testing"
)

func TestTLVEncode(t *testing.T) {
	short := TLVEncode([]byte{0x01, 0x02}, TLVNDEF)
	if want := []byte{0x03, 0x02, 0x01, 0x02, 0xFE}; !bytes.Equal(short, want) {
		t.Errorf("TLVEncode(short) = %v, want %v", short, want)
	}

	long := TLVEncode(make([]byte, 300), TLVNDEF)
	if long[1] != 0xFF || long[2] != 0x01 || long[3] != 0x2C {
		t.Errorf("long length header = % X, want FF 01 2C", long[1:4])
	}
	if long[len(long)-1] != TLVTerminator {
		t.Error("missing terminator")
	}
}

func TestTLVFindNDEF(t *testing.T) {
	long := TLVEncode(bytes.Repeat([]byte{0xAB}, 300), TLVNDEF)

	tests := []struct {
		name      string
		data      []byte
		wantValue []byte
		wantNeed  int
		wantFound bool
	}{
		{
			name:      "ndef first",
			data:      []byte{0x03, 0x02, 0xAA, 0xBB, 0xFE, 0x00},
			wantValue: []byte{0xAA, 0xBB},
			wantNeed:  4,
			wantFound: true,
		},
		{
			name:      "after null and lock control",
			data:      []byte{0x00, 0x01, 0x03, 0xA0, 0x0C, 0x34, 0x03, 0x01, 0x99, 0xFE},
			wantValue: []byte{0x99},
			wantNeed:  9,
			wantFound: true,
		},
		{
			name:      "empty ndef",
			data:      []byte{0x03, 0x00, 0xFE, 0x00},
			wantValue: []byte{},
			wantNeed:  2,
			wantFound: true,
		},
		{
			name:     "terminator before ndef",
			data:     []byte{0xFE, 0x03, 0x01, 0x01},
			wantNeed: 0,
		},
		{
			name:     "value runs past data",
			data:     []byte{0x03, 0x08, 0x01, 0x02},
			wantNeed: 10,
		},
		{
			name:     "long header incomplete",
			data:     []byte{0x03, 0xFF, 0x01},
			wantNeed: 4,
		},
		{
			name:     "only nulls",
			data:     []byte{0x00, 0x00, 0x00, 0x00},
			wantNeed: 5,
		},
		{
			name:      "long form",
			data:      long,
			wantValue: bytes.Repeat([]byte{0xAB}, 300),
			wantNeed:  304,
			wantFound: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			value, need, found := TLVFindNDEF(tt.data)
			if found != tt.wantFound {
				t.Fatalf("found = %v, want %v", found, tt.wantFound)
			}
			if need != tt.wantNeed {
				t.Errorf("need = %d, want %d", need, tt.wantNeed)
			}
			if tt.wantFound && !bytes.Equal(value, tt.wantValue) {
				t.Errorf("value = %v, want %v", value, tt.wantValue)
			}
		})
	}
}
