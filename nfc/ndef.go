package nfc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/encoding/unicode"
)

// Record header flags.
const (
	flagMessageBegin byte = 0x80
	flagMessageEnd   byte = 0x40
	flagShortRecord  byte = 0x10
	flagIDLength     byte = 0x08
	maskTNF          byte = 0x07

	textStatusUTF16    byte = 0x80
	textStatusLangMask byte = 0x3F
)

var errShortText = errors.New("text record payload too short")

// parseTextRecordPayload extracts text from an NDEF Text Record's payload.
func parseTextRecordPayload(payload []byte) (string, error) {
	if len(payload) == 0 {
		return "", fmt.Errorf("%w: status byte missing", errShortText)
	}
	status := payload[0]
	start := 1 + int(status&textStatusLangMask)
	if start > len(payload) {
		return "", fmt.Errorf("%w: language code truncated", errShortText)
	}
	body := payload[start:]

	if status&textStatusUTF16 == 0 {
		return string(body), nil
	}
	switch {
	case len(body) == 0:
		return "", nil
	case len(body)%2 != 0:
		return "", fmt.Errorf("invalid UTF-16 text length: %d", len(body))
	}
	return decodeUTF16(body)
}

// decodeUTF16 decodes big-endian UTF-16, honouring a leading byte order mark.
func decodeUTF16(b []byte) (string, error) {
	out, err := unicode.UTF16(unicode.BigEndian, unicode.UseBOM).NewDecoder().Bytes(b)
	if err != nil {
		return "", fmt.Errorf("decode UTF-16 text: %w", err)
	}
	return strings.TrimSpace(string(out)), nil
}

// MakeTextRecordPayload builds a UTF-8 Text Record payload. An empty language
// code defaults to "en".
func MakeTextRecordPayload(text string, langCode string) []byte {
	if langCode == "" {
		langCode = "en"
	}
	if len(langCode) > int(textStatusLangMask) {
		langCode = langCode[:textStatusLangMask]
	}
	payload := make([]byte, 0, 1+len(langCode)+len(text))
	payload = append(payload, byte(len(langCode)))
	payload = append(payload, langCode...)
	return append(payload, text...)
}

// recordReader walks an NDEF message one field at a time.
type recordReader struct {
	buf []byte
	pos int
}

func (r *recordReader) done() bool { return r.pos >= len(r.buf) }

func (r *recordReader) take(n int, field string) ([]byte, error) {
	if n < 0 || r.pos+n > len(r.buf) {
		return nil, fmt.Errorf("invalid NDEF message: truncated %s at offset %d", field, r.pos)
	}
	out := r.buf[r.pos : r.pos+n]
	r.pos += n
	return out, nil
}

func (r *recordReader) u8(field string) (int, error) {
	b, err := r.take(1, field)
	if err != nil {
		return 0, err
	}
	return int(b[0]), nil
}

// next reads one record and reports whether it carried the Message End flag.
func (r *recordReader) next() (NDEFRecord, bool, error) {
	header, err := r.u8("header")
	if err != nil {
		return NDEFRecord{}, false, err
	}
	flags := byte(header)

	typeLen, err := r.u8("type length")
	if err != nil {
		return NDEFRecord{}, false, err
	}

	var payloadLen int
	if flags&flagShortRecord != 0 {
		payloadLen, err = r.u8("payload length")
	} else {
		var b []byte
		b, err = r.take(4, "payload length")
		if err == nil {
			payloadLen = int(binary.BigEndian.Uint32(b))
		}
	}
	if err != nil {
		return NDEFRecord{}, false, err
	}

	idLen := 0
	if flags&flagIDLength != 0 {
		if idLen, err = r.u8("id length"); err != nil {
			return NDEFRecord{}, false, err
		}
	}

	recordType, err := r.take(typeLen, "type")
	if err != nil {
		return NDEFRecord{}, false, err
	}
	id, err := r.take(idLen, "id")
	if err != nil {
		return NDEFRecord{}, false, err
	}
	payload, err := r.take(payloadLen, "payload")
	if err != nil {
		return NDEFRecord{}, false, err
	}

	rec := NDEFRecord{
		TNF:     flags & maskTNF,
		Type:    clone(recordType),
		Payload: clone(payload),
	}
	if idLen > 0 {
		rec.ID = clone(id)
	}
	return rec, flags&flagMessageEnd != 0, nil
}

func clone(b []byte) []byte {
	return append(make([]byte, 0, len(b)), b...)
}

// parseNDEFRecords splits a raw NDEF message into records, stopping at the
// record flagged Message End.
func parseNDEFRecords(data []byte) ([]NDEFRecord, error) {
	if len(data) == 0 {
		return nil, errors.New("empty NDEF message")
	}

	r := &recordReader{buf: data}
	var records []NDEFRecord
	for !r.done() {
		rec, last, err := r.next()
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
		if last {
			break
		}
	}
	return records, nil
}

// encodeNDEFRecords serialises records, using the short form for payloads
// up to 255 bytes.
func encodeNDEFRecords(records []NDEFRecord) ([]byte, error) {
	if len(records) == 0 {
		return nil, errors.New("cannot encode empty record list")
	}

	var out []byte
	for i, rec := range records {
		if len(rec.Type) > 0xFF || len(rec.ID) > 0xFF {
			return nil, fmt.Errorf("record %d: type or id longer than 255 bytes", i)
		}
		short := len(rec.Payload) <= 0xFF

		flags := rec.TNF & maskTNF
		if i == 0 {
			flags |= flagMessageBegin
		}
		if i == len(records)-1 {
			flags |= flagMessageEnd
		}
		if short {
			flags |= flagShortRecord
		}
		if len(rec.ID) > 0 {
			flags |= flagIDLength
		}

		out = append(out, flags, byte(len(rec.Type)))
		if short {
			out = append(out, byte(len(rec.Payload)))
		} else {
			out = binary.BigEndian.AppendUint32(out, uint32(len(rec.Payload)))
		}
		if len(rec.ID) > 0 {
			out = append(out, byte(len(rec.ID)))
		}
		out = append(out, rec.Type...)
		out = append(out, rec.ID...)
		out = append(out, rec.Payload...)
	}
	return out, nil
}
