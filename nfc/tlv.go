package nfc

// TLV block types found in tag user memory.
const (
	TLVNull        = 0x00
	TLVLockCtrl    = 0x01
	TLVMemCtrl     = 0x02
	TLVNDEF        = 0x03
	TLVProprietary = 0xFD
	TLVTerminator  = 0xFE
)

// TLVEncode wraps data in a TLV of the given type followed by a Terminator.
// Lengths of 0xFF and above use the three-byte form.
func TLVEncode(data []byte, tlvType byte) []byte {
	length := len(data)
	result := []byte{tlvType}
	if length < 0xFF {
		result = append(result, byte(length))
	} else {
		result = append(result, 0xFF, byte(length>>8), byte(length&0xFF))
	}
	result = append(result, data...)
	return append(result, TLVTerminator)
}

// tlvHeader returns the value offset and length of the TLV starting at data[0].
// ok is false when the header itself is truncated.
func tlvHeader(data []byte) (valueStart, length int, ok bool) {
	if len(data) < 2 {
		return 0, 0, false
	}
	if data[1] != 0xFF {
		return 2, int(data[1]), true
	}
	if len(data) < 4 {
		return 0, 0, false
	}
	return 4, int(data[2])<<8 | int(data[3]), true
}

// TLVFindNDEF returns the value of the first NDEF Message TLV in data.
// When found is false, need is zero if a Terminator TLV ended the search;
// otherwise data ended early and need is the byte count required from data[0].
func TLVFindNDEF(data []byte) (value []byte, need int, found bool) {
	offset := 0
	for offset < len(data) {
		switch data[offset] {
		case TLVNull:
			offset++
			continue
		case TLVTerminator:
			return nil, 0, false
		}

		valueStart, length, ok := tlvHeader(data[offset:])
		if !ok {
			return nil, offset + 4, false
		}
		end := offset + valueStart + length

		if data[offset] == TLVNDEF {
			if end > len(data) {
				return nil, end, false
			}
			return data[offset+valueStart : end], end, true
		}
		offset = end
	}
	if offset > len(data) {
		return nil, offset, false
	}
	return nil, len(data) + 1, false
}
