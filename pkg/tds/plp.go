package tds

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// PLP (Partial Length Prefixed) sentinels for the 8-byte total-length field
// preceding MAX/XML type values (MS-TDS 2.2.5.2.3.3).
const (
	plpUnknownLength uint64 = 0xFFFFFFFFFFFFFFFE
	plpNullLength    uint64 = 0xFFFFFFFFFFFFFFFF
)

// plpChunkTerminator is the zero-length chunk marking end of PLP data.
const plpChunkTerminator uint32 = 0x00000000

// DecodePLP reads one full PLP value starting at the beginning of data.
// It returns the concatenated value bytes (nil if NULL), whether the value
// was NULL, and the number of bytes consumed from data.
func DecodePLP(data []byte) (value []byte, isNull bool, consumed int, err error) {
	if len(data) < 8 {
		return nil, false, 0, &ProtocolError{Message: "PLP truncated: missing total-length prefix"}
	}

	totalLen := binary.LittleEndian.Uint64(data[0:8])
	pos := 8

	if totalLen == plpNullLength {
		return nil, true, pos, nil
	}

	knownLength := totalLen != plpUnknownLength
	var buf bytes.Buffer
	if knownLength && totalLen < 1<<32 {
		buf.Grow(int(totalLen))
	}

	for {
		if pos+4 > len(data) {
			return nil, false, 0, &ProtocolError{Message: "PLP truncated: missing chunk length"}
		}
		chunkLen := binary.LittleEndian.Uint32(data[pos : pos+4])
		pos += 4

		if chunkLen == plpChunkTerminator {
			break
		}

		end := pos + int(chunkLen)
		if end > len(data) {
			return nil, false, 0, &ProtocolError{Message: fmt.Sprintf("PLP truncated: chunk of %d bytes overflows buffer", chunkLen)}
		}
		buf.Write(data[pos:end])
		pos = end
	}

	if knownLength && uint64(buf.Len()) != totalLen {
		return nil, false, 0, &ProtocolError{Message: fmt.Sprintf("PLP length mismatch: declared %d, assembled %d", totalLen, buf.Len())}
	}

	return buf.Bytes(), false, pos, nil
}

// EncodePLP serialises value as a PLP value with its total length known
// up front, chunked into pieces no larger than chunkSize (0 means one chunk).
func EncodePLP(value []byte, chunkSize int) []byte {
	if value == nil {
		buf := make([]byte, 8)
		binary.LittleEndian.PutUint64(buf, plpNullLength)
		return buf
	}

	if chunkSize <= 0 {
		chunkSize = len(value)
		if chunkSize == 0 {
			chunkSize = 1
		}
	}

	var buf bytes.Buffer
	lenPrefix := make([]byte, 8)
	binary.LittleEndian.PutUint64(lenPrefix, uint64(len(value)))
	buf.Write(lenPrefix)

	for off := 0; off < len(value); off += chunkSize {
		end := off + chunkSize
		if end > len(value) {
			end = len(value)
		}
		chunkHdr := make([]byte, 4)
		binary.LittleEndian.PutUint32(chunkHdr, uint32(end-off))
		buf.Write(chunkHdr)
		buf.Write(value[off:end])
	}

	terminator := make([]byte, 4)
	buf.Write(terminator)

	return buf.Bytes()
}
