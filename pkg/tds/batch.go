package tds

import "encoding/binary"

// AllHeaders builds the ALL_HEADERS block prefixing SQL Batch and RPC
// request payloads: a total-length-prefixed sequence of headers, here just
// the mandatory transaction descriptor header (MS-TDS 2.2.5.3.1).
func AllHeaders(transactionDescriptor uint64, outstandingRequestCount uint32) []byte {
	// Header: 4-byte header length, 2-byte type (0x0002 = transaction
	// descriptor), 8-byte transaction descriptor, 4-byte outstanding count.
	const headerType = uint16(0x0002)
	headerLen := 4 + 2 + 8 + 4
	buf := make([]byte, 4+headerLen)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(4+headerLen))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(headerLen))
	binary.LittleEndian.PutUint16(buf[8:10], headerType)
	binary.LittleEndian.PutUint64(buf[10:18], transactionDescriptor)
	binary.LittleEndian.PutUint32(buf[18:22], outstandingRequestCount)
	return buf
}

// BuildSQLBatch serialises sql as a SQL Batch request payload: ALL_HEADERS
// followed by the UTF-16LE SQL text.
func BuildSQLBatch(sql string, transactionDescriptor uint64) []byte {
	headers := AllHeaders(transactionDescriptor, 1)
	text := encodeUTF16LE(sql)
	out := make([]byte, 0, len(headers)+len(text))
	out = append(out, headers...)
	out = append(out, text...)
	return out
}
