package tds

import (
	"encoding/binary"
	"sync/atomic"
)

// ColumnType is the wire SQL type tag for a column (MS-TDS 2.2.5.4.1,
// subset relevant to fixed-length and PLP-encoded columns).
type ColumnType byte

const (
	ColTypeInt1    ColumnType = 0x30
	ColTypeBit     ColumnType = 0x32
	ColTypeInt2    ColumnType = 0x34
	ColTypeInt4    ColumnType = 0x38
	ColTypeFlt4    ColumnType = 0x3B
	ColTypeMoney   ColumnType = 0x3C
	ColTypeDateTim ColumnType = 0x3D
	ColTypeFlt8    ColumnType = 0x3E
	ColTypeInt8    ColumnType = 0x7F
	ColTypeGUID    ColumnType = 0x24
	ColTypeIntN    ColumnType = 0x26
	ColTypeBigVarBin ColumnType = 0xA5
	ColTypeBigVarChr ColumnType = 0xA7
	ColTypeNVarChar  ColumnType = 0xE7
	ColTypeXML       ColumnType = 0xF1
)

// ColumnFlags mirrors the two-byte flag field in COLMETADATA.
type ColumnFlags uint16

const (
	ColFlagNullable ColumnFlags = 0x0001
	ColFlagIdentity ColumnFlags = 0x0010
	ColFlagComputed ColumnFlags = 0x0020
)

// ColumnMeta describes one column as announced by a COLMETADATA token.
type ColumnMeta struct {
	UserType uint32
	Flags    ColumnFlags
	Type     ColumnType
	// Length is type-specific: fixed byte length for fixed types, declared
	// max length for variable types, or -1 for PLP (MAX) types.
	Length     int
	Precision  byte
	Scale      byte
	Collation  [5]byte
	Name       string
	IsPLP      bool
	IsFixedLen bool
}

// Nullable reports whether NULL is legal for this column.
func (c ColumnMeta) Nullable() bool {
	return c.Flags&ColFlagNullable != 0
}

// rowBuffer is a reference-counted, immutable byte buffer shared by every
// Row sliced out of one coalesced response message. The buffer is released
// (eligible for GC) once the last Row referencing it is dropped; Go's GC
// does the actual reclamation, so Release only decrements the count for
// lifetime bookkeeping and diagnostics.
type rowBuffer struct {
	data    []byte
	refs    atomic.Int64
}

func newRowBuffer(data []byte) *rowBuffer {
	rb := &rowBuffer{data: data}
	rb.refs.Store(1)
	return rb
}

func (rb *rowBuffer) retain() *rowBuffer {
	rb.refs.Add(1)
	return rb
}

func (rb *rowBuffer) release() int64 {
	return rb.refs.Add(-1)
}

// valueSpan locates one column's wire value. For fixed- and variable-length
// columns it is an offset/length pair into the shared rowBuffer; PLP values
// are the one exception that must be materialized (chunked, non-contiguous
// on the wire) and are held directly in alloc instead.
type valueSpan struct {
	start, length int
	isNull        bool
	alloc         []byte
}

// Row is a decoded row. Fixed- and variable-length column values are not
// copied: they are offset/length spans read through the shared, immutable
// rowBuffer backing the packet payload the row was parsed from (zero-copy).
type Row struct {
	meta  []ColumnMeta
	buf   *rowBuffer
	spans []valueSpan
}

// Value returns the raw wire-format bytes for column i, or nil if NULL.
func (r *Row) Value(i int) []byte {
	if i < 0 || i >= len(r.spans) {
		return nil
	}
	return spanBytes(r.spans[i], r.buf.data)
}

// spanBytes resolves a valueSpan against the buffer it was recorded
// against, returning nil for NULL columns.
func spanBytes(s valueSpan, buf []byte) []byte {
	if s.isNull {
		return nil
	}
	if s.alloc != nil {
		return s.alloc
	}
	return buf[s.start : s.start+s.length]
}

// IsNull reports whether column i is NULL.
func (r *Row) IsNull(i int) bool {
	if i < 0 || i >= len(r.spans) {
		return true
	}
	return r.spans[i].isNull
}

// Columns returns the column metadata this row was decoded against.
func (r *Row) Columns() []ColumnMeta {
	return r.meta
}

// Clone returns a Row sharing the same underlying buffer (refcount bumped),
// safe to retain beyond the lifetime of the stream that produced it.
func (r *Row) Clone() *Row {
	r.buf.retain()
	return &Row{meta: r.meta, buf: r.buf, spans: r.spans}
}

// Release drops this row's reference to the shared buffer. It is not
// idempotent: every call decrements the count again, so callers should call
// it exactly once per Row obtained (including clones).
func (r *Row) Release() {
	if r.buf != nil {
		r.buf.release()
	}
}

// DecodeRow parses a ROW token body (the bytes after the 0xD1 token byte)
// according to meta, returning the row and the number of bytes consumed.
// payload must be buf.data[offset:] — a sub-slice sharing buf.data's
// backing array, so the spans recorded below stay valid offsets into buf.
func DecodeRow(meta []ColumnMeta, payload []byte, buf *rowBuffer, offset int) (*Row, int, error) {
	spans := make([]valueSpan, len(meta))
	pos := 0

	for i, col := range meta {
		s, consumed, err := decodeColumnValue(col, payload[pos:], offset+pos)
		if err != nil {
			return nil, 0, err
		}
		spans[i] = s
		pos += consumed
	}

	return &Row{meta: meta, buf: buf, spans: spans}, pos, nil
}

// DecodeNBCRow parses an NBCROW token body: a leading null-bitmap of
// ceil(n/8) bytes followed by wire values for only the non-NULL columns.
func DecodeNBCRow(meta []ColumnMeta, payload []byte, buf *rowBuffer, offset int) (*Row, int, error) {
	n := len(meta)
	bitmapLen := (n + 7) / 8
	if len(payload) < bitmapLen {
		return nil, 0, &ProtocolError{Message: "NBCROW truncated: missing null bitmap"}
	}
	bitmap := payload[:bitmapLen]
	pos := bitmapLen

	spans := make([]valueSpan, n)
	for i, col := range meta {
		if bitmap[i/8]&(1<<uint(i%8)) != 0 {
			spans[i] = valueSpan{isNull: true}
			continue
		}
		s, consumed, err := decodeColumnValue(col, payload[pos:], offset+pos)
		if err != nil {
			return nil, 0, err
		}
		spans[i] = s
		pos += consumed
	}

	return &Row{meta: meta, buf: buf, spans: spans}, pos, nil
}

// decodeColumnValue reads one column's wire value per its declared type.
// data is the remaining unread bytes of the shared buffer; offset is data's
// absolute position within that buffer, used to record a zero-copy span for
// anything other than PLP (PLP chunks are non-contiguous on the wire and
// must be concatenated into a fresh allocation).
func decodeColumnValue(col ColumnMeta, data []byte, offset int) (valueSpan, int, error) {
	if col.IsPLP {
		val, isNull, consumed, err := DecodePLP(data)
		if err != nil {
			return valueSpan{}, 0, err
		}
		if isNull {
			return valueSpan{isNull: true}, consumed, nil
		}
		return valueSpan{alloc: val}, consumed, nil
	}

	if col.IsFixedLen {
		if col.Length > len(data) {
			return valueSpan{}, 0, &ProtocolError{Message: "fixed-length column truncated"}
		}
		return valueSpan{start: offset, length: col.Length}, col.Length, nil
	}

	// Variable-length, non-PLP: a length prefix (1 byte if declared length
	// fits in a byte, else 2 bytes), 0xFF/0xFFFF meaning NULL.
	if col.Length <= 255 {
		if len(data) < 1 {
			return valueSpan{}, 0, &ProtocolError{Message: "var-length column missing length byte"}
		}
		l := data[0]
		if l == 0xFF {
			return valueSpan{isNull: true}, 1, nil
		}
		if int(l)+1 > len(data) {
			return valueSpan{}, 0, &ProtocolError{Message: "var-length column truncated"}
		}
		return valueSpan{start: offset + 1, length: int(l)}, 1 + int(l), nil
	}

	if len(data) < 2 {
		return valueSpan{}, 0, &ProtocolError{Message: "var-length column missing length word"}
	}
	l := binary.LittleEndian.Uint16(data[0:2])
	if l == 0xFFFF {
		return valueSpan{isNull: true}, 2, nil
	}
	if int(l)+2 > len(data) {
		return valueSpan{}, 0, &ProtocolError{Message: "var-length column truncated"}
	}
	return valueSpan{start: offset + 2, length: int(l)}, 2 + int(l), nil
}
