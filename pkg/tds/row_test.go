package tds

import "testing"

func TestDecodeNBCRowThreeIntColumns(t *testing.T) {
	meta := []ColumnMeta{
		{Type: ColTypeInt4, Length: 4, IsFixedLen: true, Flags: ColFlagNullable},
		{Type: ColTypeInt4, Length: 4, IsFixedLen: true, Flags: ColFlagNullable},
		{Type: ColTypeInt4, Length: 4, IsFixedLen: true, Flags: ColFlagNullable},
	}

	payload := []byte{
		0b00000010, // bitmap: column 1 is NULL
		0x01, 0x00, 0x00, 0x00, // column 0 = 1
		0x03, 0x00, 0x00, 0x00, // column 2 = 3
	}

	buf := newRowBuffer(payload)
	row, consumed, err := DecodeNBCRow(meta, payload, buf, 0)
	if err != nil {
		t.Fatalf("DecodeNBCRow: %v", err)
	}
	if consumed != len(payload) {
		t.Fatalf("consumed = %d, want %d", consumed, len(payload))
	}

	if row.IsNull(0) || row.IsNull(2) {
		t.Fatalf("columns 0 and 2 should not be NULL")
	}
	if !row.IsNull(1) {
		t.Fatalf("column 1 should be NULL")
	}

	if got := int32FromLE(row.Value(0)); got != 1 {
		t.Fatalf("column 0 = %d, want 1", got)
	}
	if got := int32FromLE(row.Value(2)); got != 3 {
		t.Fatalf("column 2 = %d, want 3", got)
	}
}

func TestRowCloneRetainsBuffer(t *testing.T) {
	meta := []ColumnMeta{{Type: ColTypeInt4, Length: 4, IsFixedLen: true}}
	payload := []byte{0x2A, 0x00, 0x00, 0x00}
	buf := newRowBuffer(payload)

	row, _, err := DecodeRow(meta, payload, buf, 0)
	if err != nil {
		t.Fatalf("DecodeRow: %v", err)
	}

	clone := row.Clone()
	if buf.refs.Load() != 2 {
		t.Fatalf("expected refcount 2 after clone, got %d", buf.refs.Load())
	}

	row.Release()
	if buf.refs.Load() != 1 {
		t.Fatalf("expected refcount 1 after release, got %d", buf.refs.Load())
	}
	clone.Release()
	if buf.refs.Load() != 0 {
		t.Fatalf("expected refcount 0 after second release, got %d", buf.refs.Load())
	}
}

func TestRowValueSharesBufferBackingArray(t *testing.T) {
	meta := []ColumnMeta{{Type: ColTypeInt4, Length: 4, IsFixedLen: true}}
	payload := []byte{0x01, 0x00, 0x00, 0x00}
	buf := newRowBuffer(payload)

	row, _, err := DecodeRow(meta, payload, buf, 0)
	if err != nil {
		t.Fatalf("DecodeRow: %v", err)
	}

	payload[0] = 0x2A
	if got := row.Value(0)[0]; got != 0x2A {
		t.Fatalf("row.Value(0)[0] = %#x, want 0x2a (value should alias the shared buffer, not a copy)", got)
	}
}

func int32FromLE(b []byte) int32 {
	return int32(b[0]) | int32(b[1])<<8 | int32(b[2])<<16 | int32(b[3])<<24
}
