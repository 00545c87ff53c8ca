package tds

import (
	"encoding/binary"
	"fmt"
)

// Token type bytes (MS-TDS 2.2.7).
const (
	TokenAltMetadata byte = 0x88
	TokenColMetadata byte = 0x81
	TokenColInfo     byte = 0xA5
	TokenDone        byte = 0xFD
	TokenDoneProc    byte = 0xFE
	TokenDoneInProc  byte = 0xFF
	TokenEnvChange   byte = 0xE3
	TokenError       byte = 0xAA
	TokenInfo        byte = 0xAB
	TokenLoginAck    byte = 0xAD
	TokenOrder       byte = 0xA9
	TokenReturnStatus byte = 0x79
	TokenReturnValue  byte = 0xAC
	TokenRow          byte = 0xD1
	TokenNBCRow       byte = 0xD2
	TokenSSPI         byte = 0xED
	TokenFedAuthInfo  byte = 0xEE
	TokenFeatureExtAck byte = 0xAE
)

// DONE status flags (MS-TDS 2.2.7.6).
const (
	DoneFinal    uint16 = 0x0000
	DoneMore     uint16 = 0x0001
	DoneError    uint16 = 0x0002
	DoneInxact   uint16 = 0x0004
	DoneCount    uint16 = 0x0010
	DoneAttn     uint16 = 0x0020
	DoneSrvError uint16 = 0x0100
)

// ENVCHANGE types (MS-TDS 2.2.7.9).
const (
	EnvChangeDatabase      byte = 1
	EnvChangeLanguage      byte = 2
	EnvChangeCharset       byte = 3
	EnvChangePacketSize    byte = 4
	EnvChangeBeginTxn      byte = 8
	EnvChangeCommitTxn     byte = 9
	EnvChangeRollbackTxn   byte = 10
	EnvChangeRouting       byte = 20
)

// DoneToken is the fixed-layout token terminating a token stream or a
// result set within one (MS-TDS 2.2.7.6).
type DoneToken struct {
	Kind     byte // TokenDone, TokenDoneProc, or TokenDoneInProc
	Status   uint16
	CurCmd   uint16
	RowCount uint64
}

func (d DoneToken) More() bool  { return d.Status&DoneMore != 0 }
func (d DoneToken) HasError() bool { return d.Status&DoneError != 0 }
func (d DoneToken) InTransaction() bool { return d.Status&DoneInxact != 0 }
func (d DoneToken) HasCount() bool { return d.Status&DoneCount != 0 }
func (d DoneToken) Attention() bool { return d.Status&DoneAttn != 0 }

// EnvChangeToken is a parsed ENVCHANGE token.
type EnvChangeToken struct {
	Type byte
	// Database/Language/Charset/PacketSize changes carry (new, old) strings.
	NewValue string
	OldValue string
	// Routing changes carry the redirect target.
	Routing *RoutingInfo
}

// RoutingInfo is the (host, port) pair signalled by a routing ENVCHANGE,
// used for Azure SQL gateway redirection.
type RoutingInfo struct {
	Protocol byte
	Port     uint16
	Host     string
}

// ServerError is the structured payload of an ERROR or INFO token
// (MS-TDS 2.2.7.9/2.2.7.17).
type ServerError struct {
	Number    int32
	State     byte
	Class     byte
	Message   string
	ServerName string
	ProcName   string
	LineNumber int32
}

// LoginAckToken confirms a successful Login7 (MS-TDS 2.2.7.13).
type LoginAckToken struct {
	Interface   byte
	TDSVersion  uint32
	ProgName    string
	MajorVer    byte
	MinorVer    byte
	BuildHi     byte
	BuildLo     byte
}

// ReturnStatusToken carries an RPC's integer return status (MS-TDS 2.2.7.19).
type ReturnStatusToken struct {
	Value int32
}

// ReturnValueToken carries an RPC output parameter value (MS-TDS 2.2.7.20).
type ReturnValueToken struct {
	ParamOrdinal uint16
	ParamName    string
	Status       byte
	Value        []byte
	IsNull       bool
}

// Token is the decoded union of one token-stream entry. Exactly one of the
// typed fields is non-nil/non-zero per the Kind.
type Token struct {
	Kind byte

	Done         *DoneToken
	ColumnMeta   []ColumnMeta
	Row          *Row
	EnvChange    *EnvChangeToken
	Error        *ServerError
	Info         *ServerError
	LoginAck     *LoginAckToken
	ReturnStatus *ReturnStatusToken
	ReturnValue  *ReturnValueToken
	FeatureAck   []LoginFeatureExt
}

// TokenReader incrementally decodes a response token stream from a
// concatenated message payload, applying ENVCHANGE side effects via the
// supplied callback before the token is returned to the caller, per the
// ordering invariant in §5.
type TokenReader struct {
	data     []byte
	pos      int
	buf      *rowBuffer
	activeMeta []ColumnMeta
	onEnvChange func(EnvChangeToken)
}

// NewTokenReader constructs a reader over one coalesced message payload.
// onEnvChange, if non-nil, is invoked synchronously for every ENVCHANGE
// token before Next returns it, so state (current database, transaction,
// routing) is applied before the token reaches higher layers.
func NewTokenReader(payload []byte, onEnvChange func(EnvChangeToken)) *TokenReader {
	return &TokenReader{
		data:        payload,
		buf:         newRowBuffer(payload),
		onEnvChange: onEnvChange,
	}
}

// Next decodes and returns the next token, or (nil, io.EOF)-shaped nil,nil
// at end of stream (callers should treat a nil Token with nil error as EOF).
func (tr *TokenReader) Next() (*Token, error) {
	if tr.pos >= len(tr.data) {
		return nil, nil
	}

	kind := tr.data[tr.pos]
	tr.pos++

	switch kind {
	case TokenDone, TokenDoneProc, TokenDoneInProc:
		return tr.readDone(kind)
	case TokenColMetadata:
		return tr.readColMetadata()
	case TokenRow:
		return tr.readRow()
	case TokenNBCRow:
		return tr.readNBCRow()
	case TokenEnvChange:
		return tr.readEnvChange()
	case TokenError:
		return tr.readErrorOrInfo(TokenError)
	case TokenInfo:
		return tr.readErrorOrInfo(TokenInfo)
	case TokenLoginAck:
		return tr.readLoginAck()
	case TokenReturnStatus:
		return tr.readReturnStatus()
	case TokenReturnValue:
		return tr.readReturnValue()
	case TokenOrder:
		return tr.readOrder()
	case TokenFeatureExtAck:
		return tr.readFeatureExtAck()
	case TokenSSPI, TokenFedAuthInfo:
		return tr.readLengthPrefixedOpaque(kind)
	default:
		return nil, &ProtocolError{Message: fmt.Sprintf("unknown token type 0x%02X", kind)}
	}
}

func (tr *TokenReader) need(n int) error {
	if tr.pos+n > len(tr.data) {
		return &ProtocolError{Message: "token stream truncated"}
	}
	return nil
}

func (tr *TokenReader) readDone(kind byte) (*Token, error) {
	if err := tr.need(12); err != nil {
		return nil, err
	}
	d := &DoneToken{
		Kind:     kind,
		Status:   binary.LittleEndian.Uint16(tr.data[tr.pos : tr.pos+2]),
		CurCmd:   binary.LittleEndian.Uint16(tr.data[tr.pos+2 : tr.pos+4]),
		RowCount: binary.LittleEndian.Uint64(tr.data[tr.pos+4 : tr.pos+12]),
	}
	tr.pos += 12
	return &Token{Kind: kind, Done: d}, nil
}

func (tr *TokenReader) readColMetadata() (*Token, error) {
	if err := tr.need(2); err != nil {
		return nil, err
	}
	count := binary.LittleEndian.Uint16(tr.data[tr.pos : tr.pos+2])
	tr.pos += 2

	if count == 0xFFFF {
		tr.activeMeta = nil
		return &Token{Kind: TokenColMetadata, ColumnMeta: nil}, nil
	}

	meta := make([]ColumnMeta, 0, count)
	for i := 0; i < int(count); i++ {
		col, err := tr.readOneColumnMeta()
		if err != nil {
			return nil, err
		}
		meta = append(meta, col)
	}
	tr.activeMeta = meta
	return &Token{Kind: TokenColMetadata, ColumnMeta: meta}, nil
}

func (tr *TokenReader) readOneColumnMeta() (ColumnMeta, error) {
	if err := tr.need(4 + 2 + 1); err != nil {
		return ColumnMeta{}, err
	}
	userType := binary.LittleEndian.Uint32(tr.data[tr.pos : tr.pos+4])
	tr.pos += 4
	flags := ColumnFlags(binary.LittleEndian.Uint16(tr.data[tr.pos : tr.pos+2]))
	tr.pos += 2
	typ := ColumnType(tr.data[tr.pos])
	tr.pos++

	col := ColumnMeta{UserType: userType, Flags: flags, Type: typ}

	switch typ {
	case ColTypeInt1, ColTypeBit:
		col.Length, col.IsFixedLen = 1, true
	case ColTypeInt2:
		col.Length, col.IsFixedLen = 2, true
	case ColTypeInt4, ColTypeFlt4:
		col.Length, col.IsFixedLen = 4, true
	case ColTypeInt8, ColTypeFlt8, ColTypeMoney:
		col.Length, col.IsFixedLen = 8, true
	case ColTypeGUID:
		col.Length, col.IsFixedLen = 16, true
	case ColTypeBigVarBin, ColTypeBigVarChr:
		if err := tr.need(2); err != nil {
			return ColumnMeta{}, err
		}
		l := binary.LittleEndian.Uint16(tr.data[tr.pos : tr.pos+2])
		tr.pos += 2
		col.Length = int(l)
		if typ == ColTypeBigVarChr {
			if err := tr.need(5); err != nil {
				return ColumnMeta{}, err
			}
			copy(col.Collation[:], tr.data[tr.pos:tr.pos+5])
			tr.pos += 5
		}
	case ColTypeNVarChar:
		if err := tr.need(2 + 5); err != nil {
			return ColumnMeta{}, err
		}
		l := binary.LittleEndian.Uint16(tr.data[tr.pos : tr.pos+2])
		tr.pos += 2
		if l == 0xFFFF {
			col.IsPLP = true
		}
		col.Length = int(l)
		copy(col.Collation[:], tr.data[tr.pos:tr.pos+5])
		tr.pos += 5
	case ColTypeXML:
		col.IsPLP = true
		if err := tr.need(1); err != nil {
			return ColumnMeta{}, err
		}
		schemaPresent := tr.data[tr.pos]
		tr.pos++
		if schemaPresent != 0 {
			// Skip DBName/OwningSchema/XMLSchemaCollection, all
			// B_VARCHAR-prefixed (1-byte length, UTF-16 chars).
			for i := 0; i < 3; i++ {
				if err := tr.need(1); err != nil {
					return ColumnMeta{}, err
				}
				l := int(tr.data[tr.pos])
				tr.pos++
				if err := tr.need(l * 2); err != nil {
					return ColumnMeta{}, err
				}
				tr.pos += l * 2
			}
		}
	case ColTypeIntN:
		if err := tr.need(1); err != nil {
			return ColumnMeta{}, err
		}
		col.Length = int(tr.data[tr.pos])
		tr.pos++
	default:
		// Unrecognised type: best-effort skip assuming a 1-byte length
		// prefix, which covers the common remaining fixed/varlen shapes
		// well enough for forward-compatible stream draining.
		if err := tr.need(1); err != nil {
			return ColumnMeta{}, err
		}
		col.Length = int(tr.data[tr.pos])
		tr.pos++
	}

	if err := tr.need(1); err != nil {
		return ColumnMeta{}, err
	}
	nameLen := int(tr.data[tr.pos])
	tr.pos++
	if err := tr.need(nameLen * 2); err != nil {
		return ColumnMeta{}, err
	}
	name, err := decodeUTF16LE(tr.data[tr.pos : tr.pos+nameLen*2])
	if err != nil {
		return ColumnMeta{}, err
	}
	tr.pos += nameLen * 2
	col.Name = name

	return col, nil
}

func (tr *TokenReader) readRow() (*Token, error) {
	row, consumed, err := DecodeRow(tr.activeMeta, tr.data[tr.pos:], tr.buf, tr.pos)
	if err != nil {
		return nil, err
	}
	tr.buf.retain()
	tr.pos += consumed
	return &Token{Kind: TokenRow, Row: row}, nil
}

func (tr *TokenReader) readNBCRow() (*Token, error) {
	row, consumed, err := DecodeNBCRow(tr.activeMeta, tr.data[tr.pos:], tr.buf, tr.pos)
	if err != nil {
		return nil, err
	}
	tr.buf.retain()
	tr.pos += consumed
	return &Token{Kind: TokenNBCRow, Row: row}, nil
}

func (tr *TokenReader) readEnvChange() (*Token, error) {
	if err := tr.need(2); err != nil {
		return nil, err
	}
	length := int(binary.LittleEndian.Uint16(tr.data[tr.pos : tr.pos+2]))
	tr.pos += 2
	if err := tr.need(length); err != nil {
		return nil, err
	}
	body := tr.data[tr.pos : tr.pos+length]
	tr.pos += length

	if len(body) < 1 {
		return nil, &ProtocolError{Message: "ENVCHANGE body empty"}
	}
	ec := EnvChangeToken{Type: body[0]}
	rest := body[1:]

	switch ec.Type {
	case EnvChangeRouting:
		info, err := parseRoutingEnvChange(rest)
		if err != nil {
			return nil, err
		}
		ec.Routing = info
	default:
		newVal, rest2, err := readBVarChar(rest)
		if err != nil {
			return nil, err
		}
		oldVal, _, err := readBVarChar(rest2)
		if err != nil {
			return nil, err
		}
		ec.NewValue, ec.OldValue = newVal, oldVal
	}

	if tr.onEnvChange != nil {
		tr.onEnvChange(ec)
	}

	return &Token{Kind: TokenEnvChange, EnvChange: &ec}, nil
}

// parseRoutingEnvChange decodes the ROUTING ENVCHANGE payload: a 2-byte
// total data length, then protocol byte, port (LE16), and a US_VARCHAR host.
func parseRoutingEnvChange(data []byte) (*RoutingInfo, error) {
	if len(data) < 2 {
		return nil, &ProtocolError{Message: "routing envchange truncated"}
	}
	pos := 2 // skip the redundant inner length
	if pos+1+2+2 > len(data) {
		return nil, &ProtocolError{Message: "routing envchange truncated"}
	}
	protocol := data[pos]
	pos++
	port := binary.LittleEndian.Uint16(data[pos : pos+2])
	pos += 2
	hostLen := int(binary.LittleEndian.Uint16(data[pos : pos+2]))
	pos += 2
	if pos+hostLen*2 > len(data) {
		return nil, &ProtocolError{Message: "routing envchange host truncated"}
	}
	host, err := decodeUTF16LE(data[pos : pos+hostLen*2])
	if err != nil {
		return nil, err
	}
	return &RoutingInfo{Protocol: protocol, Port: port, Host: host}, nil
}

// readBVarChar reads a 1-byte-length-prefixed UTF-16LE string, returning the
// decoded string and the remaining bytes.
func readBVarChar(data []byte) (string, []byte, error) {
	if len(data) < 1 {
		return "", nil, &ProtocolError{Message: "B_VARCHAR truncated"}
	}
	l := int(data[0])
	if 1+l*2 > len(data) {
		return "", nil, &ProtocolError{Message: "B_VARCHAR data truncated"}
	}
	s, err := decodeUTF16LE(data[1 : 1+l*2])
	if err != nil {
		return "", nil, err
	}
	return s, data[1+l*2:], nil
}

func (tr *TokenReader) readErrorOrInfo(kind byte) (*Token, error) {
	if err := tr.need(2); err != nil {
		return nil, err
	}
	length := int(binary.LittleEndian.Uint16(tr.data[tr.pos : tr.pos+2]))
	tr.pos += 2
	if err := tr.need(length); err != nil {
		return nil, err
	}
	body := tr.data[tr.pos : tr.pos+length]
	tr.pos += length

	if len(body) < 4+1+1+2 {
		return nil, &ProtocolError{Message: "ERROR/INFO token truncated"}
	}
	se := &ServerError{
		Number: int32(binary.LittleEndian.Uint32(body[0:4])),
		State:  body[4],
		Class:  body[5],
	}
	pos := 6
	msgLen := int(binary.LittleEndian.Uint16(body[pos : pos+2]))
	pos += 2
	msg, err := decodeUTF16LE(body[pos : pos+msgLen*2])
	if err != nil {
		return nil, err
	}
	se.Message = msg
	pos += msgLen * 2

	srvName, pos2, err := readBVarCharAt(body, pos)
	if err != nil {
		return nil, err
	}
	se.ServerName = srvName
	pos = pos2

	procName, pos3, err := readBVarCharAt(body, pos)
	if err != nil {
		return nil, err
	}
	se.ProcName = procName
	pos = pos3

	if pos+4 <= len(body) {
		se.LineNumber = int32(binary.LittleEndian.Uint32(body[pos : pos+4]))
	}

	if kind == TokenError {
		return &Token{Kind: kind, Error: se}, nil
	}
	return &Token{Kind: kind, Info: se}, nil
}

func readBVarCharAt(data []byte, pos int) (string, int, error) {
	if pos >= len(data) {
		return "", pos, &ProtocolError{Message: "B_VARCHAR truncated"}
	}
	l := int(data[pos])
	pos++
	end := pos + l*2
	if end > len(data) {
		return "", pos, &ProtocolError{Message: "B_VARCHAR data truncated"}
	}
	s, err := decodeUTF16LE(data[pos:end])
	return s, end, err
}

func (tr *TokenReader) readLoginAck() (*Token, error) {
	if err := tr.need(2); err != nil {
		return nil, err
	}
	length := int(binary.LittleEndian.Uint16(tr.data[tr.pos : tr.pos+2]))
	tr.pos += 2
	if err := tr.need(length); err != nil {
		return nil, err
	}
	body := tr.data[tr.pos : tr.pos+length]
	tr.pos += length

	if len(body) < 1+4+1 {
		return nil, &ProtocolError{Message: "LOGINACK truncated"}
	}
	ack := &LoginAckToken{Interface: body[0]}
	ack.TDSVersion = binary.LittleEndian.Uint32(body[1:5])
	pos := 5
	nameLen := int(body[pos])
	pos++
	name, err := decodeUTF16LE(body[pos : pos+nameLen*2])
	if err != nil {
		return nil, err
	}
	ack.ProgName = name
	pos += nameLen * 2
	if pos+4 <= len(body) {
		ack.MajorVer, ack.MinorVer, ack.BuildHi, ack.BuildLo = body[pos], body[pos+1], body[pos+2], body[pos+3]
	}

	return &Token{Kind: TokenLoginAck, LoginAck: ack}, nil
}

func (tr *TokenReader) readReturnStatus() (*Token, error) {
	if err := tr.need(4); err != nil {
		return nil, err
	}
	v := int32(binary.LittleEndian.Uint32(tr.data[tr.pos : tr.pos+4]))
	tr.pos += 4
	return &Token{Kind: TokenReturnStatus, ReturnStatus: &ReturnStatusToken{Value: v}}, nil
}

func (tr *TokenReader) readReturnValue() (*Token, error) {
	if err := tr.need(2); err != nil {
		return nil, err
	}
	ordinal := binary.LittleEndian.Uint16(tr.data[tr.pos : tr.pos+2])
	tr.pos += 2

	name, rest, err := readBVarChar(tr.data[tr.pos:])
	if err != nil {
		return nil, err
	}
	tr.pos = len(tr.data) - len(rest)

	if err := tr.need(1); err != nil {
		return nil, err
	}
	status := tr.data[tr.pos]
	tr.pos++

	// TYPE_INFO is skipped as a fixed byte (user type + flags already
	// established by this RPC's metadata; value decode below assumes a
	// B_VARBYTE-shaped trailing value, matching sp_prepare/sp_execute's
	// integer handle return).
	if err := tr.need(4 + 1); err != nil {
		return nil, err
	}
	tr.pos += 4 // user type
	tr.pos += 1 // flags low byte (simplified single-byte skip)

	typ := ColumnType(tr.data[tr.pos])
	tr.pos++

	span, consumed, err := decodeColumnValue(ColumnMeta{Type: typ, IsFixedLen: typ == ColTypeInt4, Length: 4}, tr.data[tr.pos:], tr.pos)
	if err != nil {
		return nil, err
	}
	tr.pos += consumed
	val := spanBytes(span, tr.data)

	rv := &ReturnValueToken{ParamOrdinal: ordinal, ParamName: name, Status: status, Value: val, IsNull: val == nil}
	return &Token{Kind: TokenReturnValue, ReturnValue: rv}, nil
}

func (tr *TokenReader) readOrder() (*Token, error) {
	if err := tr.need(2); err != nil {
		return nil, err
	}
	length := int(binary.LittleEndian.Uint16(tr.data[tr.pos : tr.pos+2]))
	tr.pos += 2
	if err := tr.need(length); err != nil {
		return nil, err
	}
	tr.pos += length
	return &Token{Kind: TokenOrder}, nil
}

func (tr *TokenReader) readFeatureExtAck() (*Token, error) {
	var exts []LoginFeatureExt
	for {
		if err := tr.need(1); err != nil {
			return nil, err
		}
		featureID := tr.data[tr.pos]
		tr.pos++
		if featureID == 0xFF {
			break
		}
		if err := tr.need(4); err != nil {
			return nil, err
		}
		dataLen := binary.LittleEndian.Uint32(tr.data[tr.pos : tr.pos+4])
		tr.pos += 4
		if err := tr.need(int(dataLen)); err != nil {
			return nil, err
		}
		data := make([]byte, dataLen)
		copy(data, tr.data[tr.pos:tr.pos+int(dataLen)])
		tr.pos += int(dataLen)
		exts = append(exts, LoginFeatureExt{FeatureID: featureID, Data: data})
	}
	return &Token{Kind: TokenFeatureExtAck, FeatureAck: exts}, nil
}

func (tr *TokenReader) readLengthPrefixedOpaque(kind byte) (*Token, error) {
	if err := tr.need(2); err != nil {
		return nil, err
	}
	length := int(binary.LittleEndian.Uint16(tr.data[tr.pos : tr.pos+2]))
	tr.pos += 2
	if err := tr.need(length); err != nil {
		return nil, err
	}
	tr.pos += length
	return &Token{Kind: kind}, nil
}
