package tds

import (
	"encoding/binary"
	"fmt"
	"unicode/utf16"
)

// Login7Request holds the fields this client serialises into a Login7
// message (MS-TDS 2.2.6.4). Only the subset needed for SQL-login
// authentication against SQL Server / Azure SQL is modelled; SSPI/Kerberos
// hand-off is left to an Authenticator via Extensions.
type Login7Request struct {
	TDSVersion           uint32
	PacketSize           uint32
	ClientProgVer        uint32
	ClientPID            uint32
	ClientTimeZone       int32
	ClientLCID           uint32
	HostName             string
	UserName             string
	Password             string
	AppName              string
	ServerName           string
	ClientInterfaceName  string
	Language             string
	Database             string
	// Extensions are opaque (featureID, data) pairs appended to the
	// Login7 feature-extension block, terminated implicitly with 0xFF.
	// The connection handshake always adds a UTF-8 support entry; a
	// pluggable Authenticator may append more (federated auth token,
	// session-recovery data).
	Extensions []LoginFeatureExt
}

// LoginFeatureExt is one entry of the Login7 feature-extension block.
type LoginFeatureExt struct {
	FeatureID byte
	Data      []byte
}

// Feature IDs this client may populate (MS-TDS 2.2.6.4).
const (
	FeatureExtUTF8Support byte = 0x0A
)

// Login7Info holds the fields extracted when parsing a peer's Login7 packet.
// Used for tests and for decoding what was actually put on the wire.
type Login7Info struct {
	TDSVersion          uint32
	HostName            string
	UserName            string
	AppName             string
	ServerName          string
	Database            string
	ClientInterfaceName string
}

const login7FixedHeaderSize = 36

// field offsets within the Login7 variable-length offset/length table.
const (
	offHostName = 36
	offUserName = 40
	offPassword = 44
	offAppName  = 48
	offServer   = 52
	offUnused   = 56
	offCltInt   = 60
	offLanguage = 64
	offDatabase = 68
	variableTableEnd = 72
)

// BuildLogin7 serialises req into a Login7 payload ready for BuildPackets.
func BuildLogin7(req *Login7Request) []byte {
	hostU16 := encodeUTF16LE(req.HostName)
	userU16 := encodeUTF16LE(req.UserName)
	passU16 := obfuscatePassword(encodeUTF16LE(req.Password))
	appU16 := encodeUTF16LE(req.AppName)
	serverU16 := encodeUTF16LE(req.ServerName)
	cltIntU16 := encodeUTF16LE(req.ClientInterfaceName)
	langU16 := encodeUTF16LE(req.Language)
	dbU16 := encodeUTF16LE(req.Database)

	extBlock := marshalFeatureExt(req.Extensions)

	// Layout: fixed header (36B) + offset/length table (36B, fields at 36..71)
	// + variable data, in the same field order as the table.
	fields := [][]byte{hostU16, userU16, passU16, appU16, serverU16, {}, cltIntU16, langU16, dbU16}

	// Actual variable area begins right after the offset/length table.
	dataStart := login7FixedHeaderSize + 36
	total := dataStart
	for _, f := range fields {
		total += len(f)
	}
	total += len(extBlock)

	buf := make([]byte, total)

	binary.LittleEndian.PutUint32(buf[0:4], uint32(total))
	binary.LittleEndian.PutUint32(buf[4:8], req.TDSVersion)
	binary.LittleEndian.PutUint32(buf[8:12], req.PacketSize)
	binary.LittleEndian.PutUint32(buf[12:16], req.ClientProgVer)
	binary.LittleEndian.PutUint32(buf[16:20], req.ClientPID)
	binary.LittleEndian.PutUint32(buf[20:24], 0) // ConnectionID
	buf[24] = 0xE0                               // OptionFlags1: default charset, float IEEE, BCP dump/load off
	buf[25] = 0x03                               // OptionFlags2: ODBC driver, integrated security off
	buf[26] = 0x00                                // TypeFlags
	buf[27] = 0x00                                // OptionFlags3
	binary.LittleEndian.PutUint32(buf[28:32], uint32(req.ClientTimeZone))
	binary.LittleEndian.PutUint32(buf[32:36], req.ClientLCID)

	pos := dataStart
	writeField := func(tableOffset int, data []byte) {
		binary.LittleEndian.PutUint16(buf[tableOffset:tableOffset+2], uint16(pos))
		chars := 0
		if len(data) > 0 {
			chars = len(data) / 2
		}
		binary.LittleEndian.PutUint16(buf[tableOffset+2:tableOffset+4], uint16(chars))
		copy(buf[pos:], data)
		pos += len(data)
	}

	writeField(offHostName, hostU16)
	writeField(offUserName, userU16)
	writeField(offPassword, passU16)
	writeField(offAppName, appU16)
	writeField(offServer, serverU16)
	writeField(offCltInt, cltIntU16)
	writeField(offLanguage, langU16)
	writeField(offDatabase, dbU16)

	// ibExtension/cbExtension: points at the feature-extension block length
	// prefix when present; zero otherwise (no extensions).
	if len(extBlock) > 0 {
		binary.LittleEndian.PutUint16(buf[offUnused:offUnused+2], uint16(pos))
		binary.LittleEndian.PutUint16(buf[offUnused+2:offUnused+4], 4)
		copy(buf[pos:], extBlock)
	}

	return buf
}

// marshalFeatureExt encodes the feature-extension list as a length-prefixed
// block: 4-byte total length followed by (id byte, 4-byte data length, data)
// entries terminated by a 0xFF byte.
func marshalFeatureExt(exts []LoginFeatureExt) []byte {
	if len(exts) == 0 {
		return nil
	}
	var body []byte
	for _, e := range exts {
		entry := make([]byte, 1+4+len(e.Data))
		entry[0] = e.FeatureID
		binary.LittleEndian.PutUint32(entry[1:5], uint32(len(e.Data)))
		copy(entry[5:], e.Data)
		body = append(body, entry...)
	}
	body = append(body, 0xFF)

	block := make([]byte, 4+len(body))
	binary.LittleEndian.PutUint32(block[0:4], uint32(len(body)))
	copy(block[4:], body)
	return block
}

// obfuscatePassword applies the MS-TDS Login7 password obfuscation: swap the
// nibbles of each byte, then XOR with 0xA5.
func obfuscatePassword(utf16LE []byte) []byte {
	out := make([]byte, len(utf16LE))
	for i, b := range utf16LE {
		swapped := (b<<4)&0xF0 | (b>>4)&0x0F
		out[i] = swapped ^ 0xA5
	}
	return out
}

// ParseLogin7 parses a Login7 payload and extracts the fields useful for
// diagnostics and round-trip tests. Password is intentionally not decoded.
func ParseLogin7(payload []byte) (*Login7Info, error) {
	if len(payload) < variableTableEnd {
		return nil, &ProtocolError{Message: fmt.Sprintf("login7 payload too short: %d bytes", len(payload))}
	}

	info := &Login7Info{
		TDSVersion: binary.LittleEndian.Uint32(payload[4:8]),
	}

	readField := func(offsetPos int) (string, error) {
		if offsetPos+4 > len(payload) {
			return "", fmt.Errorf("field descriptor at %d out of bounds", offsetPos)
		}
		ib := int(binary.LittleEndian.Uint16(payload[offsetPos : offsetPos+2]))
		cch := int(binary.LittleEndian.Uint16(payload[offsetPos+2 : offsetPos+4]))
		if cch == 0 {
			return "", nil
		}
		byteLen := cch * 2
		if ib+byteLen > len(payload) {
			return "", fmt.Errorf("field at offset %d len %d overflows payload", ib, cch)
		}
		return decodeUTF16LE(payload[ib : ib+byteLen])
	}

	var err error
	if info.HostName, err = readField(offHostName); err != nil {
		return nil, fmt.Errorf("login7 hostname: %w", err)
	}
	if info.UserName, err = readField(offUserName); err != nil {
		return nil, fmt.Errorf("login7 username: %w", err)
	}
	if info.AppName, err = readField(offAppName); err != nil {
		return nil, fmt.Errorf("login7 appname: %w", err)
	}
	if info.ServerName, err = readField(offServer); err != nil {
		return nil, fmt.Errorf("login7 servername: %w", err)
	}
	if info.ClientInterfaceName, err = readField(offCltInt); err != nil {
		return nil, fmt.Errorf("login7 client interface: %w", err)
	}
	if info.Database, err = readField(offDatabase); err != nil {
		return nil, fmt.Errorf("login7 database: %w", err)
	}

	return info, nil
}

func decodeUTF16LE(b []byte) (string, error) {
	if len(b)%2 != 0 {
		return "", fmt.Errorf("UTF-16LE data has odd length %d", len(b))
	}
	u16 := make([]uint16, len(b)/2)
	for i := range u16 {
		u16[i] = binary.LittleEndian.Uint16(b[i*2 : i*2+2])
	}
	return string(utf16.Decode(u16)), nil
}

func encodeUTF16LE(s string) []byte {
	if s == "" {
		return nil
	}
	u16 := utf16.Encode([]rune(s))
	b := make([]byte, len(u16)*2)
	for i, v := range u16 {
		binary.LittleEndian.PutUint16(b[i*2:i*2+2], v)
	}
	return b
}
