package tds

import (
	"encoding/binary"
	"fmt"
)

// PreLoginOptionToken identifies a field within a PreLogin packet (MS-TDS 2.2.6.5).
type PreLoginOptionToken byte

const (
	PreLoginVersion         PreLoginOptionToken = 0x00
	PreLoginEncryption      PreLoginOptionToken = 0x01
	PreLoginInstOpt         PreLoginOptionToken = 0x02
	PreLoginThreadID        PreLoginOptionToken = 0x03
	PreLoginMARS            PreLoginOptionToken = 0x04
	PreLoginTraceID         PreLoginOptionToken = 0x05
	PreLoginFedAuthRequired PreLoginOptionToken = 0x06
	PreLoginNonce           PreLoginOptionToken = 0x07
	PreLoginTerminator      PreLoginOptionToken = 0xFF
)

// Encryption negotiation values carried in the ENCRYPTION option.
const (
	EncryptOff    byte = 0x00
	EncryptOn     byte = 0x01
	EncryptNotSup byte = 0x02
	EncryptReq    byte = 0x03
)

// EncryptMode is the client-facing TLS wrapping mode (§4.2, §6).
type EncryptMode int

const (
	EncryptModeOff EncryptMode = iota
	EncryptModeOn
	EncryptModeStrict
)

// PreLoginOption is a single (token, data) pair within a PreLogin message.
type PreLoginOption struct {
	Token PreLoginOptionToken
	Data  []byte
}

// PreLoginMsg holds an ordered set of PreLogin options.
type PreLoginMsg struct {
	Options []PreLoginOption
}

// NewClientPreLogin builds the PreLogin request this client sends first,
// offering the requested encryption mode and a random connection trace ID.
func NewClientPreLogin(mode EncryptMode, traceID [36]byte) *PreLoginMsg {
	msg := &PreLoginMsg{}

	// Driver version: arbitrary but stable identifier for this client.
	msg.Options = append(msg.Options, PreLoginOption{
		Token: PreLoginVersion,
		Data:  []byte{0x00, 0x01, 0x00, 0x00, 0x00, 0x00},
	})

	var enc byte
	switch mode {
	case EncryptModeOff:
		enc = EncryptOff
	case EncryptModeStrict:
		enc = EncryptReq
	default:
		enc = EncryptOn
	}
	msg.Options = append(msg.Options, PreLoginOption{Token: PreLoginEncryption, Data: []byte{enc}})

	msg.Options = append(msg.Options, PreLoginOption{Token: PreLoginInstOpt, Data: []byte{0x00}})
	msg.Options = append(msg.Options, PreLoginOption{Token: PreLoginThreadID, Data: []byte{0, 0, 0, 0}})
	msg.Options = append(msg.Options, PreLoginOption{Token: PreLoginMARS, Data: []byte{0x00}})
	msg.Options = append(msg.Options, PreLoginOption{Token: PreLoginTraceID, Data: traceID[:]})

	return msg
}

// ParsePreLogin parses a PreLogin payload (without the TDS header).
func ParsePreLogin(payload []byte) (*PreLoginMsg, error) {
	if len(payload) < 1 {
		return nil, &ProtocolError{Message: "prelogin payload is empty"}
	}

	msg := &PreLoginMsg{}

	type optHeader struct {
		token  PreLoginOptionToken
		offset uint16
		length uint16
	}
	var headers []optHeader

	pos := 0
	for pos < len(payload) {
		token := PreLoginOptionToken(payload[pos])
		if token == PreLoginTerminator {
			pos++
			break
		}
		if pos+5 > len(payload) {
			return nil, &ProtocolError{Message: fmt.Sprintf("prelogin: truncated option header at %d", pos)}
		}
		offset := binary.BigEndian.Uint16(payload[pos+1 : pos+3])
		length := binary.BigEndian.Uint16(payload[pos+3 : pos+5])
		headers = append(headers, optHeader{token, offset, length})
		pos += 5
	}

	for _, h := range headers {
		end := int(h.offset) + int(h.length)
		if end > len(payload) {
			return nil, &ProtocolError{Message: fmt.Sprintf("prelogin: option 0x%02X out of bounds", h.token)}
		}
		data := make([]byte, h.length)
		copy(data, payload[h.offset:end])
		msg.Options = append(msg.Options, PreLoginOption{Token: h.token, Data: data})
	}

	return msg, nil
}

// Encryption returns the ENCRYPTION option value, or EncryptNotSup if absent.
func (m *PreLoginMsg) Encryption() byte {
	for _, opt := range m.Options {
		if opt.Token == PreLoginEncryption && len(opt.Data) > 0 {
			return opt.Data[0]
		}
	}
	return EncryptNotSup
}

// FedAuthRequired reports whether the server requires federated auth.
func (m *PreLoginMsg) FedAuthRequired() bool {
	for _, opt := range m.Options {
		if opt.Token == PreLoginFedAuthRequired && len(opt.Data) > 0 {
			return opt.Data[0] != 0
		}
	}
	return false
}

// Marshal serialises the PreLogin message to its wire form: an option-header
// table (token, offset, length) followed by the concatenated option data.
func (m *PreLoginMsg) Marshal() []byte {
	headerSize := len(m.Options)*5 + 1

	totalSize := headerSize
	for _, opt := range m.Options {
		totalSize += len(opt.Data)
	}

	buf := make([]byte, totalSize)

	dataOffset := headerSize
	pos := 0
	for _, opt := range m.Options {
		buf[pos] = byte(opt.Token)
		binary.BigEndian.PutUint16(buf[pos+1:pos+3], uint16(dataOffset))
		binary.BigEndian.PutUint16(buf[pos+3:pos+5], uint16(len(opt.Data)))
		copy(buf[dataOffset:], opt.Data)
		dataOffset += len(opt.Data)
		pos += 5
	}
	buf[pos] = byte(PreLoginTerminator)

	return buf
}
