// Package tds implements the wire codec for the Tabular Data Stream (TDS)
// protocol spoken by Microsoft SQL Server and Azure SQL: packet framing,
// PreLogin/Login7, the request builders (SQL batch, RPC, Attention), and the
// response token stream (DONE, COLMETADATA, ROW, ENVCHANGE, ERROR, ...).
//
// Reference: https://learn.microsoft.com/en-us/openspecs/windows_protocols/ms-tds/
package tds

import (
	"encoding/binary"
	"fmt"
	"io"
)

// PacketType is the first byte of a TDS packet header (MS-TDS 2.2.3.1.1).
type PacketType byte

const (
	PacketSQLBatch   PacketType = 0x01
	PacketRPCRequest PacketType = 0x03
	PacketReply      PacketType = 0x04 // tabular result, server → client
	PacketAttention  PacketType = 0x06
	PacketBulkLoad   PacketType = 0x07
	PacketTransMgr   PacketType = 0x0E
	PacketLogin7     PacketType = 0x10
	PacketSSPI       PacketType = 0x11
	PacketPreLogin   PacketType = 0x12
)

func (t PacketType) String() string {
	switch t {
	case PacketSQLBatch:
		return "SQL_BATCH"
	case PacketRPCRequest:
		return "RPC"
	case PacketReply:
		return "REPLY"
	case PacketAttention:
		return "ATTENTION"
	case PacketBulkLoad:
		return "BULK_LOAD"
	case PacketTransMgr:
		return "TRANS_MGR"
	case PacketPreLogin:
		return "PRELOGIN"
	case PacketLogin7:
		return "LOGIN7"
	case PacketSSPI:
		return "SSPI"
	default:
		return fmt.Sprintf("UNKNOWN(0x%02X)", byte(t))
	}
}

// Packet status flags (MS-TDS 2.2.3.1.2).
const (
	StatusNormal        byte = 0x00
	StatusEOM           byte = 0x01
	StatusIgnore        byte = 0x02
	StatusResetConn     byte = 0x08
	StatusResetConnSkip byte = 0x10
)

// HeaderSize is the fixed size of a TDS packet header.
const HeaderSize = 8

// MinPacketSize and MaxPacketSize bound the negotiable packet_size.
const (
	MinPacketSize = 512
	MaxPacketSize = 32767
)

// DefaultPacketSize is offered by this client before negotiation completes.
const DefaultPacketSize = 4096

// Header is the 8-byte header prefixing every TDS packet.
//
//	Byte 0:   Type
//	Byte 1:   Status
//	Byte 2-3: Length (including header, big-endian)
//	Byte 4-5: SPID (big-endian)
//	Byte 6:   PacketID (sequential, wraps mod 256)
//	Byte 7:   Window (unused, always 0)
type Header struct {
	Type     PacketType
	Status   byte
	Length   uint16
	SPID     uint16
	PacketID byte
	Window   byte
}

// IsEOM reports whether this is the last packet of a logical message.
func (h *Header) IsEOM() bool {
	return h.Status&StatusEOM != 0
}

// PayloadLength returns the number of payload bytes (Length - HeaderSize).
func (h *Header) PayloadLength() int {
	if int(h.Length) <= HeaderSize {
		return 0
	}
	return int(h.Length) - HeaderSize
}

// Marshal serialises the header to its 8-byte wire form.
func (h *Header) Marshal() []byte {
	buf := make([]byte, HeaderSize)
	buf[0] = byte(h.Type)
	buf[1] = h.Status
	binary.BigEndian.PutUint16(buf[2:4], h.Length)
	binary.BigEndian.PutUint16(buf[4:6], h.SPID)
	buf[6] = h.PacketID
	buf[7] = h.Window
	return buf
}

// ReadHeader reads and validates an 8-byte header from r.
func ReadHeader(r io.Reader) (*Header, error) {
	buf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return ParseHeader(buf)
}

// ParseHeader parses an 8-byte buffer into a Header, validating length bounds.
func ParseHeader(buf []byte) (*Header, error) {
	if len(buf) < HeaderSize {
		return nil, &ProtocolError{Message: fmt.Sprintf("tds header too short: %d bytes", len(buf))}
	}
	h := &Header{
		Type:     PacketType(buf[0]),
		Status:   buf[1],
		Length:   binary.BigEndian.Uint16(buf[2:4]),
		SPID:     binary.BigEndian.Uint16(buf[4:6]),
		PacketID: buf[6],
		Window:   buf[7],
	}
	if h.Length < HeaderSize {
		return nil, &ProtocolError{Message: fmt.Sprintf("invalid length %d", h.Length)}
	}
	if h.Length > MaxPacketSize {
		return nil, &ProtocolError{Message: fmt.Sprintf("length %d exceeds max %d", h.Length, MaxPacketSize)}
	}
	return h, nil
}

// ReadPacket reads one full TDS packet (header + payload) from r.
func ReadPacket(r io.Reader) (*Header, []byte, error) {
	hdr, err := ReadHeader(r)
	if err != nil {
		return nil, nil, err
	}

	packet := make([]byte, hdr.Length)
	copy(packet[:HeaderSize], hdr.Marshal())

	payloadLen := hdr.PayloadLength()
	if payloadLen > 0 {
		if _, err := io.ReadFull(r, packet[HeaderSize:]); err != nil {
			return nil, nil, fmt.Errorf("reading tds payload (%d bytes): %w", payloadLen, err)
		}
	}

	return hdr, packet, nil
}

// ReadMessage reads one or more packets until END-OF-MESSAGE, returning the
// packet type, the coalesced payload, and the raw per-packet bytes.
func ReadMessage(r io.Reader) (PacketType, []byte, [][]byte, error) {
	var (
		pktType PacketType
		payload []byte
		packets [][]byte
	)

	for {
		hdr, pkt, err := ReadPacket(r)
		if err != nil {
			return 0, nil, nil, err
		}

		if len(packets) == 0 {
			pktType = hdr.Type
		}

		packets = append(packets, pkt)
		if hdr.PayloadLength() > 0 {
			payload = append(payload, pkt[HeaderSize:]...)
		}

		if hdr.IsEOM() {
			break
		}
	}

	return pktType, payload, packets, nil
}

// WritePackets writes raw packet bytes to w in order.
func WritePackets(w io.Writer, packets [][]byte) error {
	for _, pkt := range packets {
		if _, err := w.Write(pkt); err != nil {
			return err
		}
	}
	return nil
}

// BuildPackets splits payload into one or more TDS packets of the given type,
// each no larger than packetSize (including the header).
func BuildPackets(pktType PacketType, payload []byte, packetSize int) [][]byte {
	if packetSize <= HeaderSize {
		packetSize = DefaultPacketSize
	}

	maxPayload := packetSize - HeaderSize
	var packets [][]byte
	var packetID byte

	for len(payload) > 0 {
		chunkSize := maxPayload
		if chunkSize > len(payload) {
			chunkSize = len(payload)
		}

		status := StatusNormal
		if chunkSize >= len(payload) {
			status = StatusEOM
		}

		hdr := Header{
			Type:     pktType,
			Status:   status,
			Length:   uint16(HeaderSize + chunkSize),
			PacketID: packetID,
		}

		pkt := make([]byte, HeaderSize+chunkSize)
		copy(pkt[:HeaderSize], hdr.Marshal())
		copy(pkt[HeaderSize:], payload[:chunkSize])

		packets = append(packets, pkt)
		payload = payload[chunkSize:]
		packetID++
	}

	if len(packets) == 0 {
		hdr := Header{Type: pktType, Status: StatusEOM, Length: HeaderSize}
		packets = append(packets, hdr.Marshal())
	}

	return packets
}

// ProtocolError reports a TDS decode-time invariant violation.
type ProtocolError struct {
	Message string
	Got     PacketType
	Want    PacketType
}

func (e *ProtocolError) Error() string {
	if e.Got == 0 && e.Want == 0 {
		return "tds protocol error: " + e.Message
	}
	return fmt.Sprintf("tds protocol error: %s: got %s, want %s", e.Message, e.Got, e.Want)
}
