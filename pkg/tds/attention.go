package tds

// BuildAttention returns the wire bytes of an Attention packet: header only,
// type 0x06, END-OF-MESSAGE set, empty payload (§4.6, §6).
func BuildAttention() []byte {
	hdr := Header{Type: PacketAttention, Status: StatusEOM, Length: HeaderSize}
	return hdr.Marshal()
}

// IsAttention reports whether pktType identifies an Attention packet.
func IsAttention(pktType PacketType) bool {
	return pktType == PacketAttention
}
