package tds

import "encoding/binary"

// Well-known RPC procedure IDs (MS-TDS 2.2.6.6), used instead of a name
// when ProcIDSwitch is 0xFFFF.
const (
	ProcCursor           uint16 = 1
	ProcCursorOpen       uint16 = 2
	ProcCursorPrepare    uint16 = 3
	ProcCursorExecute    uint16 = 4
	ProcCursorPrepExec   uint16 = 5
	ProcCursorUnprepare  uint16 = 6
	ProcCursorFetch      uint16 = 7
	ProcCursorOption     uint16 = 8
	ProcCursorClose      uint16 = 9
	ProcExecuteSQL       uint16 = 10
	ProcPrepare          uint16 = 11
	ProcExecute          uint16 = 12
	ProcPrepExec         uint16 = 13
	ProcPrepExecRPC      uint16 = 14
	ProcUnprepare        uint16 = 15
)

// RPC option flags (MS-TDS 2.2.6.5).
const (
	RPCOptionWithRecompile uint16 = 0x0001
	RPCOptionNoMetadata    uint16 = 0x0002
)

// RPCParam is one named or positional parameter of an RPC request.
type RPCParam struct {
	Name     string // empty for positional parameters
	Output   bool
	Type     ColumnType
	// Value is the already wire-encoded column value (length prefix /
	// PLP framing included, per the column type), produced by the caller
	// — this core does not own user-facing value encoding (out of scope).
	Value []byte
}

// RPCRequest describes one RPC Request message (MS-TDS 2.2.6.5).
type RPCRequest struct {
	ProcID                  uint16 // well-known proc, used when ProcName == ""
	ProcName                string
	Options                 uint16
	Params                  []RPCParam
	TransactionDescriptor   uint64
	OutstandingRequestCount uint32
}

// BuildRPCRequest serialises req into an RPC Request payload.
func BuildRPCRequest(req *RPCRequest) []byte {
	headers := AllHeaders(req.TransactionDescriptor, max1(req.OutstandingRequestCount))

	var body []byte
	if req.ProcName == "" {
		procIDBuf := make([]byte, 4)
		binary.LittleEndian.PutUint16(procIDBuf[0:2], 0xFFFF)
		binary.LittleEndian.PutUint16(procIDBuf[2:4], req.ProcID)
		body = append(body, procIDBuf...)
	} else {
		nameU16 := encodeUTF16LE(req.ProcName)
		lenBuf := make([]byte, 2)
		binary.LittleEndian.PutUint16(lenBuf, uint16(len(nameU16)/2))
		body = append(body, lenBuf...)
		body = append(body, nameU16...)
	}

	optBuf := make([]byte, 2)
	binary.LittleEndian.PutUint16(optBuf, req.Options)
	body = append(body, optBuf...)

	for _, p := range req.Params {
		body = append(body, marshalRPCParam(p)...)
	}

	out := make([]byte, 0, len(headers)+len(body))
	out = append(out, headers...)
	out = append(out, body...)
	return out
}

func max1(n uint32) uint32 {
	if n == 0 {
		return 1
	}
	return n
}

func marshalRPCParam(p RPCParam) []byte {
	nameU16 := encodeUTF16LE(p.Name)
	var flags byte
	if p.Output {
		flags |= 0x01
	}

	out := make([]byte, 0, 1+len(nameU16)+1+1+len(p.Value))
	out = append(out, byte(len(nameU16)/2))
	out = append(out, nameU16...)
	out = append(out, flags)
	out = append(out, byte(p.Type))
	out = append(out, p.Value...)
	return out
}

// PrepareHandle is the server-assigned handle returned by sp_prepare,
// consumed by sp_execute and released by sp_unprepare (§4.7).
type PrepareHandle int32

// BuildPrepareRPC issues sp_prepare(@handle OUTPUT, @params, @stmt) with
// statement text and an (optional) parameter declaration string.
func BuildPrepareRPC(sqlText, paramDecls string, transactionDescriptor uint64) *RPCRequest {
	return &RPCRequest{
		ProcID:   ProcPrepare,
		Options:  0,
		TransactionDescriptor: transactionDescriptor,
		Params: []RPCParam{
			{Output: true, Type: ColTypeInt4, Value: make([]byte, 4)},
			{Type: ColTypeNVarChar, Value: EncodePLP(encodeUTF16LE(paramDecls), 0)},
			{Type: ColTypeNVarChar, Value: EncodePLP(encodeUTF16LE(sqlText), 0)},
		},
	}
}

// BuildExecuteRPC issues sp_execute(@handle, ...params) against a
// previously prepared handle.
func BuildExecuteRPC(handle PrepareHandle, params []RPCParam, transactionDescriptor uint64) *RPCRequest {
	handleBuf := make([]byte, 4)
	binary.LittleEndian.PutUint32(handleBuf, uint32(handle))
	all := append([]RPCParam{{Type: ColTypeInt4, Value: handleBuf}}, params...)
	return &RPCRequest{
		ProcID:                ProcExecute,
		TransactionDescriptor: transactionDescriptor,
		Params:                all,
	}
}

// BuildUnprepareRPC issues sp_unprepare(@handle) releasing a server handle.
func BuildUnprepareRPC(handle PrepareHandle, transactionDescriptor uint64) *RPCRequest {
	handleBuf := make([]byte, 4)
	binary.LittleEndian.PutUint32(handleBuf, uint32(handle))
	return &RPCRequest{
		ProcID:                ProcUnprepare,
		TransactionDescriptor: transactionDescriptor,
		Params:                []RPCParam{{Type: ColTypeInt4, Value: handleBuf}},
	}
}

// WellKnownProcName returns the name of a well-known RPC procedure ID, or
// "" if id does not identify one. Mirrors MS-TDS 2.2.6.6.
func WellKnownProcName(id uint16) string {
	switch id {
	case ProcCursor:
		return "sp_cursor"
	case ProcCursorOpen:
		return "sp_cursoropen"
	case ProcCursorPrepare:
		return "sp_cursorprepare"
	case ProcCursorExecute:
		return "sp_cursorexecute"
	case ProcCursorPrepExec:
		return "sp_cursorprepexec"
	case ProcCursorUnprepare:
		return "sp_cursorunprepare"
	case ProcCursorFetch:
		return "sp_cursorfetch"
	case ProcCursorOption:
		return "sp_cursoroption"
	case ProcCursorClose:
		return "sp_cursorclose"
	case ProcExecuteSQL:
		return "sp_executesql"
	case ProcPrepare:
		return "sp_prepare"
	case ProcExecute:
		return "sp_execute"
	case ProcPrepExec:
		return "sp_prepexec"
	case ProcPrepExecRPC:
		return "sp_prepexecrpc"
	case ProcUnprepare:
		return "sp_unprepare"
	default:
		return ""
	}
}
