package wire

import "encoding/binary"

// RequestOpcode distinguishes the transfer mode chosen for a request's
// payload (spec.md §4.3 "Transfer-mode decision").
type RequestOpcode uint8

const (
	OpSend RequestOpcode = iota + 1
	OpRDMARead
	OpRDMAWrite
)

// RequestHeader is the sub-header carried by REQUEST/ONE_WAY_REQ frames. SN
// is the application-level sequence number assigned at enqueue time (the
// same value CancelRequest and a response's back-reference match against),
// distinct from the transport header's per-frame window sn.
type RequestHeader struct {
	Opcode      RequestOpcode
	SN          uint16
	ULPHdrLen   uint32
	ULPPadLen   uint32
	ULPImmLen   uint32
	RecvSGEs    []ScatterDescriptor
	ReadSGEs    []ScatterDescriptor
	WriteSGEs   []ScatterDescriptor
}

// fixed prefix: opcode(1) + pad(1) + sn(2) + recv_num_sge(2) +
// read_num_sge(2) + write_num_sge(2) + ulp_hdr_len(4) + ulp_pad_len(4) +
// ulp_imm_len(4)
const requestHeaderFixedSize = 1 + 1 + 2 + 2 + 2 + 2 + 4 + 4 + 4

func (h RequestHeader) EncodedLen() int {
	n := len(h.RecvSGEs) + len(h.ReadSGEs) + len(h.WriteSGEs)
	return requestHeaderFixedSize + n*ScatterDescriptorSize
}

func (h RequestHeader) Encode(b []byte) error {
	if len(b) < h.EncodedLen() {
		return ErrShortBuffer
	}
	b[0] = byte(h.Opcode)
	b[1] = 0
	binary.BigEndian.PutUint16(b[2:4], h.SN)
	binary.BigEndian.PutUint16(b[4:6], uint16(len(h.RecvSGEs)))
	binary.BigEndian.PutUint16(b[6:8], uint16(len(h.ReadSGEs)))
	binary.BigEndian.PutUint16(b[8:10], uint16(len(h.WriteSGEs)))
	binary.BigEndian.PutUint32(b[10:14], h.ULPHdrLen)
	binary.BigEndian.PutUint32(b[14:18], h.ULPPadLen)
	binary.BigEndian.PutUint32(b[18:22], h.ULPImmLen)

	off := requestHeaderFixedSize
	for _, list := range [][]ScatterDescriptor{h.RecvSGEs, h.ReadSGEs, h.WriteSGEs} {
		for _, d := range list {
			PutScatterDescriptor(b[off:off+ScatterDescriptorSize], d)
			off += ScatterDescriptorSize
		}
	}
	return nil
}

func DecodeRequestHeader(b []byte) (RequestHeader, error) {
	if len(b) < requestHeaderFixedSize {
		return RequestHeader{}, ErrShortBuffer
	}
	h := RequestHeader{
		Opcode:    RequestOpcode(b[0]),
		SN:        binary.BigEndian.Uint16(b[2:4]),
		ULPHdrLen: binary.BigEndian.Uint32(b[10:14]),
		ULPPadLen: binary.BigEndian.Uint32(b[14:18]),
		ULPImmLen: binary.BigEndian.Uint32(b[18:22]),
	}
	recvN := binary.BigEndian.Uint16(b[4:6])
	readN := binary.BigEndian.Uint16(b[6:8])
	writeN := binary.BigEndian.Uint16(b[8:10])

	off := requestHeaderFixedSize
	readList := func(n uint16) ([]ScatterDescriptor, error) {
		out := make([]ScatterDescriptor, n)
		for i := range out {
			if off+ScatterDescriptorSize > len(b) {
				return nil, ErrShortBuffer
			}
			out[i] = GetScatterDescriptor(b[off : off+ScatterDescriptorSize])
			off += ScatterDescriptorSize
		}
		return out, nil
	}

	var err error
	if h.RecvSGEs, err = readList(recvN); err != nil {
		return RequestHeader{}, err
	}
	if h.ReadSGEs, err = readList(readN); err != nil {
		return RequestHeader{}, err
	}
	if h.WriteSGEs, err = readList(writeN); err != nil {
		return RequestHeader{}, err
	}
	return h, nil
}

// ResponseHeader is the sub-header carried by RESPONSE/ONE_WAY_RSP frames.
// SN echoes the matched request's RequestHeader.SN back to the requester, so
// onRecvResponseFrame can correlate the response to the outstanding request
// it answers (spec.md §6 "matched by sn").
type ResponseHeader struct {
	Opcode    RequestOpcode
	SN        uint16
	Status    uint32
	ULPHdrLen uint32
	ULPPadLen uint32
	ULPImmLen uint32
}

const ResponseHeaderSize = 1 + 1 + 2 + 4 + 4 + 4 + 4

func (h ResponseHeader) Encode(b []byte) error {
	if len(b) < ResponseHeaderSize {
		return ErrShortBuffer
	}
	b[0] = byte(h.Opcode)
	b[1] = 0
	binary.BigEndian.PutUint16(b[2:4], h.SN)
	binary.BigEndian.PutUint32(b[4:8], h.Status)
	binary.BigEndian.PutUint32(b[8:12], h.ULPHdrLen)
	binary.BigEndian.PutUint32(b[12:16], h.ULPPadLen)
	binary.BigEndian.PutUint32(b[16:20], h.ULPImmLen)
	return nil
}

func DecodeResponseHeader(b []byte) (ResponseHeader, error) {
	if len(b) < ResponseHeaderSize {
		return ResponseHeader{}, ErrShortBuffer
	}
	return ResponseHeader{
		Opcode:    RequestOpcode(b[0]),
		SN:        binary.BigEndian.Uint16(b[2:4]),
		Status:    binary.BigEndian.Uint32(b[4:8]),
		ULPHdrLen: binary.BigEndian.Uint32(b[8:12]),
		ULPPadLen: binary.BigEndian.Uint32(b[12:16]),
		ULPImmLen: binary.BigEndian.Uint32(b[16:20]),
	}, nil
}

// NopHeader is the sub-header carried by CREDIT_NOP frames.
type NopHeader struct {
	HdrLen  uint16
	SN      uint16
	AckSN   uint16
	Credits uint16
	Opcode  uint8
	Flags   uint8
}

const NopHeaderSize = 2 + 2 + 2 + 2 + 1 + 1

func (h NopHeader) Encode(b []byte) error {
	if len(b) < NopHeaderSize {
		return ErrShortBuffer
	}
	binary.BigEndian.PutUint16(b[0:2], h.HdrLen)
	binary.BigEndian.PutUint16(b[2:4], h.SN)
	binary.BigEndian.PutUint16(b[4:6], h.AckSN)
	binary.BigEndian.PutUint16(b[6:8], h.Credits)
	b[8] = h.Opcode
	b[9] = h.Flags
	return nil
}

func DecodeNopHeader(b []byte) (NopHeader, error) {
	if len(b) < NopHeaderSize {
		return NopHeader{}, ErrShortBuffer
	}
	return NopHeader{
		HdrLen:  binary.BigEndian.Uint16(b[0:2]),
		SN:      binary.BigEndian.Uint16(b[2:4]),
		AckSN:   binary.BigEndian.Uint16(b[4:6]),
		Credits: binary.BigEndian.Uint16(b[6:8]),
		Opcode:  b[8],
		Flags:   b[9],
	}, nil
}

// SetupHeader is exchanged during the CONN_SETUP_REQ/RSP handshake
// (spec.md §6 "Setup handshake").
type SetupHeader struct {
	BufferSz uint32
	SQDepth  uint32
	RQDepth  uint32
	Credits  uint32
}

const SetupHeaderSize = 4 + 4 + 4 + 4

func (h SetupHeader) Encode(b []byte) error {
	if len(b) < SetupHeaderSize {
		return ErrShortBuffer
	}
	binary.BigEndian.PutUint32(b[0:4], h.BufferSz)
	binary.BigEndian.PutUint32(b[4:8], h.SQDepth)
	binary.BigEndian.PutUint32(b[8:12], h.RQDepth)
	binary.BigEndian.PutUint32(b[12:16], h.Credits)
	return nil
}

func DecodeSetupHeader(b []byte) (SetupHeader, error) {
	if len(b) < SetupHeaderSize {
		return SetupHeader{}, ErrShortBuffer
	}
	return SetupHeader{
		BufferSz: binary.BigEndian.Uint32(b[0:4]),
		SQDepth:  binary.BigEndian.Uint32(b[4:8]),
		RQDepth:  binary.BigEndian.Uint32(b[8:12]),
		Credits:  binary.BigEndian.Uint32(b[12:16]),
	}, nil
}

// Min returns the element-wise minimum of two SetupHeaders, the rule each
// side applies to its own offer and the peer's on receiving a setup frame.
func Min(a, b SetupHeader) SetupHeader {
	min := func(x, y uint32) uint32 {
		if x < y {
			return x
		}
		return y
	}
	return SetupHeader{
		BufferSz: min(a.BufferSz, b.BufferSz),
		SQDepth:  min(a.SQDepth, b.SQDepth),
		RQDepth:  min(a.RQDepth, b.RQDepth),
		Credits:  min(a.Credits, b.Credits),
	}
}

// CancelHeader carries a XIO_CANCEL_REQ/XIO_CANCEL_RSP payload.
type CancelHeader struct {
	HdrLen  uint16
	SN      uint16
	Result  uint32
	ULPMsg  []byte
}

const cancelHeaderFixedSize = 2 + 2 + 4 + 4 // + ulp_msg_sz

func (h CancelHeader) EncodedLen() int {
	return cancelHeaderFixedSize + len(h.ULPMsg)
}

func (h CancelHeader) Encode(b []byte) error {
	if len(b) < h.EncodedLen() {
		return ErrShortBuffer
	}
	binary.BigEndian.PutUint16(b[0:2], h.HdrLen)
	binary.BigEndian.PutUint16(b[2:4], h.SN)
	binary.BigEndian.PutUint32(b[4:8], h.Result)
	binary.BigEndian.PutUint32(b[8:12], uint32(len(h.ULPMsg)))
	copy(b[12:], h.ULPMsg)
	return nil
}

func DecodeCancelHeader(b []byte) (CancelHeader, error) {
	if len(b) < cancelHeaderFixedSize {
		return CancelHeader{}, ErrShortBuffer
	}
	n := binary.BigEndian.Uint32(b[8:12])
	if uint32(len(b)-cancelHeaderFixedSize) < n {
		return CancelHeader{}, ErrShortBuffer
	}
	msg := make([]byte, n)
	copy(msg, b[cancelHeaderFixedSize:cancelHeaderFixedSize+int(n)])
	return CancelHeader{
		HdrLen: binary.BigEndian.Uint16(b[0:2]),
		SN:     binary.BigEndian.Uint16(b[2:4]),
		Result: binary.BigEndian.Uint32(b[4:8]),
		ULPMsg: msg,
	}, nil
}
