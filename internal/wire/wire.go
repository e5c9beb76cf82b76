// Package wire implements the on-the-wire TLV envelope, transport header,
// and per-kind sub-headers described in spec.md §4.3 and §6. All multi-byte
// fields are big-endian. The codec is deliberately pure functions over
// []byte (encoding/binary) rather than the teacher's unsafe.Pointer struct
// punning (internal/buffer.OutMessage in jacobsa/fuse): that technique
// exists there to type-pun directly onto a kernel ABI struct, a constraint
// this module does not have, and encoding/binary is the idiomatic way to
// say "network byte order" in Go.
package wire

import (
	"encoding/binary"
	"errors"
)

// TLVType identifies the payload that follows the TLV envelope.
type TLVType uint8

const (
	TLVRequest TLVType = iota + 1
	TLVResponse
	TLVNop
	TLVSetup
	TLVCancelRequest
	TLVCancelResponse
)

// Protocol-wide constants (spec.md §6 "Wire constants").
const (
	ReqHeaderVersion = 1
	RspHeaderVersion = 1

	// ScatterDescriptorSize is the encoded size of a ScatterDescriptor:
	// addr (u64) + length (u32) + stag (u32), network byte order.
	ScatterDescriptorSize = 16

	// TLV envelope: 1 byte type + 4 byte length.
	tlvEnvelopeSize = 5

	// TransportHeaderSize covers version, flags, header length, sn, ack_sn,
	// credits, task id. Offsets below must stay in sync with this layout.
	TransportHeaderSize = 1 + 1 + 2 + 2 + 2 + 2 + 8

	// Fixed offsets into a serialized TransportHeader, measured from the
	// header's own start, so WriteSN can overwrite sn/ack_sn/credits without
	// re-encoding version/flags/header-length/task-id (spec.md §6).
	offsetSN      = 4
	offsetAckSN   = 6
	offsetCredits = 8
)

var (
	ErrShortBuffer = errors.New("wire: buffer too short")
	ErrBadLength   = errors.New("wire: declared length exceeds buffer")
)

// ScatterDescriptor is a single scatter/gather entry as it appears on the
// wire: {addr: u64, length: u32, stag: u32}.
type ScatterDescriptor struct {
	Addr   uint64
	Length uint32
	Stag   uint32
}

func PutScatterDescriptor(b []byte, d ScatterDescriptor) {
	binary.BigEndian.PutUint64(b[0:8], d.Addr)
	binary.BigEndian.PutUint32(b[8:12], d.Length)
	binary.BigEndian.PutUint32(b[12:16], d.Stag)
}

func GetScatterDescriptor(b []byte) ScatterDescriptor {
	return ScatterDescriptor{
		Addr:   binary.BigEndian.Uint64(b[0:8]),
		Length: binary.BigEndian.Uint32(b[8:12]),
		Stag:   binary.BigEndian.Uint32(b[12:16]),
	}
}

// TransportHeader is the fixed header that precedes every frame's per-kind
// sub-header (spec.md §4.3).
type TransportHeader struct {
	Version    uint8
	Flags      uint8
	HeaderLen  uint16
	SN         uint16
	AckSN      uint16
	Credits    uint16
	TaskID     uint64
}

func (h TransportHeader) Encode(b []byte) error {
	if len(b) < TransportHeaderSize {
		return ErrShortBuffer
	}
	b[0] = h.Version
	b[1] = h.Flags
	binary.BigEndian.PutUint16(b[2:4], h.HeaderLen)
	binary.BigEndian.PutUint16(b[offsetSN:offsetSN+2], h.SN)
	binary.BigEndian.PutUint16(b[offsetAckSN:offsetAckSN+2], h.AckSN)
	binary.BigEndian.PutUint16(b[offsetCredits:offsetCredits+2], h.Credits)
	binary.BigEndian.PutUint64(b[10:18], h.TaskID)
	return nil
}

func DecodeTransportHeader(b []byte) (TransportHeader, error) {
	if len(b) < TransportHeaderSize {
		return TransportHeader{}, ErrShortBuffer
	}
	return TransportHeader{
		Version:   b[0],
		Flags:     b[1],
		HeaderLen: binary.BigEndian.Uint16(b[2:4]),
		SN:        binary.BigEndian.Uint16(b[offsetSN : offsetSN+2]),
		AckSN:     binary.BigEndian.Uint16(b[offsetAckSN : offsetAckSN+2]),
		Credits:   binary.BigEndian.Uint16(b[offsetCredits : offsetCredits+2]),
		TaskID:    binary.BigEndian.Uint64(b[10:18]),
	}, nil
}

// WriteSN overwrites just the sn/ack_sn/credits fields of an
// already-encoded transport header in place, per spec.md §4.3's
// "write_sn(task, sn, ack_sn, credits)". It does not touch version, flags,
// header length, or task id.
func WriteSN(b []byte, sn, ackSN, credits uint16) error {
	if len(b) < TransportHeaderSize {
		return ErrShortBuffer
	}
	binary.BigEndian.PutUint16(b[offsetSN:offsetSN+2], sn)
	binary.BigEndian.PutUint16(b[offsetAckSN:offsetAckSN+2], ackSN)
	binary.BigEndian.PutUint16(b[offsetCredits:offsetCredits+2], credits)
	return nil
}

// PutTLV writes the 5-byte TLV envelope (type, length) at the start of b.
// length is the size of the payload that follows, not including the
// envelope itself.
func PutTLV(b []byte, t TLVType, length uint32) error {
	if len(b) < tlvEnvelopeSize {
		return ErrShortBuffer
	}
	b[0] = byte(t)
	binary.BigEndian.PutUint32(b[1:5], length)
	return nil
}

// GetTLV reads the TLV envelope and returns the type, declared length, and
// the remainder of b after the envelope.
func GetTLV(b []byte) (TLVType, uint32, []byte, error) {
	if len(b) < tlvEnvelopeSize {
		return 0, 0, nil, ErrShortBuffer
	}
	t := TLVType(b[0])
	n := binary.BigEndian.Uint32(b[1:5])
	rest := b[tlvEnvelopeSize:]
	if uint32(len(rest)) < n {
		return 0, 0, nil, ErrBadLength
	}
	return t, n, rest, nil
}

func TLVEnvelopeSize() int { return tlvEnvelopeSize }
