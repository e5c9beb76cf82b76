package wire

import "testing"

func TestTransportHeaderRoundTrip(t *testing.T) {
	h := TransportHeader{
		Version:   ReqHeaderVersion,
		Flags:     0x3,
		HeaderLen: 42,
		SN:        7,
		AckSN:     3,
		Credits:   5,
		TaskID:    0xdeadbeef,
	}

	b := make([]byte, TransportHeaderSize)
	if err := h.Encode(b); err != nil {
		t.Fatalf("Encode: %v", err)
	}

	got, err := DecodeTransportHeader(b)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got != h {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, h)
	}
}

func TestWriteSNLeavesRestUntouched(t *testing.T) {
	h := TransportHeader{Version: 1, Flags: 0xAB, HeaderLen: 99, TaskID: 123}
	b := make([]byte, TransportHeaderSize)
	if err := h.Encode(b); err != nil {
		t.Fatalf("Encode: %v", err)
	}

	if err := WriteSN(b, 10, 9, 4); err != nil {
		t.Fatalf("WriteSN: %v", err)
	}

	got, err := DecodeTransportHeader(b)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	want := TransportHeader{Version: 1, Flags: 0xAB, HeaderLen: 99, TaskID: 123, SN: 10, AckSN: 9, Credits: 4}
	if got != want {
		t.Fatalf("WriteSN mutated unrelated fields: got %+v, want %+v", got, want)
	}
}

func TestScatterDescriptorRoundTrip(t *testing.T) {
	d := ScatterDescriptor{Addr: 0x1122334455667788, Length: 4096, Stag: 0xCAFEBABE}
	b := make([]byte, ScatterDescriptorSize)
	PutScatterDescriptor(b, d)
	if got := GetScatterDescriptor(b); got != d {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, d)
	}
}

func TestRequestHeaderRoundTrip(t *testing.T) {
	h := RequestHeader{
		Opcode:    OpRDMARead,
		ULPHdrLen: 16,
		ULPPadLen: 0,
		ULPImmLen: 128,
		RecvSGEs:  []ScatterDescriptor{{Addr: 1, Length: 10, Stag: 1}},
		ReadSGEs:  []ScatterDescriptor{{Addr: 2, Length: 20, Stag: 2}, {Addr: 3, Length: 30, Stag: 3}},
		WriteSGEs: nil,
	}

	b := make([]byte, h.EncodedLen())
	if err := h.Encode(b); err != nil {
		t.Fatalf("Encode: %v", err)
	}

	got, err := DecodeRequestHeader(b)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if got.Opcode != h.Opcode || got.ULPHdrLen != h.ULPHdrLen || got.ULPImmLen != h.ULPImmLen {
		t.Fatalf("fixed fields mismatch: got %+v", got)
	}
	if len(got.RecvSGEs) != 1 || got.RecvSGEs[0] != h.RecvSGEs[0] {
		t.Fatalf("recv sges mismatch: got %+v", got.RecvSGEs)
	}
	if len(got.ReadSGEs) != 2 || got.ReadSGEs[1] != h.ReadSGEs[1] {
		t.Fatalf("read sges mismatch: got %+v", got.ReadSGEs)
	}
	if len(got.WriteSGEs) != 0 {
		t.Fatalf("write sges mismatch: got %+v", got.WriteSGEs)
	}
}

func TestResponseHeaderRoundTrip(t *testing.T) {
	h := ResponseHeader{Opcode: OpSend, SN: 42, Status: 0, ULPHdrLen: 8, ULPPadLen: 0, ULPImmLen: 64}
	b := make([]byte, ResponseHeaderSize)
	if err := h.Encode(b); err != nil {
		t.Fatalf("Encode: %v", err)
	}

	got, err := DecodeResponseHeader(b)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got != h {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, h)
	}
}

func TestSetupHeaderMin(t *testing.T) {
	client := SetupHeader{BufferSz: 8192, SQDepth: 16, RQDepth: 32, Credits: 0}
	server := SetupHeader{BufferSz: 4096, SQDepth: 64, RQDepth: 16, Credits: 0}

	got := Min(client, server)
	want := SetupHeader{BufferSz: 4096, SQDepth: 16, RQDepth: 16, Credits: 0}
	if got != want {
		t.Fatalf("Min mismatch: got %+v, want %+v", got, want)
	}
}

func TestCancelHeaderRoundTrip(t *testing.T) {
	h := CancelHeader{HdrLen: 10, SN: 7, Result: 1, ULPMsg: []byte("hello")}
	b := make([]byte, h.EncodedLen())
	if err := h.Encode(b); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := DecodeCancelHeader(b)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.HdrLen != h.HdrLen || got.SN != h.SN || got.Result != h.Result || string(got.ULPMsg) != string(h.ULPMsg) {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, h)
	}
}

func TestTLVRoundTrip(t *testing.T) {
	payload := []byte("some framed payload bytes")
	b := make([]byte, TLVEnvelopeSize()+len(payload))
	if err := PutTLV(b, TLVRequest, uint32(len(payload))); err != nil {
		t.Fatalf("PutTLV: %v", err)
	}
	copy(b[TLVEnvelopeSize():], payload)

	typ, n, rest, err := GetTLV(b)
	if err != nil {
		t.Fatalf("GetTLV: %v", err)
	}
	if typ != TLVRequest || int(n) != len(payload) || string(rest[:n]) != string(payload) {
		t.Fatalf("TLV round trip mismatch: type=%v n=%d rest=%q", typ, n, rest)
	}
}
