package ipc

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestEncodeDecode_RoundTrip(t *testing.T) {
	env, err := newEnvelope(CmdPing, nil)
	if err != nil {
		t.Fatalf("newEnvelope: %v", err)
	}

	frame, err := Encode(env)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	decoded, consumed, err := Decode(frame)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if consumed != len(frame) {
		t.Errorf("expected to consume entire frame (%d bytes), consumed %d", len(frame), consumed)
	}
	if decoded.Type != CmdPing {
		t.Errorf("expected type %q, got %q", CmdPing, decoded.Type)
	}
}

func TestEncodeDecode_WithPayload(t *testing.T) {
	env, err := newEnvelope(CmdGetLink, GetLinkPayload{Code: "abc"})
	if err != nil {
		t.Fatalf("newEnvelope: %v", err)
	}
	frame, err := Encode(env)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	decoded, _, err := Decode(frame)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	payload, err := decodePayload[GetLinkPayload](decoded)
	if err != nil {
		t.Fatalf("decodePayload: %v", err)
	}
	if payload.Code != "abc" {
		t.Errorf("expected code %q, got %q", "abc", payload.Code)
	}
}

func TestDecode_IncompleteLengthPrefix(t *testing.T) {
	_, _, err := Decode([]byte{0, 0})
	if err != ErrIncomplete {
		t.Fatalf("expected ErrIncomplete, got %v", err)
	}
}

func TestDecode_IncompleteBody(t *testing.T) {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, 100)
	buf = append(buf, []byte("short")...)

	_, _, err := Decode(buf)
	if err != ErrIncomplete {
		t.Fatalf("expected ErrIncomplete, got %v", err)
	}
}

func TestDecode_BufferOnlyAdvancesOnFullFrame(t *testing.T) {
	env, _ := newEnvelope(CmdPing, nil)
	frame, _ := Encode(env)

	// simulate a partial read: only half the frame has arrived
	partial := frame[:len(frame)-1]
	_, consumed, err := Decode(partial)
	if err != ErrIncomplete {
		t.Fatalf("expected ErrIncomplete on partial frame, got %v", err)
	}
	if consumed != 0 {
		t.Errorf("expected 0 bytes consumed on incomplete frame, got %d", consumed)
	}
}

func TestDecode_OversizeFrameRejected(t *testing.T) {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, MaxFrameSize+1)

	_, _, err := Decode(buf)
	if err != ErrFrameTooLarge {
		t.Fatalf("expected ErrFrameTooLarge, got %v", err)
	}
}

func TestEncode_OversizePayloadRejected(t *testing.T) {
	huge := make([]byte, MaxFrameSize+100)
	env, err := newEnvelope(CmdAddLink, AddLinkPayload{Target: string(huge)})
	if err != nil {
		t.Fatalf("newEnvelope: %v", err)
	}

	_, err = Encode(env)
	if err != ErrFrameTooLarge {
		t.Fatalf("expected ErrFrameTooLarge, got %v", err)
	}
}

func TestReadWriteFrame_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	env, _ := newEnvelope(CmdGetStatus, nil)

	if err := WriteFrame(&buf, env); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	got, err := ReadFrame(&buf)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if got.Type != CmdGetStatus {
		t.Errorf("expected type %q, got %q", CmdGetStatus, got.Type)
	}
}

func TestReadFrame_RejectsOversizeLength(t *testing.T) {
	var buf bytes.Buffer
	lenBuf := make([]byte, 4)
	binary.BigEndian.PutUint32(lenBuf, MaxFrameSize+1)
	buf.Write(lenBuf)

	_, err := ReadFrame(&buf)
	if err != ErrFrameTooLarge {
		t.Fatalf("expected ErrFrameTooLarge, got %v", err)
	}
}
