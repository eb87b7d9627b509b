package ipc

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/edgeorder/labelreader/types"
)

// encodeFrame encodes a payload with length prefix.
func encodeFrame(payload []byte) []byte {
	buf := make([]byte, LengthPrefixSize+len(payload))
	binary.BigEndian.PutUint32(buf[:LengthPrefixSize], uint32(len(payload)))
	copy(buf[LengthPrefixSize:], payload)
	return buf
}

func TestEncoderDecoder_RequestReplyStream(t *testing.T) {
	captured := time.Date(2025, 3, 1, 8, 30, 0, 0, time.UTC)
	frame := &types.Frame{Image: []byte{0xFF, 0xD8, 0x01}, CapturedAt: captured, CorrelationID: "corr-1"}

	var buf bytes.Buffer
	enc := NewFrameEncoder(&buf)
	if err := enc.Encode(Request{Op: OpPut, Frame: frame}); err != nil {
		t.Fatalf("Encode put failed: %v", err)
	}
	if err := enc.Encode(Request{Op: OpTake}); err != nil {
		t.Fatalf("Encode take failed: %v", err)
	}
	if err := enc.Encode(Reply{OK: true, Frame: frame}); err != nil {
		t.Fatalf("Encode reply failed: %v", err)
	}

	dec := NewFrameDecoder(&buf)

	var put Request
	if err := dec.Decode(&put); err != nil {
		t.Fatalf("Decode put failed: %v", err)
	}
	if put.Op != OpPut || put.Frame == nil {
		t.Fatalf("unexpected put request %+v", put)
	}
	if put.Frame.CorrelationID != "corr-1" || !bytes.Equal(put.Frame.Image, frame.Image) {
		t.Errorf("frame mismatch: %+v", put.Frame)
	}
	if !put.Frame.CapturedAt.Equal(captured) {
		t.Errorf("CapturedAt = %v, want %v", put.Frame.CapturedAt, captured)
	}

	var take Request
	if err := dec.Decode(&take); err != nil {
		t.Fatalf("Decode take failed: %v", err)
	}
	if take.Op != OpTake || take.Frame != nil {
		t.Errorf("unexpected take request %+v", take)
	}

	var reply Reply
	if err := dec.Decode(&reply); err != nil {
		t.Fatalf("Decode reply failed: %v", err)
	}
	if !reply.OK || reply.Frame == nil || reply.Frame.CorrelationID != "corr-1" {
		t.Errorf("unexpected reply %+v", reply)
	}

	if err := dec.Decode(&reply); err != io.EOF {
		t.Errorf("expected io.EOF after last frame, got %v", err)
	}
}

func TestFrameDecoder_PartialFrame(t *testing.T) {
	frame := encodeFrame([]byte{0x81, 0xA2, 'o', 'p', 0xA3, 'p', 'u', 't'})
	truncated := frame[:LengthPrefixSize+3]

	_, err := NewFrameDecoder(bytes.NewReader(truncated)).ReadFrame()
	if err == nil {
		t.Fatal("expected error for truncated frame")
	}

	var frameErr *FrameError
	if !errors.As(err, &frameErr) {
		t.Fatalf("expected *FrameError, got %T", err)
	}
	if frameErr.Kind != FrameErrorPartial {
		t.Errorf("Kind = %v, want FrameErrorPartial", frameErr.Kind)
	}
	if !frameErr.IsFatal() {
		t.Error("FrameErrorPartial.IsFatal() should return true")
	}
}

func TestFrameDecoder_OversizedFrame(t *testing.T) {
	var buf bytes.Buffer
	binary.Write(&buf, binary.BigEndian, uint32(MaxPayloadSize+1))

	_, err := NewFrameDecoder(&buf).ReadFrame()
	if !IsFatalFrameError(err) {
		t.Fatalf("expected fatal frame error, got: %v", err)
	}

	var frameErr *FrameError
	if !errors.As(err, &frameErr) || frameErr.Kind != FrameErrorTooLarge {
		t.Errorf("expected FrameErrorTooLarge, got %v", err)
	}
}

func TestFrameDecoder_EmptyStream(t *testing.T) {
	_, err := NewFrameDecoder(bytes.NewReader(nil)).ReadFrame()
	if err != io.EOF {
		t.Errorf("expected io.EOF, got: %v", err)
	}
}

func TestFrameDecoder_TruncatedLengthPrefix(t *testing.T) {
	_, err := NewFrameDecoder(bytes.NewReader([]byte{0x00, 0x00})).ReadFrame()
	if !IsFatalFrameError(err) {
		t.Errorf("expected fatal frame error, got: %v", err)
	}
}

// Decode errors leave the stream readable, so they are not fatal.
func TestFrameDecoder_MalformedMsgpack(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(encodeFrame([]byte{0xC1}))
	enc := NewFrameEncoder(&buf)
	if err := enc.Encode(Request{Op: OpClear}); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	dec := NewFrameDecoder(&buf)
	var req Request
	err := dec.Decode(&req)

	var frameErr *FrameError
	if !errors.As(err, &frameErr) {
		t.Fatalf("expected *FrameError, got %T (%v)", err, err)
	}
	if frameErr.Kind != FrameErrorDecode {
		t.Errorf("Kind = %v, want FrameErrorDecode", frameErr.Kind)
	}
	if IsFatalFrameError(err) {
		t.Error("decode errors should not be fatal")
	}

	if err := dec.Decode(&req); err != nil {
		t.Fatalf("stream should remain readable, got %v", err)
	}
	if req.Op != OpClear {
		t.Errorf("Op = %q, want %q", req.Op, OpClear)
	}
}

func TestFrameError_Unwrap(t *testing.T) {
	err := &FrameError{Kind: FrameErrorPartial, Msg: "test", Err: io.ErrUnexpectedEOF}
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Error("Unwrap should allow errors.Is to find underlying error")
	}
	if got := err.Error(); got != "test: unexpected EOF" {
		t.Errorf("Error() = %q", got)
	}
}

func TestIsFatalFrameError_NonFrameError(t *testing.T) {
	if IsFatalFrameError(errors.New("regular error")) {
		t.Error("regular errors should not be fatal frame errors")
	}
	if IsFatalFrameError(nil) {
		t.Error("nil should not be a fatal frame error")
	}
	if IsFatalFrameError(io.EOF) {
		t.Error("io.EOF should not be a fatal frame error")
	}
}
