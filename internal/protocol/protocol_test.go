package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"

	"github.com/danmuck/tipctl/internal/testutil/testlog"
)

func TestResponseRoundTripEveryTag(t *testing.T) {
	testlog.Start(t)
	values := []Arg{
		Float32(1.5),
		Float64(-2.25),
		Int32(-7),
		Uint32(4000000000),
		Int16(-300),
		Uint16(65000),
		Uint8(200),
		String("Bias (V)"),
		Int32(3),
		Float32s([]float32{0.5, 1.5, 2.5}),
		Float32List([]float32{9, 8}),
		Int32List([]int32{-1, 0, 1}),
		StringList([]string{"Current (A)", "", "Z (m)"}),
	}
	returns := make([]Tag, len(values))
	for i, v := range values {
		returns[i] = v.Tag
	}

	var buf bytes.Buffer
	if err := EncodeResponse(&buf, "Test.Everything", values, 0, ""); err != nil {
		t.Fatalf("encode: %v", err)
	}
	reply, err := DecodeResponse(&buf, "Test.Everything", returns, 0)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(reply.Values) != len(values) {
		t.Fatalf("got %d values want %d", len(reply.Values), len(values))
	}

	if v, _ := reply.Float32(0); v != 1.5 {
		t.Fatalf("f=%v", v)
	}
	if v, _ := reply.Float64(1); v != -2.25 {
		t.Fatalf("d=%v", v)
	}
	wantInts := []int64{-7, 4000000000, -300, 65000, 200}
	for i, want := range wantInts {
		got, err := reply.Int(2 + i)
		if err != nil || got != want {
			t.Fatalf("int[%d]=%d,%v want %d", 2+i, got, err, want)
		}
	}
	if s, _ := reply.String(7); s != "Bias (V)" {
		t.Fatalf("+c=%q", s)
	}
	fixed, err := reply.Float32s(9)
	if err != nil || len(fixed) != 3 || fixed[2] != 2.5 {
		t.Fatalf("*f=%v,%v", fixed, err)
	}
	prefixed, err := reply.Float32s(10)
	if err != nil || len(prefixed) != 2 || prefixed[0] != 9 {
		t.Fatalf("+*f=%v,%v", prefixed, err)
	}
	ints, err := reply.Values[11].Ints()
	if err != nil || len(ints) != 3 || ints[0] != -1 {
		t.Fatalf("+*i=%v,%v", ints, err)
	}
	names, err := reply.Strings(12)
	if err != nil || len(names) != 3 || names[0] != "Current (A)" || names[1] != "" || names[2] != "Z (m)" {
		t.Fatalf("*+c=%v,%v", names, err)
	}
}

func TestRequestRoundTrip(t *testing.T) {
	testlog.Start(t)
	args := []Arg{
		Float32(0.8),
		Bool(true),
		Float32s([]float32{1, 2, 3, 4}),
		StringList([]string{"a", "bc"}),
	}
	var buf bytes.Buffer
	if err := EncodeRequest(&buf, "Bias.Pulse", args, true); err != nil {
		t.Fatalf("encode: %v", err)
	}
	head, raw, err := DecodeRequest(&buf, 0)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if head.Command != "Bias.Pulse" || !head.SendResponse || head.ArgCount != 4 {
		t.Fatalf("unexpected header: %+v", head)
	}
	values, err := DecodeArgs(head.Command, raw, []Tag{TagFloat32, TagUint32, TagFloat32Array, TagStringList})
	if err != nil {
		t.Fatalf("decode args: %v", err)
	}
	if f, _ := values[0].Float32(); f != 0.8 {
		t.Fatalf("f=%v", f)
	}
	if b, _ := values[1].Bool(); !b {
		t.Fatalf("bool flag lost")
	}
	if xs, _ := values[2].Float32s(); len(xs) != 4 || xs[3] != 4 {
		t.Fatalf("fixed array=%v", xs)
	}
	if ss, _ := values[3].Strings(); len(ss) != 2 || ss[1] != "bc" {
		t.Fatalf("strings=%v", ss)
	}
}

func TestRequestHeaderLayout(t *testing.T) {
	testlog.Start(t)
	frame, err := MarshalRequest("Bias.Set", []Arg{Float32(1)}, true)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if len(frame) != HeaderSize+4+4 {
		t.Fatalf("frame len=%d", len(frame))
	}
	if got := binary.BigEndian.Uint32(frame[32:36]); got != 8 {
		t.Fatalf("body size=%d", got)
	}
	if got := binary.BigEndian.Uint32(frame[40:44]); got != 4 {
		t.Fatalf("arg size=%d", got)
	}
}

func TestEncodeRejectsBadInput(t *testing.T) {
	testlog.Start(t)
	if _, err := MarshalRequest("", nil, true); !errors.Is(err, ErrInvalidCommand) {
		t.Fatalf("expected ErrInvalidCommand, got %v", err)
	}
	long := "Command.Name.That.Is.Way.Too.Long.For.Header"
	if _, err := MarshalRequest(long, nil, true); !errors.Is(err, ErrInvalidCommand) {
		t.Fatalf("expected ErrInvalidCommand, got %v", err)
	}
	if _, err := MarshalRequest("Bias.Set", []Arg{{Tag: "q", Value: 1}}, true); !errors.Is(err, ErrUnknownTag) {
		t.Fatalf("expected ErrUnknownTag, got %v", err)
	}
	if _, err := MarshalRequest("Bias.Set", []Arg{{Tag: TagFloat32, Value: "1"}}, true); !errors.Is(err, ErrValueTagMismatch) {
		t.Fatalf("expected ErrValueTagMismatch, got %v", err)
	}
	if _, err := MarshalRequest("Motor.StartMove", []Arg{{Tag: TagUint16, Value: 70000}}, true); !errors.Is(err, ErrValueTagMismatch) {
		t.Fatalf("expected overflow mismatch, got %v", err)
	}
}

func TestDecodeResponseErrorCode(t *testing.T) {
	testlog.Start(t)
	var buf bytes.Buffer
	if err := EncodeResponse(&buf, "ZCtrl.Withdraw", nil, 3, "controller busy"); err != nil {
		t.Fatalf("encode: %v", err)
	}
	_, err := DecodeResponse(&buf, "ZCtrl.Withdraw", []Tag{TagUint32}, 0)
	if !errors.Is(err, ErrRemote) {
		t.Fatalf("expected ErrRemote, got %v", err)
	}
	var pe *ProtocolError
	if !errors.As(err, &pe) || pe.Code != 3 || pe.Detail != "controller busy" {
		t.Fatalf("unexpected protocol error: %+v", pe)
	}
}

func TestDecodeResponseCommandMismatch(t *testing.T) {
	testlog.Start(t)
	var buf bytes.Buffer
	_ = EncodeResponse(&buf, "Bias.Get", []Arg{Float32(1)}, 0, "")
	_, err := DecodeResponse(&buf, "Bias.Set", nil, 0)
	if !errors.Is(err, ErrReplyMismatch) {
		t.Fatalf("expected ErrReplyMismatch, got %v", err)
	}
}

func TestDecodeResponseTruncatedAndTrailing(t *testing.T) {
	testlog.Start(t)
	var buf bytes.Buffer
	_ = EncodeResponse(&buf, "Bias.Get", []Arg{Float32(1)}, 0, "")
	b := buf.Bytes()

	_, err := DecodeResponse(bytes.NewReader(b[:len(b)-2]), "Bias.Get", []Tag{TagFloat32}, 0)
	if !errors.Is(err, ErrTruncated) {
		t.Fatalf("expected ErrTruncated, got %v", err)
	}
	_, err = DecodeResponse(bytes.NewReader(b), "Bias.Get", []Tag{TagUint16}, 0)
	if !errors.Is(err, ErrTrailingBytes) {
		t.Fatalf("expected ErrTrailingBytes, got %v", err)
	}
	_, err = DecodeResponse(bytes.NewReader(b), "Bias.Get", []Tag{TagFloat64}, 0)
	if !errors.Is(err, ErrTruncated) {
		t.Fatalf("expected ErrTruncated on short value, got %v", err)
	}
	if !IsProtocol(err) {
		t.Fatalf("expected ProtocolError wrapper: %v", err)
	}
}

func TestDecodeResponseCleanEOF(t *testing.T) {
	testlog.Start(t)
	_, err := DecodeResponse(bytes.NewReader(nil), "Bias.Get", nil, 0)
	if !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF for closed peer, got %v", err)
	}
}

func TestFixedArrayRequiresCount(t *testing.T) {
	testlog.Start(t)
	var buf bytes.Buffer
	_ = EncodeResponse(&buf, "Osci1T.DataGet", []Arg{Float32s([]float32{1, 2})}, 0, "")
	_, err := DecodeResponse(&buf, "Osci1T.DataGet", []Tag{TagFloat32Array}, 0)
	if !errors.Is(err, ErrMissingCount) {
		t.Fatalf("expected ErrMissingCount, got %v", err)
	}
}

func TestDecodeRejectsOversizedBody(t *testing.T) {
	testlog.Start(t)
	var buf bytes.Buffer
	_ = EncodeResponse(&buf, "Signals.NamesGet", []Arg{String("0123456789")}, 0, "")
	_, err := DecodeResponse(&buf, "Signals.NamesGet", []Tag{TagString}, 8)
	if !errors.Is(err, ErrBodyTooLarge) {
		t.Fatalf("expected ErrBodyTooLarge, got %v", err)
	}
}

func TestValueAccessorMismatch(t *testing.T) {
	testlog.Start(t)
	var buf bytes.Buffer
	_ = EncodeResponse(&buf, "Bias.Get", []Arg{Float32(1)}, 0, "")
	reply, err := DecodeResponse(&buf, "Bias.Get", []Tag{TagFloat32}, 0)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, err := reply.Int(0); !errors.Is(err, ErrFieldTypeMismatch) {
		t.Fatalf("expected ErrFieldTypeMismatch, got %v", err)
	}
	if _, err := reply.Float32(3); !errors.Is(err, ErrMissingValue) {
		t.Fatalf("expected ErrMissingValue, got %v", err)
	}
}
