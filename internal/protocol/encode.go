package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

const (
	NameSize   = 32
	HeaderSize = 40

	DefaultPort = 6501
)

// RequestHeader is the fixed request header.
type RequestHeader struct {
	Command      string
	BodySize     int32
	SendResponse bool
	ArgCount     uint16
}

// ResponseHeader is the fixed response header.
type ResponseHeader struct {
	Command   string
	BodySize  int32
	ErrorCode uint32
}

// EncodeRequest serializes one request frame. The whole frame is built before
// anything is written so w sees a single Write.
func EncodeRequest(w io.Writer, command string, args []Arg, sendResponse bool) error {
	frame, err := MarshalRequest(command, args, sendResponse)
	if err != nil {
		return err
	}
	_, err = w.Write(frame)
	return err
}

// MarshalRequest returns the request frame bytes.
func MarshalRequest(command string, args []Arg, sendResponse bool) ([]byte, error) {
	name, err := encodeName(command)
	if err != nil {
		return nil, err
	}
	if len(args) > math.MaxUint16 {
		return nil, wrapProtocol(command, ErrInvalidLength, "too many arguments")
	}

	encoded := make([][]byte, len(args))
	bodySize := 4 * len(args)
	for i, arg := range args {
		b, err := encodeArg(arg)
		if err != nil {
			return nil, wrapProtocol(command, err, fmt.Sprintf("arg %d", i))
		}
		encoded[i] = b
		bodySize += len(b)
	}
	if bodySize > math.MaxInt32 {
		return nil, wrapProtocol(command, ErrBodyTooLarge, "")
	}

	var buf bytes.Buffer
	buf.Grow(HeaderSize + bodySize)
	buf.Write(name)
	hdr := make([]byte, HeaderSize-NameSize)
	binary.BigEndian.PutUint32(hdr[0:4], uint32(bodySize))
	if sendResponse {
		binary.BigEndian.PutUint16(hdr[4:6], 1)
	}
	binary.BigEndian.PutUint16(hdr[6:8], uint16(len(args)))
	buf.Write(hdr)

	size := make([]byte, 4)
	for _, b := range encoded {
		binary.BigEndian.PutUint32(size, uint32(len(b)))
		buf.Write(size)
	}
	for _, b := range encoded {
		buf.Write(b)
	}
	return buf.Bytes(), nil
}

// EncodeResponse serializes one response frame. A non-zero code writes msg as
// the body and ignores values.
func EncodeResponse(w io.Writer, command string, values []Arg, code uint32, msg string) error {
	name, err := encodeName(command)
	if err != nil {
		return err
	}
	var body []byte
	if code != 0 {
		body = []byte(msg)
	} else {
		for i, v := range values {
			b, err := encodeArg(v)
			if err != nil {
				return wrapProtocol(command, err, fmt.Sprintf("value %d", i))
			}
			body = append(body, b...)
		}
	}
	if len(body) > math.MaxInt32 {
		return wrapProtocol(command, ErrBodyTooLarge, "")
	}

	out := make([]byte, 0, HeaderSize+len(body))
	out = append(out, name...)
	out = binary.BigEndian.AppendUint32(out, uint32(len(body)))
	out = binary.BigEndian.AppendUint32(out, code)
	out = append(out, body...)
	_, err = w.Write(out)
	return err
}

func encodeName(command string) ([]byte, error) {
	if command == "" || len(command) > NameSize {
		return nil, fmt.Errorf("%w: %q", ErrInvalidCommand, command)
	}
	name := make([]byte, NameSize)
	copy(name, command)
	return name, nil
}

func encodeArg(arg Arg) ([]byte, error) {
	shape, err := parseTag(arg.Tag)
	if err != nil {
		return nil, err
	}
	if !shape.isArray() {
		return appendScalar(nil, shape.elem, arg.Value)
	}

	var out []byte
	n, err := arrayLen(shape.elem, arg.Value)
	if err != nil {
		return nil, err
	}
	if shape.count == countPrefixed {
		out = binary.BigEndian.AppendUint32(out, uint32(n))
	}
	switch vs := arg.Value.(type) {
	case []float32:
		for _, v := range vs {
			if out, err = appendScalar(out, shape.elem, v); err != nil {
				return nil, err
			}
		}
	case []float64:
		for _, v := range vs {
			if out, err = appendScalar(out, shape.elem, v); err != nil {
				return nil, err
			}
		}
	case []int32:
		for _, v := range vs {
			if out, err = appendScalar(out, shape.elem, v); err != nil {
				return nil, err
			}
		}
	case []uint32:
		for _, v := range vs {
			if out, err = appendScalar(out, shape.elem, v); err != nil {
				return nil, err
			}
		}
	case []string:
		for _, v := range vs {
			if out, err = appendScalar(out, shape.elem, v); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

func arrayLen(elem elemKind, v any) (int, error) {
	switch vs := v.(type) {
	case []float32:
		if elem == elemFloat32 || elem == elemFloat64 {
			return len(vs), nil
		}
	case []float64:
		if elem == elemFloat32 || elem == elemFloat64 {
			return len(vs), nil
		}
	case []int32:
		if elem.integer() {
			return len(vs), nil
		}
	case []uint32:
		if elem.integer() {
			return len(vs), nil
		}
	case []string:
		if elem == elemString {
			return len(vs), nil
		}
	}
	return 0, fmt.Errorf("%w: %T", ErrValueTagMismatch, v)
}

func appendScalar(out []byte, elem elemKind, v any) ([]byte, error) {
	switch elem {
	case elemFloat32:
		f, ok := asFloat(v)
		if !ok {
			return nil, fmt.Errorf("%w: %T as f", ErrValueTagMismatch, v)
		}
		return binary.BigEndian.AppendUint32(out, math.Float32bits(float32(f))), nil
	case elemFloat64:
		f, ok := asFloat(v)
		if !ok {
			return nil, fmt.Errorf("%w: %T as d", ErrValueTagMismatch, v)
		}
		return binary.BigEndian.AppendUint64(out, math.Float64bits(f)), nil
	case elemString:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%w: %T as +c", ErrValueTagMismatch, v)
		}
		if len(s) > math.MaxInt32 {
			return nil, ErrInvalidLength
		}
		out = binary.BigEndian.AppendUint32(out, uint32(len(s)))
		return append(out, s...), nil
	}

	n, ok := asInt(v)
	if !ok {
		return nil, fmt.Errorf("%w: %T as integer", ErrValueTagMismatch, v)
	}
	switch elem {
	case elemInt32:
		if n < math.MinInt32 || n > math.MaxInt32 {
			return nil, fmt.Errorf("%w: %d overflows i", ErrValueTagMismatch, n)
		}
		return binary.BigEndian.AppendUint32(out, uint32(int32(n))), nil
	case elemUint32:
		if n < 0 || n > math.MaxUint32 {
			return nil, fmt.Errorf("%w: %d overflows I", ErrValueTagMismatch, n)
		}
		return binary.BigEndian.AppendUint32(out, uint32(n)), nil
	case elemInt16:
		if n < math.MinInt16 || n > math.MaxInt16 {
			return nil, fmt.Errorf("%w: %d overflows h", ErrValueTagMismatch, n)
		}
		return binary.BigEndian.AppendUint16(out, uint16(int16(n))), nil
	case elemUint16:
		if n < 0 || n > math.MaxUint16 {
			return nil, fmt.Errorf("%w: %d overflows H", ErrValueTagMismatch, n)
		}
		return binary.BigEndian.AppendUint16(out, uint16(n)), nil
	case elemUint8:
		if n < 0 || n > math.MaxUint8 {
			return nil, fmt.Errorf("%w: %d overflows b", ErrValueTagMismatch, n)
		}
		return append(out, byte(n)), nil
	}
	return nil, ErrUnknownTag
}

func asFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float32:
		return float64(x), true
	case float64:
		return x, true
	}
	return 0, false
}

func asInt(v any) (int64, bool) {
	switch x := v.(type) {
	case int:
		return int64(x), true
	case int8:
		return int64(x), true
	case int16:
		return int64(x), true
	case int32:
		return int64(x), true
	case int64:
		return x, true
	case uint8:
		return int64(x), true
	case uint16:
		return int64(x), true
	case uint32:
		return int64(x), true
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}
