package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// DefaultMaxBody bounds how much a single reply may allocate.
const DefaultMaxBody = 16 * 1024 * 1024

// DecodeResponse reads one reply for command and decodes its body using the
// caller-declared return tags.
func DecodeResponse(r io.Reader, command string, returns []Tag, maxBody int) (Reply, error) {
	if maxBody <= 0 {
		maxBody = DefaultMaxBody
	}
	headerBytes := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, headerBytes); err != nil {
		return Reply{}, readErr(command, err)
	}
	head := ResponseHeader{
		Command:   decodeName(headerBytes[:NameSize]),
		BodySize:  int32(binary.BigEndian.Uint32(headerBytes[32:36])),
		ErrorCode: binary.BigEndian.Uint32(headerBytes[36:40]),
	}
	if head.Command != command {
		return Reply{}, &ProtocolError{
			Command: command,
			Err:     ErrReplyMismatch,
			Detail:  fmt.Sprintf("got %q", head.Command),
		}
	}
	if head.BodySize < 0 {
		return Reply{}, wrapProtocol(command, ErrInvalidLength, "negative body size")
	}
	if int(head.BodySize) > maxBody {
		return Reply{}, wrapProtocol(command, ErrBodyTooLarge, fmt.Sprintf("%d bytes", head.BodySize))
	}

	body := make([]byte, head.BodySize)
	if _, err := io.ReadFull(r, body); err != nil {
		return Reply{}, readErr(command, midFrame(err))
	}
	if head.ErrorCode != 0 {
		return Reply{}, &ProtocolError{
			Command: command,
			Code:    head.ErrorCode,
			Detail:  string(bytes.TrimRight(body, "\x00")),
			Err:     ErrRemote,
		}
	}

	values, err := decodeValues(body, returns)
	if err != nil {
		return Reply{}, wrapProtocol(command, err, "")
	}
	return Reply{Command: command, Values: values}, nil
}

// DecodeRequest reads one request frame and splits the body by the argument
// size table. Used by instrument-side fakes and tests.
func DecodeRequest(r io.Reader, maxBody int) (RequestHeader, [][]byte, error) {
	if maxBody <= 0 {
		maxBody = DefaultMaxBody
	}
	headerBytes := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, headerBytes); err != nil {
		return RequestHeader{}, nil, err
	}
	head := RequestHeader{
		Command:      decodeName(headerBytes[:NameSize]),
		BodySize:     int32(binary.BigEndian.Uint32(headerBytes[32:36])),
		SendResponse: binary.BigEndian.Uint16(headerBytes[36:38]) != 0,
		ArgCount:     binary.BigEndian.Uint16(headerBytes[38:40]),
	}
	if head.BodySize < 0 || int(head.BodySize) > maxBody {
		return head, nil, wrapProtocol(head.Command, ErrInvalidLength, "body size")
	}
	body := make([]byte, head.BodySize)
	if _, err := io.ReadFull(r, body); err != nil {
		return head, nil, readErr(head.Command, midFrame(err))
	}

	tableLen := 4 * int(head.ArgCount)
	if tableLen > len(body) {
		return head, nil, wrapProtocol(head.Command, ErrTruncated, "size table")
	}
	args := make([][]byte, head.ArgCount)
	offset := tableLen
	for i := range args {
		n := int(binary.BigEndian.Uint32(body[4*i : 4*i+4]))
		if n > len(body)-offset {
			return head, nil, wrapProtocol(head.Command, ErrTruncated, fmt.Sprintf("arg %d", i))
		}
		args[i] = body[offset : offset+n]
		offset += n
	}
	if offset != len(body) {
		return head, nil, wrapProtocol(head.Command, ErrTrailingBytes, "")
	}
	return head, args, nil
}

// DecodeArgs decodes raw request arguments. Fixed-count arrays take their
// count from the argument size.
func DecodeArgs(command string, raw [][]byte, tags []Tag) ([]Value, error) {
	if len(raw) != len(tags) {
		return nil, wrapProtocol(command, ErrInvalidLength, fmt.Sprintf("got %d args want %d", len(raw), len(tags)))
	}
	out := make([]Value, len(raw))
	for i, b := range raw {
		shape, err := parseTag(tags[i])
		if err != nil {
			return nil, wrapProtocol(command, err, "")
		}
		count := -1
		if shape.count == countFixed {
			size := shape.elem.size()
			if len(b)%size != 0 {
				return nil, wrapProtocol(command, ErrInvalidLength, fmt.Sprintf("arg %d", i))
			}
			count = len(b) / size
		}
		d := decoder{buf: b}
		v, err := d.value(tags[i], shape, count)
		if err != nil {
			return nil, wrapProtocol(command, err, fmt.Sprintf("arg %d", i))
		}
		if d.off != len(b) {
			return nil, wrapProtocol(command, ErrTrailingBytes, fmt.Sprintf("arg %d", i))
		}
		out[i] = v
	}
	return out, nil
}

func decodeValues(body []byte, tags []Tag) ([]Value, error) {
	d := decoder{buf: body}
	out := make([]Value, 0, len(tags))
	lastCount := int64(-1)
	for _, tag := range tags {
		shape, err := parseTag(tag)
		if err != nil {
			return nil, err
		}
		count := -1
		if shape.count == countFixed {
			if lastCount < 0 {
				return nil, fmt.Errorf("%w: %q", ErrMissingCount, tag)
			}
			count = int(lastCount)
		}
		v, err := d.value(tag, shape, count)
		if err != nil {
			return nil, err
		}
		if !shape.isArray() && shape.elem.integer() {
			lastCount = v.data.(int64)
		}
		out = append(out, v)
	}
	if d.off != len(body) {
		return nil, fmt.Errorf("%w: %d", ErrTrailingBytes, len(body)-d.off)
	}
	return out, nil
}

type decoder struct {
	buf []byte
	off int
}

func (d *decoder) take(n int) ([]byte, error) {
	if n < 0 || n > len(d.buf)-d.off {
		return nil, ErrTruncated
	}
	b := d.buf[d.off : d.off+n]
	d.off += n
	return b, nil
}

func (d *decoder) value(tag Tag, shape tagShape, count int) (Value, error) {
	if !shape.isArray() {
		v, err := d.scalar(shape.elem)
		if err != nil {
			return Value{}, err
		}
		return Value{Tag: tag, data: v}, nil
	}
	if shape.count == countPrefixed {
		b, err := d.take(4)
		if err != nil {
			return Value{}, err
		}
		count = int(int32(binary.BigEndian.Uint32(b)))
	}
	if count < 0 {
		return Value{}, fmt.Errorf("%w: negative count %d", ErrInvalidLength, count)
	}
	// Reject counts that cannot fit before allocating.
	if size := shape.elem.size(); size > 0 && count > (len(d.buf)-d.off)/size {
		return Value{}, ErrTruncated
	}
	if shape.elem == elemString && count > (len(d.buf)-d.off)/4 {
		return Value{}, ErrTruncated
	}

	switch shape.elem {
	case elemFloat32:
		out := make([]float32, count)
		for i := range out {
			v, err := d.scalar(shape.elem)
			if err != nil {
				return Value{}, err
			}
			out[i] = float32(v.(float64))
		}
		return Value{Tag: tag, data: out}, nil
	case elemFloat64:
		out := make([]float64, count)
		for i := range out {
			v, err := d.scalar(shape.elem)
			if err != nil {
				return Value{}, err
			}
			out[i] = v.(float64)
		}
		return Value{Tag: tag, data: out}, nil
	case elemString:
		out := make([]string, count)
		for i := range out {
			v, err := d.scalar(shape.elem)
			if err != nil {
				return Value{}, err
			}
			out[i] = v.(string)
		}
		return Value{Tag: tag, data: out}, nil
	default:
		out := make([]int64, count)
		for i := range out {
			v, err := d.scalar(shape.elem)
			if err != nil {
				return Value{}, err
			}
			out[i] = v.(int64)
		}
		return Value{Tag: tag, data: out}, nil
	}
}

// scalar returns float64 for f/d, int64 for integers and string for +c.
func (d *decoder) scalar(elem elemKind) (any, error) {
	switch elem {
	case elemString:
		b, err := d.take(4)
		if err != nil {
			return nil, err
		}
		n := int(int32(binary.BigEndian.Uint32(b)))
		s, err := d.take(n)
		if err != nil {
			return nil, err
		}
		return string(s), nil
	}
	b, err := d.take(elem.size())
	if err != nil {
		return nil, err
	}
	switch elem {
	case elemFloat32:
		return float64(math.Float32frombits(binary.BigEndian.Uint32(b))), nil
	case elemFloat64:
		return math.Float64frombits(binary.BigEndian.Uint64(b)), nil
	case elemInt32:
		return int64(int32(binary.BigEndian.Uint32(b))), nil
	case elemUint32:
		return int64(binary.BigEndian.Uint32(b)), nil
	case elemInt16:
		return int64(int16(binary.BigEndian.Uint16(b))), nil
	case elemUint16:
		return int64(binary.BigEndian.Uint16(b)), nil
	case elemUint8:
		return int64(b[0]), nil
	}
	return nil, ErrUnknownTag
}

func decodeName(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

// readErr maps a frame cut short into ErrTruncated. A clean io.EOF before any
// header byte is returned as is: the peer closed the connection.
func readErr(command string, err error) error {
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return wrapProtocol(command, ErrTruncated, err.Error())
	}
	return err
}

func midFrame(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}
