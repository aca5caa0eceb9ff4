// Package frame owns the data-stream wire format: a fixed 32-byte header
// followed by channel-major float32 samples.
package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

const (
	FixedHeaderLen uint16 = 32
	Magic          uint32 = 0x5350_4D31
	Version        uint16 = 1

	DefaultPort = 6590

	FlagOversampled uint32 = 0x01
	FlagEndOfStream uint32 = 0x02
)

var (
	ErrShortHeader     = errors.New("frame: short fixed header")
	ErrInvalidMagic    = errors.New("frame: invalid magic")
	ErrUnsupported     = errors.New("frame: unsupported version")
	ErrPayloadTooLarge = errors.New("frame: payload too large")
	ErrPayloadMismatch = errors.New("frame: payload length does not match shape")
	ErrShortPayload    = errors.New("frame: short payload")
)

// Header is the fixed wire header.
type Header struct {
	Magic      uint32
	Version    uint16
	Channels   uint16
	Counter    uint64
	Samples    uint32
	Flags      uint32
	PayloadLen uint64
}

// Frame is one decoded push from the data stream. Data[c] holds the samples
// of channel c in arrival order.
type Frame struct {
	Counter uint64
	Flags   uint32
	Data    [][]float32
}

// Limits constrains frame decode/encode memory use.
type Limits struct {
	MaxChannels     uint16
	MaxPayloadBytes uint64
}

func DefaultLimits() Limits {
	return Limits{
		MaxChannels:     24,
		MaxPayloadBytes: 4 * 1024 * 1024,
	}
}

// Channels returns the channel count of f.
func (f Frame) Channels() int {
	return len(f.Data)
}

// SamplesPerChannel returns the sample count of the first channel.
func (f Frame) SamplesPerChannel() int {
	if len(f.Data) == 0 {
		return 0
	}
	return len(f.Data[0])
}

func ReadFrame(r io.Reader, limits Limits) (Frame, error) {
	var fixed [FixedHeaderLen]byte
	if _, err := io.ReadFull(r, fixed[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return Frame{}, ErrShortHeader
		}
		return Frame{}, err
	}

	h, err := DecodeHeader(fixed[:])
	if err != nil {
		return Frame{}, err
	}
	if h.Magic != Magic {
		return Frame{}, ErrInvalidMagic
	}
	if h.Version != Version {
		return Frame{}, ErrUnsupported
	}
	if h.Channels > limits.MaxChannels || h.PayloadLen > limits.MaxPayloadBytes {
		return Frame{}, ErrPayloadTooLarge
	}
	if h.PayloadLen != uint64(h.Channels)*uint64(h.Samples)*4 {
		return Frame{}, ErrPayloadMismatch
	}

	payload := make([]byte, h.PayloadLen)
	if h.PayloadLen > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return Frame{}, fmt.Errorf("%w: %v", ErrShortPayload, err)
		}
	}

	data := make([][]float32, h.Channels)
	off := 0
	for c := range data {
		ch := make([]float32, h.Samples)
		for i := range ch {
			ch[i] = math.Float32frombits(binary.BigEndian.Uint32(payload[off : off+4]))
			off += 4
		}
		data[c] = ch
	}
	return Frame{Counter: h.Counter, Flags: h.Flags, Data: data}, nil
}

func WriteFrame(w io.Writer, f Frame, limits Limits) error {
	channels := len(f.Data)
	samples := f.SamplesPerChannel()
	for _, ch := range f.Data {
		if len(ch) != samples {
			return ErrPayloadMismatch
		}
	}
	payloadLen := uint64(channels) * uint64(samples) * 4
	if channels > int(limits.MaxChannels) || payloadLen > limits.MaxPayloadBytes {
		return ErrPayloadTooLarge
	}

	h := Header{
		Magic:      Magic,
		Version:    Version,
		Channels:   uint16(channels),
		Counter:    f.Counter,
		Samples:    uint32(samples),
		Flags:      f.Flags,
		PayloadLen: payloadLen,
	}
	buf := make([]byte, 0, int(FixedHeaderLen)+int(payloadLen))
	buf = append(buf, EncodeHeader(h)...)
	for _, ch := range f.Data {
		for _, v := range ch {
			buf = binary.BigEndian.AppendUint32(buf, math.Float32bits(v))
		}
	}
	_, err := w.Write(buf)
	return err
}

func EncodeHeader(h Header) []byte {
	buf := make([]byte, FixedHeaderLen)
	binary.BigEndian.PutUint32(buf[0:4], h.Magic)
	binary.BigEndian.PutUint16(buf[4:6], h.Version)
	binary.BigEndian.PutUint16(buf[6:8], h.Channels)
	binary.BigEndian.PutUint64(buf[8:16], h.Counter)
	binary.BigEndian.PutUint32(buf[16:20], h.Samples)
	binary.BigEndian.PutUint32(buf[20:24], h.Flags)
	binary.BigEndian.PutUint64(buf[24:32], h.PayloadLen)
	return buf
}

func DecodeHeader(b []byte) (Header, error) {
	if len(b) != int(FixedHeaderLen) {
		return Header{}, fmt.Errorf("frame: invalid fixed header length: %d", len(b))
	}
	return Header{
		Magic:      binary.BigEndian.Uint32(b[0:4]),
		Version:    binary.BigEndian.Uint16(b[4:6]),
		Channels:   binary.BigEndian.Uint16(b[6:8]),
		Counter:    binary.BigEndian.Uint64(b[8:16]),
		Samples:    binary.BigEndian.Uint32(b[16:20]),
		Flags:      binary.BigEndian.Uint32(b[20:24]),
		PayloadLen: binary.BigEndian.Uint64(b[24:32]),
	}, nil
}
