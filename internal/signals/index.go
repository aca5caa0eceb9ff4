package signals

import (
	"errors"
	"fmt"
)

// MaxIndex is the highest instrument signal slot.
const MaxIndex = 127

var ErrIndexOutOfRange = errors.New("signals: index out of range")

// Index is an instrument signal slot, 0 to MaxIndex.
type Index uint8

func NewIndex(i int) (Index, error) {
	if i < 0 || i > MaxIndex {
		return 0, fmt.Errorf("%w: %d", ErrIndexOutOfRange, i)
	}
	return Index(i), nil
}

// MustIndex is NewIndex for constants; it panics on an out-of-range value.
func MustIndex(i int) Index {
	idx, err := NewIndex(i)
	if err != nil {
		panic(err)
	}
	return idx
}

func (i Index) Int() int {
	return int(i)
}

// Ints converts a slice of indexes for the command helpers.
func Ints(idx []Index) []int {
	out := make([]int, len(idx))
	for i, v := range idx {
		out[i] = int(v)
	}
	return out
}
