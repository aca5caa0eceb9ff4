package protocol

import "fmt"

// Value is one decoded argument or return value.
type Value struct {
	Tag  Tag
	data any
}

// Raw returns the decoded Go value: float64, int64, string, []float32,
// []float64, []int64 or []string.
func (v Value) Raw() any {
	return v.data
}

func (v Value) Float64() (float64, error) {
	f, ok := v.data.(float64)
	if !ok {
		return 0, v.mismatch("float")
	}
	return f, nil
}

func (v Value) Float32() (float32, error) {
	f, err := v.Float64()
	return float32(f), err
}

func (v Value) Int() (int64, error) {
	n, ok := v.data.(int64)
	if !ok {
		return 0, v.mismatch("integer")
	}
	return n, nil
}

func (v Value) Bool() (bool, error) {
	n, err := v.Int()
	return n != 0, err
}

func (v Value) String() (string, error) {
	s, ok := v.data.(string)
	if !ok {
		return "", v.mismatch("string")
	}
	return s, nil
}

func (v Value) Float32s() ([]float32, error) {
	switch xs := v.data.(type) {
	case []float32:
		return xs, nil
	case []float64:
		out := make([]float32, len(xs))
		for i, x := range xs {
			out[i] = float32(x)
		}
		return out, nil
	}
	return nil, v.mismatch("float array")
}

func (v Value) Float64s() ([]float64, error) {
	switch xs := v.data.(type) {
	case []float64:
		return xs, nil
	case []float32:
		out := make([]float64, len(xs))
		for i, x := range xs {
			out[i] = float64(x)
		}
		return out, nil
	}
	return nil, v.mismatch("float array")
}

func (v Value) Ints() ([]int64, error) {
	xs, ok := v.data.([]int64)
	if !ok {
		return nil, v.mismatch("integer array")
	}
	return xs, nil
}

func (v Value) Strings() ([]string, error) {
	xs, ok := v.data.([]string)
	if !ok {
		return nil, v.mismatch("string array")
	}
	return xs, nil
}

func (v Value) mismatch(want string) error {
	return fmt.Errorf("%w: %q is not %s", ErrFieldTypeMismatch, v.Tag, want)
}

// Reply is the decoded return-value list of one call.
type Reply struct {
	Command string
	Values  []Value
}

func (r Reply) Value(i int) (Value, error) {
	if i < 0 || i >= len(r.Values) {
		return Value{}, fmt.Errorf("%w: %s[%d]", ErrMissingValue, r.Command, i)
	}
	return r.Values[i], nil
}

func (r Reply) Float32(i int) (float32, error) {
	v, err := r.Value(i)
	if err != nil {
		return 0, err
	}
	return v.Float32()
}

func (r Reply) Float64(i int) (float64, error) {
	v, err := r.Value(i)
	if err != nil {
		return 0, err
	}
	return v.Float64()
}

func (r Reply) Int(i int) (int64, error) {
	v, err := r.Value(i)
	if err != nil {
		return 0, err
	}
	return v.Int()
}

func (r Reply) Bool(i int) (bool, error) {
	v, err := r.Value(i)
	if err != nil {
		return false, err
	}
	return v.Bool()
}

func (r Reply) String(i int) (string, error) {
	v, err := r.Value(i)
	if err != nil {
		return "", err
	}
	return v.String()
}

func (r Reply) Float32s(i int) ([]float32, error) {
	v, err := r.Value(i)
	if err != nil {
		return nil, err
	}
	return v.Float32s()
}

func (r Reply) Strings(i int) ([]string, error) {
	v, err := r.Value(i)
	if err != nil {
		return nil, err
	}
	return v.Strings()
}
