package protocol

// Arg is one typed request argument.
type Arg struct {
	Tag   Tag
	Value any
}

func Float32(v float32) Arg { return Arg{Tag: TagFloat32, Value: v} }
func Float64(v float64) Arg { return Arg{Tag: TagFloat64, Value: v} }
func Int32(v int32) Arg     { return Arg{Tag: TagInt32, Value: v} }
func Uint32(v uint32) Arg   { return Arg{Tag: TagUint32, Value: v} }
func Int16(v int16) Arg     { return Arg{Tag: TagInt16, Value: v} }
func Uint16(v uint16) Arg   { return Arg{Tag: TagUint16, Value: v} }
func Uint8(v uint8) Arg     { return Arg{Tag: TagUint8, Value: v} }
func String(v string) Arg   { return Arg{Tag: TagString, Value: v} }

// Bool encodes v as the instrument's uint32 flag convention.
func Bool(v bool) Arg {
	if v {
		return Uint32(1)
	}
	return Uint32(0)
}

func Float32s(v []float32) Arg    { return Arg{Tag: TagFloat32Array, Value: v} }
func Int32s(v []int32) Arg        { return Arg{Tag: TagInt32Array, Value: v} }
func Float32List(v []float32) Arg { return Arg{Tag: TagFloat32List, Value: v} }
func Int32List(v []int32) Arg     { return Arg{Tag: TagInt32List, Value: v} }
func StringList(v []string) Arg   { return Arg{Tag: TagStringList, Value: v} }
