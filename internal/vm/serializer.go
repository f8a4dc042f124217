package vm

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// Bytecode container format (spec.md §4.4): a versioned, big-endian,
// byte-oriented binary holding the function graph (main + every nested
// BytecodeFunction reachable through the constant pool) pre-order
// flattened, with constants, code and a line table per function.
const (
	magic          = "TMBDL"
	formatVersion  = byte(1)
	tagNull        = byte(0x00)
	tagBool        = byte(0x01)
	tagNumber      = byte(0x02)
	tagString      = byte(0x03)
	tagFunction    = byte(0x04)
)

// Serialize flattens the function graph rooted at main into the binary
// container described by spec.md §4.4.
func Serialize(main *BytecodeFunction) ([]byte, error) {
	var functions []*BytecodeFunction
	indices := make(map[*BytecodeFunction]uint32)
	var collect func(fn *BytecodeFunction)
	collect = func(fn *BytecodeFunction) {
		if _, seen := indices[fn]; seen {
			return
		}
		indices[fn] = uint32(len(functions))
		functions = append(functions, fn)
		for _, c := range fn.Chunk.Constants {
			if nested, ok := c.Obj.(*BytecodeFunction); ok {
				collect(nested)
			}
		}
	}
	collect(main)

	var buf bytes.Buffer
	buf.WriteString(magic)
	buf.WriteByte(formatVersion)
	writeU32(&buf, uint32(len(functions)))
	for _, fn := range functions {
		if err := writeFunction(&buf, fn, indices); err != nil {
			return nil, err
		}
	}
	writeU32(&buf, indices[main])
	return buf.Bytes(), nil
}

func writeFunction(buf *bytes.Buffer, fn *BytecodeFunction, indices map[*BytecodeFunction]uint32) error {
	writeString(buf, fn.Name)
	writeU16(buf, uint16(fn.Arity))
	writeU16(buf, uint16(fn.UpvalueCount))
	writeU32(buf, uint32(len(fn.Chunk.Constants)))
	for _, c := range fn.Chunk.Constants {
		if err := writeConstant(buf, c, indices); err != nil {
			return err
		}
	}
	writeU32(buf, uint32(len(fn.Chunk.Code)))
	buf.Write(fn.Chunk.Code)
	writeU32(buf, uint32(len(fn.Chunk.Lines)))
	for _, ln := range fn.Chunk.Lines {
		writeU16(buf, uint16(ln))
	}
	return nil
}

func writeConstant(buf *bytes.Buffer, v Value, indices map[*BytecodeFunction]uint32) error {
	switch v.Type {
	case ValNull:
		buf.WriteByte(tagNull)
	case ValBool:
		buf.WriteByte(tagBool)
		if v.Bool {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
	case ValNumber:
		buf.WriteByte(tagNumber)
		writeU64(buf, doubleBits(v.Num))
	case ValObj:
		switch obj := v.Obj.(type) {
		case *StringObj:
			buf.WriteByte(tagString)
			writeString(buf, obj.Value)
		case *BytecodeFunction:
			buf.WriteByte(tagFunction)
			idx, ok := indices[obj]
			if !ok {
				return fmt.Errorf("serialize: nested function not reachable from main")
			}
			writeU32(buf, idx)
		default:
			return fmt.Errorf("serialize: constant pool entries must be null/bool/number/string/function, got %s", v.RuntimeType())
		}
	default:
		return fmt.Errorf("serialize: unknown value type %d", v.Type)
	}
	return nil
}

func writeString(buf *bytes.Buffer, s string) {
	writeU32(buf, uint32(len(s)))
	buf.WriteString(s)
}

func writeU16(buf *bytes.Buffer, n uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], n)
	buf.Write(b[:])
}

func writeU32(buf *bytes.Buffer, n uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], n)
	buf.Write(b[:])
}

func writeU64(buf *bytes.Buffer, n uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], n)
	buf.Write(b[:])
}

// rawFunction is a function record as read from the wire, before the
// fixup pass installs real *BytecodeFunction references for its
// tagFunction constants (spec.md §4.4: "deserialization ... performs a
// fixup pass").
type rawFunction struct {
	name         string
	arity        uint16
	upvalueCount uint16
	constants    []Value
	funcRefs     map[int]uint32 // constant-pool index -> target function index
	code         []byte
	lines        []int
}

// Deserialize reconstructs the function graph from bytes produced by
// Serialize, returning the main function. Any structural problem —
// bad magic, version mismatch, truncated input, unknown constant tag —
// is a CorruptBytecode error (spec.md §4.4 "Compatibility rules").
func Deserialize(data []byte) (*BytecodeFunction, error) {
	r := &byteReader{data: data}

	gotMagic, err := r.readN(len(magic))
	if err != nil || string(gotMagic) != magic {
		return nil, newError(CorruptBytecode, 0, "bad magic header")
	}
	version, err := r.readByte()
	if err != nil {
		return nil, newError(CorruptBytecode, 0, "truncated header")
	}
	if version != formatVersion {
		return nil, newError(CorruptBytecode, 0, "unsupported bytecode version %d", version)
	}

	count, err := r.readU32()
	if err != nil {
		return nil, newError(CorruptBytecode, 0, "truncated function count")
	}

	raws := make([]*rawFunction, count)
	for i := uint32(0); i < count; i++ {
		raw, err := readRawFunction(r)
		if err != nil {
			return nil, err
		}
		raws[i] = raw
	}

	mainIndex, err := r.readU32()
	if err != nil {
		return nil, newError(CorruptBytecode, 0, "truncated main index")
	}
	if mainIndex >= count {
		return nil, newError(CorruptBytecode, 0, "main index %d out of range", mainIndex)
	}

	fns := make([]*BytecodeFunction, count)
	for i, raw := range raws {
		fns[i] = &BytecodeFunction{
			Name:         raw.name,
			Arity:        int(raw.arity),
			UpvalueCount: int(raw.upvalueCount),
			Chunk: &Chunk{
				Constants: raw.constants,
				Code:      raw.code,
				Lines:     raw.lines,
			},
		}
	}
	// Fixup pass: install real BytecodeFunction pointers in place of
	// the placeholder function-index constants.
	for i, raw := range raws {
		for constIdx, targetIdx := range raw.funcRefs {
			if int(targetIdx) >= len(fns) {
				return nil, newError(CorruptBytecode, 0, "function constant references out-of-range index %d", targetIdx)
			}
			fns[i].Chunk.Constants[constIdx] = ObjVal(fns[targetIdx])
		}
	}
	return fns[mainIndex], nil
}

func readRawFunction(r *byteReader) (*rawFunction, error) {
	name, err := r.readString()
	if err != nil {
		return nil, newError(CorruptBytecode, 0, "truncated function name")
	}
	arity, err := r.readU16()
	if err != nil {
		return nil, newError(CorruptBytecode, 0, "truncated arity")
	}
	upvalCount, err := r.readU16()
	if err != nil {
		return nil, newError(CorruptBytecode, 0, "truncated upvalue count")
	}
	constCount, err := r.readU32()
	if err != nil {
		return nil, newError(CorruptBytecode, 0, "truncated constant count")
	}
	constants := make([]Value, constCount)
	funcRefs := make(map[int]uint32)
	for i := uint32(0); i < constCount; i++ {
		tag, err := r.readByte()
		if err != nil {
			return nil, newError(CorruptBytecode, 0, "truncated constant tag")
		}
		switch tag {
		case tagNull:
			constants[i] = Null
		case tagBool:
			b, err := r.readByte()
			if err != nil {
				return nil, newError(CorruptBytecode, 0, "truncated bool constant")
			}
			constants[i] = BoolVal(b != 0)
		case tagNumber:
			bits, err := r.readU64()
			if err != nil {
				return nil, newError(CorruptBytecode, 0, "truncated number constant")
			}
			constants[i] = NumberVal(bitsToDouble(bits))
		case tagString:
			s, err := r.readString()
			if err != nil {
				return nil, newError(CorruptBytecode, 0, "truncated string constant")
			}
			constants[i] = ObjVal(&StringObj{Value: s})
		case tagFunction:
			idx, err := r.readU32()
			if err != nil {
				return nil, newError(CorruptBytecode, 0, "truncated function constant")
			}
			funcRefs[int(i)] = idx
		default:
			return nil, newError(CorruptBytecode, 0, "unknown constant tag 0x%02x", tag)
		}
	}
	codeLen, err := r.readU32()
	if err != nil {
		return nil, newError(CorruptBytecode, 0, "truncated code length")
	}
	code, err := r.readN(int(codeLen))
	if err != nil {
		return nil, newError(CorruptBytecode, 0, "truncated code")
	}
	lineCount, err := r.readU32()
	if err != nil {
		return nil, newError(CorruptBytecode, 0, "truncated line count")
	}
	lines := make([]int, lineCount)
	for i := uint32(0); i < lineCount; i++ {
		ln, err := r.readU16()
		if err != nil {
			return nil, newError(CorruptBytecode, 0, "truncated line table")
		}
		lines[i] = int(ln)
	}
	return &rawFunction{
		name: name, arity: arity, upvalueCount: upvalCount,
		constants: constants, funcRefs: funcRefs,
		code: append([]byte(nil), code...), lines: lines,
	}, nil
}

// byteReader is a tiny cursor over a byte slice; every read can fail
// with io.ErrUnexpectedEOF on truncated input, which callers turn into
// a CorruptBytecode error.
type byteReader struct {
	data []byte
	pos  int
}

func (r *byteReader) readN(n int) ([]byte, error) {
	if r.pos+n > len(r.data) {
		return nil, io.ErrUnexpectedEOF
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func (r *byteReader) readByte() (byte, error) {
	b, err := r.readN(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *byteReader) readU16() (uint16, error) {
	b, err := r.readN(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (r *byteReader) readU32() (uint32, error) {
	b, err := r.readN(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (r *byteReader) readU64() (uint64, error) {
	b, err := r.readN(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

func (r *byteReader) readString() (string, error) {
	n, err := r.readU32()
	if err != nil {
		return "", err
	}
	b, err := r.readN(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func doubleBits(f float64) uint64 { return math.Float64bits(f) }

func bitsToDouble(b uint64) float64 { return math.Float64frombits(b) }
