package vm

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ValueType tags the variant held by a Value.
type ValueType byte

const (
	ValNull ValueType = iota
	ValBool
	ValNumber
	ValObj
)

// Value is Tmbdl's tagged-union runtime representation (spec.md §3.1).
// Null, Bool and Number live inline so they never allocate; everything
// else is boxed behind Obj.
type Value struct {
	Type ValueType
	Num  float64
	Bool bool
	Obj  Obj
}

// Obj is the interface every heap-allocated Value variant implements.
type Obj interface {
	objType() string
}

var Null = Value{Type: ValNull}

func BoolVal(b bool) Value { return Value{Type: ValBool, Bool: b} }

func NumberVal(n float64) Value { return Value{Type: ValNumber, Num: n} }

func ObjVal(o Obj) Value { return Value{Type: ValObj, Obj: o} }

func (v Value) IsNull() bool { return v.Type == ValNull }

// IsTruthy implements spec.md's truthiness rule: null, false, 0 and ""
// are falsy; every other value (arrays, maps, callables included) is
// truthy.
func (v Value) IsTruthy() bool {
	switch v.Type {
	case ValNull:
		return false
	case ValBool:
		return v.Bool
	case ValNumber:
		return v.Num != 0
	default:
		if s, ok := v.Obj.(*StringObj); ok {
			return s.Value != ""
		}
		return true
	}
}

func (v Value) RuntimeType() string {
	switch v.Type {
	case ValNull:
		return "null"
	case ValBool:
		return "bool"
	case ValNumber:
		return "number"
	case ValObj:
		return v.Obj.objType()
	default:
		return "unknown"
	}
}

// Equals implements strict, non-coercing equality (Open Question
// decision #3 in DESIGN.md): Number compares by value, Bool by value,
// Null equals only Null, and every Obj variant compares by identity
// except String, which compares by content.
func (v Value) Equals(other Value) bool {
	if v.Type != other.Type {
		return false
	}
	switch v.Type {
	case ValNull:
		return true
	case ValBool:
		return v.Bool == other.Bool
	case ValNumber:
		return v.Num == other.Num
	case ValObj:
		if vs, ok := v.Obj.(*StringObj); ok {
			if os, ok := other.Obj.(*StringObj); ok {
				return vs.Value == os.Value
			}
			return false
		}
		return v.Obj == other.Obj
	default:
		return false
	}
}

// Stringify is the canonical display formatter shared by PRINT, EYEOF,
// and string-coercing ADD (SPEC_FULL.md §5).
func Stringify(v Value) string {
	switch v.Type {
	case ValNull:
		return "null"
	case ValBool:
		if v.Bool {
			return "true"
		}
		return "false"
	case ValNumber:
		return formatNumber(v.Num)
	case ValObj:
		return stringifyObj(v.Obj)
	default:
		return "?"
	}
}

func formatNumber(n float64) string {
	if math.IsInf(n, 1) {
		return "Infinity"
	}
	if math.IsInf(n, -1) {
		return "-Infinity"
	}
	if math.IsNaN(n) {
		return "NaN"
	}
	if n == math.Trunc(n) && math.Abs(n) < 1e15 {
		return strconv.FormatFloat(n, 'f', -1, 64)
	}
	return strconv.FormatFloat(n, 'g', -1, 64)
}

func stringifyObj(o Obj) string {
	switch obj := o.(type) {
	case *StringObj:
		return obj.Value
	case *ArrayObj:
		parts := make([]string, len(obj.Elements))
		for i, e := range obj.Elements {
			parts[i] = Stringify(e)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case *MapObj:
		parts := make([]string, 0, len(obj.Keys))
		for _, k := range obj.Keys {
			parts = append(parts, fmt.Sprintf("%s: %s", k, Stringify(obj.Values[k])))
		}
		return "{" + strings.Join(parts, ", ") + "}"
	case *NativeFunction:
		return fmt.Sprintf("<native %s>", obj.Name)
	case *BytecodeFunction:
		name := obj.Name
		if name == "" {
			name = "anonymous"
		}
		return fmt.Sprintf("<function %s>", name)
	case *ClosureObj:
		return stringifyObj(obj.Function)
	default:
		return "<object>"
	}
}
