package vm

import (
	"fmt"
	"math"
)

// run is the fetch-decode-execute loop. It returns once the outermost
// frame executes OP_RETURN or OP_HALT, or a RuntimeError propagates
// out uncaught (spec.md has no exception-handling opcodes, so the
// first error anywhere aborts the run).
func (v *VM) run() (Value, error) {
	for {
		frame := v.currentFrame()
		if frame.ip >= frame.closure.Function.Chunk.Len() {
			return Null, newError(InternalInvariant, 0, "instruction pointer ran past the end of the chunk")
		}
		op := Opcode(v.readByte())

		switch op {
		case OP_HALT:
			// Running off the end yields Null; slot 0 still holds the
			// script closure itself, which is not a result.
			return Null, nil

		case OP_RETURN:
			result := v.pop()
			finished := v.frames[len(v.frames)-1]
			v.closeUpvalues(finished.stackBase)
			v.frames = v.frames[:len(v.frames)-1]
			v.stack = v.stack[:finished.stackBase]
			if len(v.frames) == 0 {
				return result, nil
			}
			v.push(result)

		default:
			if err := v.executeOp(op); err != nil {
				return Null, err
			}
		}
	}
}

func (v *VM) readByte() byte {
	frame := v.currentFrame()
	b := frame.closure.Function.Chunk.Code[frame.ip]
	frame.ip++
	return b
}

func (v *VM) readConstant(idx byte) Value {
	return v.currentFrame().closure.Function.Chunk.Constants[idx]
}

func (v *VM) constantName(idx byte) string {
	val := v.readConstant(idx)
	if s, ok := val.Obj.(*StringObj); ok {
		return s.Value
	}
	return ""
}

// executeOp handles every opcode except OP_HALT/OP_RETURN, which the
// main loop short-circuits because they mutate the frame stack itself.
func (v *VM) executeOp(op Opcode) error {
	frame := v.currentFrame()
	line := v.currentLine()

	switch op {
	case OP_PUSH_CONST:
		idx := v.readByte()
		v.push(v.readConstant(idx))

	case OP_POP:
		v.pop()

	case OP_DUP:
		v.push(v.peek(0))

	case OP_ADD:
		return v.binaryAdd(line)
	case OP_SUB:
		return v.binaryNumeric(line, func(a, b float64) float64 { return a - b })
	case OP_MUL:
		return v.binaryNumeric(line, func(a, b float64) float64 { return a * b })
	case OP_DIV:
		return v.binaryDiv(line)
	case OP_MOD:
		return v.binaryMod(line)

	case OP_NEG:
		a := v.pop()
		if a.Type != ValNumber {
			return newError(TypeMismatch, line, "cannot negate a %s", a.RuntimeType())
		}
		v.push(NumberVal(-a.Num))

	case OP_EQ:
		b := v.pop()
		a := v.pop()
		v.push(BoolVal(a.Equals(b)))
	case OP_NEQ:
		b := v.pop()
		a := v.pop()
		v.push(BoolVal(!a.Equals(b)))

	case OP_LT:
		return v.compare(line, func(a, b float64) bool { return a < b })
	case OP_LTE:
		return v.compare(line, func(a, b float64) bool { return a <= b })
	case OP_GT:
		return v.compare(line, func(a, b float64) bool { return a > b })
	case OP_GTE:
		return v.compare(line, func(a, b float64) bool { return a >= b })

	case OP_NOT:
		a := v.pop()
		v.push(BoolVal(!a.IsTruthy()))

	case OP_LOAD:
		slot := v.readByte()
		v.push(v.stack[frame.stackBase+int(slot)])

	case OP_STORE:
		slot := v.readByte()
		v.stack[frame.stackBase+int(slot)] = v.peek(0)

	case OP_LOAD_GLOBAL:
		idx := v.readByte()
		name := v.constantName(idx)
		val, ok := v.globals[name]
		if !ok {
			return newError(UndefinedVariable, line, "undefined variable %q", name)
		}
		v.push(val)

	case OP_STORE_GLOBAL:
		idx := v.readByte()
		name := v.constantName(idx)
		v.globals[name] = v.peek(0)

	case OP_JUMP:
		offset := v.readByte()
		frame.ip += int(offset)

	case OP_JUMP_IF_FALSE:
		offset := v.readByte()
		if !v.peek(0).IsTruthy() {
			frame.ip += int(offset)
		}

	case OP_JUMP_IF_TRUE:
		offset := v.readByte()
		if v.peek(0).IsTruthy() {
			frame.ip += int(offset)
		}

	case OP_LOOP:
		offset := v.readByte()
		frame.ip -= int(offset)

	case OP_CALL:
		argCount := int(v.readByte())
		return v.call(argCount, line)

	case OP_MAKE_CLOSURE:
		return v.makeClosure(line)

	case OP_GET_UPVALUE:
		idx := v.readByte()
		v.push(v.readUpvalue(frame.closure.Upvalues[idx]))

	case OP_SET_UPVALUE:
		idx := v.readByte()
		v.writeUpvalue(frame.closure.Upvalues[idx], v.peek(0))

	case OP_CLOSE_UPVALUE:
		v.closeUpvalues(len(v.stack) - 1)
		v.pop()

	case OP_PRINT:
		val := v.pop()
		fmt.Fprintln(v.out, Stringify(val))

	case OP_EYEOF:
		val := v.pop()
		label := v.pop()
		labelStr := ""
		if s, ok := label.Obj.(*StringObj); ok {
			labelStr = s.Value
		}
		fmt.Fprintf(v.out, "%s:%s\n", labelStr, Stringify(val))

	case OP_MAKE_ARRAY:
		count := int(v.readByte())
		elems := make([]Value, count)
		for i := count - 1; i >= 0; i-- {
			elems[i] = v.pop()
		}
		v.push(ObjVal(&ArrayObj{Elements: elems}))

	case OP_MAKE_OBJECT:
		count := int(v.readByte())
		pairs := make([][2]Value, count)
		for i := count - 1; i >= 0; i-- {
			val := v.pop()
			key := v.pop()
			pairs[i] = [2]Value{key, val}
		}
		m := NewMapObj()
		for _, p := range pairs {
			keyStr, ok := p[0].Obj.(*StringObj)
			if !ok {
				return newError(TypeMismatch, line, "map keys must be strings, got %s", p[0].RuntimeType())
			}
			m.Set(keyStr.Value, p[1])
		}
		v.push(ObjVal(m))

	case OP_INDEX_GET:
		return v.indexGet(line)
	case OP_INDEX_SET:
		return v.indexSet(line)
	case OP_LENGTH:
		return v.length(line)
	case OP_GET_PROP:
		idx := v.readByte()
		return v.getProp(v.constantName(idx), line)
	case OP_SET_PROP:
		idx := v.readByte()
		return v.setProp(v.constantName(idx), line)

	case OP_IMPORT:
		idx := v.readByte()
		path := v.constantName(idx)
		if v.loader == nil {
			return newError(ModuleLoadFailure, line, "no module loader configured, cannot import %q", path)
		}
		exports, err := v.loader.Load(path, v.scriptDir)
		if err != nil {
			return wrapError(ModuleLoadFailure, line, err)
		}
		v.push(ObjVal(exports))

	case OP_EXPORT:
		idx := v.readByte()
		name := v.constantName(idx)
		v.exports.Set(name, v.pop())

	default:
		return newError(InternalInvariant, line, "unimplemented opcode %s", op)
	}
	return nil
}

func (v *VM) binaryAdd(line int) error {
	b := v.pop()
	a := v.pop()
	if a.Type == ValNumber && b.Type == ValNumber {
		v.push(NumberVal(a.Num + b.Num))
		return nil
	}
	if isStringValue(a) || isStringValue(b) {
		v.push(ObjVal(&StringObj{Value: Stringify(a) + Stringify(b)}))
		return nil
	}
	return newError(TypeMismatch, line, "cannot add %s and %s", a.RuntimeType(), b.RuntimeType())
}

func isStringValue(v Value) bool {
	_, ok := v.Obj.(*StringObj)
	return v.Type == ValObj && ok
}

func (v *VM) binaryNumeric(line int, f func(a, b float64) float64) error {
	b := v.pop()
	a := v.pop()
	if a.Type != ValNumber || b.Type != ValNumber {
		return newError(TypeMismatch, line, "expected numbers, got %s and %s", a.RuntimeType(), b.RuntimeType())
	}
	v.push(NumberVal(f(a.Num, b.Num)))
	return nil
}

func (v *VM) binaryDiv(line int) error {
	b := v.pop()
	a := v.pop()
	if a.Type != ValNumber || b.Type != ValNumber {
		return newError(TypeMismatch, line, "expected numbers, got %s and %s", a.RuntimeType(), b.RuntimeType())
	}
	if b.Num == 0 {
		return newError(DivisionByZero, line, "division by zero")
	}
	v.push(NumberVal(a.Num / b.Num))
	return nil
}

func (v *VM) binaryMod(line int) error {
	b := v.pop()
	a := v.pop()
	if a.Type != ValNumber || b.Type != ValNumber {
		return newError(TypeMismatch, line, "expected numbers, got %s and %s", a.RuntimeType(), b.RuntimeType())
	}
	if b.Num == 0 {
		return newError(DivisionByZero, line, "division by zero")
	}
	v.push(NumberVal(math.Mod(a.Num, b.Num)))
	return nil
}

func (v *VM) compare(line int, f func(a, b float64) bool) error {
	b := v.pop()
	a := v.pop()
	if a.Type != ValNumber || b.Type != ValNumber {
		return newError(TypeMismatch, line, "cannot compare %s and %s", a.RuntimeType(), b.RuntimeType())
	}
	v.push(BoolVal(f(a.Num, b.Num)))
	return nil
}

func (v *VM) readUpvalue(uv *Upvalue) Value {
	if uv.Closed {
		return uv.Value
	}
	return v.stack[uv.Location]
}

func (v *VM) writeUpvalue(uv *Upvalue, val Value) {
	if uv.Closed {
		uv.Value = val
		return
	}
	v.stack[uv.Location] = val
}

// captureUpvalue finds or creates the open Upvalue for stack slot
// location, keeping the VM's open-upvalue list sorted by descending
// location so multiple closures capturing the same local share one
// Upvalue (spec.md §4.3.1).
func (v *VM) captureUpvalue(location int) *Upvalue {
	var prev *Upvalue
	cur := v.openUpvalues
	for cur != nil && cur.Location > location {
		prev = cur
		cur = cur.Next
	}
	if cur != nil && cur.Location == location {
		return cur
	}
	created := &Upvalue{Location: location}
	created.Next = cur
	if prev == nil {
		v.openUpvalues = created
	} else {
		prev.Next = created
	}
	return created
}

func (v *VM) closeUpvalues(fromLocation int) {
	for v.openUpvalues != nil && v.openUpvalues.Location >= fromLocation {
		uv := v.openUpvalues
		uv.Close(v.stack)
		v.openUpvalues = uv.Next
	}
}

func (v *VM) makeClosure(line int) error {
	idx := v.readByte()
	protoVal := v.readConstant(idx)
	proto, ok := protoVal.Obj.(*BytecodeFunction)
	if !ok {
		return newError(CorruptBytecode, line, "MAKE_CLOSURE constant is not a function prototype")
	}
	frame := v.currentFrame()
	closure := &ClosureObj{Function: proto, Upvalues: make([]*Upvalue, proto.UpvalueCount)}
	for i := 0; i < proto.UpvalueCount; i++ {
		isLocal := v.readByte()
		index := v.readByte()
		if isLocal == 1 {
			closure.Upvalues[i] = v.captureUpvalue(frame.stackBase + int(index))
		} else {
			closure.Upvalues[i] = frame.closure.Upvalues[index]
		}
	}
	v.push(ObjVal(closure))
	return nil
}

func (v *VM) indexGet(line int) error {
	index := v.pop()
	target := v.pop()
	switch obj := target.Obj.(type) {
	case *ArrayObj:
		if index.Type != ValNumber {
			return newError(TypeMismatch, line, "array index must be a number, got %s", index.RuntimeType())
		}
		i := int(index.Num)
		if i < 0 || i >= len(obj.Elements) {
			return newError(IndexOutOfRange, line, "array index %d out of range [0, %d)", i, len(obj.Elements))
		}
		v.push(obj.Elements[i])
	case *MapObj:
		key, ok := index.Obj.(*StringObj)
		if !ok {
			return newError(TypeMismatch, line, "map key must be a string, got %s", index.RuntimeType())
		}
		if val, ok := obj.Get(key.Value); ok {
			v.push(val)
		} else {
			v.push(Null)
		}
	case *StringObj:
		if index.Type != ValNumber {
			return newError(TypeMismatch, line, "string index must be a number, got %s", index.RuntimeType())
		}
		runes := []rune(obj.Value)
		i := int(index.Num)
		if i < 0 || i >= len(runes) {
			return newError(IndexOutOfRange, line, "string index %d out of range [0, %d)", i, len(runes))
		}
		v.push(ObjVal(&StringObj{Value: string(runes[i])}))
	default:
		return newError(TypeMismatch, line, "cannot index into a %s", target.RuntimeType())
	}
	return nil
}

func (v *VM) indexSet(line int) error {
	index := v.pop()
	target := v.pop()
	value := v.pop()
	switch obj := target.Obj.(type) {
	case *ArrayObj:
		if index.Type != ValNumber {
			return newError(TypeMismatch, line, "array index must be a number, got %s", index.RuntimeType())
		}
		i := int(index.Num)
		if i < 0 || i >= len(obj.Elements) {
			return newError(IndexOutOfRange, line, "array index %d out of range [0, %d)", i, len(obj.Elements))
		}
		obj.Elements[i] = value
	case *MapObj:
		key, ok := index.Obj.(*StringObj)
		if !ok {
			return newError(TypeMismatch, line, "map key must be a string, got %s", index.RuntimeType())
		}
		obj.Set(key.Value, value)
	default:
		return newError(TypeMismatch, line, "cannot index-assign into a %s", target.RuntimeType())
	}
	v.push(value)
	return nil
}

func (v *VM) length(line int) error {
	target := v.pop()
	switch obj := target.Obj.(type) {
	case *ArrayObj:
		v.push(NumberVal(float64(len(obj.Elements))))
	case *MapObj:
		v.push(NumberVal(float64(len(obj.Keys))))
	case *StringObj:
		v.push(NumberVal(float64(len([]rune(obj.Value)))))
	default:
		return newError(TypeMismatch, line, "cannot take the length of a %s", target.RuntimeType())
	}
	return nil
}

func (v *VM) getProp(name string, line int) error {
	target := v.pop()
	switch obj := target.Obj.(type) {
	case *MapObj:
		if val, ok := obj.Get(name); ok {
			v.push(val)
		} else {
			v.push(Null)
		}
	case *ArrayObj:
		if name == "length" {
			v.push(NumberVal(float64(len(obj.Elements))))
			return nil
		}
		return newError(TypeMismatch, line, "array has no property %q", name)
	case *StringObj:
		if name == "length" {
			v.push(NumberVal(float64(len([]rune(obj.Value)))))
			return nil
		}
		return newError(TypeMismatch, line, "string has no property %q", name)
	default:
		return newError(TypeMismatch, line, "cannot read property %q of a %s", name, target.RuntimeType())
	}
	return nil
}

func (v *VM) setProp(name string, line int) error {
	target := v.pop()
	value := v.pop()
	m, ok := target.Obj.(*MapObj)
	if !ok {
		return newError(TypeMismatch, line, "cannot set property %q on a %s", name, target.RuntimeType())
	}
	m.Set(name, value)
	v.push(value)
	return nil
}
