package vm

// call dispatches OP_CALL based on the callee's runtime type: a native
// function invokes synchronously and leaves its result on the stack;
// a closure pushes a new Frame and lets the main loop continue fetching
// from it (spec.md §4.2.3).
func (v *VM) call(argCount int, line int) error {
	callee := v.peek(argCount)
	switch obj := callee.Obj.(type) {
	case *NativeFunction:
		return v.callNative(obj, argCount, line)
	case *ClosureObj:
		return v.callClosure(obj, argCount, line)
	default:
		return newError(TypeMismatch, line, "cannot call a %s", callee.RuntimeType())
	}
}

// callNative pops the arguments into a contiguous left-to-right slice,
// pops the callee, invokes the Go function, and pushes its result
// (spec.md §4.3.2). Arity -1 means variadic and skips the check.
func (v *VM) callNative(fn *NativeFunction, argCount int, line int) error {
	if fn.Arity >= 0 && argCount != fn.Arity {
		return newError(ArityMismatch, line, "%s expects %d argument(s), got %d", fn.Name, fn.Arity, argCount)
	}
	args := make([]Value, argCount)
	copy(args, v.stack[len(v.stack)-argCount:])
	v.stack = v.stack[:len(v.stack)-argCount-1] // args + callee
	result, err := fn.Fn(v, args)
	if err != nil {
		if rtErr, ok := err.(*RuntimeError); ok {
			if rtErr.Line == 0 {
				rtErr.Line = line
			}
			return rtErr
		}
		return wrapError(TypeMismatch, line, err)
	}
	v.push(result)
	return nil
}

// callClosure checks arity and pushes a new call frame. stackBase
// points at the callee itself (slot 0, reserved for the running
// closure per newCompiler), with argCount arguments following at
// slots 1..argCount — matching how Run sets up the script frame
// (spec.md §4.2.3).
func (v *VM) callClosure(closure *ClosureObj, argCount int, line int) error {
	if argCount != closure.Function.Arity {
		name := closure.Function.Name
		if name == "" {
			name = "<anonymous>"
		}
		return newError(ArityMismatch, line, "%s expects %d argument(s), got %d", name, closure.Function.Arity, argCount)
	}
	v.frames = append(v.frames, &Frame{
		closure:   closure,
		ip:        0,
		stackBase: len(v.stack) - argCount - 1,
	})
	return nil
}

// Invoke re-enters the VM to synchronously call callable with args,
// running a nested execution loop until that call's frame returns. It
// is the bridge higher-order natives (map/filter/reduce) use to call
// back into script closures (spec.md §4.3.2).
func (v *VM) Invoke(callable Value, args []Value) (Value, error) {
	v.push(callable)
	for _, a := range args {
		v.push(a)
	}
	switch obj := callable.Obj.(type) {
	case *NativeFunction:
		if err := v.callNative(obj, len(args), 0); err != nil {
			return Null, err
		}
		return v.pop(), nil
	case *ClosureObj:
		targetDepth := len(v.frames)
		if err := v.callClosure(obj, len(args), 0); err != nil {
			return Null, err
		}
		for len(v.frames) > targetDepth {
			op := Opcode(v.readByte())
			switch op {
			case OP_HALT:
				return Null, newError(InternalInvariant, 0, "HALT reached inside a nested Invoke call")
			case OP_RETURN:
				result := v.pop()
				finished := v.frames[len(v.frames)-1]
				v.closeUpvalues(finished.stackBase)
				v.frames = v.frames[:len(v.frames)-1]
				v.stack = v.stack[:finished.stackBase]
				if len(v.frames) == targetDepth {
					return result, nil
				}
				v.push(result)
			default:
				if err := v.executeOp(op); err != nil {
					return Null, err
				}
			}
		}
		return Null, newError(InternalInvariant, 0, "nested Invoke frame never returned")
	default:
		return Null, newError(TypeMismatch, 0, "cannot call a %s", callable.RuntimeType())
	}
}
