package vm

// RegisterStandardLibrary installs Tmbdl's small built-in native
// library (SPEC_FULL.md §8): len, push, keys, range, map, filter,
// reduce. Natives are installed per VM by calling this on a VM after
// New (New itself installs none), never through a process-wide
// registry (spec.md §9, "Global state").
func RegisterStandardLibrary(v *VM) {
	v.Define("len", ObjVal(&NativeFunction{Name: "len", Arity: 1, Fn: nativeLen}))
	v.Define("push", ObjVal(&NativeFunction{Name: "push", Arity: 2, Fn: nativePush}))
	v.Define("keys", ObjVal(&NativeFunction{Name: "keys", Arity: 1, Fn: nativeKeys}))
	v.Define("range", ObjVal(&NativeFunction{Name: "range", Arity: -1, Fn: nativeRange}))
	v.Define("map", ObjVal(&NativeFunction{Name: "map", Arity: 2, Fn: nativeMap}))
	v.Define("filter", ObjVal(&NativeFunction{Name: "filter", Arity: 2, Fn: nativeFilter}))
	v.Define("reduce", ObjVal(&NativeFunction{Name: "reduce", Arity: 3, Fn: nativeReduce}))
}

func nativeLen(_ *VM, args []Value) (Value, error) {
	switch obj := args[0].Obj.(type) {
	case *ArrayObj:
		return NumberVal(float64(len(obj.Elements))), nil
	case *StringObj:
		return NumberVal(float64(len([]rune(obj.Value)))), nil
	case *MapObj:
		return NumberVal(float64(len(obj.Keys))), nil
	default:
		return Null, newError(TypeMismatch, 0, "len: expected array, string or map, got %s", args[0].RuntimeType())
	}
}

func nativePush(_ *VM, args []Value) (Value, error) {
	arr, ok := args[0].Obj.(*ArrayObj)
	if !ok {
		return Null, newError(TypeMismatch, 0, "push: expected array, got %s", args[0].RuntimeType())
	}
	arr.Elements = append(arr.Elements, args[1])
	return args[0], nil
}

func nativeKeys(_ *VM, args []Value) (Value, error) {
	m, ok := args[0].Obj.(*MapObj)
	if !ok {
		return Null, newError(TypeMismatch, 0, "keys: expected map, got %s", args[0].RuntimeType())
	}
	elems := make([]Value, len(m.Keys))
	for i, k := range m.Keys {
		elems[i] = ObjVal(&StringObj{Value: k})
	}
	return ObjVal(&ArrayObj{Elements: elems}), nil
}

// nativeRange supports range(stop), range(start, stop) and
// range(start, stop, step), mirroring the arity-agnostic natives the
// teacher exposes as variadic Builtins.
func nativeRange(_ *VM, args []Value) (Value, error) {
	var start, stop, step float64 = 0, 0, 1
	switch len(args) {
	case 1:
		stop = args[0].Num
	case 2:
		start, stop = args[0].Num, args[1].Num
	case 3:
		start, stop, step = args[0].Num, args[1].Num, args[2].Num
	default:
		return Null, newError(ArityMismatch, 0, "range expects 1 to 3 arguments, got %d", len(args))
	}
	if step == 0 {
		return Null, newError(TypeMismatch, 0, "range: step must not be zero")
	}
	var elems []Value
	if step > 0 {
		for n := start; n < stop; n += step {
			elems = append(elems, NumberVal(n))
		}
	} else {
		for n := start; n > stop; n += step {
			elems = append(elems, NumberVal(n))
		}
	}
	return ObjVal(&ArrayObj{Elements: elems}), nil
}

// nativeMap, nativeFilter and nativeReduce are higher-order: each
// re-enters the VM through Invoke to call the script-level closure
// passed as their second argument, exactly the re-entrant
// bridge spec.md §4.3.2 describes.
func nativeMap(v *VM, args []Value) (Value, error) {
	arr, ok := args[0].Obj.(*ArrayObj)
	if !ok {
		return Null, newError(TypeMismatch, 0, "map: expected array, got %s", args[0].RuntimeType())
	}
	out := make([]Value, len(arr.Elements))
	for i, el := range arr.Elements {
		result, err := v.Invoke(args[1], []Value{el})
		if err != nil {
			return Null, err
		}
		out[i] = result
	}
	return ObjVal(&ArrayObj{Elements: out}), nil
}

func nativeFilter(v *VM, args []Value) (Value, error) {
	arr, ok := args[0].Obj.(*ArrayObj)
	if !ok {
		return Null, newError(TypeMismatch, 0, "filter: expected array, got %s", args[0].RuntimeType())
	}
	var out []Value
	for _, el := range arr.Elements {
		result, err := v.Invoke(args[1], []Value{el})
		if err != nil {
			return Null, err
		}
		if result.IsTruthy() {
			out = append(out, el)
		}
	}
	return ObjVal(&ArrayObj{Elements: out}), nil
}

func nativeReduce(v *VM, args []Value) (Value, error) {
	arr, ok := args[0].Obj.(*ArrayObj)
	if !ok {
		return Null, newError(TypeMismatch, 0, "reduce: expected array, got %s", args[0].RuntimeType())
	}
	acc := args[2]
	for _, el := range arr.Elements {
		result, err := v.Invoke(args[1], []Value{acc, el})
		if err != nil {
			return Null, err
		}
		acc = result
	}
	return acc, nil
}
