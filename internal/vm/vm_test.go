package vm_test

import (
	"testing"

	"github.com/thegian7/tmbdl/internal/parser"
	"github.com/thegian7/tmbdl/internal/vm"
)

// run compiles and executes src through the real parser/compiler/VM
// pipeline, failing the test on any parse or compile error.
func run(t *testing.T, src string) (vm.Value, *vm.VM) {
	t.Helper()
	program, errs := parser.ParseProgram(src)
	if len(errs) > 0 {
		t.Fatalf("parse error: %s", errs[0].Error())
	}
	fn, cerrs := vm.Compile(program)
	if len(cerrs) > 0 {
		t.Fatalf("compile error: %s", cerrs[0].Error())
	}
	machine := vm.New()
	vm.RegisterStandardLibrary(machine)
	result, err := machine.Run(fn)
	if err != nil {
		t.Fatalf("runtime error: %s", err.Error())
	}
	return result, machine
}

func TestArithmeticPrecedence(t *testing.T) {
	result, _ := run(t, `answer 2 + 3 * 4;`)
	if result.Num != 14 {
		t.Fatalf("expected 14, got %v", result.Num)
	}
}

func TestClosureCounter(t *testing.T) {
	src := `
song makeCounter() {
    ring count = 0;
    song increment() {
        count = count + 1;
        answer count;
    }
    answer increment;
}

ring counter = makeCounter();
counter();
counter();
answer counter();
`
	result, _ := run(t, src)
	if result.Num != 3 {
		t.Fatalf("expected shared-upvalue counter to reach 3, got %v", result.Num)
	}
}

func TestSharedUpvalueAcrossTwoClosures(t *testing.T) {
	src := `
song makePair() {
    ring value = 0;
    song setter(n) {
        value = n;
    }
    song getter() {
        answer value;
    }
    answer [setter, getter];
}

ring pair = makePair();
ring setter = pair[0];
ring getter = pair[1];
setter(41);
answer getter();
`
	result, _ := run(t, src)
	if result.Num != 41 {
		t.Fatalf("expected both closures to share the same upvalue cell, got %v", result.Num)
	}
}

func TestWhileBreakContinue(t *testing.T) {
	src := `
ring i = 0;
ring total = 0;
wander (i < 10) {
    i = i + 1;
    perhaps (i == 5) {
        flee;
    }
    perhaps (i % 2 == 0) {
        onwards;
    }
    total = total + i;
}
answer total;
`
	result, _ := run(t, src)
	if result.Num != 1+3 {
		t.Fatalf("expected 1+3=4 (evens skipped, stop before 5), got %v", result.Num)
	}
}

func TestForInOverArray(t *testing.T) {
	src := `
ring total = 0;
journey (x in [1, 2, 3, 4]) {
    total = total + x;
}
answer total;
`
	result, _ := run(t, src)
	if result.Num != 10 {
		t.Fatalf("expected 10, got %v", result.Num)
	}
}

func TestLogicalShortCircuit(t *testing.T) {
	src := `
ring calls = 0;
song sideEffect() {
    calls = calls + 1;
    answer true;
}
ring result = false with sideEffect();
answer calls;
`
	result, _ := run(t, src)
	if result.Num != 0 {
		t.Fatalf("expected short-circuit to skip sideEffect, got %v calls", result.Num)
	}
}

func TestNativeMapFilterReduce(t *testing.T) {
	src := `
ring doubled = map([1, 2, 3], song(x) { answer x * 2; });
ring evens = filter(doubled, song(x) { answer x % 4 == 0; });
answer reduce(evens, song(acc, x) { answer acc + x; }, 0);
`
	result, _ := run(t, src)
	if result.Num != 4 {
		t.Fatalf("expected doubled=[2,4,6], evens=[4], sum=4, got %v", result.Num)
	}
}

func TestArityMismatchIsRuntimeError(t *testing.T) {
	src := `
song needsTwo(a, b) { answer a + b; }
needsTwo(1);
`
	program, errs := parser.ParseProgram(src)
	if len(errs) > 0 {
		t.Fatalf("parse error: %s", errs[0].Error())
	}
	fn, cerrs := vm.Compile(program)
	if len(cerrs) > 0 {
		t.Fatalf("compile error: %s", cerrs[0].Error())
	}
	machine := vm.New()
	_, err := machine.Run(fn)
	if err == nil {
		t.Fatal("expected an arity mismatch error, got nil")
	}
	rtErr, ok := err.(*vm.RuntimeError)
	if !ok {
		t.Fatalf("expected *vm.RuntimeError, got %T", err)
	}
	if rtErr.Kind != vm.ArityMismatch {
		t.Fatalf("expected ArityMismatch, got %s", rtErr.Kind)
	}
}

func TestIndexOutOfRangeRaisesTypedError(t *testing.T) {
	src := `
ring arr = [1, 2, 3];
answer arr[10];
`
	program, _ := parser.ParseProgram(src)
	fn, _ := vm.Compile(program)
	machine := vm.New()
	_, err := machine.Run(fn)
	if err == nil {
		t.Fatal("expected out-of-bounds index to raise an error")
	}
	rtErr, ok := err.(*vm.RuntimeError)
	if !ok || rtErr.Kind != vm.IndexOutOfRange {
		t.Fatalf("expected IndexOutOfRange, got %#v", err)
	}
}

func TestDivisionByZero(t *testing.T) {
	src := `answer 1 / 0;`
	program, _ := parser.ParseProgram(src)
	fn, _ := vm.Compile(program)
	machine := vm.New()
	_, err := machine.Run(fn)
	rtErr, ok := err.(*vm.RuntimeError)
	if !ok || rtErr.Kind != vm.DivisionByZero {
		t.Fatalf("expected DivisionByZero, got %#v", err)
	}
}

func TestSerializeRoundTrip(t *testing.T) {
	program, errs := parser.ParseProgram(`
song fib(n) {
    perhaps (n < 2) { answer n; }
    answer fib(n - 1) + fib(n - 2);
}
answer fib(10);
`)
	if len(errs) > 0 {
		t.Fatalf("parse error: %s", errs[0].Error())
	}
	fn, cerrs := vm.Compile(program)
	if len(cerrs) > 0 {
		t.Fatalf("compile error: %s", cerrs[0].Error())
	}

	data, err := vm.Serialize(fn)
	if err != nil {
		t.Fatalf("serialize error: %s", err)
	}

	restored, err := vm.Deserialize(data)
	if err != nil {
		t.Fatalf("deserialize error: %s", err)
	}

	machine := vm.New()
	result, err := machine.Run(restored)
	if err != nil {
		t.Fatalf("runtime error after round trip: %s", err)
	}
	if result.Num != 55 {
		t.Fatalf("expected fib(10)=55, got %v", result.Num)
	}
}

func TestDeserializeRejectsBadMagic(t *testing.T) {
	_, err := vm.Deserialize([]byte("not a bytecode file at all"))
	if err == nil {
		t.Fatal("expected an error for corrupt magic")
	}
	rtErr, ok := err.(*vm.RuntimeError)
	if !ok || rtErr.Kind != vm.CorruptBytecode {
		t.Fatalf("expected CorruptBytecode, got %#v", err)
	}
}

func TestDeserializeRejectsTruncatedInput(t *testing.T) {
	program, _ := parser.ParseProgram(`answer 1;`)
	fn, _ := vm.Compile(program)
	data, err := vm.Serialize(fn)
	if err != nil {
		t.Fatalf("serialize error: %s", err)
	}
	_, err = vm.Deserialize(data[:len(data)-3])
	if err == nil {
		t.Fatal("expected an error for truncated bytecode")
	}
}

func TestExportsCapturedFromModuleExecution(t *testing.T) {
	src := `
ring value = 21;
reveal value;
`
	program, errs := parser.ParseProgram(src)
	if len(errs) > 0 {
		t.Fatalf("parse error: %s", errs[0].Error())
	}
	fn, cerrs := vm.Compile(program)
	if len(cerrs) > 0 {
		t.Fatalf("compile error: %s", cerrs[0].Error())
	}
	machine := vm.New()
	if _, err := machine.Run(fn); err != nil {
		t.Fatalf("runtime error: %s", err)
	}
	exported, ok := machine.Exports().Get("value")
	if !ok {
		t.Fatal("expected \"value\" to be exported")
	}
	if exported.Num != 21 {
		t.Fatalf("expected exported value=21, got %v", exported.Num)
	}
}
