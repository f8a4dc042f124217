package vm

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
)

// colorEnabled reports whether w is a terminal that should receive ANSI
// color codes — checked the same way the teacher gates color in its
// term builtins (isatty.IsTerminal / IsCygwinTerminal), so piped output
// stays plain.
func colorEnabled(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

const (
	colorDim    = "\x1b[2m"
	colorCyan   = "\x1b[36m"
	colorYellow = "\x1b[33m"
	colorReset  = "\x1b[0m"
)

// Disassemble renders a human-readable listing of chunk under name,
// offset by offset, matching the "== name ==" header the teacher's own
// Disassemble produces.
func Disassemble(chunk *Chunk, name string, w io.Writer) {
	color := colorEnabled(w)
	header := fmt.Sprintf("== %s ==", name)
	if color {
		header = colorCyan + header + colorReset
	}
	fmt.Fprintln(w, header)

	offset := 0
	for offset < len(chunk.Code) {
		offset = disassembleInstruction(chunk, offset, w, color)
	}
}

// DisassembleAll recursively disassembles fn and every nested
// BytecodeFunction reachable through its constant pool.
func DisassembleAll(fn *BytecodeFunction, w io.Writer) {
	Disassemble(fn.Chunk, fn.Name, w)
	for _, c := range fn.Chunk.Constants {
		if nested, ok := c.Obj.(*BytecodeFunction); ok {
			fmt.Fprintln(w)
			DisassembleAll(nested, w)
		}
	}
}

func disassembleInstruction(chunk *Chunk, offset int, w io.Writer, color bool) int {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%04d ", offset)
	if offset > 0 && chunk.Lines[offset] == chunk.Lines[offset-1] {
		sb.WriteString("   | ")
	} else {
		fmt.Fprintf(&sb, "%4d ", chunk.LineAt(offset))
	}

	op := Opcode(chunk.Code[offset])
	name := op.String()
	if color {
		name = colorYellow + name + colorReset
	}

	switch op {
	case OP_MAKE_CLOSURE:
		return closureInstruction(&sb, name, chunk, offset, w, color)
	default:
		n, ok := operandBytes[op]
		if !ok {
			sb.WriteString(name)
			fmt.Fprintln(w, sb.String())
			return offset + 1
		}
		switch n {
		case 0:
			sb.WriteString(name)
		case 1:
			operand := chunk.Code[offset+1]
			fmt.Fprintf(&sb, "%-16s %4d", name, operand)
			if op == OP_PUSH_CONST || op == OP_LOAD_GLOBAL || op == OP_STORE_GLOBAL || op == OP_GET_PROP || op == OP_SET_PROP || op == OP_IMPORT || op == OP_EXPORT {
				fmt.Fprintf(&sb, "  ; %s", Stringify(chunk.Constants[operand]))
			}
		}
		fmt.Fprintln(w, sb.String())
		return offset + 1 + n
	}
}

// closureInstruction decodes MAKE_CLOSURE's variable-length upvalue
// descriptor tail (spec.md §4.2.2): the const-index byte, then
// 2*upvalueCount descriptor bytes in (isLocal, index) pairs.
func closureInstruction(sb *strings.Builder, name string, chunk *Chunk, offset int, w io.Writer, color bool) int {
	constIdx := chunk.Code[offset+1]
	fmt.Fprintf(sb, "%-16s %4d", name, constIdx)
	fn, _ := chunk.Constants[constIdx].Obj.(*BytecodeFunction)
	pos := offset + 2
	if fn != nil {
		fmt.Fprintf(sb, "  ; <function %s>", fn.Name)
		for i := 0; i < fn.UpvalueCount; i++ {
			isLocal := chunk.Code[pos]
			idx := chunk.Code[pos+1]
			kind := "upvalue"
			if isLocal == 1 {
				kind = "local"
			}
			fmt.Fprintf(sb, "\n%04d      |                     %s %d", pos, kind, idx)
			pos += 2
		}
	}
	fmt.Fprintln(w, sb.String())
	return pos
}
