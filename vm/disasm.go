package vm

import "fmt"

// DisassembleCodeObject renders one code object's bytecode as text, one
// instruction per line, for debugging and the wibble CLI's -disasm flag.
// It is deliberately tolerant of malformed input: a decode fault produces
// one error line rather than aborting the whole listing, since a
// disassembler's job is to show a human what is there, corrupt or not.
func DisassembleCodeObject(pool *Pool, byteOffset int) (string, error) {
	code, ok := pool.CodeObjectAt(byteOffset)
	if !ok {
		return "", fmt.Errorf("mwrt: no code object at offset %d", byteOffset)
	}
	codeBytes, ok := pool.ReadBytes(code.CodeStart, code.CodeEnd-code.CodeStart)
	if !ok {
		return "", fmt.Errorf("mwrt: code object body out of range at offset %d", byteOffset)
	}

	out := fmt.Sprintf("; code@%d locals=%d max_stack=%d len=%d\n",
		byteOffset, code.LocalCount, code.MaxStack, len(codeBytes))

	pc := 0
	for pc < len(codeBytes) {
		line, next, err := disassembleOne(codeBytes, pc)
		if err != nil {
			out += fmt.Sprintf("%04x: <%v>\n", pc, err)
			break
		}
		out += fmt.Sprintf("%04x: %s\n", pc, line)
		pc = next
	}
	return out, nil
}

func disassembleOne(code []byte, pc int) (line string, next int, err error) {
	defer func() {
		if r := recover(); r != nil {
			if f, ok := r.(fault); ok {
				err = fmt.Errorf("%s", f.kind)
				return
			}
			panic(r)
		}
	}()

	instr := decodeAt(code, pc)
	switch instr.opcode.immCount() {
	case 0:
		return instr.opcode.String(), instr.nextPC, nil
	case 1:
		return fmt.Sprintf("%s %d", instr.opcode.String(), instr.n1), instr.nextPC, nil
	default:
		return fmt.Sprintf("%s %d, %d", instr.opcode.String(), instr.n1, instr.n2), instr.nextPC, nil
	}
}
