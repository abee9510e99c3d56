package vm

import (
	"fmt"
	"math"
	"strings"
)

// Disassemble returns a human-readable listing of m.
func Disassemble(m *Method) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "; === %s ===\n", m)
	if len(m.Returns) > 0 {
		fmt.Fprintf(&sb, "; Returns: %s\n", m.ReturnType())
	}
	if m.Tags != 0 {
		fmt.Fprintf(&sb, "; Tags: %s\n", m.Tags)
	}
	switch {
	case m.IsNative():
		sb.WriteString("; <native>\n")
		return sb.String()
	case m.IsExtern():
		sb.WriteString("; <extern>\n")
		return sb.String()
	}
	body := m.Body
	fmt.Fprintf(&sb, "; Locals: %d slots (%d args)\n", body.Locals, m.ArgSlots())

	if len(body.Consts) > 0 {
		sb.WriteString("; Constants:\n")
		for i, c := range body.Consts {
			fmt.Fprintf(&sb, ";   [%3d] %s\n", i, formatConstant(c))
		}
	}
	if len(body.Calls) > 0 {
		sb.WriteString("; Calls:\n")
		for i, cs := range body.Calls {
			fmt.Fprintf(&sb, ";   [%3d] %s\n", i, cs)
		}
	}

	sb.WriteString("; Code:\n")
	for ip := 0; ip < len(body.Code); {
		line, width := DisassembleInstruction(body, ip)
		fmt.Fprintf(&sb, "%04d  %s\n", ip, line)
		if width == 0 {
			break
		}
		ip += width
	}
	return sb.String()
}

// DisassembleInstruction formats the instruction at ip and returns its width
// in units, or 0 if the stream is malformed there.
func DisassembleInstruction(body *Body, ip int) (string, int) {
	op := Opcode(body.Code[ip])
	info, ok := op.Info()
	if !ok {
		return fmt.Sprintf("??? 0x%04X", uint16(op)), 0
	}
	if ip+info.Width() > len(body.Code) {
		return info.Name + " <truncated>", 0
	}
	var sb strings.Builder
	sb.WriteString(info.Name)
	var comment string
	for i, k := range info.Operands {
		v := body.Code[ip+1+i]
		switch k {
		case OperandImm:
			fmt.Fprintf(&sb, " %d", int16(v))
		case OperandType:
			fmt.Fprintf(&sb, " %s", TypeTag(v))
		default:
			fmt.Fprintf(&sb, " %d", v)
		}
		switch k {
		case OperandConst:
			if int(v) < len(body.Consts) {
				comment = formatConstant(body.Consts[v])
			}
		case OperandSite:
			if int(v) < len(body.Calls) {
				comment = body.Calls[v].String()
			}
		}
	}
	if comment != "" {
		return fmt.Sprintf("%-20s ; %s", sb.String(), comment), info.Width()
	}
	return sb.String(), info.Width()
}

func formatConstant(c Constant) string {
	switch c.Kind {
	case TypeString:
		display := c.Text
		if len(display) > 40 {
			display = display[:37] + "..."
		}
		return fmt.Sprintf("%q", display)
	case TypeFloat:
		return fmt.Sprintf("float %g", math.Float32frombits(uint32(c.Bits)))
	case TypeDouble:
		return fmt.Sprintf("double %g", math.Float64frombits(c.Bits))
	case TypeLong:
		return fmt.Sprintf("long %d", int64(c.Bits))
	case TypeBool:
		return fmt.Sprintf("bool %t", c.Bits != 0)
	case TypeChar:
		return fmt.Sprintf("char %q", rune(c.Bits))
	}
	return fmt.Sprintf("%s %d", c.Kind, int32(uint32(c.Bits)))
}
