package vm

import (
	"fmt"
	"io"
	"strings"

	"github.com/tliron/commonlog"
)

// Tracer observes execution. Step is called after operands are decoded and
// before the handler runs.
type Tracer interface {
	Enter(f *Frame)
	Step(f *Frame, op Opcode, a, b uint16)
	Exit(f *Frame)
}

// LogTracer writes every frame entry, instruction and exit to a logger at
// debug level.
type LogTracer struct {
	Log commonlog.Logger
}

// NewLogTracer creates a tracer on the tern.vm logger.
func NewLogTracer() *LogTracer {
	return &LogTracer{Log: commonlog.GetLogger("tern.vm")}
}

func (t *LogTracer) Enter(f *Frame) {
	t.Log.Debugf("%s-> %s", indent(f), f.Method)
}

func (t *LogTracer) Step(f *Frame, _ Opcode, _, _ uint16) {
	line, _ := DisassembleInstruction(f.Method.Body, f.pc)
	t.Log.Debugf("%s%04d  %s", indent(f), f.pc, line)
}

func (t *LogTracer) Exit(f *Frame) {
	t.Log.Debugf("%s<- %s", indent(f), f.Method)
}

// WriterTracer prints a trace to a writer, one line per event.
type WriterTracer struct {
	W io.Writer
}

func (t *WriterTracer) Enter(f *Frame) {
	fmt.Fprintf(t.W, "%s-> %s\n", indent(f), f.Method)
}

func (t *WriterTracer) Step(f *Frame, _ Opcode, _, _ uint16) {
	line, _ := DisassembleInstruction(f.Method.Body, f.pc)
	fmt.Fprintf(t.W, "%s%04d  %s\n", indent(f), f.pc, line)
}

func (t *WriterTracer) Exit(f *Frame) {
	fmt.Fprintf(t.W, "%s<- %s\n", indent(f), f.Method)
}

func indent(f *Frame) string {
	return strings.Repeat("  ", f.Depth()-1)
}
