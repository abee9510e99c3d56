package vm

import "fmt"

// Opcode is the first unit of an instruction.
// Opcodes are organized into ranges by category.
type Opcode uint16

const (
	// ========================================================================
	// Stack manipulation (0x00-0x0F)
	// ========================================================================

	OpNop  Opcode = 0x00 // No operation
	OpPop  Opcode = 0x01 // Pop one slot
	OpPop2 Opcode = 0x02 // Pop two slots
	OpDup  Opcode = 0x03 // Duplicate top slot
	OpDup2 Opcode = 0x04 // Duplicate top two slots
	OpSwap Opcode = 0x05 // Swap top two slots

	// ========================================================================
	// Constants (0x10-0x1F)
	// ========================================================================

	OpIConst    Opcode = 0x10 // Push int: ICONST <imm:i16>
	OpLConst    Opcode = 0x11 // Push long (2 slots): LCONST <imm:i16>
	OpFConst    Opcode = 0x12 // Push float: FCONST <imm:i16>
	OpDConst    Opcode = 0x13 // Push double (2 slots): DCONST <imm:i16>
	OpBConst    Opcode = 0x14 // Push bool: BCONST <0|1>
	OpCConst    Opcode = 0x15 // Push char: CCONST <code:u16>
	OpLdc       Opcode = 0x16 // Push 1-slot pool constant: LDC <const:u16>
	OpLdc2      Opcode = 0x17 // Push 2-slot pool constant: LDC2 <const:u16>
	OpSConst    Opcode = 0x18 // Push string reference: SCONST <const:u16>
	OpNull      Opcode = 0x19 // Push null reference
	OpShortCast Opcode = 0x1A // Truncate TOS int to 16 bits

	// ========================================================================
	// Locals (0x20-0x2F)
	// ========================================================================

	OpLoad   Opcode = 0x20 // Push local: LOAD <slot:u16>
	OpStore  Opcode = 0x21 // Pop into local: STORE <slot:u16>
	OpLoad2  Opcode = 0x22 // Push locals n, n+1 (low first): LOAD2 <slot:u16>
	OpStore2 Opcode = 0x23 // Pop high into n+1, low into n: STORE2 <slot:u16>
	OpInc    Opcode = 0x24 // Add to int local in place: INC <slot:u16> <delta:i16>

	// ========================================================================
	// Integer arithmetic (0x30-0x3F)
	// ========================================================================

	OpIAdd Opcode = 0x30
	OpISub Opcode = 0x31
	OpIMul Opcode = 0x32
	OpIDiv Opcode = 0x33
	OpIRem Opcode = 0x34
	OpINeg Opcode = 0x35
	OpLAdd Opcode = 0x38
	OpLSub Opcode = 0x39
	OpLMul Opcode = 0x3A
	OpLDiv Opcode = 0x3B
	OpLRem Opcode = 0x3C
	OpLNeg Opcode = 0x3D

	// ========================================================================
	// Floating arithmetic (0x40-0x4F)
	// ========================================================================

	OpFAdd Opcode = 0x40
	OpFSub Opcode = 0x41
	OpFMul Opcode = 0x42
	OpFDiv Opcode = 0x43
	OpFRem Opcode = 0x44
	OpFNeg Opcode = 0x45
	OpDAdd Opcode = 0x48
	OpDSub Opcode = 0x49
	OpDMul Opcode = 0x4A
	OpDDiv Opcode = 0x4B
	OpDRem Opcode = 0x4C
	OpDNeg Opcode = 0x4D

	// ========================================================================
	// Conversions (0x50-0x5F)
	// ========================================================================

	OpI2L Opcode = 0x50
	OpL2I Opcode = 0x51
	OpI2F Opcode = 0x52
	OpF2I Opcode = 0x53
	OpI2D Opcode = 0x54
	OpD2I Opcode = 0x55
	OpL2D Opcode = 0x56
	OpD2L Opcode = 0x57
	OpF2D Opcode = 0x58
	OpD2F Opcode = 0x59

	// ========================================================================
	// Comparison (0x60-0x6F)
	// ========================================================================

	OpLCmp Opcode = 0x60 // Pop two longs, push -1/0/1
	OpFCmp Opcode = 0x61 // Pop two floats, push -1/0/1
	OpDCmp Opcode = 0x62 // Pop two doubles, push -1/0/1

	// ========================================================================
	// Control flow (0x70-0x7F)
	// ========================================================================

	OpGoto      Opcode = 0x70 // GOTO <target:u16>
	OpIfTrue    Opcode = 0x71 // Pop int, jump if non-zero
	OpIfFalse   Opcode = 0x72 // Pop int, jump if zero
	OpIfEq      Opcode = 0x73 // Pop b, a (ints), jump if a == b
	OpIfNe      Opcode = 0x74
	OpIfLt      Opcode = 0x75
	OpIfLe      Opcode = 0x76
	OpIfGt      Opcode = 0x77
	OpIfGe      Opcode = 0x78
	OpIfNull    Opcode = 0x79 // Pop ref, jump if null
	OpIfNonNull Opcode = 0x7A

	// ========================================================================
	// Calls (0x80-0x8F)
	// ========================================================================

	OpCall    Opcode = 0x80 // Call bytecode or native: CALL <site:u16>
	OpSend    Opcode = 0x81 // Reflective send: SEND <name:u16> <argc:u16>
	OpReturn  Opcode = 0x82 // Return void
	OpIReturn Opcode = 0x83 // Return one scalar slot
	OpLReturn Opcode = 0x84 // Return two slots
	OpAReturn Opcode = 0x85 // Return a reference

	// ========================================================================
	// Objects (0x90-0x9F)
	// ========================================================================

	OpBox      Opcode = 0x90 // Pop slots of type t, push reference: BOX <type:u16>
	OpUnbox    Opcode = 0x91 // Pop reference, push slots of type t: UNBOX <type:u16>
	OpNew      Opcode = 0x92 // Push new instance: NEW <class-name:u16>
	OpGetField Opcode = 0x93 // Pop object, push member: GETFIELD <name:u16>
	OpPutField Opcode = 0x94 // Pop value, pop object, set member: PUTFIELD <name:u16>
	OpNewList  Opcode = 0x95 // Pop n references into a list: NEWLIST <n:u16>

	opCount = 0x100
)

// OperandKind says how an operand is interpreted, for the assembler and
// disassembler.
type OperandKind uint8

const (
	OperandImm    OperandKind = iota // signed immediate
	OperandUint                      // unsigned immediate or count
	OperandLocal                     // local slot index
	OperandConst                     // constant pool index
	OperandTarget                    // code unit offset
	OperandSite                      // call site index
	OperandType                      // type tag
)

// OpcodeInfo describes an opcode's encoding.
type OpcodeInfo struct {
	Name     string
	Operands []OperandKind
}

// Arity returns the number of operand units.
func (i OpcodeInfo) Arity() int {
	return len(i.Operands)
}

// Width returns the instruction length in units.
func (i OpcodeInfo) Width() int {
	return 1 + len(i.Operands)
}

func ops(kinds ...OperandKind) []OperandKind { return kinds }

var opcodeInfo = map[Opcode]OpcodeInfo{
	OpNop:  {Name: "NOP"},
	OpPop:  {Name: "POP"},
	OpPop2: {Name: "POP2"},
	OpDup:  {Name: "DUP"},
	OpDup2: {Name: "DUP2"},
	OpSwap: {Name: "SWAP"},

	OpIConst:    {Name: "ICONST", Operands: ops(OperandImm)},
	OpLConst:    {Name: "LCONST", Operands: ops(OperandImm)},
	OpFConst:    {Name: "FCONST", Operands: ops(OperandImm)},
	OpDConst:    {Name: "DCONST", Operands: ops(OperandImm)},
	OpBConst:    {Name: "BCONST", Operands: ops(OperandUint)},
	OpCConst:    {Name: "CCONST", Operands: ops(OperandUint)},
	OpLdc:       {Name: "LDC", Operands: ops(OperandConst)},
	OpLdc2:      {Name: "LDC2", Operands: ops(OperandConst)},
	OpSConst:    {Name: "SCONST", Operands: ops(OperandConst)},
	OpNull:      {Name: "NULL"},
	OpShortCast: {Name: "I2S"},

	OpLoad:   {Name: "LOAD", Operands: ops(OperandLocal)},
	OpStore:  {Name: "STORE", Operands: ops(OperandLocal)},
	OpLoad2:  {Name: "LOAD2", Operands: ops(OperandLocal)},
	OpStore2: {Name: "STORE2", Operands: ops(OperandLocal)},
	OpInc:    {Name: "INC", Operands: ops(OperandLocal, OperandImm)},

	OpIAdd: {Name: "IADD"},
	OpISub: {Name: "ISUB"},
	OpIMul: {Name: "IMUL"},
	OpIDiv: {Name: "IDIV"},
	OpIRem: {Name: "IREM"},
	OpINeg: {Name: "INEG"},
	OpLAdd: {Name: "LADD"},
	OpLSub: {Name: "LSUB"},
	OpLMul: {Name: "LMUL"},
	OpLDiv: {Name: "LDIV"},
	OpLRem: {Name: "LREM"},
	OpLNeg: {Name: "LNEG"},

	OpFAdd: {Name: "FADD"},
	OpFSub: {Name: "FSUB"},
	OpFMul: {Name: "FMUL"},
	OpFDiv: {Name: "FDIV"},
	OpFRem: {Name: "FREM"},
	OpFNeg: {Name: "FNEG"},
	OpDAdd: {Name: "DADD"},
	OpDSub: {Name: "DSUB"},
	OpDMul: {Name: "DMUL"},
	OpDDiv: {Name: "DDIV"},
	OpDRem: {Name: "DREM"},
	OpDNeg: {Name: "DNEG"},

	OpI2L: {Name: "I2L"},
	OpL2I: {Name: "L2I"},
	OpI2F: {Name: "I2F"},
	OpF2I: {Name: "F2I"},
	OpI2D: {Name: "I2D"},
	OpD2I: {Name: "D2I"},
	OpL2D: {Name: "L2D"},
	OpD2L: {Name: "D2L"},
	OpF2D: {Name: "F2D"},
	OpD2F: {Name: "D2F"},

	OpLCmp: {Name: "LCMP"},
	OpFCmp: {Name: "FCMP"},
	OpDCmp: {Name: "DCMP"},

	OpGoto:      {Name: "GOTO", Operands: ops(OperandTarget)},
	OpIfTrue:    {Name: "IFTRUE", Operands: ops(OperandTarget)},
	OpIfFalse:   {Name: "IFFALSE", Operands: ops(OperandTarget)},
	OpIfEq:      {Name: "IFEQ", Operands: ops(OperandTarget)},
	OpIfNe:      {Name: "IFNE", Operands: ops(OperandTarget)},
	OpIfLt:      {Name: "IFLT", Operands: ops(OperandTarget)},
	OpIfLe:      {Name: "IFLE", Operands: ops(OperandTarget)},
	OpIfGt:      {Name: "IFGT", Operands: ops(OperandTarget)},
	OpIfGe:      {Name: "IFGE", Operands: ops(OperandTarget)},
	OpIfNull:    {Name: "IFNULL", Operands: ops(OperandTarget)},
	OpIfNonNull: {Name: "IFNONNULL", Operands: ops(OperandTarget)},

	OpCall:    {Name: "CALL", Operands: ops(OperandSite)},
	OpSend:    {Name: "SEND", Operands: ops(OperandConst, OperandUint)},
	OpReturn:  {Name: "RETURN"},
	OpIReturn: {Name: "IRETURN"},
	OpLReturn: {Name: "LRETURN"},
	OpAReturn: {Name: "ARETURN"},

	OpBox:      {Name: "BOX", Operands: ops(OperandType)},
	OpUnbox:    {Name: "UNBOX", Operands: ops(OperandType)},
	OpNew:      {Name: "NEW", Operands: ops(OperandConst)},
	OpGetField: {Name: "GETFIELD", Operands: ops(OperandConst)},
	OpPutField: {Name: "PUTFIELD", Operands: ops(OperandConst)},
	OpNewList:  {Name: "NEWLIST", Operands: ops(OperandUint)},
}

var opcodeByName = func() map[string]Opcode {
	m := make(map[string]Opcode, len(opcodeInfo))
	for op, info := range opcodeInfo {
		m[info.Name] = op
	}
	return m
}()

// Info returns metadata for op.
func (op Opcode) Info() (OpcodeInfo, bool) {
	info, ok := opcodeInfo[op]
	return info, ok
}

// String returns the opcode mnemonic.
func (op Opcode) String() string {
	if info, ok := opcodeInfo[op]; ok {
		return info.Name
	}
	return fmt.Sprintf("OP_%02X", uint16(op))
}

// LookupOpcode resolves a mnemonic.
func LookupOpcode(name string) (Opcode, bool) {
	op, ok := opcodeByName[name]
	return op, ok
}

// IsJump reports whether op takes a jump target.
func (op Opcode) IsJump() bool {
	info, ok := opcodeInfo[op]
	return ok && len(info.Operands) == 1 && info.Operands[0] == OperandTarget
}

// Opcodes returns every defined opcode in numeric order.
func Opcodes() []Opcode {
	out := make([]Opcode, 0, len(opcodeInfo))
	for op := Opcode(0); op < opCount; op++ {
		if _, ok := opcodeInfo[op]; ok {
			out = append(out, op)
		}
	}
	return out
}
