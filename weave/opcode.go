package weave

// OpCode is an instruction opcode of the stack based method body format.
type OpCode uint8

const (
	OpNop OpCode = iota
	OpRet
	OpThrow
	OpRethrow
	OpBr
	OpBrTrue
	OpBrFalse
	OpBeq
	OpBne
	OpBlt
	OpBgt
	OpBle
	OpBge
	OpLeave
	OpEndFinally
	OpEndFilter
	OpSwitch
	OpCall
	OpCallVirt
	OpNewObj
	OpLdNull
	OpLdcI4
	OpLdcI8
	OpLdStr
	OpLdArg
	OpStArg
	OpLdLoc
	OpStLoc
	OpLdLocA
	OpLdFld
	OpStFld
	OpPop
	OpDup
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpCeq
	OpClt
	OpCgt
	opCodeCount
)

// FlowControl classifies how an opcode transfers control.
type FlowControl uint8

const (
	FlowNext FlowControl = iota
	FlowCall
	FlowBranch
	FlowCondBranch
	FlowSwitch
	FlowLeave
	FlowReturn
	FlowThrow
	FlowEndHandler
)

// OperandKind identifies which Operand field an opcode uses.
type OperandKind uint8

const (
	OperandNone OperandKind = iota
	OperandTarget
	OperandTargets
	OperandInt
	OperandString
	OperandLocal
	OperandMethod
	OperandField
)

type opCodeInfo struct {
	name    string
	flow    FlowControl
	operand OperandKind
}

var opCodeTable = [opCodeCount]opCodeInfo{
	OpNop:        {"nop", FlowNext, OperandNone},
	OpRet:        {"ret", FlowReturn, OperandNone},
	OpThrow:      {"throw", FlowThrow, OperandNone},
	OpRethrow:    {"rethrow", FlowThrow, OperandNone},
	OpBr:         {"br", FlowBranch, OperandTarget},
	OpBrTrue:     {"brtrue", FlowCondBranch, OperandTarget},
	OpBrFalse:    {"brfalse", FlowCondBranch, OperandTarget},
	OpBeq:        {"beq", FlowCondBranch, OperandTarget},
	OpBne:        {"bne", FlowCondBranch, OperandTarget},
	OpBlt:        {"blt", FlowCondBranch, OperandTarget},
	OpBgt:        {"bgt", FlowCondBranch, OperandTarget},
	OpBle:        {"ble", FlowCondBranch, OperandTarget},
	OpBge:        {"bge", FlowCondBranch, OperandTarget},
	OpLeave:      {"leave", FlowLeave, OperandTarget},
	OpEndFinally: {"endfinally", FlowEndHandler, OperandNone},
	OpEndFilter:  {"endfilter", FlowEndHandler, OperandNone},
	OpSwitch:     {"switch", FlowSwitch, OperandTargets},
	OpCall:       {"call", FlowCall, OperandMethod},
	OpCallVirt:   {"callvirt", FlowCall, OperandMethod},
	OpNewObj:     {"newobj", FlowCall, OperandMethod},
	OpLdNull:     {"ldnull", FlowNext, OperandNone},
	OpLdcI4:      {"ldc.i4", FlowNext, OperandInt},
	OpLdcI8:      {"ldc.i8", FlowNext, OperandInt},
	OpLdStr:      {"ldstr", FlowNext, OperandString},
	OpLdArg:      {"ldarg", FlowNext, OperandInt},
	OpStArg:      {"starg", FlowNext, OperandInt},
	OpLdLoc:      {"ldloc", FlowNext, OperandLocal},
	OpStLoc:      {"stloc", FlowNext, OperandLocal},
	OpLdLocA:     {"ldloca", FlowNext, OperandLocal},
	OpLdFld:      {"ldfld", FlowNext, OperandField},
	OpStFld:      {"stfld", FlowNext, OperandField},
	OpPop:        {"pop", FlowNext, OperandNone},
	OpDup:        {"dup", FlowNext, OperandNone},
	OpAdd:        {"add", FlowNext, OperandNone},
	OpSub:        {"sub", FlowNext, OperandNone},
	OpMul:        {"mul", FlowNext, OperandNone},
	OpDiv:        {"div", FlowNext, OperandNone},
	OpCeq:        {"ceq", FlowNext, OperandNone},
	OpClt:        {"clt", FlowNext, OperandNone},
	OpCgt:        {"cgt", FlowNext, OperandNone},
}

var opCodeByName = func() map[string]OpCode {
	m := make(map[string]OpCode, opCodeCount)
	for op, info := range opCodeTable {
		m[info.name] = OpCode(op)
	}
	return m
}()

// LookupOpCode returns the opcode with the given mnemonic.
func LookupOpCode(name string) (OpCode, bool) {
	op, ok := opCodeByName[name]
	return op, ok
}

func (op OpCode) valid() bool {
	return op < opCodeCount
}

// String returns the opcode mnemonic.
func (op OpCode) String() string {
	if !op.valid() {
		return "invalid"
	}
	return opCodeTable[op].name
}

// Flow returns the control flow class of the opcode.
func (op OpCode) Flow() FlowControl {
	if !op.valid() {
		return FlowNext
	}
	return opCodeTable[op].flow
}

// OperandKind returns which operand field the opcode reads.
func (op OpCode) OperandKind() OperandKind {
	if !op.valid() {
		return OperandNone
	}
	return opCodeTable[op].operand
}

// IsBranch reports if the opcode references a single branch target.
func (op OpCode) IsBranch() bool {
	return op.OperandKind() == OperandTarget
}
