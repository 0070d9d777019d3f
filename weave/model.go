package weave

import (
	"slices"
	"strings"
)

// InstrID is a stable handle to an instruction within one method body. Branch operands and exception region
// boundaries reference instructions by handle, so splicing new instructions never invalidates them.
type InstrID uint32

// NoInstr is the absent instruction reference. Used as an exclusive region end it means the end of the body.
const NoInstr InstrID = 0

// MethodFlags describes the static attributes of a method that matter for weaving.
type MethodFlags uint32

const (
	FlagAbstract MethodFlags = 1 << iota
	FlagExtern
	FlagStatic
	FlagVirtual
	FlagSpecialName
	FlagRTSpecialName
	FlagGetter
	FlagSetter
	FlagCompilerGenerated
	FlagAggressiveInlining
)

var methodFlagNames = []struct {
	flag MethodFlags
	name string
}{
	{FlagAbstract, "abstract"},
	{FlagExtern, "extern"},
	{FlagStatic, "static"},
	{FlagVirtual, "virtual"},
	{FlagSpecialName, "specialname"},
	{FlagRTSpecialName, "rtspecialname"},
	{FlagGetter, "getter"},
	{FlagSetter, "setter"},
	{FlagCompilerGenerated, "compilergenerated"},
	{FlagAggressiveInlining, "aggressiveinlining"},
}

// ParseMethodFlag returns the flag for the given lower case name.
func ParseMethodFlag(name string) (MethodFlags, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, f := range methodFlagNames {
		if f.name == name {
			return f.flag, true
		}
	}
	return 0, false
}

// Names returns the flag names set in f, in declaration order.
func (f MethodFlags) Names() []string {
	var names []string
	for _, fn := range methodFlagNames {
		if f&fn.flag != 0 {
			names = append(names, fn.name)
		}
	}
	return names
}

// ModuleRef names a module dependency.
type ModuleRef struct {
	// Name is the referenced module name.
	Name string `msgpack:"n" yaml:"name"`
	// Version is the referenced module version.
	Version string `msgpack:"v" yaml:"version,omitempty"`
}

// Module is a compiled module loaded for weaving. Only method bodies are mutated by the weave pass.
type Module struct {
	// Name is the module name.
	Name string `msgpack:"n"`
	// Version is the module version.
	Version string `msgpack:"v"`
	// References lists the modules this module depends on.
	References []ModuleRef `msgpack:"r"`
	// Annotations are the module level annotations.
	Annotations []Annotation `msgpack:"a"`
	// Types lists the types in declaration order.
	Types []*Type `msgpack:"t"`

	typeIndex map[string]*Type
}

// AddType appends a type, keeping declaration order.
func (m *Module) AddType(t *Type) {
	m.Types = append(m.Types, t)
	if m.typeIndex != nil {
		m.typeIndex[t.FullName()] = t
	}
}

// Type returns the type with the given full name, or nil.
func (m *Module) Type(fullName string) *Type {
	if m.typeIndex == nil || len(m.typeIndex) != len(m.Types) {
		m.typeIndex = make(map[string]*Type, len(m.Types))
		for _, t := range m.Types {
			m.typeIndex[t.FullName()] = t
		}
	}
	return m.typeIndex[fullName]
}

// Reference returns the dependency with the given module name.
func (m *Module) Reference(name string) (ModuleRef, bool) {
	for _, r := range m.References {
		if r.Name == name {
			return r, true
		}
	}
	return ModuleRef{}, false
}

// Type is a type definition holding methods.
type Type struct {
	// Namespace is the type namespace, empty for the global namespace or nested types.
	Namespace string `msgpack:"ns"`
	// Name is the simple type name.
	Name string `msgpack:"n"`
	// DeclaringType is the full name of the enclosing type for nested types.
	DeclaringType string `msgpack:"dt,omitempty"`
	// Interface reports if the type is an interface.
	Interface bool `msgpack:"i,omitempty"`
	// Annotations are the type annotations.
	Annotations []Annotation `msgpack:"a"`
	// Methods lists the methods in declaration order.
	Methods []*Method `msgpack:"m"`
}

// FullName returns the namespace qualified name, using '/' to separate nested types from their declaring type.
func (t *Type) FullName() string {
	if t.DeclaringType != "" {
		return t.DeclaringType + "/" + t.Name
	} else if t.Namespace == "" {
		return t.Name
	}
	return t.Namespace + "." + t.Name
}

// RootNamespace returns the namespace of the outermost declaring type.
func (t *Type) RootNamespace() string {
	if t.DeclaringType == "" {
		return t.Namespace
	}
	root := t.DeclaringType
	if i := strings.IndexByte(root, '/'); i >= 0 {
		root = root[:i]
	}
	if i := strings.LastIndexByte(root, '.'); i >= 0 {
		return root[:i]
	}
	return ""
}

// Method is a method definition.
type Method struct {
	// Name is the method name.
	Name string `msgpack:"n"`
	// ReturnType is the full name of the return type.
	ReturnType string `msgpack:"rt"`
	// Params lists the parameter type names.
	Params []string `msgpack:"p"`
	// Flags holds the method attributes.
	Flags MethodFlags `msgpack:"f"`
	// Annotations are the method annotations.
	Annotations []Annotation `msgpack:"a"`
	// Body is the method body, nil when the method has none.
	Body *MethodBody `msgpack:"b"`
}

// Has reports if all the given flags are set.
func (m *Method) Has(f MethodFlags) bool {
	return m.Flags&f == f
}

// LocalVar is a local variable slot.
type LocalVar struct {
	// Type is the local type name.
	Type string `msgpack:"t"`
}

// MethodBody is the instruction sequence of a method with its locals and exception regions.
type MethodBody struct {
	Instructions []*Instruction    `msgpack:"i"`
	Locals       []LocalVar        `msgpack:"l"`
	InitLocals   bool              `msgpack:"il"`
	Regions      []ExceptionRegion `msgpack:"r"`

	lastID InstrID
}

// NewInstruction allocates an instruction with a fresh handle. The instruction is not added to the body.
func (b *MethodBody) NewInstruction(op OpCode, operand Operand) *Instruction {
	if b.lastID == 0 {
		for _, inst := range b.Instructions {
			b.lastID = max(b.lastID, inst.ID)
		}
	}
	b.lastID++
	return &Instruction{ID: b.lastID, Op: op, Operand: operand}
}

// Append allocates an instruction and adds it to the end of the body.
func (b *MethodBody) Append(op OpCode, operand Operand) *Instruction {
	inst := b.NewInstruction(op, operand)
	b.Instructions = append(b.Instructions, inst)
	return inst
}

// Index maps each instruction handle to its current position.
func (b *MethodBody) Index() map[InstrID]int {
	index := make(map[InstrID]int, len(b.Instructions))
	for i, inst := range b.Instructions {
		index[inst.ID] = i
	}
	return index
}

// Last returns the final instruction, or nil for an empty body.
func (b *MethodBody) Last() *Instruction {
	if len(b.Instructions) == 0 {
		return nil
	}
	return b.Instructions[len(b.Instructions)-1]
}

// Clone returns a deep copy of the body.
func (b *MethodBody) Clone() *MethodBody {
	c := &MethodBody{
		Instructions: make([]*Instruction, len(b.Instructions)),
		Locals:       slices.Clone(b.Locals),
		InitLocals:   b.InitLocals,
		Regions:      slices.Clone(b.Regions),
		lastID:       b.lastID,
	}
	for i, inst := range b.Instructions {
		c.Instructions[i] = inst.Clone()
	}
	return c
}

// Instruction is one opcode with its operand.
type Instruction struct {
	// ID is the stable handle of this instruction.
	ID InstrID `msgpack:"id"`
	// Op is the opcode.
	Op OpCode `msgpack:"op"`
	// Operand holds the opcode argument, interpreted per Op.OperandKind.
	Operand Operand `msgpack:"o"`
	// Seq is the debug sequence point attached to this instruction, if any.
	Seq *SequencePoint `msgpack:"s,omitempty"`
	// Synthetic marks instructions inserted by the weaver.
	Synthetic bool `msgpack:"w,omitempty"`
}

// Clone returns a deep copy of the instruction.
func (i *Instruction) Clone() *Instruction {
	c := *i
	c.Operand.Targets = slices.Clone(i.Operand.Targets)
	if i.Operand.Method != nil {
		m := *i.Operand.Method
		m.Params = slices.Clone(m.Params)
		c.Operand.Method = &m
	}
	if i.Seq != nil {
		s := *i.Seq
		c.Seq = &s
	}
	return &c
}

// Operand is the argument of an instruction. Only the field selected by the opcode operand kind is meaningful.
type Operand struct {
	Target  InstrID    `msgpack:"t,omitempty"`
	Targets []InstrID  `msgpack:"ts,omitempty"`
	Int     int64      `msgpack:"n,omitempty"`
	Str     string     `msgpack:"s,omitempty"`
	Local   int        `msgpack:"l,omitempty"`
	Method  *MethodRef `msgpack:"m,omitempty"`
}

// MethodRef references a method by signature.
type MethodRef struct {
	DeclaringType string   `msgpack:"dt"`
	Name          string   `msgpack:"n"`
	ReturnType    string   `msgpack:"rt"`
	Params        []string `msgpack:"p"`
}

// String renders the reference as "ReturnType DeclaringType::Name(Params)".
func (r *MethodRef) String() string {
	return r.ReturnType + " " + r.DeclaringType + "::" + r.Name + "(" + strings.Join(r.Params, ",") + ")"
}

// Equal reports if both references name the same method.
func (r *MethodRef) Equal(o *MethodRef) bool {
	if r == nil || o == nil {
		return r == o
	}
	return r.DeclaringType == o.DeclaringType && r.Name == o.Name && slices.Equal(r.Params, o.Params)
}

// HiddenLine is the line number debug information uses to mark compiler generated sequence points.
const HiddenLine = 0xFEEFEE

// SequencePoint maps an instruction back to a source location.
type SequencePoint struct {
	File string `msgpack:"f"`
	Line uint32 `msgpack:"l"`
}

// Hidden reports if the sequence point should not be used for source mapping.
func (s *SequencePoint) Hidden() bool {
	return s.Line == HiddenLine || s.Line == 0
}

// RegionKind identifies the handler type of an exception region.
type RegionKind uint8

const (
	RegionCatch RegionKind = iota
	RegionFinally
	RegionFault
	RegionFilter
)

var regionKindNames = [...]string{
	RegionCatch:   "catch",
	RegionFinally: "finally",
	RegionFault:   "fault",
	RegionFilter:  "filter",
}

func (k RegionKind) String() string {
	if int(k) < len(regionKindNames) {
		return regionKindNames[k]
	}
	return "unknown"
}

// ExceptionRegion describes a protected block and its handler. End boundaries are exclusive.
type ExceptionRegion struct {
	Kind         RegionKind `msgpack:"k"`
	TryStart     InstrID    `msgpack:"ts"`
	TryEnd       InstrID    `msgpack:"te"`
	HandlerStart InstrID    `msgpack:"hs"`
	HandlerEnd   InstrID    `msgpack:"he"`
	FilterStart  InstrID    `msgpack:"fs,omitempty"`
	CatchType    string     `msgpack:"ct,omitempty"`
}
