package weave

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	asmEndLabel     = "end"
	asmWovenComment = "woven"
)

// Disassemble renders the body in the textual form accepted by ParseBody. Labels are derived from instruction
// positions, so two bodies with the same shape render identically regardless of their handles.
func Disassemble(b *MethodBody) string {
	index := b.Index()
	label := func(id InstrID) string {
		if id == NoInstr {
			return asmEndLabel
		} else if i, ok := index[id]; ok {
			return positionLabel(i)
		}
		return "?" + strconv.FormatUint(uint64(id), 10)
	}

	var sb strings.Builder
	if len(b.Locals) > 0 || b.InitLocals {
		sb.WriteString(".locals ")
		if b.InitLocals {
			sb.WriteString("init ")
		}
		sb.WriteByte('(')
		for i, l := range b.Locals {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(l.Type)
		}
		sb.WriteString(")\n")
	}
	for i, inst := range b.Instructions {
		sb.WriteString(positionLabel(i))
		sb.WriteString(": ")
		sb.WriteString(inst.Op.String())
		if operand := formatOperand(inst, label); operand != "" {
			sb.WriteByte(' ')
			sb.WriteString(operand)
		}
		if inst.Synthetic {
			sb.WriteString("  // " + asmWovenComment)
		} else if inst.Seq != nil {
			sb.WriteString("  // " + inst.Seq.File + ":" + strconv.FormatUint(uint64(inst.Seq.Line), 10))
		}
		sb.WriteByte('\n')
	}
	for _, r := range b.Regions {
		sb.WriteString(".try " + label(r.TryStart) + " to " + label(r.TryEnd) + " " + r.Kind.String() + " ")
		switch r.Kind {
		case RegionCatch:
			sb.WriteString(r.CatchType + " ")
		case RegionFilter:
			sb.WriteString(label(r.FilterStart) + " handler ")
		}
		sb.WriteString(label(r.HandlerStart) + " to " + label(r.HandlerEnd) + "\n")
	}
	return sb.String()
}

func positionLabel(i int) string {
	return fmt.Sprintf("IL_%04d", i)
}

func formatOperand(inst *Instruction, label func(InstrID) string) string {
	switch inst.Op.OperandKind() {
	case OperandTarget:
		return label(inst.Operand.Target)
	case OperandTargets:
		labels := make([]string, len(inst.Operand.Targets))
		for i, t := range inst.Operand.Targets {
			labels[i] = label(t)
		}
		return "(" + strings.Join(labels, ", ") + ")"
	case OperandInt:
		return strconv.FormatInt(inst.Operand.Int, 10)
	case OperandString:
		return strconv.Quote(inst.Operand.Str)
	case OperandLocal:
		return strconv.Itoa(inst.Operand.Local)
	case OperandMethod:
		if inst.Operand.Method == nil {
			return "<nil>"
		}
		return inst.Operand.Method.String()
	case OperandField:
		return inst.Operand.Str
	default:
		return ""
	}
}

// AsmError reports a syntax error in a textual method body.
type AsmError struct {
	Line int
	Msg  string
}

func (e *AsmError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Msg)
}

// ParseBody parses a textual method body as produced by Disassemble.
func ParseBody(text string) (*MethodBody, error) {
	lines := strings.Split(text, "\n")
	body := &MethodBody{}
	labels := make(map[string]InstrID)

	// first pass assigns handles so forward branches resolve
	var nextID InstrID
	for n, raw := range lines {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, ".") || strings.HasPrefix(line, "//") {
			continue
		}
		lbl, _, ok := strings.Cut(line, ":")
		if !ok || lbl == "" || strings.ContainsAny(lbl, " \t") {
			return nil, &AsmError{Line: n + 1, Msg: "expected label"}
		} else if _, dup := labels[lbl]; dup {
			return nil, &AsmError{Line: n + 1, Msg: "duplicate label " + lbl}
		}
		nextID++
		labels[lbl] = nextID
	}
	resolve := func(lbl string) (InstrID, error) {
		if lbl == asmEndLabel {
			return NoInstr, nil
		} else if id, ok := labels[lbl]; ok {
			return id, nil
		}
		return NoInstr, fmt.Errorf("unknown label %q", lbl)
	}

	for n, raw := range lines {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "//") {
			continue
		}
		var err error
		switch {
		case strings.HasPrefix(line, ".locals"):
			err = parseLocals(body, strings.TrimSpace(strings.TrimPrefix(line, ".locals")))
		case strings.HasPrefix(line, ".try"):
			var r ExceptionRegion
			r, err = parseRegion(strings.Fields(strings.TrimPrefix(line, ".try")), resolve)
			body.Regions = append(body.Regions, r)
		case strings.HasPrefix(line, "."):
			err = fmt.Errorf("unknown directive %q", strings.Fields(line)[0])
		default:
			lbl, rest, _ := strings.Cut(line, ":")
			var inst *Instruction
			inst, err = parseInstruction(strings.TrimSpace(rest), resolve)
			if inst != nil {
				inst.ID = labels[lbl]
				body.Instructions = append(body.Instructions, inst)
			}
		}
		if err != nil {
			return nil, &AsmError{Line: n + 1, Msg: err.Error()}
		}
	}
	body.lastID = nextID
	return body, nil
}

func parseLocals(body *MethodBody, s string) error {
	if rest, ok := strings.CutPrefix(s, "init"); ok {
		body.InitLocals = true
		s = strings.TrimSpace(rest)
	}
	if !strings.HasPrefix(s, "(") || !strings.HasSuffix(s, ")") {
		return errors.New("expected parenthesized local type list")
	}
	for _, t := range splitTypeList(s[1 : len(s)-1]) {
		body.Locals = append(body.Locals, LocalVar{Type: t})
	}
	return nil
}

func parseRegion(fields []string, resolve func(string) (InstrID, error)) (ExceptionRegion, error) {
	var r ExceptionRegion
	if len(fields) < 4 || fields[1] != "to" {
		return r, errors.New("expected: .try <start> to <end> <kind> ...")
	}
	var err error
	if r.TryStart, err = resolve(fields[0]); err != nil {
		return r, err
	} else if r.TryEnd, err = resolve(fields[2]); err != nil {
		return r, err
	}
	handler := fields[4:]
	switch fields[3] {
	case "catch":
		if len(handler) != 4 {
			return r, errors.New("expected: catch <type> <start> to <end>")
		}
		r.Kind = RegionCatch
		r.CatchType = handler[0]
		handler = handler[1:]
	case "finally":
		r.Kind = RegionFinally
	case "fault":
		r.Kind = RegionFault
	case "filter":
		if len(handler) != 5 || handler[1] != "handler" {
			return r, errors.New("expected: filter <start> handler <start> to <end>")
		}
		r.Kind = RegionFilter
		if r.FilterStart, err = resolve(handler[0]); err != nil {
			return r, err
		}
		handler = handler[2:]
	default:
		return r, fmt.Errorf("unknown region kind %q", fields[3])
	}
	if len(handler) != 3 || handler[1] != "to" {
		return r, errors.New("expected handler range: <start> to <end>")
	} else if r.HandlerStart, err = resolve(handler[0]); err != nil {
		return r, err
	} else if r.HandlerEnd, err = resolve(handler[2]); err != nil {
		return r, err
	}
	return r, nil
}

func parseInstruction(s string, resolve func(string) (InstrID, error)) (*Instruction, error) {
	mnemonic, rest, _ := strings.Cut(s, " ")
	mnemonic = strings.TrimSpace(mnemonic)
	op, ok := LookupOpCode(mnemonic)
	if !ok {
		return nil, fmt.Errorf("unknown opcode %q", mnemonic)
	}
	rest = strings.TrimSpace(rest)

	inst := &Instruction{Op: op}
	var operand, comment string
	if op.OperandKind() == OperandString {
		quoted, err := strconv.QuotedPrefix(rest)
		if err != nil {
			return nil, fmt.Errorf("%s expects a quoted string: %w", mnemonic, err)
		}
		if inst.Operand.Str, err = strconv.Unquote(quoted); err != nil {
			return nil, err
		}
		comment = strings.TrimSpace(rest[len(quoted):])
	} else {
		operand, comment, _ = strings.Cut(rest, "//")
		operand = strings.TrimSpace(operand)
		comment = "//" + comment
	}
	if comment = strings.TrimSpace(strings.TrimPrefix(comment, "//")); comment != "" {
		if err := parseInstructionComment(inst, comment); err != nil {
			return nil, err
		}
	}

	var err error
	switch op.OperandKind() {
	case OperandNone:
		if operand != "" {
			return nil, fmt.Errorf("%s takes no operand", mnemonic)
		}
	case OperandTarget:
		inst.Operand.Target, err = resolve(operand)
		if err == nil && inst.Operand.Target == NoInstr {
			err = fmt.Errorf("%s cannot target %q", mnemonic, asmEndLabel)
		}
	case OperandTargets:
		if !strings.HasPrefix(operand, "(") || !strings.HasSuffix(operand, ")") {
			return nil, errors.New("switch expects a parenthesized label list")
		}
		for _, lbl := range strings.Split(operand[1:len(operand)-1], ",") {
			if lbl = strings.TrimSpace(lbl); lbl == "" {
				continue
			}
			target, err := resolve(lbl)
			if err != nil {
				return nil, err
			}
			inst.Operand.Targets = append(inst.Operand.Targets, target)
		}
	case OperandInt:
		inst.Operand.Int, err = parseIntOperand(operand)
	case OperandLocal:
		inst.Operand.Local, err = strconv.Atoi(operand)
	case OperandMethod:
		inst.Operand.Method, err = ParseMethodRef(operand)
	case OperandField:
		if operand == "" {
			err = fmt.Errorf("%s expects a field reference", mnemonic)
		}
		inst.Operand.Str = operand
	}
	if err != nil {
		return nil, err
	}
	return inst, nil
}

func parseIntOperand(s string) (int64, error) {
	if v, err := strconv.ParseInt(s, 0, 64); err == nil {
		return v, nil
	}
	// allow full range hex literals such as 0xFFFFFFFF for colors
	v, err := strconv.ParseUint(s, 0, 64)
	return int64(v), err
}

func parseInstructionComment(inst *Instruction, comment string) error {
	if comment == asmWovenComment {
		inst.Synthetic = true
		return nil
	}
	i := strings.LastIndexByte(comment, ':')
	if i <= 0 {
		return nil // free form comment
	}
	line, err := strconv.ParseUint(comment[i+1:], 10, 32)
	if err != nil {
		return nil // free form comment
	}
	inst.Seq = &SequencePoint{File: comment[:i], Line: uint32(line)}
	return nil
}

// ParseMethodRef parses a method reference of the form "ReturnType Namespace.Type::Name(Param,Param)".
func ParseMethodRef(s string) (*MethodRef, error) {
	s = strings.TrimSpace(s)
	ret, rest, ok := strings.Cut(s, " ")
	if !ok {
		return nil, fmt.Errorf("method reference %q missing return type", s)
	}
	open := strings.IndexByte(rest, '(')
	if open < 0 || !strings.HasSuffix(rest, ")") {
		return nil, fmt.Errorf("method reference %q missing parameter list", s)
	}
	owner, name, ok := strings.Cut(rest[:open], "::")
	if !ok || owner == "" || name == "" {
		return nil, fmt.Errorf("method reference %q missing Type::Name", s)
	}
	return &MethodRef{
		DeclaringType: strings.TrimSpace(owner),
		Name:          strings.TrimSpace(name),
		ReturnType:    ret,
		Params:        splitTypeList(rest[open+1 : len(rest)-1]),
	}, nil
}

// splitTypeList splits a comma separated type list, ignoring commas nested in generic arguments.
func splitTypeList(s string) []string {
	var result []string
	var depth, start int
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '<', '[':
			depth++
		case '>', ']':
			depth--
		case ',':
			if depth == 0 {
				if t := strings.TrimSpace(s[start:i]); t != "" {
					result = append(result, t)
				}
				start = i + 1
			}
		}
	}
	if t := strings.TrimSpace(s[start:]); t != "" {
		result = append(result, t)
	}
	return result
}
