package weave

import (
	"errors"
	"fmt"
)

var (
	// ErrReturnInRegion indicates the return instruction lies inside a protected block or handler.
	ErrReturnInRegion = errors.New("return instruction inside exception region")
	// ErrAlreadyWoven indicates a body or module that already carries zone instrumentation.
	ErrAlreadyWoven = errors.New("already woven")
)

// ZoneDescriptor holds the arguments synthesized for the begin zone call of one method.
type ZoneDescriptor struct {
	// Name is the zone name, always absent for woven zones.
	Name string
	// Color is the 24-bit zone color.
	Color uint32
	// File and Line locate the method source.
	File string
	Line uint32
	// Label is the member label shown in the profiler.
	Label string
}

// InjectZone instruments the method body so the zone begins before the first original instruction and ends right
// before the sole return. Every precondition is checked before the body is touched, an error always leaves the
// method unmodified.
func InjectZone(m *Method, binding *Binding, desc ZoneDescriptor) error {
	body := m.Body
	if body == nil {
		return ErrNoMethodBody
	} else if err := VerifyBody(body); err != nil {
		return err
	}
	for _, inst := range body.Instructions {
		if inst.Synthetic {
			return ErrAlreadyWoven
		}
	}
	ret := body.Last()
	if ret.Op.Flow() != FlowReturn {
		return fmt.Errorf("%w: final instruction is %s", ErrNoReturn, ret.Op)
	} else if count := countReturns(body); count != 1 {
		return fmt.Errorf("%w: %d found", ErrMultipleReturns, count)
	}
	retPos := len(body.Instructions) - 1
	for _, span := range resolveRegionSpans(body, body.Index()) {
		// a region ending at the return is fine, one spanning it is not
		if retPos >= span.tryStart && retPos < span.tryEnd {
			return ErrReturnInRegion
		}
	}
	for _, r := range body.Regions {
		if r.HandlerEnd == NoInstr || r.HandlerStart == ret.ID {
			return ErrReturnInRegion
		}
	}

	// zero local methods must request initialized locals before gaining one
	if len(body.Locals) == 0 {
		body.InitLocals = true
	}
	handle := len(body.Locals)
	body.Locals = append(body.Locals, LocalVar{Type: binding.HandleType})

	prologue := []*Instruction{
		synthetic(body, OpLdNull, Operand{}),
		synthetic(body, OpLdcI4, Operand{Int: 1}),
		synthetic(body, OpLdcI4, Operand{Int: int64(desc.Color & colorMask)}),
		synthetic(body, OpLdNull, Operand{}),
		synthetic(body, OpLdcI4, Operand{Int: int64(desc.Line)}),
		synthetic(body, OpLdStr, Operand{Str: desc.File}),
		synthetic(body, OpLdStr, Operand{Str: desc.Label}),
		synthetic(body, OpCall, Operand{Method: binding.BeginZone}),
		synthetic(body, OpStLoc, Operand{Local: handle}),
	}
	epilogue := []*Instruction{
		synthetic(body, OpLdLocA, Operand{Local: handle}),
		synthetic(body, OpCall, Operand{Method: binding.EndZone}),
	}

	original := body.Instructions
	spliced := make([]*Instruction, 0, len(prologue)+len(original)+len(epilogue))
	spliced = append(spliced, prologue...)
	spliced = append(spliced, original[:retPos]...)
	spliced = append(spliced, epilogue...)
	spliced = append(spliced, ret)
	body.Instructions = spliced

	rewrite := map[InstrID]InstrID{ret.ID: epilogue[0].ID}
	remap := func(id InstrID) InstrID {
		if to, ok := rewrite[id]; ok {
			return to
		}
		return id
	}
	for _, inst := range original[:retPos] {
		switch inst.Op.OperandKind() {
		case OperandTarget:
			inst.Operand.Target = remap(inst.Operand.Target)
		case OperandTargets:
			for i, t := range inst.Operand.Targets {
				inst.Operand.Targets[i] = remap(t)
			}
		}
	}
	for i := range body.Regions {
		r := &body.Regions[i]
		r.TryEnd = remap(r.TryEnd)
		r.HandlerEnd = remap(r.HandlerEnd)
	}
	return nil
}

func synthetic(b *MethodBody, op OpCode, operand Operand) *Instruction {
	inst := b.NewInstruction(op, operand)
	inst.Synthetic = true
	return inst
}
