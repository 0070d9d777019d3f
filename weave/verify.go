package weave

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedBody indicates a body with unresolvable branch targets or region boundaries.
	ErrMalformedBody = errors.New("malformed method body")
	// ErrUnbalancedZone indicates a woven body where some path does not begin and end the zone exactly once.
	ErrUnbalancedZone = errors.New("unbalanced zone instrumentation")
)

// VerifyBody checks that every instruction handle is unique and every branch operand and exception region boundary
// resolves to an instruction of the body.
func VerifyBody(b *MethodBody) error {
	if len(b.Instructions) == 0 {
		return fmt.Errorf("%w: empty body", ErrMalformedBody)
	}
	index := make(map[InstrID]int, len(b.Instructions))
	for i, inst := range b.Instructions {
		if inst.ID == NoInstr {
			return fmt.Errorf("%w: instruction %d has no handle", ErrMalformedBody, i)
		} else if _, dup := index[inst.ID]; dup {
			return fmt.Errorf("%w: duplicate handle %d", ErrMalformedBody, inst.ID)
		}
		index[inst.ID] = i
	}

	for i, inst := range b.Instructions {
		switch inst.Op.OperandKind() {
		case OperandTarget:
			if _, ok := index[inst.Operand.Target]; !ok {
				return fmt.Errorf("%w: %s at %d targets unknown handle %d",
					ErrMalformedBody, inst.Op, i, inst.Operand.Target)
			}
		case OperandTargets:
			for _, t := range inst.Operand.Targets {
				if _, ok := index[t]; !ok {
					return fmt.Errorf("%w: switch at %d targets unknown handle %d", ErrMalformedBody, i, t)
				}
			}
		case OperandMethod:
			if inst.Operand.Method == nil {
				return fmt.Errorf("%w: %s at %d has no method", ErrMalformedBody, inst.Op, i)
			}
		}
	}

	position := func(id InstrID, isEnd bool) (int, error) {
		if id == NoInstr && isEnd {
			return len(b.Instructions), nil
		} else if i, ok := index[id]; ok {
			return i, nil
		}
		return 0, fmt.Errorf("%w: region boundary references unknown handle %d", ErrMalformedBody, id)
	}
	for ri, r := range b.Regions {
		bounds := [4]InstrID{r.TryStart, r.TryEnd, r.HandlerStart, r.HandlerEnd}
		var pos [4]int
		for i, id := range bounds {
			p, err := position(id, i%2 == 1)
			if err != nil {
				return err
			}
			pos[i] = p
		}
		if pos[0] >= pos[1] || pos[2] >= pos[3] {
			return fmt.Errorf("%w: region %d has an empty or inverted range", ErrMalformedBody, ri)
		}
		if r.Kind == RegionFilter {
			if _, err := position(r.FilterStart, false); err != nil {
				return err
			}
		}
	}
	return nil
}

// regionSpan is an exception region resolved to body positions, ends exclusive.
type regionSpan struct {
	tryStart, tryEnd int
	handlers         []int
}

func resolveRegionSpans(b *MethodBody, index map[InstrID]int) []regionSpan {
	end := func(id InstrID) int {
		if id == NoInstr {
			return len(b.Instructions)
		}
		return index[id]
	}
	spans := make([]regionSpan, len(b.Regions))
	for i, r := range b.Regions {
		spans[i] = regionSpan{tryStart: index[r.TryStart], tryEnd: end(r.TryEnd)}
		spans[i].handlers = append(spans[i].handlers, index[r.HandlerStart])
		if r.Kind == RegionFilter {
			spans[i].handlers = append(spans[i].handlers, index[r.FilterStart])
		}
	}
	return spans
}

const (
	zonePending = iota // begin not yet executed
	zoneOpen
	zoneClosed
)

type flowState struct {
	pos   int
	phase int
}

// VerifyZoneBalance walks every control flow path of a woven body, including exception edges, and checks that the
// zone begins exactly once before any original instruction and ends exactly once before every return.
func VerifyZoneBalance(b *MethodBody, binding *Binding) error {
	if err := VerifyBody(b); err != nil {
		return err
	}
	index := b.Index()
	spans := resolveRegionSpans(b, index)

	seen := make(map[flowState]bool)
	work := []flowState{{pos: 0, phase: zonePending}}
	push := func(s flowState) {
		if !seen[s] {
			seen[s] = true
			work = append(work, s)
		}
	}
	seen[work[0]] = true

	for len(work) > 0 {
		s := work[len(work)-1]
		work = work[:len(work)-1]
		if s.pos >= len(b.Instructions) {
			return fmt.Errorf("%w: control falls off the end of the body", ErrUnbalancedZone)
		}
		inst := b.Instructions[s.pos]

		phase := s.phase
		switch {
		case isZoneCall(inst, binding.BeginZone):
			if phase != zonePending {
				return fmt.Errorf("%w: zone begins twice at %d", ErrUnbalancedZone, s.pos)
			}
			phase = zoneOpen
		case isZoneCall(inst, binding.EndZone):
			if phase != zoneOpen {
				return fmt.Errorf("%w: zone ends while not open at %d", ErrUnbalancedZone, s.pos)
			}
			phase = zoneClosed
		case inst.Op.Flow() == FlowReturn:
			if phase != zoneClosed {
				return fmt.Errorf("%w: return at %d reached without ending the zone", ErrUnbalancedZone, s.pos)
			}
		case !inst.Synthetic && phase != zoneOpen:
			return fmt.Errorf("%w: original instruction at %d runs outside the zone", ErrUnbalancedZone, s.pos)
		}

		for _, span := range spans {
			if s.pos >= span.tryStart && s.pos < span.tryEnd {
				for _, h := range span.handlers {
					push(flowState{pos: h, phase: phase})
				}
			}
		}

		next := func(pos int) { push(flowState{pos: pos, phase: phase}) }
		switch inst.Op.Flow() {
		case FlowNext, FlowCall:
			next(s.pos + 1)
		case FlowBranch, FlowLeave:
			next(index[inst.Operand.Target])
		case FlowCondBranch:
			next(index[inst.Operand.Target])
			next(s.pos + 1)
		case FlowSwitch:
			for _, t := range inst.Operand.Targets {
				next(index[t])
			}
			next(s.pos + 1)
		case FlowReturn, FlowThrow, FlowEndHandler:
			// leaves the body or returns to the runtime
		}
	}
	return nil
}

func isZoneCall(inst *Instruction, target *MethodRef) bool {
	return inst.Synthetic && inst.Op.Flow() == FlowCall && inst.Operand.Method.Equal(target)
}
