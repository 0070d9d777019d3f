package weave

import (
	"errors"
	"fmt"
	"strings"
)

// emptyBody is the body the compiler emits for an empty method. Shorter bodies and this exact shape have nothing
// worth timing, other two instruction bodies such as a forwarding call are woven.
var emptyBody = [...]OpCode{OpNop, OpRet}

var (
	// ErrNoMethodBody indicates an abstract, extern, or interface method.
	ErrNoMethodBody = errors.New("method has no body")
	// ErrAccessor indicates a property getter or setter.
	ErrAccessor = errors.New("method is a property accessor")
	// ErrCompilerGenerated indicates a compiler synthesized member or a state machine stub.
	ErrCompilerGenerated = errors.New("method is compiler generated")
	// ErrIgnored indicates an explicit ignore annotation on the method or a declaring type.
	ErrIgnored = errors.New("method is ignored by annotation")
	// ErrSpecialName indicates an operator or constructor.
	ErrSpecialName = errors.New("method is a special name member")
	// ErrAggressiveInlining indicates a method the runtime is asked to inline.
	ErrAggressiveInlining = errors.New("method is marked for aggressive inlining")
	// ErrBodyTooShort indicates a body no longer than the minimal empty body.
	ErrBodyTooShort = errors.New("method body too short")
	// ErrThrowStub indicates a body that ends in a throw rather than a return.
	ErrThrowStub = errors.New("method ends in throw")
	// ErrNoReturn indicates a body whose final instruction is neither a return nor a throw.
	ErrNoReturn = errors.New("method does not end in return")
	// ErrMultipleReturns indicates a body with more than one return instruction.
	ErrMultipleReturns = errors.New("method has multiple return instructions")
	// ErrNoSource indicates a method without usable debug information, rejected only when source is required.
	ErrNoSource = errors.New("method has no source information")
)

// IsExpectedSkip returns true if the eligibility error is routine and should be reported at debug severity. Any
// other rejection points at a body shape the weaver does not understand and is reported as a warning.
func IsExpectedSkip(err error) bool {
	return errors.Is(err, ErrNoMethodBody) ||
		errors.Is(err, ErrAccessor) ||
		errors.Is(err, ErrCompilerGenerated) ||
		errors.Is(err, ErrIgnored) ||
		errors.Is(err, ErrSpecialName) ||
		errors.Is(err, ErrAggressiveInlining) ||
		errors.Is(err, ErrBodyTooShort) ||
		errors.Is(err, ErrThrowStub) ||
		errors.Is(err, ErrNoSource)
}

// CheckEligibility returns nil if the method should be instrumented, otherwise the reason it is rejected. Annotations
// must already be resolved. The declaring type chain is looked up in mod.
func CheckEligibility(mod *Module, t *Type, m *Method, requireSource bool) error {
	if m.Body == nil || t.Interface || m.Has(FlagAbstract) || m.Has(FlagExtern) {
		return ErrNoMethodBody
	} else if m.Has(FlagGetter) || m.Has(FlagSetter) {
		return ErrAccessor
	} else if m.Has(FlagCompilerGenerated) ||
		hasAnnotation(m.Annotations, AnnotationCompilerGenerated, AnnotationStateMachine) {
		return ErrCompilerGenerated
	} else if hasAnnotation(m.Annotations, AnnotationIgnore, AnnotationIgnoreMethod) {
		return ErrIgnored
	}

	for dt := t; dt != nil; dt = declaringType(mod, dt) {
		if hasAnnotation(dt.Annotations, AnnotationIgnore, AnnotationIgnoreType) {
			return ErrIgnored
		} else if hasAnnotation(dt.Annotations, AnnotationCompilerGenerated) {
			return ErrCompilerGenerated
		}
	}

	if m.Has(FlagSpecialName) || m.Has(FlagRTSpecialName) || isSpecialName(m.Name) {
		return ErrSpecialName
	} else if m.Has(FlagAggressiveInlining) {
		return ErrAggressiveInlining
	}

	body := m.Body
	if len(body.Instructions) < len(emptyBody) || isEmptyBody(body) {
		return fmt.Errorf("%w: %d instructions", ErrBodyTooShort, len(body.Instructions))
	}
	switch last := body.Last(); last.Op.Flow() {
	case FlowReturn:
	case FlowThrow:
		return ErrThrowStub
	default:
		return fmt.Errorf("%w: final instruction is %s", ErrNoReturn, last.Op)
	}
	if count := countReturns(body); count > 1 {
		return fmt.Errorf("%w: %d found", ErrMultipleReturns, count)
	}

	if requireSource {
		if file, _ := ResolveSource(m); file == NoSourceFile {
			return ErrNoSource
		}
	}
	return nil
}

func declaringType(mod *Module, t *Type) *Type {
	if t.DeclaringType == "" {
		return nil
	}
	return mod.Type(t.DeclaringType)
}

func isSpecialName(name string) bool {
	return name == ".ctor" || name == ".cctor" || strings.HasPrefix(name, "op_")
}

func isEmptyBody(b *MethodBody) bool {
	if len(b.Instructions) != len(emptyBody) {
		return false
	}
	for i, inst := range b.Instructions {
		if inst.Op != emptyBody[i] {
			return false
		}
	}
	return true
}

func countReturns(b *MethodBody) int {
	var count int
	for _, inst := range b.Instructions {
		if inst.Op.Flow() == FlowReturn {
			count++
		}
	}
	return count
}
