package weave

import "strings"

// NoSourceFile is the file reported for methods without usable debug information.
const NoSourceFile = "NoSource"

// ResolveSource returns the first non-hidden sequence point of the method body, or (NoSourceFile, 0).
func ResolveSource(m *Method) (string, uint32) {
	if m.Body != nil {
		for _, inst := range m.Body.Instructions {
			if inst.Seq != nil && !inst.Seq.Hidden() {
				return inst.Seq.File, inst.Seq.Line
			}
		}
	}
	return NoSourceFile, 0
}

// MethodSignature returns the fully qualified signature "ReturnType Namespace.Type::Name(Params)".
func MethodSignature(t *Type, m *Method) string {
	ref := MethodRef{
		DeclaringType: t.FullName(),
		Name:          m.Name,
		ReturnType:    m.ReturnType,
		Params:        m.Params,
	}
	return ref.String()
}

// MethodLabel returns the zone display label: the fully qualified signature without the return type prefix.
func MethodLabel(t *Type, m *Method) string {
	sig := MethodSignature(t, m)
	if i := strings.IndexByte(sig, ' '); i >= 0 {
		return sig[i+1:]
	}
	return sig
}
