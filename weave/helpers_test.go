package weave

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const (
	testNamespace = "Content.Server.Player"
	testTypeName  = "PlayerSystem"
)

// simpleBodyText is the smallest eligible body shape: two original instructions and one return.
const simpleBodyText = `IL_0000: ldarg 0  // PlayerSystem.cs:10
IL_0001: pop  // PlayerSystem.cs:11
IL_0002: ret  // PlayerSystem.cs:12
`

func mustParseBody(t *testing.T, text string) *MethodBody {
	t.Helper()

	b, err := ParseBody(text)
	require.NoError(t, err)
	return b
}

func tag(kind AnnotationKind, args ...uint64) Annotation {
	return Annotation{Type: "Test." + kind.String(), Args: args, Kind: kind}
}

// makeTestModule returns a module that references the default binding and holds one type with one eligible method.
func makeTestModule(t *testing.T) (*Module, *Type, *Method) {
	t.Helper()

	m := &Method{
		Name:       "Update",
		ReturnType: "System.Void",
		Body:       mustParseBody(t, simpleBodyText),
	}
	typ := &Type{Namespace: testNamespace, Name: testTypeName, Methods: []*Method{m}}
	mod := &Module{
		Name:       "Content.Server",
		Version:    "1.0.0",
		References: []ModuleRef{{Name: "Robust.Shared", Version: "2.1.0"}},
	}
	mod.AddType(typ)
	return mod, typ, m
}

func defaultTestBinding(t *testing.T) *Binding {
	t.Helper()

	mod, _, _ := makeTestModule(t)
	b, err := LocateBinding(mod, DefaultBindingConfig())
	require.NoError(t, err)
	return b
}
