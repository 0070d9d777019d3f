package weave

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestModule(t *testing.T) {
	t.Parallel()

	mod := &Module{
		Name:       "Content.Server",
		References: []ModuleRef{{Name: "Robust.Shared", Version: "2.1.0"}, {Name: "System.Runtime"}},
	}
	outer := &Type{Namespace: "Content.Server.Player", Name: "PlayerSystem"}
	mod.AddType(outer)

	t.Run("type_lookup", func(t *testing.T) {
		assert.Same(t, outer, mod.Type("Content.Server.Player.PlayerSystem"))
		assert.Nil(t, mod.Type("PlayerSystem"))
	})
	t.Run("type_added_after_lookup", func(t *testing.T) {
		inner := &Type{Name: "Inner", DeclaringType: outer.FullName()}
		mod.AddType(inner)
		assert.Same(t, inner, mod.Type("Content.Server.Player.PlayerSystem/Inner"))
		assert.Equal(t, []*Type{outer, inner}, mod.Types)
	})
	t.Run("reference", func(t *testing.T) {
		ref, ok := mod.Reference("Robust.Shared")
		require.True(t, ok)
		assert.Equal(t, "2.1.0", ref.Version)

		_, ok = mod.Reference("robust.shared")
		assert.False(t, ok)
	})
}

func TestTypeNames(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		typ      Type
		fullName string
		root     string
	}{
		{"namespaced", Type{Namespace: "Content.Server", Name: "GameTicker"}, "Content.Server.GameTicker", "Content.Server"},
		{"global", Type{Name: "Program"}, "Program", ""},
		{"nested", Type{Name: "Inner", DeclaringType: "Content.Server.GameTicker"},
			"Content.Server.GameTicker/Inner", "Content.Server"},
		{"nested_twice", Type{Name: "Deep", DeclaringType: "Content.Server.GameTicker/Inner"},
			"Content.Server.GameTicker/Inner/Deep", "Content.Server"},
		{"nested_in_global", Type{Name: "Inner", DeclaringType: "Program"}, "Program/Inner", ""},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.fullName, tc.typ.FullName())
			assert.Equal(t, tc.root, tc.typ.RootNamespace())
		})
	}
}

func TestMethodFlags(t *testing.T) {
	t.Parallel()

	flags := FlagStatic | FlagGetter | FlagSpecialName
	assert.Equal(t, []string{"static", "specialname", "getter"}, flags.Names())
	assert.Nil(t, MethodFlags(0).Names())

	for _, name := range flags.Names() {
		f, ok := ParseMethodFlag(name)
		require.True(t, ok, name)
		assert.NotZero(t, flags&f, name)
	}
	f, ok := ParseMethodFlag(" AggressiveInlining ")
	require.True(t, ok)
	assert.Equal(t, FlagAggressiveInlining, f)
	_, ok = ParseMethodFlag("sealed")
	assert.False(t, ok)

	m := &Method{Flags: flags}
	assert.True(t, m.Has(FlagGetter|FlagSpecialName))
	assert.False(t, m.Has(FlagGetter|FlagSetter))
}

func TestMethodBody(t *testing.T) {
	t.Parallel()

	t.Run("new_instruction_after_parse", func(t *testing.T) {
		body := mustParseBody(t, simpleBodyText)
		var maxID InstrID
		for _, inst := range body.Instructions {
			maxID = max(maxID, inst.ID)
		}
		first := body.NewInstruction(OpNop, Operand{})
		second := body.Append(OpRet, Operand{})
		assert.Equal(t, maxID+1, first.ID)
		assert.Equal(t, maxID+2, second.ID)
		assert.Same(t, second, body.Last())
		assert.Len(t, body.Instructions, 4)
	})
	t.Run("empty", func(t *testing.T) {
		body := &MethodBody{}
		assert.Nil(t, body.Last())
		assert.Equal(t, InstrID(1), body.Append(OpRet, Operand{}).ID)
	})
	t.Run("index", func(t *testing.T) {
		body := mustParseBody(t, simpleBodyText)
		index := body.Index()
		require.Len(t, index, len(body.Instructions))
		for i, inst := range body.Instructions {
			assert.Equal(t, i, index[inst.ID])
		}
		assert.NotContains(t, index, NoInstr)
	})
	t.Run("clone_is_deep", func(t *testing.T) {
		body := mustParseBody(t, simpleBodyText)
		body.Locals = []LocalVar{{Type: "System.Int32"}}
		call := body.Append(OpCall, Operand{Method: &MethodRef{Name: "Run", Params: []string{"System.Int32"}}})
		sw := body.Append(OpSwitch, Operand{Targets: []InstrID{1, 2}})

		c := body.Clone()
		require.Equal(t, Disassemble(body), Disassemble(c))

		c.Locals[0].Type = "System.Int64"
		c.Instructions[0].Seq.Line = 99
		c.Instructions[len(c.Instructions)-2].Operand.Method.Params[0] = "System.Int64"
		c.Instructions[len(c.Instructions)-1].Operand.Targets[0] = 3
		c.Instructions[1].Op = OpNop

		assert.Equal(t, "System.Int32", body.Locals[0].Type)
		assert.Equal(t, uint32(10), body.Instructions[0].Seq.Line)
		assert.Equal(t, "System.Int32", call.Operand.Method.Params[0])
		assert.Equal(t, InstrID(1), sw.Operand.Targets[0])
		assert.Equal(t, OpPop, body.Instructions[1].Op)
	})
	t.Run("clone_keeps_handles", func(t *testing.T) {
		body := mustParseBody(t, simpleBodyText)
		c := body.Clone()
		assert.Equal(t, body.NewInstruction(OpNop, Operand{}).ID, c.NewInstruction(OpNop, Operand{}).ID)
	})
}

func TestMethodRef(t *testing.T) {
	t.Parallel()

	ref := &MethodRef{
		DeclaringType: "Robust.Tracy.TracyZone",
		Name:          "Dispose",
		ReturnType:    "System.Void",
	}
	assert.Equal(t, "System.Void Robust.Tracy.TracyZone::Dispose()", ref.String())

	withParams := &MethodRef{DeclaringType: "A", Name: "B", ReturnType: "C", Params: []string{"D", "E"}}
	assert.Equal(t, "C A::B(D,E)", withParams.String())

	testCases := []struct {
		name  string
		a, b  *MethodRef
		equal bool
	}{
		{"same", ref, ref, true},
		{"copy", ref, &MethodRef{DeclaringType: ref.DeclaringType, Name: ref.Name, ReturnType: ref.ReturnType}, true},
		{"return_type_ignored", ref, &MethodRef{DeclaringType: ref.DeclaringType, Name: ref.Name}, true},
		{"different_name", ref, &MethodRef{DeclaringType: ref.DeclaringType, Name: "End"}, false},
		{"different_owner", ref, &MethodRef{DeclaringType: "X", Name: ref.Name}, false},
		{"different_params", withParams, &MethodRef{DeclaringType: "A", Name: "B", Params: []string{"D"}}, false},
		{"nil_both", nil, nil, true},
		{"nil_one", ref, nil, false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.equal, tc.a.Equal(tc.b))
			assert.Equal(t, tc.equal, tc.b.Equal(tc.a))
		})
	}
}

func TestSequencePointHidden(t *testing.T) {
	t.Parallel()

	assert.False(t, (&SequencePoint{File: "A.cs", Line: 1}).Hidden())
	assert.True(t, (&SequencePoint{File: "A.cs", Line: HiddenLine}).Hidden())
	assert.True(t, (&SequencePoint{File: "A.cs"}).Hidden())
}

func TestRegionKindString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "catch", RegionCatch.String())
	assert.Equal(t, "finally", RegionFinally.String())
	assert.Equal(t, "fault", RegionFault.String())
	assert.Equal(t, "filter", RegionFilter.String())
	assert.Equal(t, "unknown", RegionKind(42).String())
}

func TestOpCodes(t *testing.T) {
	t.Parallel()

	t.Run("lookup_round_trip", func(t *testing.T) {
		for op := OpCode(0); op < opCodeCount; op++ {
			found, ok := LookupOpCode(op.String())
			require.True(t, ok, op.String())
			assert.Equal(t, op, found)
		}
	})
	t.Run("unknown", func(t *testing.T) {
		_, ok := LookupOpCode("jmp")
		assert.False(t, ok)
		assert.Equal(t, "invalid", opCodeCount.String())
		assert.Equal(t, FlowNext, opCodeCount.Flow())
		assert.Equal(t, OperandNone, opCodeCount.OperandKind())
	})
	t.Run("flow", func(t *testing.T) {
		assert.Equal(t, FlowReturn, OpRet.Flow())
		assert.Equal(t, FlowThrow, OpRethrow.Flow())
		assert.Equal(t, FlowLeave, OpLeave.Flow())
		assert.Equal(t, FlowSwitch, OpSwitch.Flow())
		assert.Equal(t, FlowCall, OpNewObj.Flow())
	})
	t.Run("branches", func(t *testing.T) {
		assert.True(t, OpBr.IsBranch())
		assert.True(t, OpLeave.IsBranch())
		assert.True(t, OpBge.IsBranch())
		assert.False(t, OpSwitch.IsBranch())
		assert.False(t, OpCall.IsBranch())
	})
}
