package weave

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckEligibility(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name          string
		modify        func(t *testing.T, mod *Module, typ *Type, m *Method)
		requireSource bool
		expectErr     error
	}{
		{
			name:   "eligible",
			modify: func(*testing.T, *Module, *Type, *Method) {},
		},
		{
			name:      "no_body",
			modify:    func(_ *testing.T, _ *Module, _ *Type, m *Method) { m.Body = nil },
			expectErr: ErrNoMethodBody,
		},
		{
			name:      "interface",
			modify:    func(_ *testing.T, _ *Module, typ *Type, _ *Method) { typ.Interface = true },
			expectErr: ErrNoMethodBody,
		},
		{
			name:      "abstract",
			modify:    func(_ *testing.T, _ *Module, _ *Type, m *Method) { m.Flags |= FlagAbstract },
			expectErr: ErrNoMethodBody,
		},
		{
			name:      "extern",
			modify:    func(_ *testing.T, _ *Module, _ *Type, m *Method) { m.Flags |= FlagExtern },
			expectErr: ErrNoMethodBody,
		},
		{
			name:      "getter",
			modify:    func(_ *testing.T, _ *Module, _ *Type, m *Method) { m.Flags |= FlagGetter | FlagSpecialName },
			expectErr: ErrAccessor,
		},
		{
			name:      "setter",
			modify:    func(_ *testing.T, _ *Module, _ *Type, m *Method) { m.Flags |= FlagSetter },
			expectErr: ErrAccessor,
		},
		{
			name: "accessor_before_short_body",
			modify: func(t *testing.T, _ *Module, _ *Type, m *Method) {
				m.Flags |= FlagGetter
				m.Body = mustParseBody(t, "IL_0000: nop\nIL_0001: ret\n")
			},
			expectErr: ErrAccessor,
		},
		{
			name:      "compiler_generated_flag",
			modify:    func(_ *testing.T, _ *Module, _ *Type, m *Method) { m.Flags |= FlagCompilerGenerated },
			expectErr: ErrCompilerGenerated,
		},
		{
			name: "compiler_generated_annotation",
			modify: func(_ *testing.T, _ *Module, _ *Type, m *Method) {
				m.Annotations = append(m.Annotations, tag(AnnotationCompilerGenerated))
			},
			expectErr: ErrCompilerGenerated,
		},
		{
			name: "state_machine",
			modify: func(_ *testing.T, _ *Module, _ *Type, m *Method) {
				m.Annotations = append(m.Annotations, tag(AnnotationStateMachine))
			},
			expectErr: ErrCompilerGenerated,
		},
		{
			name: "ignore_on_method",
			modify: func(_ *testing.T, _ *Module, _ *Type, m *Method) {
				m.Annotations = append(m.Annotations, tag(AnnotationIgnore))
			},
			expectErr: ErrIgnored,
		},
		{
			name: "ignore_method",
			modify: func(_ *testing.T, _ *Module, _ *Type, m *Method) {
				m.Annotations = append(m.Annotations, tag(AnnotationIgnoreMethod))
			},
			expectErr: ErrIgnored,
		},
		{
			name: "ignore_type",
			modify: func(_ *testing.T, _ *Module, typ *Type, _ *Method) {
				typ.Annotations = append(typ.Annotations, tag(AnnotationIgnoreType))
			},
			expectErr: ErrIgnored,
		},
		{
			name: "ignored_declaring_type",
			modify: func(_ *testing.T, mod *Module, typ *Type, _ *Method) {
				mod.AddType(&Type{Namespace: "Content.Server", Name: "Outer",
					Annotations: []Annotation{tag(AnnotationIgnore)}})
				typ.Namespace = ""
				typ.DeclaringType = "Content.Server.Outer"
			},
			expectErr: ErrIgnored,
		},
		{
			name: "compiler_generated_declaring_type",
			modify: func(_ *testing.T, mod *Module, typ *Type, _ *Method) {
				mod.AddType(&Type{Namespace: "Content.Server", Name: "<>c",
					Annotations: []Annotation{tag(AnnotationCompilerGenerated)}})
				typ.Namespace = ""
				typ.DeclaringType = "Content.Server.<>c"
			},
			expectErr: ErrCompilerGenerated,
		},
		{
			name:      "special_name_flag",
			modify:    func(_ *testing.T, _ *Module, _ *Type, m *Method) { m.Flags |= FlagSpecialName },
			expectErr: ErrSpecialName,
		},
		{
			name:      "constructor",
			modify:    func(_ *testing.T, _ *Module, _ *Type, m *Method) { m.Name = ".ctor" },
			expectErr: ErrSpecialName,
		},
		{
			name:      "static_constructor",
			modify:    func(_ *testing.T, _ *Module, _ *Type, m *Method) { m.Name = ".cctor" },
			expectErr: ErrSpecialName,
		},
		{
			name:      "operator",
			modify:    func(_ *testing.T, _ *Module, _ *Type, m *Method) { m.Name = "op_Addition" },
			expectErr: ErrSpecialName,
		},
		{
			name:      "aggressive_inlining",
			modify:    func(_ *testing.T, _ *Module, _ *Type, m *Method) { m.Flags |= FlagAggressiveInlining },
			expectErr: ErrAggressiveInlining,
		},
		{
			name: "body_too_short",
			modify: func(t *testing.T, _ *Module, _ *Type, m *Method) {
				m.Body = mustParseBody(t, "IL_0000: nop  // A.cs:1\nIL_0001: ret\n")
			},
			expectErr: ErrBodyTooShort,
		},
		{
			name: "body_single_return",
			modify: func(t *testing.T, _ *Module, _ *Type, m *Method) {
				m.Body = mustParseBody(t, "IL_0000: ret  // A.cs:1\n")
			},
			expectErr: ErrBodyTooShort,
		},
		{
			name: "body_empty",
			modify: func(_ *testing.T, _ *Module, _ *Type, m *Method) {
				m.Body = &MethodBody{}
			},
			expectErr: ErrBodyTooShort,
		},
		{
			name: "forwarding_call",
			modify: func(t *testing.T, _ *Module, _ *Type, m *Method) {
				m.Body = mustParseBody(t, "IL_0000: call System.Void A::B()  // A.cs:1\nIL_0001: ret\n")
			},
		},
		{
			name: "two_instruction_value",
			modify: func(t *testing.T, _ *Module, _ *Type, m *Method) {
				m.Body = mustParseBody(t, "IL_0000: ldc.i4 1  // A.cs:1\nIL_0001: ret\n")
			},
		},
		{
			name: "throw_stub",
			modify: func(t *testing.T, _ *Module, _ *Type, m *Method) {
				m.Body = mustParseBody(t, "IL_0000: nop\nIL_0001: ldnull\nIL_0002: throw\n")
			},
			expectErr: ErrThrowStub,
		},
		{
			name: "no_return",
			modify: func(t *testing.T, _ *Module, _ *Type, m *Method) {
				m.Body = mustParseBody(t, "IL_0000: nop\nIL_0001: nop\nIL_0002: br IL_0000\n")
			},
			expectErr: ErrNoReturn,
		},
		{
			name: "multiple_returns",
			modify: func(t *testing.T, _ *Module, _ *Type, m *Method) {
				m.Body = mustParseBody(t, `IL_0000: ldarg 0
IL_0001: brtrue IL_0003
IL_0002: ret
IL_0003: ret
`)
			},
			expectErr: ErrMultipleReturns,
		},
		{
			name: "no_source_allowed",
			modify: func(t *testing.T, _ *Module, _ *Type, m *Method) {
				m.Body = mustParseBody(t, "IL_0000: ldarg 0\nIL_0001: pop\nIL_0002: ret\n")
			},
		},
		{
			name: "no_source_required",
			modify: func(t *testing.T, _ *Module, _ *Type, m *Method) {
				m.Body = mustParseBody(t, "IL_0000: ldarg 0\nIL_0001: pop\nIL_0002: ret\n")
			},
			requireSource: true,
			expectErr:     ErrNoSource,
		},
		{
			name: "hidden_source_required",
			modify: func(t *testing.T, _ *Module, _ *Type, m *Method) {
				m.Body = mustParseBody(t, fmt.Sprintf("IL_0000: ldarg 0  // A.cs:%d\nIL_0001: pop\nIL_0002: ret\n",
					HiddenLine))
			},
			requireSource: true,
			expectErr:     ErrNoSource,
		},
		{
			name:          "source_required",
			modify:        func(*testing.T, *Module, *Type, *Method) {},
			requireSource: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			mod, typ, m := makeTestModule(t)
			tc.modify(t, mod, typ, m)

			err := CheckEligibility(mod, typ, m, tc.requireSource)
			if tc.expectErr == nil {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.ErrorIs(t, err, tc.expectErr)
			}
		})
	}
}

func TestIsExpectedSkip(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		err      error
		expected bool
	}{
		{ErrNoMethodBody, true},
		{ErrAccessor, true},
		{ErrCompilerGenerated, true},
		{ErrIgnored, true},
		{ErrSpecialName, true},
		{ErrAggressiveInlining, true},
		{fmt.Errorf("%w: 2 instructions", ErrBodyTooShort), true},
		{ErrThrowStub, true},
		{ErrNoSource, true},
		{fmt.Errorf("%w: final instruction is br", ErrNoReturn), false},
		{fmt.Errorf("%w: 2 found", ErrMultipleReturns), false},
		{errors.New("unrelated"), false},
	}

	for _, tc := range testCases {
		t.Run(tc.err.Error(), func(t *testing.T) {
			assert.Equal(t, tc.expected, IsExpectedSkip(tc.err))
		})
	}
}

func TestCheckEligibilityDoesNotModify(t *testing.T) {
	t.Parallel()

	mod, typ, m := makeTestModule(t)
	m.Body = mustParseBody(t, "IL_0000: ldarg 0\nIL_0001: brtrue IL_0003\nIL_0002: ret\nIL_0003: ret\n")
	before := Disassemble(m.Body)

	require.ErrorIs(t, CheckEligibility(mod, typ, m, false), ErrMultipleReturns)
	assert.Equal(t, before, Disassemble(m.Body))
	assert.Empty(t, m.Body.Locals)
}
