package weave

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnnotationKindNames(t *testing.T) {
	t.Parallel()

	for k := AnnotationIgnore; k < annotationKindCount; k++ {
		parsed, err := ParseAnnotationKind(k.String())
		require.NoError(t, err, k.String())
		assert.Equal(t, k, parsed)
	}

	kind, err := ParseAnnotationKind(" Ignore-Type ")
	require.NoError(t, err)
	assert.Equal(t, AnnotationIgnoreType, kind)

	for _, name := range []string{"unknown", "", "skip"} {
		_, err := ParseAnnotationKind(name)
		assert.ErrorContains(t, err, "unknown annotation kind", name)
	}
	assert.Equal(t, "unknown", annotationKindCount.String())
}

func TestAnnotationArg(t *testing.T) {
	t.Parallel()

	a := Annotation{Type: "Robust.Tracy.TracyAutowireZoneOptionsAttribute", Args: []uint64{0xFF0000, 1}}
	v, ok := a.Arg(1)
	assert.True(t, ok)
	assert.Equal(t, uint64(1), v)
	_, ok = a.Arg(2)
	assert.False(t, ok)
	_, ok = a.Arg(-1)
	assert.False(t, ok)
}

func TestResolveAnnotations(t *testing.T) {
	t.Parallel()

	mod, typ, method := makeTestModule(t)
	mod.Annotations = []Annotation{{Type: "Robust.Tracy.TracyAutowireAssemblyDefaultsAttribute", Args: []uint64{0xFF}}}
	typ.Annotations = []Annotation{{Type: "TracyProfiler.TracyAutowireIgnoreAttribute"}}
	method.Annotations = []Annotation{
		{Type: "System.Runtime.CompilerServices.AsyncStateMachineAttribute"},
		{Type: "Game.NoProfileAttribute"},
	}

	registry := DefaultAnnotationRegistry()
	mod.ResolveAnnotations(registry)
	assert.Equal(t, AnnotationZoneDefaults, mod.Annotations[0].Kind)
	assert.Equal(t, AnnotationIgnore, typ.Annotations[0].Kind)
	assert.Equal(t, AnnotationStateMachine, method.Annotations[0].Kind)
	assert.Equal(t, AnnotationUnknown, method.Annotations[1].Kind)

	t.Run("register", func(t *testing.T) {
		registry.Register("Game.NoProfileAttribute", AnnotationIgnoreMethod)
		mod.ResolveAnnotations(registry)
		assert.Equal(t, AnnotationIgnoreMethod, method.Annotations[1].Kind)

		found, ok := findAnnotation(method.Annotations, AnnotationIgnoreMethod, AnnotationIgnore)
		require.True(t, ok)
		assert.Equal(t, "Game.NoProfileAttribute", found.Type)
		assert.False(t, hasAnnotation(method.Annotations, AnnotationWoven))
	})
	t.Run("registry_isolated", func(t *testing.T) {
		assert.NotContains(t, DefaultAnnotationRegistry(), "Game.NoProfileAttribute")
	})
}
