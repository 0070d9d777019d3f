package weave

import (
	"fmt"
	"strings"
)

// AnnotationKind is the typed tag an annotation resolves to.
type AnnotationKind uint8

const (
	AnnotationUnknown AnnotationKind = iota
	// AnnotationIgnore suppresses the annotated type or method, whichever it is attached to.
	AnnotationIgnore
	// AnnotationIgnoreType suppresses every method of the annotated type.
	AnnotationIgnoreType
	// AnnotationIgnoreMethod suppresses the annotated method.
	AnnotationIgnoreMethod
	// AnnotationZoneOptions sets the zone color of one method.
	AnnotationZoneOptions
	// AnnotationZoneDefaults sets the default zone color of a module.
	AnnotationZoneDefaults
	// AnnotationCompilerGenerated marks compiler synthesized members.
	AnnotationCompilerGenerated
	// AnnotationStateMachine marks iterator and async stubs that forward to a state machine.
	AnnotationStateMachine
	// AnnotationWoven marks a module that has already been through the weave pass.
	AnnotationWoven
	annotationKindCount
)

var annotationKindNames = [annotationKindCount]string{
	AnnotationUnknown:           "unknown",
	AnnotationIgnore:            "ignore",
	AnnotationIgnoreType:        "ignore-type",
	AnnotationIgnoreMethod:      "ignore-method",
	AnnotationZoneOptions:       "zone-options",
	AnnotationZoneDefaults:      "zone-defaults",
	AnnotationCompilerGenerated: "compiler-generated",
	AnnotationStateMachine:      "state-machine",
	AnnotationWoven:             "woven",
}

func (k AnnotationKind) String() string {
	if k < annotationKindCount {
		return annotationKindNames[k]
	}
	return "unknown"
}

// ParseAnnotationKind parses a kind name as rendered by String.
func ParseAnnotationKind(name string) (AnnotationKind, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for k, n := range annotationKindNames {
		if n == name && AnnotationKind(k) != AnnotationUnknown {
			return AnnotationKind(k), nil
		}
	}
	return AnnotationUnknown, fmt.Errorf("unknown annotation kind: %q", name)
}

// WovenAnnotationType is the attribute type recorded on modules after weaving.
const WovenAnnotationType = "Robust.Tracy.TracyWovenAttribute"

// Annotation is an attribute attached to a module, type, or method.
type Annotation struct {
	// Type is the full attribute type name as recorded in the module.
	Type string `msgpack:"t"`
	// Args are the positional constructor arguments.
	Args []uint64 `msgpack:"a,omitempty"`
	// Kind is the resolved tag, assigned by Module.ResolveAnnotations.
	Kind AnnotationKind `msgpack:"-"`
}

// Arg returns the positional argument at index i.
func (a Annotation) Arg(i int) (uint64, bool) {
	if i < 0 || i >= len(a.Args) {
		return 0, false
	}
	return a.Args[i], true
}

// AnnotationRegistry maps attribute type names to their tag. Several names may map to the same tag since
// attribute definitions are commonly duplicated across assemblies.
type AnnotationRegistry map[string]AnnotationKind

// DefaultAnnotationRegistry returns the registry for the Robust profiling attributes and the compiler markers.
func DefaultAnnotationRegistry() AnnotationRegistry {
	return AnnotationRegistry{
		"Robust.Tracy.TracyAutowireIgnoreAttribute":                          AnnotationIgnore,
		"TracyProfiler.TracyAutowireIgnoreAttribute":                         AnnotationIgnore,
		"Robust.Tracy.TracyIgnoreTypeAttribute":                              AnnotationIgnoreType,
		"Robust.Tracy.TracyIgnoreMethodAttribute":                            AnnotationIgnoreMethod,
		"Robust.Tracy.TracyAutowireZoneOptionsAttribute":                     AnnotationZoneOptions,
		"Robust.Tracy.TracyAutowireAssemblyDefaultsAttribute":                AnnotationZoneDefaults,
		"System.Runtime.CompilerServices.CompilerGeneratedAttribute":         AnnotationCompilerGenerated,
		"System.Runtime.CompilerServices.AsyncStateMachineAttribute":         AnnotationStateMachine,
		"System.Runtime.CompilerServices.IteratorStateMachineAttribute":      AnnotationStateMachine,
		"System.Runtime.CompilerServices.AsyncIteratorStateMachineAttribute": AnnotationStateMachine,
		WovenAnnotationType:                                                  AnnotationWoven,
	}
}

// Register adds or replaces the tag for an attribute type name.
func (r AnnotationRegistry) Register(typeName string, kind AnnotationKind) {
	r[typeName] = kind
}

func (r AnnotationRegistry) resolve(annotations []Annotation) {
	for i := range annotations {
		annotations[i].Kind = r[annotations[i].Type]
	}
}

// ResolveAnnotations assigns the typed tag of every annotation in the module. It must run once after loading,
// all later annotation checks use the tag only.
func (m *Module) ResolveAnnotations(r AnnotationRegistry) {
	r.resolve(m.Annotations)
	for _, t := range m.Types {
		r.resolve(t.Annotations)
		for _, method := range t.Methods {
			r.resolve(method.Annotations)
		}
	}
}

// findAnnotation returns the first annotation with one of the given kinds.
func findAnnotation(annotations []Annotation, kinds ...AnnotationKind) (Annotation, bool) {
	for _, a := range annotations {
		for _, k := range kinds {
			if a.Kind == k {
				return a, true
			}
		}
	}
	return Annotation{}, false
}

func hasAnnotation(annotations []Annotation, kinds ...AnnotationKind) bool {
	_, ok := findAnnotation(annotations, kinds...)
	return ok
}
