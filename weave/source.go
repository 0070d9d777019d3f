package weave

import (
	"fmt"
	"io"
	"strings"

	"github.com/goccy/go-yaml"
)

// moduleSource is the human editable YAML form of a module. Method bodies are written in the Disassemble syntax.
type moduleSource struct {
	Name        string             `yaml:"name"`
	Version     string             `yaml:"version,omitempty"`
	References  []ModuleRef        `yaml:"references,omitempty"`
	Annotations []annotationSource `yaml:"annotations,omitempty"`
	Types       []typeSource       `yaml:"types"`
}

type annotationSource struct {
	Type string   `yaml:"type"`
	Args []uint64 `yaml:"args,omitempty,flow"`
}

type typeSource struct {
	Namespace     string             `yaml:"namespace,omitempty"`
	Name          string             `yaml:"name"`
	DeclaringType string             `yaml:"declaringType,omitempty"`
	Interface     bool               `yaml:"interface,omitempty"`
	Annotations   []annotationSource `yaml:"annotations,omitempty"`
	Methods       []methodSource     `yaml:"methods,omitempty"`
}

type methodSource struct {
	Name        string             `yaml:"name"`
	Returns     string             `yaml:"returns,omitempty"`
	Params      []string           `yaml:"params,omitempty,flow"`
	Flags       []string           `yaml:"flags,omitempty,flow"`
	Annotations []annotationSource `yaml:"annotations,omitempty"`
	Body        string             `yaml:"body,omitempty"`
}

const defaultReturnType = "System.Void"

// LoadModuleSource decodes a YAML module source. Annotations are left unresolved.
func LoadModuleSource(r io.Reader) (*Module, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	var src moduleSource
	if err := yaml.UnmarshalWithOptions(data, &src, yaml.DisallowUnknownField()); err != nil {
		return nil, fmt.Errorf("decode module source: %w", err)
	} else if src.Name == "" {
		return nil, fmt.Errorf("module source missing name")
	}

	mod := &Module{
		Name:        src.Name,
		Version:     src.Version,
		References:  src.References,
		Annotations: fromAnnotationSources(src.Annotations),
	}
	for _, ts := range src.Types {
		t := &Type{
			Namespace:     ts.Namespace,
			Name:          ts.Name,
			DeclaringType: ts.DeclaringType,
			Interface:     ts.Interface,
			Annotations:   fromAnnotationSources(ts.Annotations),
		}
		for _, ms := range ts.Methods {
			m, err := fromMethodSource(ms)
			if err != nil {
				return nil, fmt.Errorf("%s::%s: %w", t.FullName(), ms.Name, err)
			}
			t.Methods = append(t.Methods, m)
		}
		mod.AddType(t)
	}
	return mod, nil
}

func fromMethodSource(ms methodSource) (*Method, error) {
	m := &Method{
		Name:        ms.Name,
		ReturnType:  ms.Returns,
		Params:      ms.Params,
		Annotations: fromAnnotationSources(ms.Annotations),
	}
	if m.ReturnType == "" {
		m.ReturnType = defaultReturnType
	}
	for _, name := range ms.Flags {
		flag, ok := ParseMethodFlag(name)
		if !ok {
			return nil, fmt.Errorf("unknown method flag %q", name)
		}
		m.Flags |= flag
	}
	if strings.TrimSpace(ms.Body) != "" {
		body, err := ParseBody(ms.Body)
		if err != nil {
			return nil, err
		}
		m.Body = body
	}
	return m, nil
}

func fromAnnotationSources(src []annotationSource) []Annotation {
	if len(src) == 0 {
		return nil
	}
	annotations := make([]Annotation, len(src))
	for i, a := range src {
		annotations[i] = Annotation{Type: a.Type, Args: a.Args}
	}
	return annotations
}

func toAnnotationSources(annotations []Annotation) []annotationSource {
	if len(annotations) == 0 {
		return nil
	}
	src := make([]annotationSource, len(annotations))
	for i, a := range annotations {
		src[i] = annotationSource{Type: a.Type, Args: a.Args}
	}
	return src
}

// EncodeModuleSource writes the module as YAML source.
func EncodeModuleSource(w io.Writer, mod *Module) error {
	src := moduleSource{
		Name:        mod.Name,
		Version:     mod.Version,
		References:  mod.References,
		Annotations: toAnnotationSources(mod.Annotations),
	}
	for _, t := range mod.Types {
		ts := typeSource{
			Namespace:     t.Namespace,
			Name:          t.Name,
			DeclaringType: t.DeclaringType,
			Interface:     t.Interface,
			Annotations:   toAnnotationSources(t.Annotations),
		}
		for _, m := range t.Methods {
			ms := methodSource{
				Name:        m.Name,
				Returns:     m.ReturnType,
				Params:      m.Params,
				Flags:       m.Flags.Names(),
				Annotations: toAnnotationSources(m.Annotations),
			}
			if m.Body != nil {
				ms.Body = Disassemble(m.Body)
			}
			ts.Methods = append(ts.Methods, ms)
		}
		src.Types = append(src.Types, ts)
	}

	data, err := yaml.Marshal(&src)
	if err != nil {
		return fmt.Errorf("encode module source: %w", err)
	}
	_, err = w.Write(data)
	return err
}
