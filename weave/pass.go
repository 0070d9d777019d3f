package weave

import (
	"fmt"
	"io"
	"strings"

	"github.com/go-analyze/bulk"
	"github.com/pmezard/go-difflib/difflib"
	"go.uber.org/zap"
)

// OutcomeStatus is the result of visiting one method.
type OutcomeStatus string

const (
	StatusWoven   OutcomeStatus = "woven"
	StatusSkipped OutcomeStatus = "skipped"
	StatusFailed  OutcomeStatus = "failed"
)

// MethodOutcome records what the pass did with one method.
type MethodOutcome struct {
	Type        string        `msgpack:"t" json:"type"`
	Label       string        `msgpack:"l" json:"label"`
	Status      OutcomeStatus `msgpack:"s" json:"status"`
	Reason      string        `msgpack:"r,omitempty" json:"reason,omitempty"`
	Color       uint32        `msgpack:"c,omitempty" json:"color,omitempty"`
	File        string        `msgpack:"f,omitempty" json:"file,omitempty"`
	Line        uint32        `msgpack:"ln,omitempty" json:"line,omitempty"`
	Fingerprint string        `msgpack:"fp,omitempty" json:"fingerprint,omitempty"`
}

// PassResult summarizes one module pass.
type PassResult struct {
	Module       string
	Outcomes     []MethodOutcome
	SkippedTypes []string
}

// Counts returns the number of outcomes per status.
func (r *PassResult) Counts() map[OutcomeStatus]int {
	statuses := make([]OutcomeStatus, len(r.Outcomes))
	for i, o := range r.Outcomes {
		statuses[i] = o.Status
	}
	return bulk.SliceToCounts(statuses)
}

// DefaultExcludedNamespaces are the namespaces of the profiler itself, weaving them would recurse into the zone
// calls.
var DefaultExcludedNamespaces = []string{"Robust.Tracy", "Robust.Shared.Profiling"}

// Weaver runs the weave pass over modules. A Weaver may be reused for several modules but is not safe for
// concurrent use when Diff is set.
type Weaver struct {
	// Binding names the zone lifecycle calls.
	Binding BindingConfig
	// ExcludedNamespaces are skipped along with their nested namespaces.
	ExcludedNamespaces []string
	// RequireSource skips methods without debug information instead of weaving them with a NoSource location.
	RequireSource bool
	// Verify checks the control flow of every woven body and restores the original body on failure.
	Verify bool
	// Diff receives a unified diff of every woven body when set.
	Diff io.Writer
	// Logger receives per method diagnostics, nil to discard them.
	Logger *zap.Logger
}

// NewWeaver returns a Weaver with the default binding and excluded namespaces.
func NewWeaver(logger *zap.Logger) *Weaver {
	return &Weaver{
		Binding:            DefaultBindingConfig(),
		ExcludedNamespaces: DefaultExcludedNamespaces,
		Logger:             logger,
	}
}

func (w *Weaver) logger() *zap.Logger {
	if w.Logger == nil {
		return zap.NewNop()
	}
	return w.Logger
}

func (w *Weaver) excluded(t *Type) bool {
	ns := t.RootNamespace()
	for _, ex := range w.ExcludedNamespaces {
		if ns == ex || strings.HasPrefix(ns, ex+".") {
			return true
		}
	}
	return false
}

// WeaveModule instruments every eligible method of the module in declaration order. Annotations must already be
// resolved. Per method failures are recorded in the result and never abort the pass, the returned error is always
// fatal for the whole module.
func (w *Weaver) WeaveModule(mod *Module) (*PassResult, error) {
	log := w.logger().With(zap.String("module", mod.Name))
	if hasAnnotation(mod.Annotations, AnnotationWoven) {
		return nil, fmt.Errorf("module %s: %w", mod.Name, ErrAlreadyWoven)
	}
	binding, err := LocateBinding(mod, w.Binding)
	if err != nil {
		return nil, err
	}

	result := &PassResult{Module: mod.Name}
	for _, t := range mod.Types {
		typeName := t.FullName()
		if w.excluded(t) {
			log.Debug("skipping profiler type", zap.String("type", typeName))
			result.SkippedTypes = append(result.SkippedTypes, typeName)
			continue
		} else if hasAnnotation(t.Annotations, AnnotationIgnore, AnnotationIgnoreType) {
			log.Debug("skipping ignored type", zap.String("type", typeName))
			result.SkippedTypes = append(result.SkippedTypes, typeName)
			continue
		}
		for _, m := range t.Methods {
			result.Outcomes = append(result.Outcomes, w.weaveMethod(log, mod, t, m, binding))
		}
	}

	woven := result.Counts()[StatusWoven]
	if woven > 0 {
		mod.Annotations = append(mod.Annotations, Annotation{Type: WovenAnnotationType, Kind: AnnotationWoven})
	}
	log.Info("module pass complete",
		zap.Int("woven", woven), zap.Int("methods", len(result.Outcomes)),
		zap.Int("skippedTypes", len(result.SkippedTypes)))
	return result, nil
}

func (w *Weaver) weaveMethod(log *zap.Logger, mod *Module, t *Type, m *Method, binding *Binding) MethodOutcome {
	outcome := MethodOutcome{Type: t.FullName(), Label: MethodLabel(t, m)}
	log = log.With(zap.String("method", outcome.Label))

	if err := CheckEligibility(mod, t, m, w.RequireSource); err != nil {
		outcome.Status = StatusSkipped
		outcome.Reason = err.Error()
		if IsExpectedSkip(err) {
			log.Debug("method skipped", zap.Error(err))
		} else {
			log.Warn("method skipped", zap.Error(err))
		}
		return outcome
	}

	outcome.File, outcome.Line = ResolveSource(m)
	outcome.Color = ResolveZoneColor(mod, m)
	var original *MethodBody
	if w.Verify || w.Diff != nil {
		original = m.Body.Clone()
	}

	desc := ZoneDescriptor{Color: outcome.Color, File: outcome.File, Line: outcome.Line, Label: outcome.Label}
	if err := InjectZone(m, binding, desc); err != nil {
		outcome.Status = StatusFailed
		outcome.Reason = err.Error()
		log.Warn("method not instrumented", zap.Error(err))
		return outcome
	}
	if w.Verify {
		if err := VerifyZoneBalance(m.Body, binding); err != nil {
			m.Body = original
			outcome.Status = StatusFailed
			outcome.Reason = err.Error()
			log.Warn("woven method failed verification, restored", zap.Error(err))
			return outcome
		}
	}
	if w.Diff != nil {
		w.writeDiff(log, outcome.Label, original, m.Body)
	}

	outcome.Status = StatusWoven
	outcome.Fingerprint = BodyFingerprint(m.Body)
	log.Debug("method woven", zap.String("file", outcome.File), zap.Uint32("line", outcome.Line),
		zap.Uint32("color", outcome.Color))
	return outcome
}

func (w *Weaver) writeDiff(log *zap.Logger, label string, before, after *MethodBody) {
	diff := difflib.UnifiedDiff{
		A:        difflib.SplitLines(Disassemble(before)),
		B:        difflib.SplitLines(Disassemble(after)),
		FromFile: label,
		ToFile:   label + " (woven)",
		Context:  2,
	}
	if err := difflib.WriteUnifiedDiff(w.Diff, diff); err != nil {
		log.Warn("failed to write diff", zap.Error(err))
	}
}
