package weave

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/mod/semver"
)

var (
	// ErrBindingNotFound indicates the module does not reference the zone lifecycle binding. Fatal for the pass.
	ErrBindingNotFound = errors.New("zone binding module not referenced")
	// ErrBindingVersion indicates the referenced binding module is older than required. Fatal for the pass.
	ErrBindingVersion = errors.New("zone binding module version unsupported")
)

// BindingConfig names the zone lifecycle calls woven code is bound to.
type BindingConfig struct {
	// Module is the name of the module that provides the calls, it must be a reference of the woven module.
	Module string `yaml:"module"`
	// MinVersion is the lowest accepted version of Module, empty to accept any.
	MinVersion string `yaml:"minVersion,omitempty"`
	// BeginZone is the static call that opens a zone and returns its handle.
	BeginZone MethodRef `yaml:"-"`
	// EndZone is the call that closes a zone, invoked on the address of the handle.
	EndZone MethodRef `yaml:"-"`
	// HandleType is the type of the local that holds the zone handle.
	HandleType string `yaml:"handleType"`
}

// DefaultBindingConfig returns the binding for the Robust profiler.
func DefaultBindingConfig() BindingConfig {
	const handleType = "Robust.Tracy.TracyZone"
	return BindingConfig{
		Module:     "Robust.Shared",
		HandleType: handleType,
		BeginZone: MethodRef{
			DeclaringType: "Robust.Shared.Profiling.TracyProfiler",
			Name:          "BeginZone",
			ReturnType:    handleType,
			Params: []string{
				"System.String", "System.Boolean", "System.UInt32", "System.String",
				"System.UInt32", "System.String", "System.String",
			},
		},
		EndZone: MethodRef{
			DeclaringType: handleType,
			Name:          "Dispose",
			ReturnType:    "System.Void",
		},
	}
}

// Binding is a resolved zone lifecycle binding, shared by every method rewrite of one pass.
type Binding struct {
	BeginZone  *MethodRef
	EndZone    *MethodRef
	HandleType string
}

// LocateBinding resolves the binding among the dependencies of mod.
func LocateBinding(mod *Module, cfg BindingConfig) (*Binding, error) {
	ref, ok := mod.Reference(cfg.Module)
	if !ok {
		return nil, fmt.Errorf("%w: %s does not reference %s", ErrBindingNotFound, mod.Name, cfg.Module)
	}
	if cfg.MinVersion != "" {
		have, want := canonicalVersion(ref.Version), canonicalVersion(cfg.MinVersion)
		if !semver.IsValid(want) {
			return nil, fmt.Errorf("invalid minimum binding version: %q", cfg.MinVersion)
		} else if !semver.IsValid(have) || semver.Compare(have, want) < 0 {
			return nil, fmt.Errorf("%w: %s %s, need %s", ErrBindingVersion, ref.Name, ref.Version, cfg.MinVersion)
		}
	}

	begin, end := cfg.BeginZone, cfg.EndZone
	if begin.Name == "" || end.Name == "" || cfg.HandleType == "" {
		return nil, errors.New("incomplete zone binding configuration")
	}
	return &Binding{BeginZone: &begin, EndZone: &end, HandleType: cfg.HandleType}, nil
}

// canonicalVersion converts an assembly style version (1.2.3.4) into a semver string.
func canonicalVersion(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return ""
	} else if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	if parts := strings.SplitN(v, ".", 4); len(parts) == 4 {
		v = strings.Join(parts[:3], ".") // four part versions carry a revision semver has no field for
	}
	return v
}
