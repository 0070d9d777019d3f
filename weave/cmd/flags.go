package cmd

import (
	"errors"

	"github.com/alecthomas/kong"

	"github.com/PatchLens/go-zone-weaver/weave"
)

// LogOptions selects the logger built by the CLI.
type LogOptions struct {
	Level  string
	Format string
}

type cli struct {
	Modules           []string          `arg:"" name:"module" help:"Module files (.zwm, .yaml) or directories to weave." type:"path"`
	Out               string            `short:"o" help:"Directory the woven modules are written to." type:"path"`
	InPlace           bool              `help:"Rewrite the input modules in place, keeping a .bkp until the write succeeds."`
	Config            string            `help:"YAML config file with binding, namespace, and annotation settings." type:"existingfile"`
	BindingModule     string            `help:"Module providing the zone calls (default Robust.Shared)."`
	BindingMinVersion string            `help:"Lowest accepted version of the binding module."`
	Exclude           []string          `help:"Namespaces that are never woven." sep:","`
	Annotation        map[string]string `help:"Extra annotation mapping, TYPE=KIND." mapsep:";"`
	RequireSource     bool              `help:"Skip methods without debug source information."`
	Verify            bool              `help:"Verify zone balance of every woven method (default, unless the config file disables it)." xor:"verify"`
	NoVerify          bool              `help:"Skip zone balance verification." xor:"verify"`
	Diff              string            `help:"File receiving unified diffs of woven methods, - for stdout."`
	Ledger            string            `help:"Directory of the persistent weave ledger, in memory when empty." type:"path"`
	CacheMB           int               `name:"cachemb" default:"64" help:"Ledger cache memory budget in MB."`
	Json              string            `default:"weave-report.json" help:"File to output the weave report."`
	Charts            string            `default:"weave-report.png" help:"File to output the weave overview chart image."`
	LogLevel          string            `default:"info" enum:"debug,info,warn,error" help:"Set log level."`
	LogFormat         string            `default:"console" enum:"console,json" help:"Set log format."`
}

// ParseFlags builds a Config from command line arguments. Options are passed to the kong parser, tests use them to
// replace the exit handler.
func ParseFlags(args []string, options ...kong.Option) (*weave.Config, LogOptions, error) {
	var c cli
	options = append([]kong.Option{
		kong.Name("zoneweave"),
		kong.Description("Weave profiler zones into compiled modules."),
		kong.UsageOnError(),
	}, options...)
	parser, err := kong.New(&c, options...)
	if err != nil {
		return nil, LogOptions{}, err
	} else if _, err := parser.Parse(args); err != nil {
		return nil, LogOptions{}, err
	}

	if c.InPlace && c.Out != "" {
		return nil, LogOptions{}, errors.New("--in-place and --out are mutually exclusive")
	} else if !c.InPlace && c.Out == "" {
		return nil, LogOptions{}, errors.New("usage: zoneweave --out <dir> <module>... or zoneweave --in-place <module>...")
	}

	config := &weave.Config{
		Inputs:             c.Modules,
		OutputDir:          c.Out,
		InPlace:            c.InPlace,
		ConfigFile:         c.Config,
		ExcludedNamespaces: c.Exclude,
		ExtraAnnotations:   c.Annotation,
		RequireSource:      c.RequireSource,
		DiffFile:           c.Diff,
		LedgerDir:          c.Ledger,
		CacheMB:            c.CacheMB,
		ReportJsonFile:     c.Json,
		ReportChartsFile:   c.Charts,
	}
	if c.Verify || c.NoVerify {
		verify := c.Verify
		config.Verify = &verify
	}
	config.Binding.Module = c.BindingModule
	config.Binding.MinVersion = c.BindingMinVersion
	return config, LogOptions{Level: c.LogLevel, Format: c.LogFormat}, nil
}
