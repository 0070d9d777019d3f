package weave

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-yaml"
	"go.uber.org/zap"
)

// Config holds settings and state for a WeaveEngine.
type Config struct {
	// Inputs are module files or directories searched for module files.
	Inputs []string
	// OutputDir receives the woven modules, mutually exclusive with InPlace.
	OutputDir string
	// InPlace rewrites the input files, keeping a backup until the write succeeds.
	InPlace bool
	// ConfigFile is an optional YAML file supplying binding, namespace, and annotation settings.
	ConfigFile string
	// Binding names the zone lifecycle calls, the default binding is used when Module is empty.
	Binding BindingConfig
	// ExcludedNamespaces overrides DefaultExcludedNamespaces when set.
	ExcludedNamespaces []string
	// ExtraAnnotations maps additional attribute type names to annotation kind names.
	ExtraAnnotations map[string]string
	RequireSource    bool
	// Verify checks the zone balance of every woven method. Nil defers to the config file, then defaults to true.
	Verify *bool
	// DiffFile receives unified diffs of woven bodies, "-" for stdout.
	DiffFile                         string
	LedgerDir                        string
	CacheMB                          int
	ReportJsonFile, ReportChartsFile string
	// Computed fields
	inputFiles []string
	registry   AnnotationRegistry
	// Internal state tracking
	prepared bool
}

// fileConfig is the YAML schema of Config.ConfigFile.
type fileConfig struct {
	Binding struct {
		Module     string `yaml:"module"`
		MinVersion string `yaml:"minVersion"`
		HandleType string `yaml:"handleType"`
		BeginZone  string `yaml:"beginZone"`
		EndZone    string `yaml:"endZone"`
	} `yaml:"binding"`
	ExcludedNamespaces []string          `yaml:"excludedNamespaces"`
	Annotations        map[string]string `yaml:"annotations"`
	RequireSource      bool              `yaml:"requireSource"`
	Verify             *bool             `yaml:"verify"`
}

// Prepare validates the configuration and resolves defaults. Values set directly on the Config take precedence over
// the config file.
func (c *Config) Prepare() error {
	if c.prepared {
		return errors.New("config has already been prepared")
	}
	if c.ConfigFile != "" {
		if err := c.loadConfigFile(); err != nil {
			return fmt.Errorf("config file %s: %w", c.ConfigFile, err)
		}
	}

	if len(c.Inputs) == 0 {
		return errors.New("at least one input module is required")
	} else if c.InPlace && c.OutputDir != "" {
		return errors.New("-in-place and -out are mutually exclusive")
	} else if !c.InPlace && c.OutputDir == "" {
		return errors.New("must specify one of: -out or -in-place")
	}

	inputFiles, err := expandModulePaths(c.Inputs)
	if err != nil {
		return fmt.Errorf("resolve inputs: %w", err)
	} else if len(inputFiles) == 0 {
		return errors.New("no module files found in inputs")
	}
	for _, path := range inputFiles {
		if !isModulePath(path) {
			return fmt.Errorf("unsupported module file type: %s", path)
		} else if c.InPlace && FileExists(path+BackupExt) {
			// the backup may be the only intact copy left by an interrupted run
			return fmt.Errorf("backup %s exists, restore or remove it", path+BackupExt)
		}
	}
	c.inputFiles = inputFiles

	if c.OutputDir != "" {
		if err := os.MkdirAll(c.OutputDir, 0755); err != nil {
			return fmt.Errorf("cannot create output directory: %w", err)
		}
		seen := make(map[string]string, len(inputFiles))
		for _, path := range inputFiles {
			base := filepath.Base(path)
			if prior, ok := seen[base]; ok {
				return fmt.Errorf("inputs %s and %s would write the same output file", prior, path)
			}
			seen[base] = path
		}
	}
	for _, path := range []string{c.ReportJsonFile, c.ReportChartsFile} {
		if path == "" {
			continue
		} else if err := c.validateOutputPath(path); err != nil {
			return fmt.Errorf("invalid report path: %w", err)
		}
	}

	defaults := DefaultBindingConfig()
	if c.Binding.Module == "" {
		c.Binding.Module = defaults.Module
	}
	if c.Binding.HandleType == "" {
		c.Binding.HandleType = defaults.HandleType
	}
	if c.Binding.BeginZone.Name == "" {
		c.Binding.BeginZone = defaults.BeginZone
	}
	if c.Binding.EndZone.Name == "" {
		c.Binding.EndZone = defaults.EndZone
	}
	if c.ExcludedNamespaces == nil {
		c.ExcludedNamespaces = DefaultExcludedNamespaces
	}
	if c.Verify == nil {
		verify := true
		c.Verify = &verify
	}
	if c.CacheMB <= 0 {
		c.CacheMB = 64
	}

	c.registry = DefaultAnnotationRegistry()
	for typeName, kindName := range c.ExtraAnnotations {
		kind, err := ParseAnnotationKind(kindName)
		if err != nil {
			return fmt.Errorf("annotation %s: %w", typeName, err)
		}
		c.registry.Register(typeName, kind)
	}

	c.prepared = true
	return nil
}

func (c *Config) loadConfigFile() error {
	data, err := os.ReadFile(c.ConfigFile)
	if err != nil {
		return err
	}
	var fc fileConfig
	if err := yaml.UnmarshalWithOptions(data, &fc, yaml.DisallowUnknownField()); err != nil {
		return err
	}

	if c.Binding.Module == "" {
		c.Binding.Module = fc.Binding.Module
	}
	if c.Binding.MinVersion == "" {
		c.Binding.MinVersion = fc.Binding.MinVersion
	}
	if c.Binding.HandleType == "" {
		c.Binding.HandleType = fc.Binding.HandleType
	}
	if c.Binding.BeginZone.Name == "" && fc.Binding.BeginZone != "" {
		ref, err := ParseMethodRef(fc.Binding.BeginZone)
		if err != nil {
			return fmt.Errorf("binding beginZone: %w", err)
		}
		c.Binding.BeginZone = *ref
	}
	if c.Binding.EndZone.Name == "" && fc.Binding.EndZone != "" {
		ref, err := ParseMethodRef(fc.Binding.EndZone)
		if err != nil {
			return fmt.Errorf("binding endZone: %w", err)
		}
		c.Binding.EndZone = *ref
	}
	if c.ExcludedNamespaces == nil {
		c.ExcludedNamespaces = fc.ExcludedNamespaces
	}
	for typeName, kind := range fc.Annotations {
		if c.ExtraAnnotations == nil {
			c.ExtraAnnotations = make(map[string]string)
		}
		if _, ok := c.ExtraAnnotations[typeName]; !ok {
			c.ExtraAnnotations[typeName] = kind
		}
	}
	c.RequireSource = c.RequireSource || fc.RequireSource
	if c.Verify == nil {
		c.Verify = fc.Verify
	}
	return nil
}

// validateOutputPath validates that an output file path can be written to
func (c *Config) validateOutputPath(path string) error {
	dir := filepath.Dir(path)

	// Check if directory exists, if not try to create it
	if !FileExists(dir) {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("cannot create output directory '%s': %w", dir, err)
		}
	}

	// Check if we can write to the directory
	testFile := filepath.Join(dir, ".write_test")
	file, err := os.Create(testFile)
	if err != nil {
		return fmt.Errorf("cannot write to output directory '%s': %w", dir, err)
	}
	_ = file.Close()
	return os.Remove(testFile)
}

// StorageProvider creates the storage the weave ledger is recorded to.
type StorageProvider interface {
	NewStorage() (Storage, error)
}

// DefaultStorageProvider records the ledger with badger when Path is set, and in memory otherwise.
type DefaultStorageProvider struct {
	Path    string
	CacheMB int
	Logger  *zap.Logger
}

func (d *DefaultStorageProvider) NewStorage() (Storage, error) {
	if d.Path == "" {
		return NewMemStorage(), nil
	}
	return NewBadgerStorage(d.Path, d.CacheMB, d.Logger)
}

// SingletonStorageProvider is a StorageProvider that returns a single consistent storage instance.
type SingletonStorageProvider struct {
	Store Storage
}

func (s *SingletonStorageProvider) NewStorage() (Storage, error) {
	return s.Store, nil
}

// ReportWriter writes the run report.
type ReportWriter interface {
	WriteReportFiles(reportJsonFile, reportChartsFile string, report *WeaveReport) error
}

// DefaultReportWriter writes the JSON report and the chart.
type DefaultReportWriter struct{}

func (d *DefaultReportWriter) WriteReportFiles(jsonPath, chartPath string, report *WeaveReport) error {
	if err := report.WriteToFile(jsonPath); err != nil {
		return err
	}
	return report.WriteChartFile(chartPath)
}

// WeaveEngine weaves a set of module files, records the outcome ledger, and writes the report.
type WeaveEngine struct {
	Config          *Config
	Logger          *zap.Logger
	StorageProvider StorageProvider
	ReportWriter    ReportWriter
}

// NewWeaveEngine creates a WeaveEngine with default providers.
func NewWeaveEngine(config *Config, logger *zap.Logger) *WeaveEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WeaveEngine{
		Config: config,
		Logger: logger,
		StorageProvider: &DefaultStorageProvider{
			Path:    config.LedgerDir,
			CacheMB: config.CacheMB,
			Logger:  logger,
		},
		ReportWriter: &DefaultReportWriter{},
	}
}

// Run prepares the config and weaves every input module, independent modules in parallel. A fatal error for any
// module fails the run, that module's output is never written.
func (e *WeaveEngine) Run(ctx context.Context) (runErr error) {
	startTime := time.Now()
	if err := e.Config.Prepare(); err != nil {
		return err
	}

	store, err := e.StorageProvider.NewStorage()
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			runErr = errors.Join(runErr, fmt.Errorf("close ledger: %w", err))
		}
	}()

	diffOut, closeDiff, err := e.openDiff()
	if err != nil {
		return err
	}
	defer closeDiff()

	files := e.Config.inputFiles
	reports := make([]ModuleReport, len(files))
	eg, egCtx := ErrGroupLimitCPU(ctx)
	for i, path := range files {
		eg.Go(func() error {
			if err := egCtx.Err(); err != nil {
				reports[i] = ModuleReport{Input: path, Error: err.Error()}
				return err
			}
			report, err := e.weaveFile(path, store, diffOut)
			if err != nil {
				e.Logger.Error(ErrorLogPrefix+"module weave failed", zap.String("input", path), zap.Error(err))
				report.Error = err.Error()
			}
			reports[i] = report
			return err
		})
	}
	runErr = eg.Wait()

	report := &WeaveReport{
		GeneratedAt: time.Now(),
		RunDuration: time.Since(startTime).Milliseconds(),
		Modules:     reports,
	}
	woven, skipped, failed := report.Totals()
	e.Logger.Info("weave completed",
		zap.Int("modules", len(files)), zap.Int("woven", woven),
		zap.Int("skipped", skipped), zap.Int("failed", failed),
		zap.Duration("elapsed", time.Since(startTime)))
	if err := e.ReportWriter.WriteReportFiles(e.Config.ReportJsonFile, e.Config.ReportChartsFile, report); err != nil {
		runErr = errors.Join(runErr, err)
	}
	return runErr
}

func (e *WeaveEngine) openDiff() (io.Writer, func(), error) {
	switch e.Config.DiffFile {
	case "":
		return nil, func() {}, nil
	case "-":
		return LockedWriter(os.Stdout), func() {}, nil
	}
	f, err := os.Create(e.Config.DiffFile)
	if err != nil {
		return nil, nil, fmt.Errorf("create diff file: %w", err)
	}
	return LockedWriter(f), func() {
		if err := f.Close(); err != nil {
			e.Logger.Warn("failed to close diff file", zap.Error(err))
		}
	}, nil
}

func (e *WeaveEngine) outputPath(input string) string {
	if e.Config.InPlace {
		return input
	}
	return filepath.Join(e.Config.OutputDir, filepath.Base(input))
}

func (e *WeaveEngine) weaveFile(path string, store Storage, diffOut io.Writer) (ModuleReport, error) {
	report := ModuleReport{Input: path}
	mod, err := LoadModuleFile(path)
	if err != nil {
		return report, err
	}
	report.Module, report.Version = mod.Name, mod.Version
	mod.ResolveAnnotations(e.Config.registry)

	var diff bytes.Buffer
	weaver := &Weaver{
		Binding:            e.Config.Binding,
		ExcludedNamespaces: e.Config.ExcludedNamespaces,
		RequireSource:      e.Config.RequireSource,
		Verify:             *e.Config.Verify,
		Logger:             e.Logger,
	}
	if diffOut != nil {
		weaver.Diff = &diff
	}
	result, err := weaver.WeaveModule(mod)
	if err != nil {
		return report, err
	}
	report = NewModuleReport(path, mod, result)

	output := e.outputPath(path)
	if err := e.writeModule(output, mod); err != nil {
		return report, fmt.Errorf("write %s: %w", output, err)
	}
	report.Output = output
	if diffOut != nil && diff.Len() > 0 {
		if _, err := diffOut.Write(diff.Bytes()); err != nil {
			e.Logger.Warn("failed to write diff", zap.Error(err))
		}
	}
	if err := RecordOutcomes(store, result); err != nil {
		return report, fmt.Errorf("record ledger: %w", err)
	}
	e.Logger.Info("module woven", zap.String("module", mod.Name), zap.String("output", output),
		zap.Int("woven", report.Woven), zap.Int("skipped", report.Skipped), zap.Int("failed", report.Failed))
	return report, nil
}

// writeModule saves the module, backing up an in place target so it can be restored when the write fails.
func (e *WeaveEngine) writeModule(output string, mod *Module) error {
	if !e.Config.InPlace {
		return saveModuleReplacing(output, mod)
	}

	backup := output + BackupExt
	if err := CopyFile(output, backup); err != nil {
		return fmt.Errorf("backup failed: %w", err)
	}
	if err := saveModuleReplacing(output, mod); err != nil {
		if restoreErr := replaceFile(backup, output); restoreErr != nil {
			return errors.Join(err, fmt.Errorf("restore backup %s: %w", backup, restoreErr))
		}
		return err
	}
	return os.Remove(backup)
}

