// Copyright 2026 The Icepack Authors
// SPDX-License-Identifier: Apache-2.0

package build

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"

	"gopkg.in/yaml.v3"

	"github.com/icepack-project/icepack/lib/clock"
)

// DefaultBootstrapModules are the module names the loader embeds
// directly in the payload container instead of the module archive.
// These modules implement the importer that reads the module archive,
// so they cannot live inside it; the cycle is broken by special-casing
// them here. The list is ordered: it is the loader's import sequence.
var DefaultBootstrapModules = []string{
	"_ice_os_hooks",
	"_ice_archive",
	"_ice_importer",
}

// KeyModuleName is the synthetic module prepended to the bootstrap
// sequence when archive encryption is enabled. It carries the archive
// key reference and has no dependencies of its own, so it is safe to
// import before everything else.
const KeyModuleName = "_ice_key"

// Config is the immutable build configuration passed to every node
// constructor. There is no process-wide configuration state: a Config
// value is constructed once per build and handed down explicitly.
type Config struct {
	// WorkPath holds intermediates and build records.
	WorkPath string

	// DistPath receives final artifacts.
	DistPath string

	// CachePath is the binary cache root (lib/bincache).
	CachePath string

	// LoaderDir holds the prebuilt loader executables, laid out as
	// <LoaderDir>/<platform>/loader[w][_d][.exe].
	LoaderDir string

	// Platform is the GOOS-style target platform: "linux", "darwin",
	// or "windows". Defaults to the build machine's platform.
	Platform string

	// PathPrefixes are build-machine path prefixes stripped from
	// every code blob's recorded source path.
	PathPrefixes []string

	// BootstrapModules overrides DefaultBootstrapModules.
	BootstrapModules []string

	// Logger receives node progress, warnings, and skip decisions.
	Logger *slog.Logger

	// Clock supplies build timestamps for staleness records.
	Clock clock.Clock
}

// withDefaults returns a copy with zero fields filled in.
func (c Config) withDefaults() Config {
	if c.Platform == "" {
		c.Platform = runtime.GOOS
	}
	if c.BootstrapModules == nil {
		c.BootstrapModules = DefaultBootstrapModules
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.DiscardHandler)
	}
	if c.Clock == nil {
		c.Clock = clock.Real()
	}
	return c
}

// executableSuffix returns the platform-conventional executable
// suffix.
func (c Config) executableSuffix() string {
	if c.Platform == "windows" {
		return ".exe"
	}
	return ""
}

// sharedLibSuffix returns the platform-conventional shared library
// suffix.
func (c Config) sharedLibSuffix() string {
	switch c.Platform {
	case "windows":
		return ".dll"
	case "darwin":
		return ".dylib"
	default:
		return ".so"
	}
}

// BuildFile is the parsed freeze configuration (icepack.yaml). One
// file declares shared paths, tool locations, and one job per
// executable to build.
type BuildFile struct {
	// WorkPath, DistPath, CachePath, LoaderDir, Platform, and
	// StripPathPrefixes populate the runtime Config.
	WorkPath          string   `yaml:"workpath"`
	DistPath          string   `yaml:"distpath"`
	CachePath         string   `yaml:"cachepath"`
	LoaderDir         string   `yaml:"loader_dir"`
	Platform          string   `yaml:"platform"`
	StripPathPrefixes []string `yaml:"strip_path_prefixes"`
	BootstrapModules  []string `yaml:"bootstrap_modules"`

	// Tools locates the external executables the pipeline drives.
	Tools ToolsConfig `yaml:"tools"`

	// ShareDependencies enables the multipack dedup pass across all
	// jobs, in declaration order.
	ShareDependencies bool `yaml:"share_dependencies"`

	// Jobs are the executables to build.
	Jobs []JobConfig `yaml:"jobs"`
}

// ToolsConfig names or paths the external tools. Bare names are
// resolved on PATH; empty values disable the corresponding step.
type ToolsConfig struct {
	// Compiler is the runtime's module compiler (required).
	Compiler string `yaml:"compiler"`

	// Strip is the debug-symbol stripper.
	Strip string `yaml:"strip"`

	// Compact is the binary size compactor.
	Compact string `yaml:"compact"`

	// Objcopy is the section editor used for the linux one-file
	// section embed.
	Objcopy string `yaml:"objcopy"`

	// ResourceEditor edits Windows executable resources.
	ResourceEditor string `yaml:"resource_editor"`
}

// JobConfig configures one executable build.
type JobConfig struct {
	// Name is the output executable name and the default archive
	// name.
	Name string `yaml:"name"`

	// Analysis is the path of the analysis document feeding this job.
	Analysis string `yaml:"analysis"`

	// OneFile selects single-file output (container attached to the
	// loader) instead of a collection directory.
	OneFile bool `yaml:"onefile"`

	// Console selects the console loader variant. Defaults to true;
	// only meaningful on platforms with a GUI subsystem distinction.
	Console *bool `yaml:"console"`

	// Debug selects the debug loader variant.
	Debug bool `yaml:"debug"`

	// Strip and Compact toggle binary processing; CompactExclude
	// lists base-name globs exempt from both.
	Strip          bool     `yaml:"strip"`
	Compact        bool     `yaml:"compact"`
	CompactExclude []string `yaml:"compact_exclude"`

	// KeyFile enables module archive encryption with the key sealed
	// in the given file (see icepack keygen).
	KeyFile string `yaml:"key_file"`

	// Icon, VersionFile, and Resources drive Windows resource
	// editing.
	Icon        string           `yaml:"icon"`
	VersionFile string           `yaml:"version_file"`
	Resources   []ResourceConfig `yaml:"resources"`

	// UACAdmin and UACUIAccess shape the generated Windows
	// application manifest.
	UACAdmin    bool `yaml:"uac_admin"`
	UACUIAccess bool `yaml:"uac_uiaccess"`

	// RuntimeTmpdir overrides the loader's extraction directory
	// (one-file builds).
	RuntimeTmpdir string `yaml:"runtime_tmpdir"`

	// IgnoreSignals stops the loader from forwarding signals to the
	// application process.
	IgnoreSignals bool `yaml:"ignore_signals"`
}

// ConsoleEnabled resolves the Console default.
func (j JobConfig) ConsoleEnabled() bool {
	return j.Console == nil || *j.Console
}

// LoadBuildFile reads and validates a freeze configuration. Unknown
// keys are rejected: a typoed option must fail the build, not be
// silently ignored.
func LoadBuildFile(path string) (*BuildFile, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening build file: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)

	var buildFile BuildFile
	if err := decoder.Decode(&buildFile); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if err := buildFile.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &buildFile, nil
}

// Validate checks the build file for structural problems, collecting
// every issue rather than stopping at the first.
func (b *BuildFile) Validate() error {
	var problems []error

	if b.WorkPath == "" {
		problems = append(problems, errors.New("workpath is required"))
	}
	if b.DistPath == "" {
		problems = append(problems, errors.New("distpath is required"))
	}
	if b.LoaderDir == "" {
		problems = append(problems, errors.New("loader_dir is required"))
	}
	if b.Tools.Compiler == "" {
		problems = append(problems, errors.New("tools.compiler is required"))
	}
	if len(b.Jobs) == 0 {
		problems = append(problems, errors.New("at least one job is required"))
	}

	seen := make(map[string]bool)
	for i, job := range b.Jobs {
		if job.Name == "" {
			problems = append(problems, fmt.Errorf("job %d has no name", i))
			continue
		}
		if seen[job.Name] {
			problems = append(problems, fmt.Errorf("job name %q is declared twice", job.Name))
		}
		seen[job.Name] = true
		if job.Analysis == "" {
			problems = append(problems, fmt.Errorf("job %q has no analysis document", job.Name))
		}
	}

	return errors.Join(problems...)
}

// ResourceConfig is one Windows resource-file entry. Type and Name
// accept "*" as a wildcard meaning "every resource of the source
// file".
type ResourceConfig struct {
	// Path is the resource source file (a .res file, an executable
	// carrying a resource table, or a raw payload).
	Path string `yaml:"path"`

	// Type is the resource type, numeric or named ("*" wildcard).
	Type string `yaml:"type"`

	// Name is the resource name ("*" wildcard).
	Name string `yaml:"name"`

	// Locale is the resource language identifier ("*" wildcard,
	// which is also the default).
	Locale string `yaml:"locale"`
}
