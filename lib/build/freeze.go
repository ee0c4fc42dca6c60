// Copyright 2026 The Icepack Authors
// SPDX-License-Identifier: Apache-2.0

package build

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/icepack-project/icepack/lib/bincache"
	"github.com/icepack-project/icepack/lib/codeobj"
	"github.com/icepack-project/icepack/lib/hosttool"
	"github.com/icepack-project/icepack/lib/keyfile"
	"github.com/icepack-project/icepack/lib/manifest"
)

// Freezer runs the full pipeline described by a build file: per job, a
// module archive, a payload container, an executable, and (for one-dir
// jobs) a collection directory.
type Freezer struct {
	config    Config
	buildFile *BuildFile
	baseDir   string
	logger    *slog.Logger

	compiler codeobj.Compiler
	strip    hosttool.Tool
	compact  hosttool.Tool
	objcopy  hosttool.Tool
	editor   ResourceEditor
}

// NewFreezer resolves the build file's paths (relative to baseDir) and
// tools. Tool resolution failures surface here, before any building.
func NewFreezer(buildFile *BuildFile, baseDir string, logger *slog.Logger) (*Freezer, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	config := Config{
		WorkPath:         resolvePath(baseDir, buildFile.WorkPath),
		DistPath:         resolvePath(baseDir, buildFile.DistPath),
		CachePath:        resolvePath(baseDir, buildFile.CachePath),
		LoaderDir:        resolvePath(baseDir, buildFile.LoaderDir),
		Platform:         buildFile.Platform,
		PathPrefixes:     buildFile.StripPathPrefixes,
		BootstrapModules: buildFile.BootstrapModules,
		Logger:           logger,
	}.withDefaults()
	if config.CachePath == "" {
		config.CachePath = filepath.Join(config.WorkPath, "bincache")
	}

	freezer := &Freezer{config: config, buildFile: buildFile, baseDir: baseDir, logger: logger}

	compilerTool, err := hosttool.Lookup(buildFile.Tools.Compiler)
	if err != nil {
		return nil, fmt.Errorf("resolving compiler: %w", err)
	}
	freezer.compiler = codeobj.ToolCompiler{Tool: compilerTool}

	optional := []struct {
		name   string
		target *hosttool.Tool
	}{
		{buildFile.Tools.Strip, &freezer.strip},
		{buildFile.Tools.Compact, &freezer.compact},
		{buildFile.Tools.Objcopy, &freezer.objcopy},
		{buildFile.Tools.ResourceEditor, &freezer.editor.Tool},
	}
	for _, tool := range optional {
		if tool.name == "" {
			continue
		}
		resolved, err := hosttool.Lookup(tool.name)
		if err != nil {
			return nil, fmt.Errorf("resolving tool %q: %w", tool.name, err)
		}
		*tool.target = resolved
	}

	return freezer, nil
}

// Config returns the resolved build configuration.
func (f *Freezer) Config() Config {
	return f.config
}

// Run executes every job. Analyses are loaded up front so the
// multipack dedup pass can see all of them before the first build.
func (f *Freezer) Run(ctx context.Context) error {
	analyses, err := f.loadAnalyses()
	if err != nil {
		return err
	}

	if f.buildFile.ShareDependencies {
		if err := Merge(analyses, f.logger); err != nil {
			return err
		}
	}

	for i, job := range f.buildFile.Jobs {
		if err := f.buildJob(ctx, f.resolveJob(job), analyses[i]); err != nil {
			return fmt.Errorf("job %q: %w", job.Name, err)
		}
	}
	return nil
}

// Plan logs what Run would build without building it.
func (f *Freezer) Plan() error {
	analyses, err := f.loadAnalyses()
	if err != nil {
		return err
	}
	if f.buildFile.ShareDependencies {
		if err := Merge(analyses, f.logger); err != nil {
			return err
		}
	}

	for i, job := range f.buildFile.Jobs {
		analysis := analyses[i]
		mode := "one-dir"
		if job.OneFile {
			mode = "one-file"
		}
		f.logger.Info("would build",
			"job", job.Name,
			"mode", mode,
			"platform", f.config.Platform,
			"modules", analysis.Modules.Len(),
			"scripts", analysis.Scripts.Len(),
			"binaries", analysis.Binaries.Len(),
			"datas", analysis.Datas.Len(),
			"dependencies", analysis.Dependencies.Len(),
			"encrypted", job.KeyFile != "")
	}
	return nil
}

// resolveJob resolves a job's file references against the build file's
// directory.
func (f *Freezer) resolveJob(job JobConfig) JobConfig {
	job.Analysis = resolvePath(f.baseDir, job.Analysis)
	job.KeyFile = resolvePath(f.baseDir, job.KeyFile)
	job.Icon = resolvePath(f.baseDir, job.Icon)
	job.VersionFile = resolvePath(f.baseDir, job.VersionFile)
	resources := make([]ResourceConfig, len(job.Resources))
	for i, resource := range job.Resources {
		resource.Path = resolvePath(f.baseDir, resource.Path)
		resources[i] = resource
	}
	job.Resources = resources
	return job
}

func (f *Freezer) loadAnalyses() ([]*Analysis, error) {
	analyses := make([]*Analysis, len(f.buildFile.Jobs))
	for i, job := range f.buildFile.Jobs {
		analysis, err := LoadAnalysis(resolvePath(f.baseDir, job.Analysis))
		if err != nil {
			return nil, fmt.Errorf("job %q: %w", job.Name, err)
		}
		if analysis.Name == "" {
			analysis.Name = job.Name
		}
		analyses[i] = analysis
	}
	return analyses, nil
}

// buildJob runs the node chain for one executable.
func (f *Freezer) buildJob(ctx context.Context, job JobConfig, analysis *Analysis) error {
	var key *keyfile.File
	if job.KeyFile != "" {
		loaded, err := keyfile.Load(job.KeyFile)
		if err != nil {
			return err
		}
		defer loaded.Close()
		key = loaded
	}

	cache := bincache.New(f.config.CachePath, bincache.Options{
		Strip:   f.strip,
		Compact: f.compact,
		Exclude: job.CompactExclude,
		Logger:  f.logger,
	})

	mar, err := NewModuleArchive(f.config, ModuleArchiveOptions{
		Name:         job.Name,
		Inputs:       []Input{InputEntries(analysis.Modules)},
		Compiler:     f.compiler,
		CodeCache:    codeobj.CacheDir(analysis.CodeCache),
		Key:          key,
		KeyReference: filepath.Base(job.KeyFile),
	})
	if err != nil {
		return err
	}
	if err := mar.Build(ctx); err != nil {
		return err
	}

	directives, extraEntries, err := f.loaderDirectives(job)
	if err != nil {
		return err
	}

	inputs := []Input{
		InputEntries(mar.Bootstrap()),
		InputEntries(analysis.Scripts),
		InputNode(mar),
		InputEntries(analysis.Binaries),
		InputEntries(analysis.Datas),
		InputEntries(analysis.Bundles),
		InputEntries(analysis.Dependencies),
	}
	if extraEntries.Len() > 0 {
		inputs = append(inputs, InputEntries(extraEntries))
	}

	container, err := NewContainer(f.config, ContainerOptions{
		Name:            job.Name,
		RuntimeLib:      analysis.RuntimeLib,
		Inputs:          inputs,
		Compiler:        f.compiler,
		CodeCache:       codeobj.CacheDir(analysis.CodeCache),
		Cache:           cache,
		Strip:           job.Strip,
		Compact:         job.Compact,
		Directives:      directives,
		Bundles:         analysis.Bundles,
		ExcludeBinaries: !job.OneFile,
	})
	if err != nil {
		return err
	}
	if err := container.Build(ctx); err != nil {
		return err
	}

	executable, err := NewExecutable(f.config, ExecutableOptions{
		Job:       job,
		Container: container,
		Objcopy:   f.objcopy,
		Editor:    f.editor,
	})
	if err != nil {
		return err
	}
	if err := executable.Build(ctx); err != nil {
		return err
	}

	if job.OneFile {
		return nil
	}

	collect, err := NewCollect(f.config, CollectOptions{
		Name: job.Name,
		Inputs: []Input{
			InputNode(executable),
			InputEntries(executable.SidecarEntries()),
			InputEntries(container.Forwarded()),
		},
		Cache:   cache,
		Strip:   job.Strip,
		Compact: job.Compact,
	})
	if err != nil {
		return err
	}
	return collect.Build(ctx)
}

// loaderDirectives assembles the OPTION rows for a job, plus any
// synthetic entries they refer to (the one-file windows application
// manifest travels inside the container as DATA next to its
// manifest-file directive).
func (f *Freezer) loaderDirectives(job JobConfig) ([]string, *manifest.TOC, error) {
	var directives []string
	extra := manifest.NewTOC()

	if job.RuntimeTmpdir != "" {
		directives = append(directives, "runtime-tmpdir "+job.RuntimeTmpdir)
	}
	if job.IgnoreSignals {
		directives = append(directives, "ignore-signals")
	}

	if f.config.Platform == "windows" && job.OneFile {
		manifestName := job.Name + ".exe.manifest"
		manifestPath := filepath.Join(f.config.WorkPath, manifestName)
		manifestXML := ApplicationManifest(job.Name, job.UACAdmin, job.UACUIAccess)
		if err := os.MkdirAll(f.config.WorkPath, 0o755); err != nil {
			return nil, nil, fmt.Errorf("creating work directory: %w", err)
		}
		if err := os.WriteFile(manifestPath, []byte(manifestXML), 0o644); err != nil {
			return nil, nil, fmt.Errorf("writing application manifest: %w", err)
		}
		extra.Append(manifest.Entry{Name: manifestName, Path: manifestPath, Type: manifest.Data})
		directives = append(directives, "manifest-file "+manifestName)
	}

	return directives, extra, nil
}
