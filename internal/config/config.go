// Package config loads project and action descriptors from YAML files. The
// engine itself consumes already-parsed specs; this package is the shipped
// convenience loader for CLI use.
//
// A project directory contains a project.yml and any number of action files
// (actions.yml or *.actions.yml, discovered recursively). An action's
// BasePath is the directory of the file that declared it.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/vk/actiongraph/internal/action"
	"github.com/vk/actiongraph/internal/fsutil"
	"gopkg.in/yaml.v3"
)

// ProjectFileName is the required project descriptor file.
const ProjectFileName = "project.yml"

// Environment is a named set of variable overrides.
type Environment struct {
	Name      string         `yaml:"name"`
	Variables map[string]any `yaml:"variables"`
}

// projectFile mirrors project.yml.
type projectFile struct {
	Name         string         `yaml:"name"`
	Variables    map[string]any `yaml:"variables"`
	Ignore       []string       `yaml:"ignore"`
	Environments []Environment  `yaml:"environments"`
}

// actionConfig mirrors one entry of an action file.
type actionConfig struct {
	Kind         string            `yaml:"kind"`
	Type         string            `yaml:"type"`
	Name         string            `yaml:"name"`
	Description  string            `yaml:"description"`
	Dependencies []string          `yaml:"dependencies"`
	Config       map[string]any    `yaml:"config"`
	Include      []string          `yaml:"include"`
	Exclude      []string          `yaml:"exclude"`
	Disabled     string            `yaml:"disabled"`
	Outputs      map[string]string `yaml:"outputs"`
}

// actionFile mirrors an actions.yml file.
type actionFile struct {
	Actions []actionConfig `yaml:"actions"`
}

// Project is a fully loaded project: metadata plus every action spec found
// under its directory.
type Project struct {
	Name         string
	Variables    map[string]any
	Ignore       []string
	Environments []Environment
	Specs        []*action.Spec
}

// EnvironmentVariables returns the variable overrides for a named
// environment. An empty name selects no overrides.
func (p *Project) EnvironmentVariables(name string) (map[string]any, error) {
	if name == "" {
		return nil, nil
	}
	for _, env := range p.Environments {
		if env.Name == name {
			return env.Variables, nil
		}
	}
	return nil, fmt.Errorf("project %q has no environment %q", p.Name, name)
}

// LoadProject reads project.yml and all action files under dir.
func LoadProject(dir string) (*Project, error) {
	projectPath := filepath.Join(dir, ProjectFileName)
	data, err := os.ReadFile(projectPath)
	if err != nil {
		return nil, fmt.Errorf("reading project config: %w", err)
	}
	var pf projectFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", projectPath, err)
	}
	if pf.Name == "" {
		return nil, fmt.Errorf("%s: project name is required", projectPath)
	}

	project := &Project{
		Name:         pf.Name,
		Variables:    pf.Variables,
		Ignore:       pf.Ignore,
		Environments: pf.Environments,
	}

	files, err := findActionFiles(dir)
	if err != nil {
		return nil, err
	}
	for _, path := range files {
		specs, err := loadActionFile(path)
		if err != nil {
			return nil, err
		}
		project.Specs = append(project.Specs, specs...)
	}
	return project, nil
}

// findActionFiles discovers action files under dir in deterministic order.
func findActionFiles(dir string) ([]string, error) {
	candidates, err := fsutil.FindFilesByExtension(dir, ".yml")
	if err != nil {
		return nil, fmt.Errorf("scanning %s for action files: %w", dir, err)
	}
	var files []string
	for _, path := range candidates {
		base := filepath.Base(path)
		if base == "actions.yml" || strings.HasSuffix(base, ".actions.yml") {
			files = append(files, path)
		}
	}
	sort.Strings(files)
	return files, nil
}

// loadActionFile parses one action file into specs rooted at its directory.
func loadActionFile(path string) ([]*action.Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading action file: %w", err)
	}
	var af actionFile
	if err := yaml.Unmarshal(data, &af); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	basePath := filepath.Dir(path)
	specs := make([]*action.Spec, 0, len(af.Actions))
	for i, ac := range af.Actions {
		spec, err := ac.toSpec(basePath)
		if err != nil {
			return nil, fmt.Errorf("%s: action %d: %w", path, i, err)
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

// toSpec converts a parsed entry into an engine spec.
func (ac actionConfig) toSpec(basePath string) (*action.Spec, error) {
	kind, err := action.ParseKind(ac.Kind)
	if err != nil {
		return nil, err
	}
	if ac.Name == "" {
		return nil, fmt.Errorf("action name is required")
	}
	if ac.Type == "" {
		return nil, fmt.Errorf("action %s.%s: type is required", ac.Kind, ac.Name)
	}

	deps := make([]action.Ref, 0, len(ac.Dependencies))
	for _, d := range ac.Dependencies {
		ref, err := action.ParseRef(d)
		if err != nil {
			return nil, fmt.Errorf("action %s.%s: %w", ac.Kind, ac.Name, err)
		}
		deps = append(deps, ref)
	}

	return &action.Spec{
		Kind:         kind,
		Type:         ac.Type,
		Name:         ac.Name,
		Description:  ac.Description,
		Dependencies: deps,
		Config:       ac.Config,
		Include:      ac.Include,
		Exclude:      ac.Exclude,
		Disabled:     ac.Disabled,
		BasePath:     basePath,
		Outputs:      ac.Outputs,
	}, nil
}
