package plugin

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"golang.org/x/mod/semver"
	"gopkg.in/yaml.v3"
)

// Manifest describes a plugin packaged outside the binary.
type Manifest struct {
	Name         string       `json:"name" yaml:"name"`
	Version      string       `json:"version" yaml:"version"`
	Description  string       `json:"description,omitempty" yaml:"description,omitempty"`
	Dependencies []Dependency `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
	// Source lists the script files of a dynamic plugin, relative to the
	// manifest.
	Source []string `json:"source,omitempty" yaml:"source,omitempty"`
}

// Dependency declares a versioned dependency on another plugin.
type Dependency struct {
	Name       string `json:"name" yaml:"name"`
	Constraint string `json:"constraint,omitempty" yaml:"constraint,omitempty"` // e.g. ">=1.0.0", "^2.1"
}

// Validate checks that a manifest has all required fields and valid semver.
func (m *Manifest) Validate() error {
	if m.Name == "" {
		return fmt.Errorf("manifest: name is required")
	}
	if !isValidPluginName(m.Name) {
		return fmt.Errorf("manifest: name %q must be lowercase alphanumeric with hyphens", m.Name)
	}
	if m.Version == "" {
		return fmt.Errorf("manifest: version is required")
	}
	if !semver.IsValid(canonical(m.Version)) {
		return fmt.Errorf("manifest: invalid version %q", m.Version)
	}
	for _, dep := range m.Dependencies {
		if dep.Name == "" {
			return fmt.Errorf("manifest: dependency name is required")
		}
		if dep.Constraint == "" {
			continue
		}
		if err := validateConstraints(dep.Constraint); err != nil {
			return fmt.Errorf("manifest: dependency %q has invalid constraint %q: %w", dep.Name, dep.Constraint, err)
		}
	}
	return nil
}

// validateConstraints parses each part of a comma-separated constraint list.
func validateConstraints(constraints string) error {
	for _, part := range strings.Split(constraints, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		if _, err := ParseConstraint(part); err != nil {
			return err
		}
	}
	return nil
}

var pluginNameRe = regexp.MustCompile(`^[a-z][a-z0-9-]*[a-z0-9]$`)

func isValidPluginName(name string) bool {
	if len(name) < 2 {
		return len(name) == 1 && name[0] >= 'a' && name[0] <= 'z'
	}
	return pluginNameRe.MatchString(name)
}

// LoadManifest reads a YAML (or JSON) manifest file.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// canonical adds the "v" prefix x/mod/semver expects.
func canonical(v string) string {
	v = strings.TrimSpace(v)
	if v != "" && v[0] != 'v' {
		v = "v" + v
	}
	return v
}

// Constraint is one comparison against a version.
type Constraint struct {
	Op      string
	Version string // canonical, with "v" prefix
}

// ParseConstraint parses a constraint string like ">=1.0.0", "^2.1.0", "~1.2.0".
func ParseConstraint(s string) (*Constraint, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty constraint")
	}
	op := "="
	for _, candidate := range []string{">=", "<=", "!=", ">", "<", "^", "~", "="} {
		if strings.HasPrefix(s, candidate) {
			op = candidate
			s = strings.TrimPrefix(s, candidate)
			break
		}
	}
	v := canonical(s)
	if !semver.IsValid(v) {
		return nil, fmt.Errorf("invalid version %q", s)
	}
	return &Constraint{Op: op, Version: v}, nil
}

// Check reports whether version satisfies the constraint.
func (c *Constraint) Check(version string) bool {
	v := canonical(version)
	if !semver.IsValid(v) {
		return false
	}
	cmp := semver.Compare(v, c.Version)
	switch c.Op {
	case "=":
		return cmp == 0
	case ">":
		return cmp > 0
	case ">=":
		return cmp >= 0
	case "<":
		return cmp < 0
	case "<=":
		return cmp <= 0
	case "!=":
		return cmp != 0
	case "^":
		return semver.Major(v) == semver.Major(c.Version) && cmp >= 0
	case "~":
		return semver.MajorMinor(v) == semver.MajorMinor(c.Version) && cmp >= 0
	}
	return false
}

// CheckVersion checks version against a comma-separated list of
// constraints, all of which must hold.
func CheckVersion(version, constraints string) (bool, error) {
	if !semver.IsValid(canonical(version)) {
		return false, fmt.Errorf("invalid version %q", version)
	}
	for _, part := range strings.Split(constraints, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		c, err := ParseConstraint(part)
		if err != nil {
			return false, fmt.Errorf("invalid constraint: %w", err)
		}
		if !c.Check(version) {
			return false, nil
		}
	}
	return true, nil
}
