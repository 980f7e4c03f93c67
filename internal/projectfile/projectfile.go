// Package projectfile parses and validates the per-project configuration
// file that marks a directory for scheduled destruction.
package projectfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/aatumaykin/tfreaper/internal/duration"
)

// Filename is the fixed name discovery looks for in project directories.
const Filename = ".tfreaper.yml"

// SupportedVersion is the only accepted schema version.
const SupportedVersion = 1

// Config is the validated content of a project file.
type Config struct {
	Version int      `yaml:"version" json:"version"`
	Timeout string   `yaml:"timeout" json:"timeout"`
	Name    string   `yaml:"name,omitempty" json:"name,omitempty"`
	Command string   `yaml:"command,omitempty" json:"command,omitempty"`
	Tags    []string `yaml:"tags,omitempty" json:"tags,omitempty"`

	Execution *ExecutionSettings `yaml:"execution,omitempty" json:"execution,omitempty"`
	Hooks     *Hooks             `yaml:"hooks,omitempty" json:"hooks,omitempty"`
}

// ExecutionSettings override how the destructive command is run.
type ExecutionSettings struct {
	WorkingDir  string            `yaml:"workingDir,omitempty" json:"workingDir,omitempty"`
	Environment map[string]string `yaml:"environment,omitempty" json:"environment,omitempty"`
}

// Hooks are command lists run around the destruction itself.
type Hooks struct {
	PreDestroy  []string `yaml:"preDestroy,omitempty" json:"preDestroy,omitempty"`
	PostDestroy []string `yaml:"postDestroy,omitempty" json:"postDestroy,omitempty"`
}

// ValidationError aggregates every problem found in one config file.
type ValidationError struct {
	Path     string
	Problems []string
}

func (e *ValidationError) Error() string {
	msg := "invalid project file"
	if e.Path != "" {
		msg += " " + e.Path
	}
	return msg + ": " + strings.Join(e.Problems, "; ")
}

// Parse unmarshals and validates a project file document.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse project file: %w", err)
	}

	if problems := cfg.Validate(); len(problems) > 0 {
		return nil, &ValidationError{Problems: problems}
	}
	return &cfg, nil
}

// ParseFile reads and parses the project file at path. Validation failures
// come back as *ValidationError carrying the path.
func ParseFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read project file: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			verr.Path = path
		}
		return nil, err
	}
	return cfg, nil
}

// Validate returns every problem with the config. A timeout that does not
// parse as duration text is not a problem here; discovery substitutes a
// default for it. A parseable timeout outside [1s, 30d] is rejected.
func (c *Config) Validate() []string {
	var problems []string

	if c.Version != SupportedVersion {
		problems = append(problems, fmt.Sprintf("version must be %d, got %d", SupportedVersion, c.Version))
	}
	if strings.TrimSpace(c.Timeout) == "" {
		problems = append(problems, "timeout is required")
	} else if d, err := duration.Parse(c.Timeout); err == nil {
		if err := duration.CheckBounds(d); err != nil {
			problems = append(problems, fmt.Sprintf("timeout %q is outside the allowed range of 1 second to 30 days", c.Timeout))
		}
	}
	for i, tag := range c.Tags {
		if strings.TrimSpace(tag) == "" {
			problems = append(problems, fmt.Sprintf("tags[%d] is empty", i))
		}
	}
	if c.Hooks != nil {
		for i, cmd := range c.Hooks.PreDestroy {
			if strings.TrimSpace(cmd) == "" {
				problems = append(problems, fmt.Sprintf("hooks.preDestroy[%d] is empty", i))
			}
		}
		for i, cmd := range c.Hooks.PostDestroy {
			if strings.TrimSpace(cmd) == "" {
				problems = append(problems, fmt.Sprintf("hooks.postDestroy[%d] is empty", i))
			}
		}
	}

	return problems
}

// Duration parses the configured timeout.
func (c *Config) Duration() (time.Duration, error) {
	return duration.Parse(c.Timeout)
}

// ToJSON serializes the config for storage.
func (c *Config) ToJSON() (string, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("serialize config: %w", err)
	}
	return string(data), nil
}

// FromJSON restores a config previously serialized with ToJSON.
func FromJSON(s string) (*Config, error) {
	var cfg Config
	if err := json.Unmarshal([]byte(s), &cfg); err != nil {
		return nil, fmt.Errorf("deserialize config: %w", err)
	}
	return &cfg, nil
}
