// Package config holds Tmbdl's project-wide constants and the
// optional tmbdl.yaml project configuration file (SPEC_FULL.md §3).
package config

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// SourceFileExt is the canonical Tmbdl source extension.
const SourceFileExt = ".tmbdl"

// BytecodeFileExt is the compiled-container extension (spec.md §6).
const BytecodeFileExt = ".tmbdlc"

// ProjectConfigName is the optional project config file looked up next
// to the entry script.
const ProjectConfigName = "tmbdl.yaml"

// Config is the optional tmbdl.yaml project file: an entry script, an
// extra module search path for gateway imports, and a trace-on-by-
// default toggle. Grounded on the teacher's internal/ext/config.go
// Config struct / yaml tags and evaluator/builtins_yaml.go's
// yaml.Unmarshal usage.
type Config struct {
	Entry      string `yaml:"entry"`
	ModulePath string `yaml:"modulePath"`
	TraceByDefault bool `yaml:"traceByDefault"`
}

// Load reads tmbdl.yaml from dir if present. A missing file returns a
// zero-value Config and no error — absent file means defaults
// (SPEC_FULL.md §3).
func Load(dir string) (*Config, error) {
	path := filepath.Join(dir, ProjectConfigName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
