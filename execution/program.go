package execution

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/isdmx/gradebox/quota"
)

// minSupportedMajor is the oldest programming format version still evaluated
const minSupportedMajor = 2

// Module is the part of a stored module the execution subsystem needs
type Module struct {
	ID        int64
	MaxPoints float64
	// Data is the module document holding a "programming" object, as JSON
	// or YAML.
	Data []byte
}

// ProgramInfo describes how a module's submissions are merged, run and checked
type ProgramInfo struct {
	Version     string           `yaml:"version" json:"version"`
	DefaultCode string           `yaml:"default_code" json:"default_code"`
	MergeScript string           `yaml:"merge_script" json:"merge_script"`
	Stdin       string           `yaml:"stdin" json:"stdin"`
	CheckScript string           `yaml:"check_script" json:"check_script"`
	Limits      *quota.Overrides `yaml:"limits" json:"limits"`
}

// UnmarshalJSON accepts the version both as a string and as a bare number
func (p *ProgramInfo) UnmarshalJSON(data []byte) error {
	type plain ProgramInfo
	raw := struct {
		*plain
		Version *quota.Scalar `json:"version"`
	}{plain: (*plain)(p)}

	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.Version != nil {
		p.Version = string(*raw.Version)
	}
	return nil
}

type moduleData struct {
	Programming *ProgramInfo `yaml:"programming" json:"programming"`
}

// ParseProgramInfo extracts the programming object from module data. Valid
// JSON is decoded as JSON, anything else as YAML.
func ParseProgramInfo(data []byte) (ProgramInfo, error) {
	var doc moduleData
	var err error
	if json.Valid(data) {
		err = json.Unmarshal(data, &doc)
	} else {
		err = yaml.Unmarshal(data, &doc)
	}
	if err != nil {
		return ProgramInfo{}, fmt.Errorf("%w: %v", ErrModuleConfig, err)
	}
	if doc.Programming == nil {
		return ProgramInfo{}, fmt.Errorf("%w: missing programming section", ErrModuleConfig)
	}
	return *doc.Programming, nil
}

// Supported reports whether the version is at least 2.0. A missing or
// malformed version is unsupported.
func (p ProgramInfo) Supported() bool {
	major, _, err := parseVersion(p.Version)
	return err == nil && major >= minSupportedMajor
}

// ResolveLimits merges the module's limit overrides over defaults
func (p ProgramInfo) ResolveLimits(defaults quota.Limits) (quota.Limits, error) {
	if p.Limits == nil {
		return defaults, nil
	}
	partial, err := p.Limits.Parse()
	if err != nil {
		return quota.Limits{}, fmt.Errorf("%w: %v", ErrModuleConfig, err)
	}
	return quota.Resolve(partial, defaults), nil
}

func parseVersion(v string) (major, minor int, err error) {
	majorStr, minorStr, found := strings.Cut(strings.TrimSpace(v), ".")
	if !found {
		return 0, 0, fmt.Errorf("invalid version %q", v)
	}
	if major, err = strconv.Atoi(majorStr); err != nil {
		return 0, 0, fmt.Errorf("invalid version %q: %w", v, err)
	}
	if minor, err = strconv.Atoi(minorStr); err != nil {
		return 0, 0, fmt.Errorf("invalid version %q: %w", v, err)
	}
	return major, minor, nil
}
