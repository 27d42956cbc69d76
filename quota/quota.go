// Package quota resolves the resource limits applied to one sandboxed run.
//
// Modules may override any subset of the system defaults. Overrides arrive as
// human-friendly strings ("50M", "5s") in the module data, are parsed once
// into a typed Partial, and are then merged field by field over the defaults.
package quota

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// NetShare is the only accepted value of the net override.
const NetShare = "share"

// Limits is a complete quota set. Zero values of the optional fields
// (CPUTime, Stack, Processes) mean "not limited by a flag".
type Limits struct {
	Memory    uint64
	WallTime  time.Duration
	CPUTime   time.Duration
	FileSize  uint64
	Blocks    int
	Inodes    int
	Stack     uint64
	Processes *int
	ShareNet  bool
}

// Partial holds caller supplied limits. A nil field is unset.
type Partial struct {
	Memory    *uint64
	WallTime  *time.Duration
	CPUTime   *time.Duration
	FileSize  *uint64
	Blocks    *int
	Inodes    *int
	Stack     *uint64
	Processes *int
	ShareNet  *bool
}

// Overrides is the raw form of the limits object stored in module data.
type Overrides struct {
	Memory    *Scalar `yaml:"mem" json:"mem"`
	WallTime  *Scalar `yaml:"total_time" json:"total_time"`
	CPUTime   *Scalar `yaml:"cpu_time" json:"cpu_time"`
	FileSize  *Scalar `yaml:"file_size" json:"file_size"`
	Blocks    *Count  `yaml:"blocks" json:"blocks"`
	Inodes    *Count  `yaml:"inodes" json:"inodes"`
	Stack     *Scalar `yaml:"stack" json:"stack"`
	Processes *Count  `yaml:"processes" json:"processes"`
	Net       *Scalar `yaml:"net" json:"net"`
}

// Parse converts raw overrides into a typed Partial.
func (o Overrides) Parse() (Partial, error) {
	var p Partial
	var err error

	if p.Memory, err = parseSizePtr("mem", o.Memory); err != nil {
		return Partial{}, err
	}
	if p.FileSize, err = parseSizePtr("file_size", o.FileSize); err != nil {
		return Partial{}, err
	}
	if p.Stack, err = parseSizePtr("stack", o.Stack); err != nil {
		return Partial{}, err
	}
	if p.WallTime, err = parseTimespanPtr("total_time", o.WallTime); err != nil {
		return Partial{}, err
	}
	if p.CPUTime, err = parseTimespanPtr("cpu_time", o.CPUTime); err != nil {
		return Partial{}, err
	}

	p.Blocks = o.Blocks.ptr()
	p.Inodes = o.Inodes.ptr()
	p.Processes = o.Processes.ptr()
	if o.Net != nil {
		share := string(*o.Net) == NetShare
		p.ShareNet = &share
	}

	return p, nil
}

// Resolve fills every unset field of p from defaults. Set fields always win.
func Resolve(p Partial, defaults Limits) Limits {
	out := defaults
	if p.Memory != nil {
		out.Memory = *p.Memory
	}
	if p.WallTime != nil {
		out.WallTime = *p.WallTime
	}
	if p.CPUTime != nil {
		out.CPUTime = *p.CPUTime
	}
	if p.FileSize != nil {
		out.FileSize = *p.FileSize
	}
	if p.Blocks != nil {
		out.Blocks = *p.Blocks
	}
	if p.Inodes != nil {
		out.Inodes = *p.Inodes
	}
	if p.Stack != nil {
		out.Stack = *p.Stack
	}
	if p.Processes != nil {
		n := *p.Processes
		out.Processes = &n
	}
	if p.ShareNet != nil {
		out.ShareNet = *p.ShareNet
	}
	return out
}

// ParseSize parses a size such as "50M" or "64 KiB" into bytes.
// Plain numbers are bytes; suffixes without "i" are decimal.
func ParseSize(s string) (uint64, error) {
	n, err := humanize.ParseBytes(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}
	return n, nil
}

// ParseTimespan parses a duration such as "5s" or "1m30s".
// A bare number is interpreted as seconds.
func ParseTimespan(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		if secs < 0 {
			return 0, fmt.Errorf("invalid timespan %q: negative", s)
		}
		return time.Duration(secs * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid timespan %q: %w", s, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid timespan %q: negative", s)
	}
	return d, nil
}

func parseSizePtr(field string, s *Scalar) (*uint64, error) {
	if s == nil {
		return nil, nil
	}
	n, err := ParseSize(string(*s))
	if err != nil {
		return nil, fmt.Errorf("limits.%s: %w", field, err)
	}
	return &n, nil
}

func parseTimespanPtr(field string, s *Scalar) (*time.Duration, error) {
	if s == nil {
		return nil, nil
	}
	d, err := ParseTimespan(string(*s))
	if err != nil {
		return nil, fmt.Errorf("limits.%s: %w", field, err)
	}
	return &d, nil
}
