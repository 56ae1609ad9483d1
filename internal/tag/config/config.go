// Package config holds the runtime flags of the tag detector.
//
// Flags come from three layers, later ones winning:
//   - Default()
//   - a TOML file named by TAGSAN_CONFIG (LoadFile)
//   - a sanitizer-style option string in TAGSAN_OPTIONS, e.g.
//     "random_tags=0:verbose_threads=1" (ParseOptions)
//
// Option names are the TOML keys.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// Environment variables read by FromEnv.
const (
	EnvOptions = "TAGSAN_OPTIONS"
	EnvConfig  = "TAGSAN_CONFIG"
)

// Errors returned while parsing options.
var (
	ErrUnknownOption = errors.New("config: unknown option")
	ErrInvalidValue  = errors.New("config: invalid value")
)

// Flags are the runtime settings.
type Flags struct {
	// Seed per-thread tag generators from entropy (default: true).
	// When false, each thread yields sequential tags after its identity.
	RandomTags bool `toml:"random_tags"`

	// Log thread start and exit at info level (default: false)
	VerboseThreads bool `toml:"verbose_threads"`

	// Entries in each thread's heap-allocation history (default: 1023)
	HeapHistorySize int `toml:"heap_history_size"`

	// Capacity of the thread record pool (default: 8192)
	MaxThreads int `toml:"max_threads"`

	// Stack span attributed to each goroutine in bytes (default: 64 KiB)
	StackSize uint64 `toml:"stack_size"`

	// Record allocation and free stacks for reports (default: true)
	CaptureStacks bool `toml:"capture_stacks"`

	// Log level: trace, debug, info, warn, error (default: "warn")
	LogLevel string `toml:"log_level"`

	// Log format: "console" or "json" (default: "console")
	LogFormat string `toml:"log_format"`
}

// Default returns the built-in settings.
func Default() *Flags {
	return &Flags{
		RandomTags:      true,
		VerboseThreads:  false,
		HeapHistorySize: 1023,
		MaxThreads:      8192,
		StackSize:       64 << 10,
		CaptureStacks:   true,
		LogLevel:        "warn",
		LogFormat:       "console",
	}
}

// LoadFile reads a TOML file on top of the defaults.
//
// Keys not recognized by Flags are an error.
func LoadFile(path string) (*Flags, error) {
	f := Default()
	md, err := toml.DecodeFile(path, f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("%w in %s: %s", ErrUnknownOption, path, undecoded[0].String())
	}
	return f, nil
}

// FromEnv builds Flags from TAGSAN_CONFIG and TAGSAN_OPTIONS.
func FromEnv() (*Flags, error) {
	f := Default()
	if path := os.Getenv(EnvConfig); path != "" {
		var err error
		if f, err = LoadFile(path); err != nil {
			return nil, err
		}
	}
	if err := f.ParseOptions(os.Getenv(EnvOptions)); err != nil {
		return nil, fmt.Errorf("%s: %w", EnvOptions, err)
	}
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return f, nil
}

// ParseOptions applies a "name=value" list separated by ':', ',' or
// whitespace. Booleans accept 0/1/true/false.
//
// Options before a bad one stay applied.
func (f *Flags) ParseOptions(s string) error {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ':' || r == ',' || r == ' ' || r == '\t' || r == '\n'
	})
	for _, kv := range fields {
		name, value, ok := strings.Cut(kv, "=")
		if !ok {
			return fmt.Errorf("%w: %q has no value", ErrInvalidValue, kv)
		}
		if err := f.set(name, value); err != nil {
			return err
		}
	}
	return nil
}

func (f *Flags) set(name, value string) error {
	var err error
	switch name {
	case "random_tags":
		f.RandomTags, err = strconv.ParseBool(value)
	case "verbose_threads":
		f.VerboseThreads, err = strconv.ParseBool(value)
	case "capture_stacks":
		f.CaptureStacks, err = strconv.ParseBool(value)
	case "heap_history_size":
		f.HeapHistorySize, err = strconv.Atoi(value)
	case "max_threads":
		f.MaxThreads, err = strconv.Atoi(value)
	case "stack_size":
		f.StackSize, err = strconv.ParseUint(value, 0, 64)
	case "log_level":
		f.LogLevel = value
	case "log_format":
		f.LogFormat = value
	default:
		return fmt.Errorf("%w: %s", ErrUnknownOption, name)
	}
	if err != nil {
		return fmt.Errorf("%w for %s: %q", ErrInvalidValue, name, value)
	}
	return nil
}

// Validate checks the settings for errors.
func (f *Flags) Validate() error {
	if f.MaxThreads <= 0 {
		return fmt.Errorf("max_threads must be positive, got %d", f.MaxThreads)
	}
	if f.HeapHistorySize < 0 {
		return fmt.Errorf("heap_history_size cannot be negative, got %d", f.HeapHistorySize)
	}
	switch f.LogLevel {
	case "trace", "debug", "info", "warn", "warning", "error", "fatal":
	default:
		return fmt.Errorf("log_level %q is not a level", f.LogLevel)
	}
	switch f.LogFormat {
	case "console", "json":
	default:
		return fmt.Errorf("log_format must be \"console\" or \"json\", got %q", f.LogFormat)
	}
	return nil
}
