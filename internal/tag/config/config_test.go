package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestDefault(t *testing.T) {
	f := Default()
	if !f.RandomTags || f.VerboseThreads {
		t.Errorf("RandomTags=%v VerboseThreads=%v", f.RandomTags, f.VerboseThreads)
	}
	if f.HeapHistorySize != 1023 || f.MaxThreads != 8192 {
		t.Errorf("HeapHistorySize=%d MaxThreads=%d", f.HeapHistorySize, f.MaxThreads)
	}
	if err := f.Validate(); err != nil {
		t.Errorf("Default().Validate() = %v", err)
	}
}

// TestParseOptions tests the sanitizer option string syntax.
func TestParseOptions(t *testing.T) {
	tests := []struct {
		name     string
		opts     string
		wantErr  error
		validate func(*testing.T, *Flags)
	}{
		{
			name: "empty",
			opts: "",
			validate: func(t *testing.T, f *Flags) {
				if *f != *Default() {
					t.Errorf("empty options changed flags: %+v", f)
				}
			},
		},
		{
			name: "colon separated",
			opts: "random_tags=0:verbose_threads=1",
			validate: func(t *testing.T, f *Flags) {
				if f.RandomTags || !f.VerboseThreads {
					t.Errorf("RandomTags=%v VerboseThreads=%v", f.RandomTags, f.VerboseThreads)
				}
			},
		},
		{
			name: "mixed separators and numbers",
			opts: "heap_history_size=16, max_threads=4 stack_size=0x2000",
			validate: func(t *testing.T, f *Flags) {
				if f.HeapHistorySize != 16 || f.MaxThreads != 4 || f.StackSize != 0x2000 {
					t.Errorf("got %+v", f)
				}
			},
		},
		{
			name: "strings",
			opts: "log_level=debug:log_format=json:capture_stacks=false",
			validate: func(t *testing.T, f *Flags) {
				if f.LogLevel != "debug" || f.LogFormat != "json" || f.CaptureStacks {
					t.Errorf("got %+v", f)
				}
			},
		},
		{name: "unknown", opts: "halt_on_error=1", wantErr: ErrUnknownOption},
		{name: "bad bool", opts: "random_tags=maybe", wantErr: ErrInvalidValue},
		{name: "bad int", opts: "max_threads=lots", wantErr: ErrInvalidValue},
		{name: "missing value", opts: "random_tags", wantErr: ErrInvalidValue},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := Default()
			err := f.ParseOptions(tt.opts)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("ParseOptions(%q) error = %v, want %v", tt.opts, err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseOptions(%q) error = %v", tt.opts, err)
			}
			tt.validate(t, f)
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*Flags)
	}{
		{"zero max threads", func(f *Flags) { f.MaxThreads = 0 }},
		{"negative history", func(f *Flags) { f.HeapHistorySize = -1 }},
		{"bad level", func(f *Flags) { f.LogLevel = "loud" }},
		{"bad format", func(f *Flags) { f.LogFormat = "xml" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := Default()
			tt.setup(f)
			if err := f.Validate(); err == nil {
				t.Error("Validate() = nil, want error")
			}
		})
	}
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tagsan.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadFile(t *testing.T) {
	path := writeFile(t, `
random_tags = false
heap_history_size = 64
log_level = "debug"
`)
	f, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if f.RandomTags || f.HeapHistorySize != 64 || f.LogLevel != "debug" {
		t.Errorf("got %+v", f)
	}
	// Keys absent from the file keep their defaults.
	if f.MaxThreads != Default().MaxThreads || !f.CaptureStacks {
		t.Errorf("defaults lost: %+v", f)
	}
}

func TestLoadFileErrors(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Error("LoadFile(missing) = nil error")
	}
	if _, err := LoadFile(writeFile(t, "random_tags = [")); err == nil {
		t.Error("LoadFile(malformed) = nil error")
	}
	_, err := LoadFile(writeFile(t, "halt_on_error = true\n"))
	if !errors.Is(err, ErrUnknownOption) {
		t.Errorf("LoadFile(unknown key) error = %v, want ErrUnknownOption", err)
	}
}

func TestFromEnv(t *testing.T) {
	path := writeFile(t, "max_threads = 16\nverbose_threads = true\n")
	t.Setenv(EnvConfig, path)
	t.Setenv(EnvOptions, "max_threads=32:random_tags=0")

	f, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv() error = %v", err)
	}
	if f.MaxThreads != 32 {
		t.Errorf("MaxThreads = %d, options should override the file", f.MaxThreads)
	}
	if !f.VerboseThreads || f.RandomTags {
		t.Errorf("got %+v", f)
	}
}

func TestFromEnvInvalid(t *testing.T) {
	t.Setenv(EnvConfig, "")
	t.Setenv(EnvOptions, "max_threads=0")
	if _, err := FromEnv(); err == nil {
		t.Error("FromEnv() accepted max_threads=0")
	}

	t.Setenv(EnvOptions, "nope=1")
	if _, err := FromEnv(); !errors.Is(err, ErrUnknownOption) {
		t.Errorf("FromEnv() error = %v, want ErrUnknownOption", err)
	}
}
