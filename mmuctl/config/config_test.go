// Copyright 2025 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"flag"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func newFlagSet() *flag.FlagSet {
	testFlags := flag.NewFlagSet("test", flag.ContinueOnError)
	RegisterFlags(testFlags)
	return testFlags
}

func TestDefault(t *testing.T) {
	c, err := NewFromFlags(newFlagSet())
	if err != nil {
		t.Fatal(err)
	}
	want := &Config{
		LogFormat:           "text",
		MemoryBase:          0x4000_0000,
		MemoryFrames:        1024,
		LastPhysicalAddress: 0x7f_ffff_ffff,
	}
	if diff := cmp.Diff(want, c); diff != "" {
		t.Errorf("default config mismatch (-want +got):\n%s", diff)
	}

	// All defaults doesn't require setting flags.
	if flags := c.ToFlags(); len(flags) > 0 {
		t.Errorf("default flags not set correctly for: %s", flags)
	}
}

func TestFromFlags(t *testing.T) {
	testFlags := newFlagSet()
	testFlags.Set("debug", "true")
	testFlags.Set("memory-frames", "64")
	testFlags.Set("memory-base", "0x8000_0000")
	testFlags.Set("last-physical-address", "0x3fffffff")

	c, err := NewFromFlags(testFlags)
	if err != nil {
		t.Fatal(err)
	}
	if want := true; c.Debug != want {
		t.Errorf("Debug=%v, want: %v", c.Debug, want)
	}
	if want := 64; c.MemoryFrames != want {
		t.Errorf("MemoryFrames=%v, want: %v", c.MemoryFrames, want)
	}
	if want := uint64(0x8000_0000); c.MemoryBase != want {
		t.Errorf("MemoryBase=%#x, want: %#x", c.MemoryBase, want)
	}
	if want := uint64(0x3fff_ffff); c.LastPhysicalAddress != want {
		t.Errorf("LastPhysicalAddress=%#x, want: %#x", c.LastPhysicalAddress, want)
	}
}

func TestToFlagsFromFlags(t *testing.T) {
	testFlags := newFlagSet()
	testFlags.Set("debug", "true")
	testFlags.Set("log-format", "text") // Matches default value.
	testFlags.Set("frame-limit", "32")
	c, err := NewFromFlags(testFlags)
	if err != nil {
		t.Fatal(err)
	}

	want := []string{"--debug=true", "--frame-limit=32"}
	if diff := cmp.Diff(want, c.ToFlags()); diff != "" {
		t.Errorf("ToFlags() mismatch (-want +got):\n%s", diff)
	}
}

func TestValidationFail(t *testing.T) {
	for _, tc := range []struct {
		name  string
		flags map[string]string
		error string
	}{
		{
			name:  "log-format",
			flags: map[string]string{"log-format": "json-k8s"},
			error: "invalid log format",
		},
		{
			name:  "unaligned-base",
			flags: map[string]string{"memory-base": "0x4000_0800"},
			error: "not frame aligned",
		},
		{
			name:  "no-memory",
			flags: map[string]string{"memory-frames": "0"},
			error: "must be positive",
		},
		{
			name:  "memory-too-high",
			flags: map[string]string{"memory-base": "0xffff_ffff_f000", "memory-frames": "2"},
			error: "exceeds 48-bit",
		},
		{
			name:  "negative-limit",
			flags: map[string]string{"frame-limit": "-1"},
			error: "must not be negative",
		},
		{
			name:  "bound-too-high",
			flags: map[string]string{"last-physical-address": "0x1_0000_0000_0000"},
			error: "exceeds 48-bit",
		},
		{
			name:  "identity-does-not-fit",
			flags: map[string]string{"memory-frames": "4", "last-physical-address": "0xffff_ffff_ffff"},
			error: "needs 514 frames",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			testFlags := newFlagSet()
			for name, val := range tc.flags {
				if err := testFlags.Set(name, val); err != nil {
					t.Fatalf("Set(%q, %q): %v", name, val, err)
				}
			}
			if _, err := NewFromFlags(testFlags); err == nil || !strings.Contains(err.Error(), tc.error) {
				t.Errorf("NewFromFlags() wrong error reported: %v, want %q", err, tc.error)
			}
		})
	}
}

func writeFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mmuctl.toml")
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestApplyFile(t *testing.T) {
	path := writeFile(t, `
[flags]
debug = true
memory-frames = 256
frame-limit = 16
last-physical-address = "0x3fffffff"
`)
	testFlags := newFlagSet()
	// Command line wins over the file.
	testFlags.Set("frame-limit", "8")
	if err := ApplyFile(path, testFlags); err != nil {
		t.Fatalf("ApplyFile: %v", err)
	}
	c, err := NewFromFlags(testFlags)
	if err != nil {
		t.Fatal(err)
	}
	if !c.Debug {
		t.Errorf("Debug=false, want true")
	}
	if want := 256; c.MemoryFrames != want {
		t.Errorf("MemoryFrames=%v, want: %v", c.MemoryFrames, want)
	}
	if want := 8; c.FrameLimit != want {
		t.Errorf("FrameLimit=%v, want: %v", c.FrameLimit, want)
	}
	if want := uint64(0x3fff_ffff); c.LastPhysicalAddress != want {
		t.Errorf("LastPhysicalAddress=%#x, want: %#x", c.LastPhysicalAddress, want)
	}
}

func TestApplyFileErrors(t *testing.T) {
	for _, tc := range []struct {
		name     string
		contents string
		error    string
	}{
		{
			name:     "syntax",
			contents: "[flags\n",
			error:    "error reading config file",
		},
		{
			name:     "unknown-table",
			contents: "[machine]\nframes = 1\n",
			error:    "unknown keys",
		},
		{
			name:     "unknown-flag",
			contents: "[flags]\nframes = 1\n",
			error:    `unknown flag "frames"`,
		},
		{
			name:     "bad-value",
			contents: "[flags]\nmemory-frames = \"many\"\n",
			error:    "error setting flag memory-frames",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			path := writeFile(t, tc.contents)
			if err := ApplyFile(path, newFlagSet()); err == nil || !strings.Contains(err.Error(), tc.error) {
				t.Errorf("ApplyFile() wrong error reported: %v, want %q", err, tc.error)
			}
		})
	}
}
