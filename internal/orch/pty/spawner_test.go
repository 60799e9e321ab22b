package pty

import (
	"os"
	"testing"
)

func TestResolveBinary_EnvOverrideWins(t *testing.T) {
	t.Setenv(binaryEnvOverride, "/custom/path/to/assistant")
	got, err := ResolveBinary()
	if err != nil {
		t.Fatalf("ResolveBinary: %v", err)
	}
	if got != "/custom/path/to/assistant" {
		t.Fatalf("got %q, want env override", got)
	}
}

func TestResolveBinary_NotFound(t *testing.T) {
	t.Setenv(binaryEnvOverride, "")
	t.Setenv("PATH", t.TempDir())
	if _, err := ResolveBinary(); err != ErrBinaryNotFound {
		t.Fatalf("got %v, want ErrBinaryNotFound", err)
	}
}

func TestResolveBinary_CandidatePath(t *testing.T) {
	t.Setenv(binaryEnvOverride, "")
	dir := t.TempDir()
	t.Setenv("PATH", dir)

	orig := candidateBinaryPaths
	fake := dir + "/assistant"
	if err := os.WriteFile(fake, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatalf("write fake binary: %v", err)
	}
	candidateBinaryPaths = []string{fake}
	t.Cleanup(func() { candidateBinaryPaths = orig })

	got, err := ResolveBinary()
	if err != nil {
		t.Fatalf("ResolveBinary: %v", err)
	}
	if got != fake {
		t.Fatalf("got %q, want %q", got, fake)
	}
}
