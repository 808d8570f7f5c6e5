package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUsageOnBadArgCount(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := doMain(bytes.NewReader(nil), &stdout, &stderr, []string{"only-one-arg"})
	require.Equal(t, 1, code)
	require.Contains(t, stderr.String(), "Usage: compile")
}

func TestMissingInputFile(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := doMain(bytes.NewReader(nil), &stdout, &stderr, []string{filepath.Join(t.TempDir(), "missing.wasm"), "-"})
	require.Equal(t, 1, code)
	require.Contains(t, stderr.String(), "read input")
}

func TestInvalidWasmBytesFailsCompile(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "not-wasm.bin")
	require.NoError(t, os.WriteFile(input, []byte("definitely not a wasm module"), 0o644))

	var stdout, stderr bytes.Buffer
	code := doMain(bytes.NewReader(nil), &stdout, &stderr, []string{input, "-"})
	require.Equal(t, 1, code)
	require.Contains(t, stderr.String(), "compile")
}

func TestStdinStdoutDashes(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := doMain(bytes.NewReader([]byte("garbage")), &stdout, &stderr, []string{"-", "-"})
	require.Equal(t, 1, code) // garbage bytes never compile, but stdin/stdout plumbing is exercised
	require.Contains(t, stderr.String(), "compile")
}
