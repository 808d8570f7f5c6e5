// Command compile is the optional pre-compile tool named in spec.md §6:
// `compile <INPUT> <OUTPUT> [TARGET]`, where `-` means stdin/stdout.
//
// Grounded on original_source/host/src/bin/compile.rs for the argument
// shape, and on _examples/tetratelabs-wazero/cmd/wazero/wazero.go's
// doMain(stdOut, stdErr) pattern for a testable entry point.
package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	flag "github.com/spf13/pflag"
	"github.com/tetratelabs/wazero"

	udfwasm "github.com/influxdata/datafusion-udf-wasm"
)

func main() {
	os.Exit(doMain(os.Stdin, os.Stdout, os.Stderr, os.Args[1:]))
}

// doMain is separated from main for unit testing, mirroring the teacher's
// own cmd/wazero/wazero.go split.
func doMain(stdin io.Reader, stdout io.Writer, stderr io.Writer, args []string) int {
	flags := flag.NewFlagSet("compile", flag.ContinueOnError)
	flags.SetOutput(stderr)
	flags.Usage = func() {
		fmt.Fprintln(stderr, "Usage: compile <INPUT> <OUTPUT> [TARGET]")
		fmt.Fprintln(stderr)
		fmt.Fprintln(stderr, "Use - for INPUT/OUTPUT to read/write stdin/stdout.")
	}
	if err := flags.Parse(args); err != nil {
		return 1
	}

	rest := flags.Args()
	if len(rest) < 2 || len(rest) > 3 {
		flags.Usage()
		return 1
	}
	input, output := rest[0], rest[1]
	var target string
	if len(rest) == 3 {
		target = rest[2]
	}

	raw, err := readInput(stdin, input)
	if err != nil {
		printErr(stderr, "read input: %v", err)
		return 1
	}

	ctx := context.Background()
	runtime := wazero.NewRuntime(ctx)
	defer runtime.Close(ctx)
	cache := udfwasm.NewCompilationCache()

	component, err := udfwasm.Compile(ctx, runtime, cache, raw, udfwasm.CompileFlags{Target: target})
	if err != nil {
		printErr(stderr, "compile: %v", err)
		return 1
	}

	// component.Raw() is written back rather than a separately serialized
	// artifact: wazero's public API has no CompiledModule (de)serialization,
	// so "precompiling" here validates the module compiles and warms the
	// process-wide cache for it (see component.go's LoadPrecompiled doc).
	if err := writeOutput(stdout, output, component.Raw()); err != nil {
		printErr(stderr, "write output: %v", err)
		return 1
	}
	return 0
}

func readInput(stdin io.Reader, input string) ([]byte, error) {
	if input == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(input)
}

func writeOutput(stdout io.Writer, output string, data []byte) error {
	if output == "-" {
		_, err := stdout.Write(data)
		return err
	}
	return os.WriteFile(output, data, 0o644)
}

func printErr(w io.Writer, format string, args ...any) {
	fmt.Fprintln(w, color.RedString(format, args...))
}
