// Package preamble implements spec.md §4.9: extracts inline UDF source
// blocks from a combined SQL script before planning, pairing each
// distinct LANGUAGE clause with a precompiled component the caller
// provides.
//
// Grounded on original_source's guests/rust and guests/python examples,
// which show the same script shape for two different LANGUAGE values, and
// written language-agnostic for that reason (SUPPLEMENTED FEATURES in
// SPEC_FULL.md): this parser only keys off the LANGUAGE name, never a
// fixed list of languages.
package preamble

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Sentinel errors re-exported by the root package's error taxonomy
// (errors.go's ErrUnsupportedLanguage/ErrNoUDFFound/ErrNoSQLFound are
// these same values, so errors.Is matches either name).
var (
	ErrUnsupportedLanguage = errors.New("unsupported language")
	ErrNoUDFFound          = errors.New("no UDF found")
	ErrNoSQLFound          = errors.New("no SQL query found")
)

// createFunctionRE matches a (possibly multi-line) CREATE FUNCTION
// statement: `CREATE FUNCTION ... LANGUAGE <name> AS '<body>'` or the
// double-quoted variant. DOTALL via (?s) lets body span lines.
var createFunctionRE = regexp.MustCompile(`(?is)CREATE\s+FUNCTION\b.*?LANGUAGE\s+(\w+)\s+AS\s+('([^']*)'|"([^"]*)")\s*;?`)

// Result is the parser's output: per-language concatenated bodies, plus the
// residual SQL with every CREATE FUNCTION statement removed (spec.md §4.9).
type Result struct {
	BodiesByLanguage map[string]string
	ResidualSQL      string
}

// Parse splits script into per-language UDF bodies and residual SQL.
// knownLanguages maps a LANGUAGE name to true if the caller has a
// precompiled component for it; an unregistered name fails with
// ErrUnsupportedLanguage carrying that name.
func Parse(script string, knownLanguages map[string]bool) (Result, error) {
	matches := createFunctionRE.FindAllStringSubmatchIndex(script, -1)
	bodies := map[string][]string{}
	residual := &strings.Builder{}
	last := 0

	for _, m := range matches {
		start, end := m[0], m[1]
		residual.WriteString(script[last:start])
		last = end

		lang := strings.ToLower(script[m[2]:m[3]])
		if !knownLanguages[lang] {
			return Result{}, fmt.Errorf("%w: %s", ErrUnsupportedLanguage, lang)
		}
		var body string
		if m[6] >= 0 { // single-quoted group
			body = script[m[6]:m[7]]
		} else { // double-quoted group
			body = script[m[8]:m[9]]
		}
		body = stripCommonIndent(body)
		bodies[lang] = append(bodies[lang], body)
	}
	residual.WriteString(script[last:])

	if len(bodies) == 0 {
		return Result{}, ErrNoUDFFound
	}

	out := make(map[string]string, len(bodies))
	for lang, parts := range bodies {
		joined := strings.Join(parts, "\n")
		if strings.TrimSpace(joined) == "" {
			return Result{}, ErrNoUDFFound
		}
		out[lang] = joined
	}

	residualSQL := strings.TrimSpace(residual.String())
	if residualSQL == "" {
		return Result{}, ErrNoSQLFound
	}

	return Result{BodiesByLanguage: out, ResidualSQL: residualSQL}, nil
}

// stripCommonIndent removes the longest whitespace prefix common to every
// non-blank line, for guest languages where indentation is semantic
// (spec.md §6: "after common-indentation stripping for languages where
// indentation is semantic").
func stripCommonIndent(body string) string {
	lines := strings.Split(body, "\n")
	minIndent := -1
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		indent := len(line) - len(strings.TrimLeft(line, " \t"))
		if minIndent == -1 || indent < minIndent {
			minIndent = indent
		}
	}
	if minIndent <= 0 {
		return body
	}
	for i, line := range lines {
		if len(line) >= minIndent {
			lines[i] = line[minIndent:]
		} else {
			lines[i] = strings.TrimLeft(line, " \t")
		}
	}
	return strings.Join(lines, "\n")
}
