package preamble

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

const dualLanguageScript = `
CREATE FUNCTION my_rust_udf(a BIGINT, b BIGINT) RETURNS BIGINT
LANGUAGE rust AS '
    fn invoke(a: i64, b: i64) -> i64 {
        a + b
    }
';

CREATE FUNCTION my_py_udf(s VARCHAR) RETURNS VARCHAR
LANGUAGE python AS '
    def invoke(s):
        return s.upper()
';

SELECT my_rust_udf(1, 2), my_py_udf(name) FROM people;
`

func TestParseDualLanguageScript(t *testing.T) {
	known := map[string]bool{"rust": true, "python": true}
	res, err := Parse(dualLanguageScript, known)
	require.NoError(t, err)

	require.Contains(t, res.BodiesByLanguage, "rust")
	require.Contains(t, res.BodiesByLanguage, "python")
	require.Contains(t, res.BodiesByLanguage["rust"], "fn invoke(a: i64, b: i64) -> i64")
	require.Contains(t, res.BodiesByLanguage["python"], "def invoke(s):")

	require.Contains(t, res.ResidualSQL, "SELECT my_rust_udf(1, 2), my_py_udf(name) FROM people;")
	require.NotContains(t, res.ResidualSQL, "CREATE FUNCTION")
}

func TestParseStripsCommonIndent(t *testing.T) {
	known := map[string]bool{"python": true}
	res, err := Parse(`CREATE FUNCTION f() RETURNS INT LANGUAGE python AS '
        def invoke():
            return 1
    ';
SELECT f();`, known)
	require.NoError(t, err)
	require.NotContains(t, res.BodiesByLanguage["python"], "        def invoke")
	require.Contains(t, res.BodiesByLanguage["python"], "def invoke():")
}

func TestParseUnsupportedLanguage(t *testing.T) {
	known := map[string]bool{"rust": true}
	_, err := Parse(`CREATE FUNCTION f() RETURNS INT LANGUAGE ruby AS 'puts 1'; SELECT f();`, known)
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrUnsupportedLanguage))
	require.Contains(t, err.Error(), "ruby")
}

func TestParseNoUDFFound(t *testing.T) {
	_, err := Parse(`SELECT 1;`, map[string]bool{"rust": true})
	require.ErrorIs(t, err, ErrNoUDFFound)
}

func TestParseNoSQLFound(t *testing.T) {
	known := map[string]bool{"rust": true}
	_, err := Parse(`CREATE FUNCTION f() RETURNS INT LANGUAGE rust AS 'fn invoke() -> i64 { 1 }';`, known)
	require.ErrorIs(t, err, ErrNoSQLFound)
}

func TestParseDoubleQuotedBody(t *testing.T) {
	known := map[string]bool{"rust": true}
	res, err := Parse(`CREATE FUNCTION f() RETURNS INT LANGUAGE rust AS "fn invoke() -> i64 { 1 }"; SELECT f();`, known)
	require.NoError(t, err)
	require.Contains(t, res.BodiesByLanguage["rust"], "fn invoke() -> i64 { 1 }")
}
