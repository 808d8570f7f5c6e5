package trustdata

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func testLimits() Limits {
	return Limits{MaxDepth: 10, MaxIdentifierLength: 50, MaxAuxStringLength: 10_000, MaxComplexity: 1000}
}

func TestLongNameBreachS4(t *testing.T) {
	d := New(testLimits())
	err := d.CheckIdentifier(strings.Repeat("x", 51))
	require.Error(t, err)
	require.EqualError(t, err, "Resources exhausted: identifier length: got=51, limit=50")
	require.NoError(t, d.CheckIdentifier(strings.Repeat("x", 50)))
}

func TestWalkDataTypeDepthBoundaryS11(t *testing.T) {
	d := New(Limits{MaxDepth: 2, MaxIdentifierLength: 50, MaxAuxStringLength: 100, MaxComplexity: 10})

	leaf := DataType{Kind: "Int64"}
	one := DataType{Kind: "List", Elem: &leaf}
	two := DataType{Kind: "List", Elem: &one}
	three := DataType{Kind: "List", Elem: &two}

	require.NoError(t, d.WalkDataType(one, 0))
	require.NoError(t, d.WalkDataType(two, 0))
	require.Error(t, d.WalkDataType(three, 0))
}

func TestWalkFieldMetadataComplexity(t *testing.T) {
	d := New(Limits{MaxDepth: 10, MaxIdentifierLength: 50, MaxAuxStringLength: 100, MaxComplexity: 2})
	f := Field{Name: "x", Type: DataType{Kind: "Int64"}, Metadata: map[string]string{"a": "1", "b": "2", "c": "3"}}
	err := d.WalkField(f, 0)
	require.Error(t, err)
}

func TestWalkErrorChainDepthBoundary(t *testing.T) {
	d := New(Limits{MaxDepth: 3, MaxIdentifierLength: 50, MaxAuxStringLength: 100, MaxComplexity: 10})
	chain := &ErrorChain{Message: "m0", Cause: &ErrorChain{Message: "m1", Cause: &ErrorChain{Message: "m2", Cause: &ErrorChain{Message: "m3"}}}}
	require.NoError(t, d.WalkErrorChain(chain))

	deeper := &ErrorChain{Message: "m0", Cause: chain}
	require.Error(t, d.WalkErrorChain(deeper))
}

func TestWalkErrorChainAuxStringLength(t *testing.T) {
	d := New(Limits{MaxDepth: 10, MaxIdentifierLength: 50, MaxAuxStringLength: 5, MaxComplexity: 10})
	chain := &ErrorChain{Message: strings.Repeat("x", 6)}
	err := d.WalkErrorChain(chain)
	require.Error(t, err)
}
