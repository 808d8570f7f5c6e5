package udfwasm

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPermissionsWithMethodsDoNotMutateBase(t *testing.T) {
	base := NewPermissions()
	derived := base.WithMaxUDFs(5).WithEpochTickTime(50 * time.Millisecond)

	require.Equal(t, 20, base.maxUDFs)
	require.Equal(t, 5, derived.maxUDFs)
	require.Equal(t, 10*time.Millisecond, base.epochTickTime)
	require.Equal(t, 50*time.Millisecond, derived.epochTickTime)
}

func TestPermissionsWithHTTPValidatorNilFallsBackToDenyAll(t *testing.T) {
	p := NewPermissions().WithHTTPValidator(nil)
	require.False(t, p.httpValidator.Allow("GET", "https://example.com"))
}

func TestPermissionsEnvsLastWriteWinsPreservesOrder(t *testing.T) {
	p := NewPermissions().WithEnv("A", "1").WithEnv("B", "2").WithEnv("A", "3")
	require.Equal(t, []string{"A=3", "B=2"}, p.Envs())
}

func TestPermissionsWithCacheSizesIgnoresNonPositive(t *testing.T) {
	p := NewPermissions().WithCacheSizes(0, -1)
	require.Equal(t, 256, p.maxCachedFields)
	require.Equal(t, 64, p.maxCachedConfigOptions)
}

func TestLoadPermissionsAppliesOverridesOverDefaults(t *testing.T) {
	yamlDoc := []byte(`
max_udfs: 3
stderr_bytes: 2048
envs:
  FOO: bar
`)
	p, err := LoadPermissions(yamlDoc)
	require.NoError(t, err)
	require.Equal(t, 3, p.maxUDFs)
	require.Equal(t, 2048, p.stderrBytes)
	require.Equal(t, []string{"FOO=bar"}, p.Envs())
	// Unset fields keep the documented defaults.
	require.Equal(t, DefaultVFSLimits(), p.vfsLimits)
}

func TestLoadPermissionsRejectsInvalidYAML(t *testing.T) {
	_, err := LoadPermissions([]byte("not: valid: yaml: :::"))
	require.Error(t, err)
}
