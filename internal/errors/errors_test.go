package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuilderCarriesMetadata(t *testing.T) {
	t.Parallel()

	err := Newf("node %q did not appear", "x").
		Component("engine").
		Category(CategoryTimeout).
		Context("node_name", "x").
		Build()

	require.Error(t, err)
	assert.Equal(t, "engine", err.GetComponent())
	assert.Equal(t, string(CategoryTimeout), err.GetCategory())
	assert.Equal(t, "x", err.GetContext()["node_name"])
	assert.False(t, err.GetTimestamp().IsZero())
}

func TestWrapPreservesCause(t *testing.T) {
	t.Parallel()

	cause := fmt.Errorf("exit status 1")
	err := Wrap(cause).Category(CategoryCommandExecution).Build()

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "exit status 1")
}

func TestAsRecoversEnhancedError(t *testing.T) {
	t.Parallel()

	inner := Newf("boom").Category(CategoryDiscovery).Context("stderr", "dump failed").Build()
	wrapped := fmt.Errorf("outer: %w", inner)

	var ee *EnhancedError
	require.True(t, As(wrapped, &ee))
	assert.Equal(t, string(CategoryDiscovery), ee.GetCategory())
	assert.Equal(t, "dump failed", ee.GetContext()["stderr"])
}

func TestComponentDetectionFromCallSite(t *testing.T) {
	t.Parallel()

	// Built without an explicit component: detection walks the stack and
	// finds no registered package for the test binary, landing on unknown.
	err := Newf("bare").Build()
	assert.NotEmpty(t, err.GetComponent())
}
