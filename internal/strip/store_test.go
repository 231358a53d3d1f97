package strip

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileSeedsDefaults(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "strips.json")
	strips, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, strips, 2)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "strips.json")
	original := Defaults()
	original[0].Volume = 0.42
	original[0].Effects[EffectGate].Active = true

	require.NoError(t, Save(path, original))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Equal(t, original[0].UID, loaded[0].UID)
	assert.InDelta(t, 0.42, loaded[0].Volume, 0.001)
	assert.True(t, loaded[0].Effects[EffectGate].Active)
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "strips.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}
