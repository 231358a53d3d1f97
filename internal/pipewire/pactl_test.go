package pipewire

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetSinkVolumeFormatsPercent(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{handler: func(name string, args ...string) (string, error) {
		return "", nil
	}}
	c := NewCompat(runner)

	require.NoError(t, c.SetSinkVolume(context.Background(), "my_sink", 0.65))
	assert.Equal(t, 1, runner.callCount("pactl", "set-sink-volume", "my_sink", "65%"))

	require.NoError(t, c.SetSinkVolume(context.Background(), "my_sink", 1.0))
	assert.Equal(t, 1, runner.callCount("pactl", "set-sink-volume", "my_sink", "100%"))
}

func TestSetMuteValues(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{handler: func(name string, args ...string) (string, error) {
		return "", nil
	}}
	c := NewCompat(runner)

	require.NoError(t, c.SetSinkMute(context.Background(), "s", true))
	require.NoError(t, c.SetSourceMute(context.Background(), "m", false))
	assert.Equal(t, 1, runner.callCount("pactl", "set-sink-mute", "s", "1"))
	assert.Equal(t, 1, runner.callCount("pactl", "set-source-mute", "m", "0"))
}

const sampleSinkInputs = `[
  {
    "index": 77,
    "sink": 41,
    "properties": {
      "application.name": "Firefox",
      "application.icon_name": "firefox"
    }
  },
  {
    "index": 78,
    "sink": 41,
    "properties": {
      "application.name": "Stripdeck Meter"
    }
  },
  {
    "index": 79,
    "sink": 55,
    "properties": {}
  },
  {
    "sink": 55,
    "properties": { "application.name": "Ghost" }
  }
]`

func TestListAppStreams(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{handler: func(name string, args ...string) (string, error) {
		return sampleSinkInputs, nil
	}}
	c := NewCompat(runner)

	apps, err := c.ListAppStreams(context.Background())
	require.NoError(t, err)
	require.Len(t, apps, 2, "own clients and index-less entries must be dropped")

	assert.Equal(t, 77, apps[0].ID)
	assert.Equal(t, "Firefox", apps[0].Name)
	assert.Equal(t, "firefox", apps[0].Icon)
	assert.Equal(t, 41, apps[0].TargetNode)

	assert.Equal(t, "Unknown App", apps[1].Name)
}

func TestListAppStreamsEmptyOutput(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{handler: func(name string, args ...string) (string, error) {
		return "  \n", nil
	}}
	c := NewCompat(runner)

	apps, err := c.ListAppStreams(context.Background())
	require.NoError(t, err)
	assert.Empty(t, apps)
}

func TestMoveAppStream(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{handler: func(name string, args ...string) (string, error) {
		return "", nil
	}}
	c := NewCompat(runner)

	require.NoError(t, c.MoveAppStream(context.Background(), 77, "Stripdeck_Strip_abc"))
	assert.Equal(t, 1, runner.callCount("pactl", "move-sink-input", "77", "Stripdeck_Strip_abc"))
}
