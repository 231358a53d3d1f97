package pipewire

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRunner scripts command output per invocation and records every call.
type fakeRunner struct {
	mu      sync.Mutex
	handler func(name string, args ...string) (string, error)
	calls   [][]string
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, append([]string{name}, args...))
	f.mu.Unlock()
	return f.handler(name, args...)
}

func (f *fakeRunner) callCount(name string, args ...string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, call := range f.calls {
		if call[0] != name || len(call)-1 != len(args) {
			continue
		}
		match := true
		for i, a := range args {
			if call[i+1] != a {
				match = false
				break
			}
		}
		if match {
			count++
		}
	}
	return count
}

const sampleDump = `[
  {
    "id": 41,
    "type": "PipeWire:Interface:Node",
    "info": {
      "props": {
        "node.name": "alsa_output.pci-0000_00_1f.3.analog-stereo",
        "node.description": "Built-in Audio Analog Stereo",
        "media.class": "Audio/Sink"
      }
    }
  },
  {
    "id": 42,
    "type": "PipeWire:Interface:Node",
    "info": {
      "props": {
        "node.name": "alsa_input.usb-mic.mono-fallback",
        "node.description": "USB Microphone",
        "media.class": "Audio/Source"
      }
    }
  },
  {
    "id": 55,
    "type": "PipeWire:Interface:Node",
    "info": {
      "props": {
        "node.name": "Stripdeck_Strip_abc",
        "node.description": "Stripdeck: Desktop",
        "media.class": "Audio/Sink"
      }
    }
  },
  {
    "id": 56,
    "type": "PipeWire:Interface:Node",
    "info": {
      "props": {
        "node.name": "alsa_output.pci-0000_00_1f.3.analog-stereo.monitor",
        "media.class": "Audio/Source"
      }
    }
  },
  {
    "id": 60,
    "type": "PipeWire:Interface:Node",
    "info": {
      "props": {
        "node.name": "some-video-node",
        "media.class": "Video/Source"
      }
    }
  },
  {
    "id": 70,
    "type": "PipeWire:Interface:Port",
    "info": { "props": {} }
  }
]`

func TestParseDumpFiltersAudioNodes(t *testing.T) {
	t.Parallel()

	nodes, err := parseDump([]byte(sampleDump))
	require.NoError(t, err)
	require.Len(t, nodes, 4, "video nodes and non-node objects must be dropped")

	byName := make(map[string]Node)
	for _, n := range nodes {
		byName[n.Name] = n
	}

	sink := byName["alsa_output.pci-0000_00_1f.3.analog-stereo"]
	assert.Equal(t, 41, sink.ID)
	assert.False(t, sink.IsSource)
	assert.Equal(t, "alsa_output.pci-0000_00_1f.3.analog-stereo.monitor", sink.MonitorName)

	source := byName["alsa_input.usb-mic.mono-fallback"]
	assert.True(t, source.IsSource)
	assert.Empty(t, source.MonitorName)
}

func TestParseDumpMonitorMetadataOverride(t *testing.T) {
	t.Parallel()

	raw := `[{
	  "id": 9,
	  "type": "PipeWire:Interface:Node",
	  "info": { "props": {
	    "node.name": "my_sink",
	    "media.class": "Audio/Sink",
	    "node.monitor.name": "custom.monitor.tap"
	  }}
	}]`
	nodes, err := parseDump([]byte(raw))
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, "custom.monitor.tap", nodes[0].MonitorName)
}

func TestParseDumpRejectsGarbage(t *testing.T) {
	t.Parallel()

	_, err := parseDump([]byte("not json at all"))
	require.Error(t, err)
}

func TestNodesExcludesInternal(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{handler: func(name string, args ...string) (string, error) {
		return sampleDump, nil
	}}
	d := NewDiscovery(runner)

	all, err := d.Nodes(context.Background(), true)
	require.NoError(t, err)
	assert.Len(t, all, 4)

	visible, err := d.Nodes(context.Background(), false)
	require.NoError(t, err)
	require.Len(t, visible, 2, "signature nodes and monitors must be hidden")
	for _, n := range visible {
		assert.NotContains(t, n.Name, "Stripdeck_")
		assert.NotContains(t, n.Name, ".monitor")
	}
}

func TestSnapshotCachingAndInvalidate(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{handler: func(name string, args ...string) (string, error) {
		return sampleDump, nil
	}}
	d := NewDiscovery(runner)

	_, err := d.Nodes(context.Background(), true)
	require.NoError(t, err)
	_, err = d.Nodes(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, 1, runner.callCount("pw-dump"), "second read must hit the cache")

	d.Invalidate()
	_, err = d.Nodes(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, 2, runner.callCount("pw-dump"))
}

func TestFindByName(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{handler: func(name string, args ...string) (string, error) {
		return sampleDump, nil
	}}
	d := NewDiscovery(runner)

	node, err := d.FindByName(context.Background(), "Stripdeck_Strip_abc")
	require.NoError(t, err)
	assert.Equal(t, 55, node.ID)

	_, err = d.FindByName(context.Background(), "nope")
	require.Error(t, err)
}

func TestFindByMonitorName(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{handler: func(name string, args ...string) (string, error) {
		return sampleDump, nil
	}}
	d := NewDiscovery(runner)

	node, err := d.FindByMonitorName(context.Background(), "alsa_output.pci-0000_00_1f.3.analog-stereo.monitor")
	require.NoError(t, err)
	assert.Equal(t, 41, node.ID, "monitor target must resolve to the owning sink")
}

func TestSnapshotWrapsRunnerFailure(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{handler: func(name string, args ...string) (string, error) {
		return "", fmt.Errorf("pw-dump exploded")
	}}
	d := NewDiscovery(runner)

	_, err := d.Nodes(context.Background(), true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pw-dump exploded")
}
