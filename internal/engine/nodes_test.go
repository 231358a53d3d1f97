package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stripdeck/stripdeck/internal/conf"
	"github.com/stripdeck/stripdeck/internal/pipewire"
	"github.com/stripdeck/stripdeck/internal/strip"
)

func TestCreateVirtualNodeConfirmsViaDiscovery(t *testing.T) {
	rig := newTestRig(t)

	s := strip.New("Desktop", strip.Input, strip.Virtual)
	id, err := rig.nodes.CreateVirtualNode(context.Background(), s)
	require.NoError(t, err)
	assert.NotZero(t, id)

	name, ok := rig.nodes.NodeNameFor(s.UID)
	require.True(t, ok)
	assert.Equal(t, conf.StripNodePrefix+s.UID, name)
	assert.Contains(t, rig.nodes.CreatedNodes(), id)
	assert.False(t, rig.nodes.IsSource(s.UID))

	mon, ok := rig.nodes.MonitorNameFor(s.UID)
	require.True(t, ok)
	assert.Equal(t, name+".monitor", mon)
}

func TestCreateVirtualNodeTimesOutWhenAbsent(t *testing.T) {
	world := newFakeWorld()
	runner := &worldRunner{world: world}
	// A session that accepts the command but never materializes the node.
	session := &silentSession{}
	disc := pipewire.NewDiscovery(runner)

	nm := NewNodeManager(disc, runner, session, nil)
	nm.pollRetries = 3
	nm.pollDelay = 5 * time.Millisecond

	s := strip.New("Desktop", strip.Input, strip.Virtual)
	_, err := nm.CreateVirtualNode(context.Background(), s)
	require.Error(t, err)
	assert.Empty(t, nm.CreatedNodes(), "a node that never appeared must not be tracked")
}

type silentSession struct{}

func (s *silentSession) Start() error                    { return nil }
func (s *silentSession) Submit(string) error             { return nil }
func (s *silentSession) LoadFilterChain(string) error    { return nil }
func (s *silentSession) CreateNode(string, string) error { return nil }
func (s *silentSession) Healthy() bool                   { return true }
func (s *silentSession) Close() error                    { return nil }

func TestFindPhysicalNodeMatchesClass(t *testing.T) {
	rig := newTestRig(t)
	rig.world.addSink("alsa_device")
	rig.world.addSource("alsa_device_in")

	out := strip.New("Speakers", strip.Output, strip.Physical)
	out.DeviceName = "alsa_device"
	_, err := rig.nodes.FindPhysicalNode(context.Background(), out)
	require.NoError(t, err)
	assert.False(t, rig.nodes.IsSource(out.UID))

	in := strip.New("Mic", strip.Input, strip.Physical)
	in.DeviceName = "alsa_device_in"
	_, err = rig.nodes.FindPhysicalNode(context.Background(), in)
	require.NoError(t, err)
	assert.True(t, rig.nodes.IsSource(in.UID))

	// Kind and node class must agree: an input strip cannot bind a sink.
	wrong := strip.New("Mic", strip.Input, strip.Physical)
	wrong.DeviceName = "alsa_device"
	_, err = rig.nodes.FindPhysicalNode(context.Background(), wrong)
	require.Error(t, err)
}

func TestFindPhysicalNodeRequiresDeviceBinding(t *testing.T) {
	rig := newTestRig(t)
	s := strip.New("Speakers", strip.Output, strip.Physical)
	_, err := rig.nodes.FindPhysicalNode(context.Background(), s)
	require.Error(t, err)
}

func TestCleanZombieNodesSpecificity(t *testing.T) {
	rig := newTestRig(t)
	stale := rig.world.addSink(conf.StripNodePrefix + "leftover")
	staleFX := rig.world.addSink(conf.FXNodePrefix + "leftover")
	keeper := rig.world.addSink("alsa_output.real")

	rig.nodes.CleanZombieNodes(context.Background())

	rig.world.mu.Lock()
	defer rig.world.mu.Unlock()
	assert.Contains(t, rig.world.destroyed, stale.id)
	assert.Contains(t, rig.world.destroyed, staleFX.id)
	assert.NotContains(t, rig.world.destroyed, keeper.id)
}

func TestDestroyNodeByNameAbsentIsNoop(t *testing.T) {
	rig := newTestRig(t)
	rig.nodes.DestroyNodeByName(context.Background(), "never_existed")

	rig.world.mu.Lock()
	defer rig.world.mu.Unlock()
	assert.Empty(t, rig.world.destroyed)
}
