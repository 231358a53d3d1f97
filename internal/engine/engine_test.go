package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stripdeck/stripdeck/internal/conf"
	"github.com/stripdeck/stripdeck/internal/pipewire"
	"github.com/stripdeck/stripdeck/internal/strip"
)

// fakeWorld simulates the PipeWire server: nodes, ports, links, and the
// command surface the engine drives. All mutations go through the same
// commands production uses.
type fakeWorld struct {
	mu        sync.Mutex
	nextID    int
	nodes     map[string]*worldNode
	links     map[string]bool
	destroyed []int
	pactl     [][]string

	// chainLoadFailures makes the next N filter-chain loads silently fail
	// (no node appears), mimicking a plugin the server rejects.
	chainLoadFailures int

	// sinkInputsJSON is returned for app stream listings.
	sinkInputsJSON string
}

type worldNode struct {
	id       int
	name     string
	class    string
	inPorts  []string
	outPorts []string
}

func newFakeWorld() *fakeWorld {
	return &fakeWorld{
		nextID: 100,
		nodes:  make(map[string]*worldNode),
		links:  make(map[string]bool),
	}
}

func (w *fakeWorld) addSink(name string) *worldNode {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.addNodeLocked(name, "Audio/Sink",
		[]string{"playback_FL", "playback_FR"},
		[]string{"monitor_FL", "monitor_FR"})
}

func (w *fakeWorld) addSource(name string) *worldNode {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.addNodeLocked(name, "Audio/Source",
		nil,
		[]string{"capture_FL", "capture_FR"})
}

func (w *fakeWorld) addNodeLocked(name, class string, in, out []string) *worldNode {
	w.nextID++
	n := &worldNode{id: w.nextID, name: name, class: class, inPorts: in, outPorts: out}
	w.nodes[name] = n
	return n
}

func (w *fakeWorld) linkKey(src, dst string) string { return src + "|" + dst }

func (w *fakeWorld) linksBetween(srcNode, dstNode string) []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []string
	for key, ok := range w.links {
		if !ok {
			continue
		}
		parts := strings.SplitN(key, "|", 2)
		if strings.HasPrefix(parts[0], srcNode+":") && strings.HasPrefix(parts[1], dstNode+":") {
			out = append(out, key)
		}
	}
	sort.Strings(out)
	return out
}

func (w *fakeWorld) pactlCalls(verb string) [][]string {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out [][]string
	for _, call := range w.pactl {
		if call[0] == verb {
			out = append(out, call)
		}
	}
	return out
}

func (w *fakeWorld) run(name string, args ...string) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	switch name {
	case "pw-dump":
		return w.renderDumpLocked(), nil
	case "pw-link":
		return w.runPwLinkLocked(args)
	case "pw-cli":
		if len(args) == 2 && args[0] == "destroy" {
			id, _ := strconv.Atoi(args[1])
			for nodeName, n := range w.nodes {
				if n.id == id {
					delete(w.nodes, nodeName)
					w.destroyed = append(w.destroyed, id)
					return "", nil
				}
			}
			return "", fmt.Errorf("destroy: no such object %d", id)
		}
	case "pactl":
		w.pactl = append(w.pactl, args)
		if len(args) == 4 && args[0] == "-f" && args[2] == "list" && args[3] == "sink-inputs" {
			return w.sinkInputsJSON, nil
		}
		return "", nil
	}
	return "", fmt.Errorf("unexpected command %s %v", name, args)
}

func (w *fakeWorld) runPwLinkLocked(args []string) (string, error) {
	switch {
	case len(args) == 1 && (args[0] == "-o" || args[0] == "-i"):
		var sb strings.Builder
		for _, n := range w.nodes {
			ports := n.outPorts
			if args[0] == "-i" {
				ports = n.inPorts
			}
			for _, p := range ports {
				fmt.Fprintf(&sb, "%s:%s\n", n.name, p)
			}
		}
		return sb.String(), nil
	case len(args) == 3 && args[0] == "-d":
		key := w.linkKey(args[1], args[2])
		if !w.links[key] {
			return "", fmt.Errorf("no such link %s -> %s", args[1], args[2])
		}
		delete(w.links, key)
		return "", nil
	case len(args) == 2:
		key := w.linkKey(args[0], args[1])
		if w.links[key] {
			return "", fmt.Errorf("failed to link ports: File exists")
		}
		w.links[key] = true
		return "", nil
	}
	return "", fmt.Errorf("unexpected pw-link args %v", args)
}

func (w *fakeWorld) renderDumpLocked() string {
	type dumpProps map[string]any
	var objects []map[string]any
	for _, n := range w.nodes {
		objects = append(objects, map[string]any{
			"id":   n.id,
			"type": "PipeWire:Interface:Node",
			"info": map[string]any{
				"props": dumpProps{
					"node.name":   n.name,
					"media.class": n.class,
				},
			},
		})
	}
	data, _ := json.Marshal(objects)
	return string(data)
}

// worldRunner adapts fakeWorld to the Runner interface.
type worldRunner struct{ world *fakeWorld }

func (r *worldRunner) Run(_ context.Context, name string, args ...string) (string, error) {
	return r.world.run(name, args...)
}

var nodeNameRe = regexp.MustCompile(`node\.name\s*=\s*"([^"]+)"`)

// worldSession adapts fakeWorld to the Session interface. Creation commands
// materialize nodes directly, mirroring how the real server reacts to the
// session's submissions.
type worldSession struct {
	world  *fakeWorld
	closed bool
}

func (s *worldSession) Start() error   { return nil }
func (s *worldSession) Healthy() bool  { return !s.closed }
func (s *worldSession) Close() error   { s.closed = true; return nil }
func (s *worldSession) Submit(string) error { return nil }

func (s *worldSession) CreateNode(factory, props string) error {
	m := nodeNameRe.FindStringSubmatch(props)
	if m == nil {
		return fmt.Errorf("create-node props carry no node.name")
	}
	s.world.addSink(m[1])
	return nil
}

func (s *worldSession) LoadFilterChain(args string) error {
	m := nodeNameRe.FindStringSubmatch(args)
	if m == nil {
		return fmt.Errorf("filter-chain args carry no node.name")
	}
	s.world.mu.Lock()
	defer s.world.mu.Unlock()
	if s.world.chainLoadFailures > 0 {
		s.world.chainLoadFailures--
		return nil // load "succeeds" but no node ever appears
	}
	s.world.addNodeLocked(m[1], "Audio/Source",
		[]string{"input_FL", "input_FR"},
		[]string{"output_FL", "output_FR"})
	return nil
}

// recordingMeter captures metering calls for assertions.
type recordingMeter struct {
	mu      sync.Mutex
	started map[string]string
	stopped []string
	retries int
}

func newRecordingMeter() *recordingMeter {
	return &recordingMeter{started: make(map[string]string)}
}

func (m *recordingMeter) StartMonitoring(uid, source string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started[uid] = source
}

func (m *recordingMeter) StopMonitoring(uid string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = append(m.stopped, uid)
	delete(m.started, uid)
}

func (m *recordingMeter) StopAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started = make(map[string]string)
}

func (m *recordingMeter) RetryPending() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retries++
}

func (m *recordingMeter) Levels() map[string][2]float64 { return map[string][2]float64{} }

func (m *recordingMeter) target(uid string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.started[uid]
}

// testRig bundles a full engine wired against a fake world with short poll
// budgets.
type testRig struct {
	world   *fakeWorld
	session *worldSession
	meter   *recordingMeter
	engine  *Engine
	nodes   *NodeManager
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()

	world := newFakeWorld()
	runner := &worldRunner{world: world}
	session := &worldSession{world: world}
	disc := pipewire.NewDiscovery(runner)
	compat := pipewire.NewCompat(runner)

	nodes := NewNodeManager(disc, runner, session, nil)
	nodes.pollRetries = 5
	nodes.pollDelay = 5 * time.Millisecond
	nodes.settleDelay = 5 * time.Millisecond

	linker := NewPortLinker(disc, nil)

	chains := NewChainBuilder(session, disc, linker, nodes, nil)
	chains.verifyTimeout = 100 * time.Millisecond
	chains.verifyPoll = 5 * time.Millisecond
	chains.statFn = func(string) bool { return false } // no plugins by default

	meter := newRecordingMeter()
	eng := New(Options{
		Session: session,
		Disc:    disc,
		Compat:  compat,
		Nodes:   nodes,
		Linker:  linker,
		FX:      chains,
		Meter:   meter,
	})

	return &testRig{world: world, session: session, meter: meter, engine: eng, nodes: nodes}
}

func defaultLayout(world *fakeWorld) (desktop, speakers *strip.Strip) {
	world.addSink("alsa_speakers")
	desktop = strip.New("Desktop", strip.Input, strip.Virtual)
	speakers = strip.New("Speakers", strip.Output, strip.Physical)
	speakers.DeviceName = "alsa_speakers"
	desktop.AddRoute(speakers.UID)
	return desktop, speakers
}

func TestStartBuildsGraph(t *testing.T) {
	rig := newTestRig(t)
	desktop, speakers := defaultLayout(rig.world)

	err := rig.engine.Start(context.Background(), []*strip.Strip{desktop, speakers})
	require.NoError(t, err)
	assert.Equal(t, Running, rig.engine.State())

	desktopNode := conf.StripNodePrefix + desktop.UID
	rig.world.mu.Lock()
	_, exists := rig.world.nodes[desktopNode]
	rig.world.mu.Unlock()
	require.True(t, exists, "virtual node must exist for the input strip")

	// Stereo source to stereo sink yields exactly two channel-matched links.
	links := rig.world.linksBetween(desktopNode, "alsa_speakers")
	require.Len(t, links, 2)
	assert.Contains(t, links[0], "monitor_FL")
	assert.Contains(t, links[0], "playback_FL")

	// Desktop is the default-sink fallback.
	defaults := rig.world.pactlCalls("set-default-sink")
	require.Len(t, defaults, 1)
	assert.Equal(t, desktopNode, defaults[0][1])

	// Both strips are metered: the virtual strip on its monitor, the
	// physical sink on its monitor too.
	assert.Equal(t, desktopNode+".monitor", rig.meter.target(desktop.UID))
	assert.Equal(t, "alsa_speakers.monitor", rig.meter.target(speakers.UID))
}

func TestStartAssignsDistinctNodeIDs(t *testing.T) {
	rig := newTestRig(t)
	desktop, speakers := defaultLayout(rig.world)
	music := strip.New("Music", strip.Input, strip.Virtual)
	music.AddRoute(speakers.UID)

	err := rig.engine.Start(context.Background(), []*strip.Strip{desktop, music, speakers})
	require.NoError(t, err)

	seen := make(map[int]string, len(rig.nodes.registry))
	for uid, id := range rig.nodes.registry {
		if prev, dup := seen[id]; dup {
			t.Fatalf("strips %s and %s share node id %d", prev, uid, id)
		}
		seen[id] = uid
	}
	require.Len(t, seen, 3, "every strip resolves to its own node")
}

func TestStartSkipsUnresolvableStrips(t *testing.T) {
	rig := newTestRig(t)
	ghost := strip.New("Ghost", strip.Output, strip.Physical)
	ghost.DeviceName = "does_not_exist"
	desktop := strip.New("Desktop", strip.Input, strip.Virtual)
	desktop.AddRoute(ghost.UID)

	err := rig.engine.Start(context.Background(), []*strip.Strip{desktop, ghost})
	require.NoError(t, err, "an unresolvable strip must not abort the start pass")
	assert.Equal(t, Running, rig.engine.State())
	assert.Empty(t, rig.meter.target(ghost.UID))
}

func TestUpdateRoutingIdempotent(t *testing.T) {
	rig := newTestRig(t)
	desktop, speakers := defaultLayout(rig.world)
	require.NoError(t, rig.engine.Start(context.Background(), []*strip.Strip{desktop, speakers}))

	desktopNode := conf.StripNodePrefix + desktop.UID
	before := rig.world.linksBetween(desktopNode, "alsa_speakers")
	require.Len(t, before, 2)

	// Re-activating the same route must not add or churn links.
	require.NoError(t, rig.engine.UpdateRouting(context.Background(), desktop.UID, speakers.UID, true))
	assert.Equal(t, before, rig.world.linksBetween(desktopNode, "alsa_speakers"))

	// Deactivation removes exactly this route's links.
	require.NoError(t, rig.engine.UpdateRouting(context.Background(), desktop.UID, speakers.UID, false))
	assert.Empty(t, rig.world.linksBetween(desktopNode, "alsa_speakers"))
	assert.False(t, desktop.HasRoute(speakers.UID))

	// Deactivating twice is harmless.
	require.NoError(t, rig.engine.UpdateRouting(context.Background(), desktop.UID, speakers.UID, false))
}

func TestSetMonoRelinksMatrix(t *testing.T) {
	rig := newTestRig(t)
	desktop, speakers := defaultLayout(rig.world)
	require.NoError(t, rig.engine.Start(context.Background(), []*strip.Strip{desktop, speakers}))

	desktopNode := conf.StripNodePrefix + desktop.UID

	rig.engine.SetMono(context.Background(), desktop.UID, true)
	assert.Len(t, rig.world.linksBetween(desktopNode, "alsa_speakers"), 4,
		"mono fold-down links every source channel to every destination channel")

	rig.engine.SetMono(context.Background(), desktop.UID, false)
	assert.Len(t, rig.world.linksBetween(desktopNode, "alsa_speakers"), 2,
		"disabling mono restores channel-matched pairs")
}

func TestStartCleansZombieNodes(t *testing.T) {
	rig := newTestRig(t)
	stale := rig.world.addSink(conf.StripNodePrefix + "stale")
	rig.world.addSink("alsa_speakers") // unrelated node survives

	require.NoError(t, rig.engine.Start(context.Background(), nil))

	rig.world.mu.Lock()
	defer rig.world.mu.Unlock()
	assert.Contains(t, rig.world.destroyed, stale.id)
	_, speakersAlive := rig.world.nodes["alsa_speakers"]
	assert.True(t, speakersAlive)
}

func TestShutdownDestroysOnlyCreatedNodes(t *testing.T) {
	rig := newTestRig(t)
	desktop, speakers := defaultLayout(rig.world)
	require.NoError(t, rig.engine.Start(context.Background(), []*strip.Strip{desktop, speakers}))

	rig.world.mu.Lock()
	speakersID := rig.world.nodes["alsa_speakers"].id
	rig.world.mu.Unlock()

	rig.engine.Shutdown(context.Background())
	assert.Equal(t, Stopped, rig.engine.State())
	assert.True(t, rig.session.closed)

	rig.world.mu.Lock()
	defer rig.world.mu.Unlock()
	assert.NotContains(t, rig.world.destroyed, speakersID,
		"discovered hardware nodes must never be destroyed")
	_, desktopAlive := rig.world.nodes[conf.StripNodePrefix+desktop.UID]
	assert.False(t, desktopAlive)
}

func TestShutdownIdempotent(t *testing.T) {
	rig := newTestRig(t)
	rig.engine.Shutdown(context.Background())
	rig.engine.Shutdown(context.Background())
	assert.Equal(t, Stopped, rig.engine.State())
}

func TestSetVolumeMirrorsMonitor(t *testing.T) {
	rig := newTestRig(t)
	desktop, speakers := defaultLayout(rig.world)
	require.NoError(t, rig.engine.Start(context.Background(), []*strip.Strip{desktop, speakers}))

	rig.engine.SetVolume(context.Background(), desktop.UID, 0.5)

	desktopNode := conf.StripNodePrefix + desktop.UID
	sinkCalls := rig.world.pactlCalls("set-sink-volume")
	sourceCalls := rig.world.pactlCalls("set-source-volume")

	foundSink, foundMonitor := false, false
	for _, call := range sinkCalls {
		if call[1] == desktopNode && call[2] == "50%" {
			foundSink = true
		}
	}
	for _, call := range sourceCalls {
		if call[1] == desktopNode+".monitor" && call[2] == "50%" {
			foundMonitor = true
		}
	}
	assert.True(t, foundSink, "sink volume must be applied")
	assert.True(t, foundMonitor, "virtual sinks mirror volume onto their monitor")
	assert.InDelta(t, 0.5, desktop.Volume, 0.001)
}

func TestSetMuteAppliesToSink(t *testing.T) {
	rig := newTestRig(t)
	desktop, speakers := defaultLayout(rig.world)
	require.NoError(t, rig.engine.Start(context.Background(), []*strip.Strip{desktop, speakers}))

	rig.engine.SetMute(context.Background(), desktop.UID, true)

	desktopNode := conf.StripNodePrefix + desktop.UID
	muted := false
	for _, call := range rig.world.pactlCalls("set-sink-mute") {
		if call[1] == desktopNode && call[2] == "1" {
			muted = true
		}
	}
	assert.True(t, muted)
	assert.True(t, desktop.Mute)
}

func TestDefaultSinkSelectionPriority(t *testing.T) {
	mk := func(label string, isDefault bool) *strip.Strip {
		s := strip.New(label, strip.Input, strip.Virtual)
		s.IsDefault = isDefault
		return s
	}
	e := New(Options{})

	set := func(strips ...*strip.Strip) {
		e.strips = make(map[string]*strip.Strip)
		e.order = nil
		for _, s := range strips {
			e.strips[s.UID] = s
			e.order = append(e.order, s.UID)
		}
	}

	// Explicit flag wins over the desktop label.
	music := mk("Music", true)
	set(mk("Desktop", false), music)
	uid, ok := e.pickDefaultLocked()
	require.True(t, ok)
	assert.Equal(t, music.UID, uid)

	// Label match is case-insensitive.
	desk := mk("DESKTOP", false)
	set(mk("Music", false), desk)
	uid, ok = e.pickDefaultLocked()
	require.True(t, ok)
	assert.Equal(t, desk.UID, uid)

	// "default" label is the next fallback.
	def := mk("Default", false)
	set(mk("Music", false), def)
	uid, ok = e.pickDefaultLocked()
	require.True(t, ok)
	assert.Equal(t, def.UID, uid)

	// Otherwise the first input strip.
	first := mk("Game", false)
	set(first, mk("Chat", false))
	uid, ok = e.pickDefaultLocked()
	require.True(t, ok)
	assert.Equal(t, first.UID, uid)

	// Output strips never qualify.
	out := strip.New("Speakers", strip.Output, strip.Physical)
	set(out)
	_, ok = e.pickDefaultLocked()
	assert.False(t, ok)
}

func TestSetSystemDefaultExclusiveFlag(t *testing.T) {
	rig := newTestRig(t)
	desktop, speakers := defaultLayout(rig.world)
	music := strip.New("Music", strip.Input, strip.Virtual)
	desktop.IsDefault = true
	require.NoError(t, rig.engine.Start(context.Background(), []*strip.Strip{desktop, speakers, music}))

	rig.engine.SetSystemDefault(context.Background(), music.UID)
	assert.True(t, music.IsDefault)
	assert.False(t, desktop.IsDefault)

	defaults := rig.world.pactlCalls("set-default-sink")
	require.NotEmpty(t, defaults)
	last := defaults[len(defaults)-1]
	assert.Equal(t, conf.StripNodePrefix+music.UID, last[1])
}

func TestMoveAppToStrip(t *testing.T) {
	rig := newTestRig(t)
	desktop, speakers := defaultLayout(rig.world)
	require.NoError(t, rig.engine.Start(context.Background(), []*strip.Strip{desktop, speakers}))

	require.NoError(t, rig.engine.MoveAppToStrip(context.Background(), 77, desktop.UID))

	moves := rig.world.pactlCalls("move-sink-input")
	require.Len(t, moves, 1)
	assert.Equal(t, "77", moves[0][1])
	assert.Equal(t, conf.StripNodePrefix+desktop.UID, moves[0][2])

	err := rig.engine.MoveAppToStrip(context.Background(), 77, "unknown-uid")
	require.Error(t, err)
}

func TestRoutingPrefersChainOutputExclusively(t *testing.T) {
	rig := newTestRig(t)
	rig.engine.fx.statFn = func(string) bool { return true }

	rig.world.addSink("alsa_speakers")
	mic := strip.New("Mic", strip.Input, strip.Virtual)
	mic.Effects[strip.EffectGate].Active = true
	speakers := strip.New("Speakers", strip.Output, strip.Physical)
	speakers.DeviceName = "alsa_speakers"
	mic.AddRoute(speakers.UID)

	require.NoError(t, rig.engine.Start(context.Background(), []*strip.Strip{mic, speakers}))

	chainNode := conf.FXNodePrefix + mic.UID
	rawNode := conf.StripNodePrefix + mic.UID

	// The chain output feeds the target; the raw source feeds only the chain.
	assert.Len(t, rig.world.linksBetween(chainNode, "alsa_speakers"), 2)
	assert.Empty(t, rig.world.linksBetween(rawNode, "alsa_speakers"),
		"raw source and chain output must never both feed a target")
	assert.Len(t, rig.world.linksBetween(rawNode, chainNode), 2)

	// Simulate desync: the raw source got linked to the target behind the
	// engine's back. Re-activating the route must actively remove it.
	rig.world.mu.Lock()
	rig.world.links[rig.world.linkKey(rawNode+":monitor_FL", "alsa_speakers:playback_FL")] = true
	rig.world.mu.Unlock()

	require.NoError(t, rig.engine.UpdateRouting(context.Background(), mic.UID, speakers.UID, false))
	require.NoError(t, rig.engine.UpdateRouting(context.Background(), mic.UID, speakers.UID, true))
	assert.Empty(t, rig.world.linksBetween(rawNode, "alsa_speakers"))
	assert.Len(t, rig.world.linksBetween(chainNode, "alsa_speakers"), 2)
}

func TestRebuildChainRepointsRoutes(t *testing.T) {
	rig := newTestRig(t)
	rig.engine.fx.statFn = func(string) bool { return true }

	rig.world.addSink("alsa_speakers")
	mic := strip.New("Mic", strip.Input, strip.Virtual)
	mic.Effects[strip.EffectGate].Active = true
	speakers := strip.New("Speakers", strip.Output, strip.Physical)
	speakers.DeviceName = "alsa_speakers"
	mic.AddRoute(speakers.UID)

	require.NoError(t, rig.engine.Start(context.Background(), []*strip.Strip{mic, speakers}))

	// Parameter change: rebuild swaps the chain node and re-points the route.
	mic.Effects[strip.EffectCompressor].Active = true
	require.NoError(t, rig.engine.RebuildChain(context.Background(), mic.UID))

	chainNode := conf.FXNodePrefix + mic.UID
	assert.Len(t, rig.world.linksBetween(chainNode, "alsa_speakers"), 2)
	assert.Equal(t, chainNode, rig.meter.target(mic.UID), "meter follows the chain output")
}

func TestStartAppliesAppAssignments(t *testing.T) {
	rig := newTestRig(t)
	desktop, speakers := defaultLayout(rig.world)
	desktop.AssignedApps = []string{"Firefox"}
	rig.world.sinkInputsJSON = `[
	  {"index": 77, "sink": 1, "properties": {"application.name": "firefox"}},
	  {"index": 78, "sink": 1, "properties": {"application.name": "Spotify"}}
	]`

	require.NoError(t, rig.engine.Start(context.Background(), []*strip.Strip{desktop, speakers}))

	moves := rig.world.pactlCalls("move-sink-input")
	require.Len(t, moves, 1, "only the assigned app's stream moves")
	assert.Equal(t, "77", moves[0][1])
	assert.Equal(t, conf.StripNodePrefix+desktop.UID, moves[0][2])
}

func TestAssignAppToStrip(t *testing.T) {
	rig := newTestRig(t)
	desktop, speakers := defaultLayout(rig.world)
	require.NoError(t, rig.engine.Start(context.Background(), []*strip.Strip{desktop, speakers}))

	rig.world.mu.Lock()
	rig.world.sinkInputsJSON = `[{"index": 90, "sink": 1, "properties": {"application.name": "Spotify"}}]`
	rig.world.mu.Unlock()

	require.NoError(t, rig.engine.AssignAppToStrip(context.Background(), "Spotify", desktop.UID))
	assert.Contains(t, desktop.AssignedApps, "Spotify")

	moves := rig.world.pactlCalls("move-sink-input")
	require.Len(t, moves, 1)
	assert.Equal(t, "90", moves[0][1])

	// Assigning again does not duplicate the entry.
	require.NoError(t, rig.engine.AssignAppToStrip(context.Background(), "Spotify", desktop.UID))
	count := 0
	for _, app := range desktop.AssignedApps {
		if app == "Spotify" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestRetryPendingMetersDelegates(t *testing.T) {
	rig := newTestRig(t)
	rig.engine.RetryPendingMeters()
	rig.engine.RetryPendingMeters()
	assert.Equal(t, 2, rig.meter.retries)
}
