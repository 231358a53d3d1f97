package engine

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/stripdeck/stripdeck/internal/errors"
	"github.com/stripdeck/stripdeck/internal/logging"
	"github.com/stripdeck/stripdeck/internal/observability/metrics"
	"github.com/stripdeck/stripdeck/internal/pipewire"
	"github.com/stripdeck/stripdeck/internal/strip"
)

// State is the orchestrator lifecycle state.
type State int

const (
	Stopped State = iota
	Starting
	Running
	Stopping
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Meter is the level-metering surface the orchestrator drives. The metering
// package provides the production implementation.
type Meter interface {
	StartMonitoring(uid, sourceName string)
	StopMonitoring(uid string)
	StopAll()
	RetryPending()
	Levels() map[string][2]float64
}

// routeKey identifies one persisted routing intent.
type routeKey struct {
	Src string
	Dst string
}

// Engine is the routing orchestrator: the public facade sequencing node
// resolution, effect chains, linking and metering. Mutating calls are
// serialized internally; UI and MIDI layers may call from any goroutine.
type Engine struct {
	mu    sync.Mutex
	state State

	session pipewire.Session
	disc    *pipewire.Discovery
	compat  *pipewire.Compat
	nodes   *NodeManager
	linker  *PortLinker
	fx      *ChainBuilder
	meter   Meter
	metrics *metrics.EngineMetrics
	log     *slog.Logger

	strips map[string]*strip.Strip
	order  []string // strip UIDs in supplied order

	// linkRegistry holds confirmed port pairs per active route. Entries
	// exist only for pairs present in some strip's Routes.
	linkRegistry map[routeKey][]LinkPair

	// fxChains maps a strip UID to its live chain. While present, the chain
	// node is the only valid routing source for that strip.
	fxChains map[string]*ChainResult
}

// Options bundles the collaborators an Engine needs.
type Options struct {
	Session pipewire.Session
	Disc    *pipewire.Discovery
	Compat  *pipewire.Compat
	Nodes   *NodeManager
	Linker  *PortLinker
	FX      *ChainBuilder
	Meter   Meter
	Metrics *metrics.EngineMetrics
}

// New assembles the orchestrator from its collaborators.
func New(opts Options) *Engine {
	return &Engine{
		session:      opts.Session,
		disc:         opts.Disc,
		compat:       opts.Compat,
		nodes:        opts.Nodes,
		linker:       opts.Linker,
		fx:           opts.FX,
		meter:        opts.Meter,
		metrics:      opts.Metrics,
		log:          logging.ForService("pipewire-engine"),
		strips:       make(map[string]*strip.Strip),
		linkRegistry: make(map[routeKey][]LinkPair),
		fxChains:     make(map[string]*ChainResult),
	}
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Start brings the engine up for the supplied strips. Per-strip failures are
// logged and skipped; the pass never aborts wholesale. Safe to call again on
// a running engine: the zombie sweep reclaims the previous generation.
func (e *Engine) Start(ctx context.Context, strips []*strip.Strip) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == Starting || e.state == Stopping {
		return errors.Newf("start rejected in state %s", e.state).
			Component("engine").
			Category(errors.CategoryState).
			Build()
	}
	e.state = Starting
	began := time.Now()
	e.log.Info("starting engine", "strips", len(strips))

	// Prior metering must be gone before capture targets churn.
	e.meter.StopAll()

	e.nodes.CleanZombieNodes(ctx)
	e.nodes.Reset()
	e.nodes.ForgetCreated()
	e.strips = make(map[string]*strip.Strip, len(strips))
	e.order = e.order[:0]
	e.linkRegistry = make(map[routeKey][]LinkPair)
	e.fxChains = make(map[string]*ChainResult)

	if !e.session.Healthy() {
		if err := e.session.Start(); err != nil {
			e.state = Stopped
			return errors.Wrap(err).
				Component("engine").
				Category(errors.CategorySession).
				Context("operation", "start_session").
				Build()
		}
	}

	// Resolve or create one node per strip.
	for _, s := range strips {
		s.Normalize()
		e.strips[s.UID] = s
		e.order = append(e.order, s.UID)

		var err error
		if s.Kind == strip.Output && s.Mode == strip.Physical {
			_, err = e.nodes.FindPhysicalNode(ctx, s)
		} else {
			_, err = e.nodes.CreateVirtualNode(ctx, s)
		}
		if err != nil {
			e.log.Warn("could not initialize node for strip, skipping",
				"strip", s.Label, "error", err)
			continue
		}
		e.applyVolumeLocked(ctx, s)
		e.applyMuteLocked(ctx, s)
	}

	// Effect chains for input strips, before routing so targets link to the
	// chain output from the start.
	for _, uid := range e.order {
		s := e.strips[uid]
		if s.Kind != strip.Input {
			continue
		}
		base, ok := e.nodes.NodeNameFor(uid)
		if !ok {
			continue
		}
		chain, err := e.fx.Build(ctx, s, base)
		if err != nil {
			e.log.Error("effect chain build failed", "strip", s.Label, "error", err)
			continue
		}
		if chain != nil {
			e.fxChains[uid] = chain
		}
	}

	// Physical sources feed their input strips.
	for _, uid := range e.order {
		s := e.strips[uid]
		if s.Kind == strip.Input && s.Mode == strip.Physical && s.DeviceName != "" {
			e.linkPhysicalSourceLocked(ctx, s)
		}
	}

	// Apply the persisted routing table.
	for _, uid := range e.order {
		s := e.strips[uid]
		if s.Kind != strip.Input {
			continue
		}
		for _, target := range s.Routes {
			if err := e.updateRoutingLocked(ctx, uid, target, true); err != nil {
				e.log.Warn("route failed during start",
					"source", s.Label, "target", target, "error", err)
			}
		}
	}

	// Metering for every resolved strip.
	for _, uid := range e.order {
		if target, ok := e.meterTargetLocked(uid); ok {
			e.meter.StartMonitoring(uid, target)
		}
	}

	e.applyDefaultSinkLocked(ctx)
	e.applyAppAssignmentsLocked(ctx)

	e.state = Running
	if e.metrics != nil {
		e.metrics.RecordStart(time.Since(began))
	}
	e.log.Info("engine started", "duration_ms", time.Since(began).Milliseconds())
	return nil
}

// linkPhysicalSourceLocked wires a hardware source into its input strip.
func (e *Engine) linkPhysicalSourceLocked(ctx context.Context, s *strip.Strip) {
	dstName, ok := e.nodes.NodeNameFor(s.UID)
	if !ok {
		return
	}
	pairs, err := e.linker.AutoLink(ctx, s.DeviceName, dstName, false)
	if err != nil || len(pairs) == 0 {
		e.log.Warn("could not link physical source",
			"strip", s.Label, "device", s.DeviceName, "error", err)
	}
}

// applyDefaultSinkLocked selects and applies the system default sink.
// Priority: explicit flag, then the "desktop" label, then "default", then
// the first input strip.
func (e *Engine) applyDefaultSinkLocked(ctx context.Context) {
	uid, ok := e.pickDefaultLocked()
	if !ok {
		return
	}
	name, ok := e.nodes.NodeNameFor(uid)
	if !ok {
		return
	}
	if err := e.compat.SetDefaultSink(ctx, name); err != nil {
		e.log.Warn("failed to set default sink", "sink", name, "error", err)
		return
	}
	e.log.Info("system default sink set", "sink", name)
}

func (e *Engine) pickDefaultLocked() (string, bool) {
	byLabel := func(label string) (string, bool) {
		for _, uid := range e.order {
			s := e.strips[uid]
			if s.Kind == strip.Input && strings.EqualFold(s.Label, label) {
				return uid, true
			}
		}
		return "", false
	}

	for _, uid := range e.order {
		s := e.strips[uid]
		if s.Kind == strip.Input && s.IsDefault {
			return uid, true
		}
	}
	if uid, ok := byLabel("desktop"); ok {
		return uid, true
	}
	if uid, ok := byLabel("default"); ok {
		return uid, true
	}
	for _, uid := range e.order {
		if e.strips[uid].Kind == strip.Input {
			return uid, true
		}
	}
	return "", false
}

// Shutdown tears the engine down: metering first, then every node this
// instance created (never nodes it merely discovered), then the control
// session. Idempotent and safe after a partially completed Start.
func (e *Engine) Shutdown(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == Stopped {
		return
	}
	e.state = Stopping
	e.log.Info("shutting down engine")

	e.meter.StopAll()

	for uid, chain := range e.fxChains {
		e.fx.Teardown(ctx, chain)
		delete(e.fxChains, uid)
	}
	for _, id := range e.nodes.CreatedNodes() {
		e.nodes.DestroyNode(ctx, id)
	}
	e.nodes.ForgetCreated()
	e.nodes.Reset()

	if err := e.session.Close(); err != nil {
		e.log.Warn("session close failed", "error", err)
	}

	e.linkRegistry = make(map[routeKey][]LinkPair)
	e.state = Stopped
	e.log.Info("engine stopped")
}

// routingSourceNameLocked returns the authoritative source node name for a
// strip: the chain output while an effect chain is live, the raw node
// otherwise.
func (e *Engine) routingSourceNameLocked(uid string) (string, bool) {
	if chain, ok := e.fxChains[uid]; ok {
		return chain.NodeName, true
	}
	return e.nodes.NodeNameFor(uid)
}

// meterTargetLocked returns the capture target for a strip's meter.
func (e *Engine) meterTargetLocked(uid string) (string, bool) {
	if chain, ok := e.fxChains[uid]; ok {
		return chain.NodeName, true
	}
	if e.nodes.IsSource(uid) {
		return e.nodes.NodeNameFor(uid)
	}
	return e.nodes.MonitorNameFor(uid)
}

// UpdateRouting creates or removes the route between an input and an output
// strip. Idempotent: repeating a call leaves the link registry unchanged.
func (e *Engine) UpdateRouting(ctx context.Context, sourceUID, targetUID string, active bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.updateRoutingLocked(ctx, sourceUID, targetUID, active)
}

func (e *Engine) updateRoutingLocked(ctx context.Context, sourceUID, targetUID string, active bool) error {
	src, ok := e.strips[sourceUID]
	if !ok {
		return errors.Newf("unknown source strip %q", sourceUID).
			Component("engine").
			Category(errors.CategoryNotFound).
			Build()
	}

	key := routeKey{Src: sourceUID, Dst: targetUID}

	if !active {
		src.RemoveRoute(targetUID)
		pairs, ok := e.linkRegistry[key]
		if !ok {
			return nil
		}
		e.linker.UnlinkPairs(ctx, pairs)
		delete(e.linkRegistry, key)
		return nil
	}

	src.AddRoute(targetUID)
	if _, exists := e.linkRegistry[key]; exists {
		return nil
	}

	srcName, ok := e.routingSourceNameLocked(sourceUID)
	if !ok {
		return errors.Newf("source strip %q has no live node", sourceUID).
			Component("engine").
			Category(errors.CategoryState).
			Build()
	}
	dstName, ok := e.nodes.NodeNameFor(targetUID)
	if !ok {
		return errors.Newf("target strip %q has no live node", targetUID).
			Component("engine").
			Category(errors.CategoryState).
			Build()
	}

	// Exclusive-routing invariant: when a chain output supersedes the raw
	// source, the raw node must not also feed the target.
	if _, hasChain := e.fxChains[sourceUID]; hasChain {
		if rawName, ok := e.nodes.NodeNameFor(sourceUID); ok && rawName != srcName {
			e.linker.UnlinkAll(ctx, rawName, dstName)
		}
	}

	pairs, err := e.linker.AutoLink(ctx, srcName, dstName, src.IsMono)
	if err != nil {
		return err
	}
	if len(pairs) == 0 {
		return errors.Newf("no port pairs linked for route %s -> %s", srcName, dstName).
			Component("engine").
			Category(errors.CategoryPortLinking).
			Build()
	}
	e.linkRegistry[key] = pairs
	return nil
}

// SetVolume sets a strip's volume. Virtual sinks mirror the value onto
// their monitor so metering and downstream consumers stay consistent.
// A no-op for strips without a live node.
func (e *Engine) SetVolume(ctx context.Context, uid string, volume float64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.strips[uid]
	if !ok {
		return
	}
	if volume < 0 {
		volume = 0
	}
	if volume > 1 {
		volume = 1
	}
	s.Volume = volume
	e.applyVolumeLocked(ctx, s)
}

func (e *Engine) applyVolumeLocked(ctx context.Context, s *strip.Strip) {
	name, ok := e.nodes.NodeNameFor(s.UID)
	if !ok {
		return
	}
	if e.nodes.IsSource(s.UID) {
		if err := e.compat.SetSourceVolume(ctx, name, s.Volume); err != nil {
			e.log.Warn("set source volume failed", "strip", s.Label, "error", err)
		}
		return
	}
	if err := e.compat.SetSinkVolume(ctx, name, s.Volume); err != nil {
		e.log.Warn("set sink volume failed", "strip", s.Label, "error", err)
		return
	}
	if s.Mode == strip.Virtual {
		if mon, ok := e.nodes.MonitorNameFor(s.UID); ok {
			if err := e.compat.SetSourceVolume(ctx, mon, s.Volume); err != nil {
				e.log.Debug("monitor volume mirror failed", "strip", s.Label, "error", err)
			}
		}
	}
}

// SetMute mutes or unmutes a strip, mirroring onto the monitor for virtual
// sinks. A no-op for strips without a live node.
func (e *Engine) SetMute(ctx context.Context, uid string, muted bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.strips[uid]
	if !ok {
		return
	}
	s.Mute = muted
	e.applyMuteLocked(ctx, s)
}

func (e *Engine) applyMuteLocked(ctx context.Context, s *strip.Strip) {
	name, ok := e.nodes.NodeNameFor(s.UID)
	if !ok {
		return
	}
	if e.nodes.IsSource(s.UID) {
		if err := e.compat.SetSourceMute(ctx, name, s.Mute); err != nil {
			e.log.Warn("set source mute failed", "strip", s.Label, "error", err)
		}
		return
	}
	if err := e.compat.SetSinkMute(ctx, name, s.Mute); err != nil {
		e.log.Warn("set sink mute failed", "strip", s.Label, "error", err)
		return
	}
	if s.Mode == strip.Virtual {
		if mon, ok := e.nodes.MonitorNameFor(s.UID); ok {
			if err := e.compat.SetSourceMute(ctx, mon, s.Mute); err != nil {
				e.log.Debug("monitor mute mirror failed", "strip", s.Label, "error", err)
			}
		}
	}
}

// SetMono toggles a strip's mono fold-down and surgically re-links every
// active route with the new channel matrix.
func (e *Engine) SetMono(ctx context.Context, uid string, mono bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.strips[uid]
	if !ok || s.IsMono == mono {
		return
	}
	s.IsMono = mono

	srcName, ok := e.routingSourceNameLocked(uid)
	if !ok {
		return
	}
	for key, pairs := range e.linkRegistry {
		if key.Src != uid {
			continue
		}
		dstName, ok := e.nodes.NodeNameFor(key.Dst)
		if !ok {
			continue
		}
		e.linker.UnlinkPairs(ctx, pairs)
		newPairs, err := e.linker.AutoLink(ctx, srcName, dstName, mono)
		if err != nil || len(newPairs) == 0 {
			e.log.Warn("mono relink failed, route left unwired",
				"strip", s.Label, "target", key.Dst, "error", err)
			delete(e.linkRegistry, key)
			continue
		}
		e.linkRegistry[key] = newPairs
	}
}

// SetSystemDefault flags the strip as system default and applies its sink.
func (e *Engine) SetSystemDefault(ctx context.Context, uid string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.strips[uid]
	if !ok || s.Kind != strip.Input {
		return
	}
	for _, other := range e.strips {
		other.IsDefault = false
	}
	s.IsDefault = true

	if name, ok := e.nodes.NodeNameFor(uid); ok {
		if err := e.compat.SetDefaultSink(ctx, name); err != nil {
			e.log.Warn("failed to set default sink", "strip", s.Label, "error", err)
		}
	}
}

// RebuildChain destructively rebuilds a strip's effect chain after its
// active effects or parameters changed, re-pointing every downstream route
// at the new authoritative source. The effect runtime cannot reconfigure an
// inserted graph in place, so rebuild is the only path.
func (e *Engine) RebuildChain(ctx context.Context, uid string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.strips[uid]
	if !ok {
		return errors.Newf("unknown strip %q", uid).
			Component("engine").
			Category(errors.CategoryNotFound).
			Build()
	}

	e.meter.StopMonitoring(uid)

	// Drop live routes from the old source before the chain changes hands.
	for key, pairs := range e.linkRegistry {
		if key.Src != uid {
			continue
		}
		e.linker.UnlinkPairs(ctx, pairs)
		delete(e.linkRegistry, key)
	}
	if old, ok := e.fxChains[uid]; ok {
		e.fx.Teardown(ctx, old)
		delete(e.fxChains, uid)
	}

	base, ok := e.nodes.NodeNameFor(uid)
	if !ok {
		return errors.Newf("strip %q has no live node", uid).
			Component("engine").
			Category(errors.CategoryState).
			Build()
	}

	chain, err := e.fx.Build(ctx, s, base)
	if err != nil {
		return err
	}
	if chain != nil {
		e.fxChains[uid] = chain
	}

	// Re-point downstream routes at the new authoritative source.
	for _, target := range s.Routes {
		if err := e.updateRoutingLocked(ctx, uid, target, true); err != nil {
			e.log.Warn("route re-point failed after chain rebuild",
				"strip", s.Label, "target", target, "error", err)
		}
	}

	if target, ok := e.meterTargetLocked(uid); ok {
		e.meter.StartMonitoring(uid, target)
	}
	return nil
}

// applyAppAssignmentsLocked moves playback streams of assigned applications
// onto their strips. Best-effort: apps not currently playing are left for
// the next assignment pass.
func (e *Engine) applyAppAssignmentsLocked(ctx context.Context) {
	hasAssignments := false
	for _, s := range e.strips {
		if len(s.AssignedApps) > 0 {
			hasAssignments = true
			break
		}
	}
	if !hasAssignments {
		return
	}

	streams, err := e.compat.ListAppStreams(ctx)
	if err != nil {
		e.log.Warn("app stream listing failed, assignments skipped", "error", err)
		return
	}

	for _, uid := range e.order {
		s := e.strips[uid]
		if len(s.AssignedApps) == 0 {
			continue
		}
		sinkName, ok := e.nodes.NodeNameFor(uid)
		if !ok {
			continue
		}
		for _, app := range s.AssignedApps {
			for _, stream := range streams {
				if !strings.EqualFold(stream.Name, app) {
					continue
				}
				if err := e.compat.MoveAppStream(ctx, stream.ID, sinkName); err != nil {
					e.log.Warn("app stream move failed",
						"app", stream.Name, "strip", s.Label, "error", err)
				}
			}
		}
	}
}

// ListAppStreams returns the application playback streams currently attached
// to some sink, excluding this engine's own clients.
func (e *Engine) ListAppStreams(ctx context.Context) ([]pipewire.AppStream, error) {
	return e.compat.ListAppStreams(ctx)
}

// AssignAppToStrip records an application assignment on the strip and moves
// any of its live streams immediately.
func (e *Engine) AssignAppToStrip(ctx context.Context, appName, uid string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.strips[uid]
	if !ok {
		return errors.Newf("unknown strip %q", uid).
			Component("engine").
			Category(errors.CategoryNotFound).
			Build()
	}
	if !slices.Contains(s.AssignedApps, appName) {
		s.AssignedApps = append(s.AssignedApps, appName)
	}

	sinkName, ok := e.nodes.NodeNameFor(uid)
	if !ok {
		return nil
	}
	streams, err := e.compat.ListAppStreams(ctx)
	if err != nil {
		return err
	}
	for _, stream := range streams {
		if strings.EqualFold(stream.Name, appName) {
			if err := e.compat.MoveAppStream(ctx, stream.ID, sinkName); err != nil {
				return err
			}
		}
	}
	return nil
}

// MoveAppToStrip reattaches an application playback stream to a strip's sink.
func (e *Engine) MoveAppToStrip(ctx context.Context, streamID int, uid string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	name, ok := e.nodes.NodeNameFor(uid)
	if !ok {
		return errors.Newf("strip %q has no live node", uid).
			Component("engine").
			Category(errors.CategoryState).
			Build()
	}
	return e.compat.MoveAppStream(ctx, streamID, name)
}

// MeterLevels returns a point-in-time snapshot of per-strip levels.
func (e *Engine) MeterLevels() map[string][2]float64 {
	return e.meter.Levels()
}

// RetryPendingMeters advances the metering retry queue by at most one entry.
// Callers drive this from their polling loop at a gentle cadence.
func (e *Engine) RetryPendingMeters() {
	e.meter.RetryPending()
}
