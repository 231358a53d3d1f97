// Package engine implements the virtual routing core: node management, port
// linking, effect chain builds, and the orchestrator that sequences them on
// top of an asynchronous PipeWire server. Command success is never assumed;
// it is confirmed against discovery snapshots with bounded polling.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/stripdeck/stripdeck/internal/conf"
	"github.com/stripdeck/stripdeck/internal/errors"
	"github.com/stripdeck/stripdeck/internal/logging"
	"github.com/stripdeck/stripdeck/internal/observability/metrics"
	"github.com/stripdeck/stripdeck/internal/pipewire"
	"github.com/stripdeck/stripdeck/internal/strip"
)

// NodeManager creates and resolves the PipeWire nodes backing strips and
// keeps the name and monitor caches the rest of the engine routes through.
type NodeManager struct {
	disc    *pipewire.Discovery
	runner  pipewire.Runner
	session pipewire.Session
	metrics *metrics.EngineMetrics
	log     *slog.Logger

	pollRetries int
	pollDelay   time.Duration
	settleDelay time.Duration

	registry     map[string]int // strip UID -> node ID
	nameCache    map[int]string
	monitorCache map[int]string
	isSource     map[string]bool // strip UID -> node is source-class
	created      []int           // node IDs this engine instance created
}

// NewNodeManager wires a node manager against the given PipeWire surface.
// The metrics argument may be nil.
func NewNodeManager(disc *pipewire.Discovery, runner pipewire.Runner, session pipewire.Session, m *metrics.EngineMetrics) *NodeManager {
	cfg := conf.Setting().Engine
	return &NodeManager{
		disc:         disc,
		runner:       runner,
		session:      session,
		metrics:      m,
		log:          logging.ForService("node-manager"),
		pollRetries:  cfg.NodePollRetries,
		pollDelay:    time.Duration(cfg.NodePollDelayMs) * time.Millisecond,
		settleDelay:  time.Duration(cfg.ZombieSettleMs) * time.Millisecond,
		registry:     make(map[string]int),
		nameCache:    make(map[int]string),
		monitorCache: make(map[int]string),
		isSource:     make(map[string]bool),
	}
}

// NodeName returns the deterministic node name for a strip UID.
func NodeName(uid string) string {
	return conf.StripNodePrefix + uid
}

// Reset clears all registries. Called at the top of a start pass together
// with ForgetCreated: each start is a full regeneration, and the zombie sweep
// reclaims any nodes left over from the previous generation.
func (nm *NodeManager) Reset() {
	nm.registry = make(map[string]int)
	nm.nameCache = make(map[int]string)
	nm.monitorCache = make(map[int]string)
	nm.isSource = make(map[string]bool)
}

// CreateVirtualNode creates a null-sink adapter node for the strip and polls
// discovery until it appears. The create command gives no acknowledgement,
// so appearance in the snapshot is the only success signal.
func (nm *NodeManager) CreateVirtualNode(ctx context.Context, s *strip.Strip) (int, error) {
	name := NodeName(s.UID)
	props := fmt.Sprintf(
		`{ factory.name=support.null-audio-sink node.name="%s" node.description="Stripdeck: %s" media.class=Audio/Sink object.linger=true audio.position=[FL,FR] }`,
		name, s.Label)

	if err := nm.session.CreateNode("adapter", props); err != nil {
		return 0, errors.Wrap(err).
			Component("engine").
			Category(errors.CategoryNodeManagement).
			Context("operation", "create_virtual_node").
			Context("strip", s.Label).
			Build()
	}

	node, err := nm.awaitNode(ctx, name)
	if err != nil {
		return 0, err
	}

	nm.register(s.UID, node)
	nm.created = append(nm.created, node.ID)
	if nm.metrics != nil {
		nm.metrics.NodesCreated.Inc()
	}
	nm.log.Info("created virtual node", "strip", s.Label, "node", name, "id", node.ID)
	return node.ID, nil
}

// awaitNode polls the discovery snapshot with bounded retries until the named
// node appears. Exceeding the budget yields a failure, never a hang.
func (nm *NodeManager) awaitNode(ctx context.Context, name string) (*pipewire.Node, error) {
	var lastErr error
	for attempt := 0; attempt < nm.pollRetries; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(nm.pollDelay):
		}
		nm.disc.Invalidate()
		node, err := nm.disc.FindByName(ctx, name)
		if err == nil {
			return node, nil
		}
		lastErr = err
	}
	return nil, errors.Newf("node %q did not appear within %d polls", name, nm.pollRetries).
		Component("engine").
		Category(errors.CategoryTimeout).
		Context("node_name", name).
		Context("last_error", fmt.Sprint(lastErr)).
		Build()
}

// FindPhysicalNode resolves a strip's hardware node by exact device name,
// filtered by the class the strip kind requires.
func (nm *NodeManager) FindPhysicalNode(ctx context.Context, s *strip.Strip) (int, error) {
	if s.DeviceName == "" {
		return 0, errors.Newf("physical strip %q has no device binding", s.Label).
			Component("engine").
			Category(errors.CategoryValidation).
			Build()
	}

	nodes, err := nm.disc.Nodes(ctx, true)
	if err != nil {
		return 0, err
	}

	wantSource := s.Kind == strip.Input
	for i := range nodes {
		n := &nodes[i]
		if n.Name != s.DeviceName {
			continue
		}
		if n.IsSource != wantSource {
			continue
		}
		nm.register(s.UID, n)
		nm.log.Info("resolved physical node", "strip", s.Label, "node", n.Name, "id", n.ID)
		return n.ID, nil
	}
	return 0, errors.Newf("physical device %q not found", s.DeviceName).
		Component("engine").
		Category(errors.CategoryNotFound).
		Context("strip", s.Label).
		Context("device", s.DeviceName).
		Build()
}

func (nm *NodeManager) register(uid string, n *pipewire.Node) {
	nm.registry[uid] = n.ID
	nm.nameCache[n.ID] = n.Name
	nm.isSource[uid] = n.IsSource
	if n.MonitorName != "" {
		nm.monitorCache[n.ID] = n.MonitorName
	}
}

// DestroyNode destroys a node by ID. Best-effort: absence is not an error.
func (nm *NodeManager) DestroyNode(ctx context.Context, id int) {
	if _, err := nm.runner.Run(ctx, "pw-cli", "destroy", fmt.Sprint(id)); err != nil {
		nm.log.Debug("destroy node ignored failure", "id", id, "error", err)
		return
	}
	if nm.metrics != nil {
		nm.metrics.NodesDestroyed.Inc()
	}
	nm.disc.Invalidate()
}

// DestroyNodeByName destroys a node resolved by name. Used for FX chain
// teardown where only the chain name is tracked.
func (nm *NodeManager) DestroyNodeByName(ctx context.Context, name string) {
	nm.disc.Invalidate()
	node, err := nm.disc.FindByName(ctx, name)
	if err != nil {
		return
	}
	nm.DestroyNode(ctx, node.ID)
}

// CleanZombieNodes destroys every node carrying the engine's naming signature
// that survived a previous run. Destruction is asynchronous server-side, so a
// short settle delay follows when anything was cleaned.
func (nm *NodeManager) CleanZombieNodes(ctx context.Context) {
	nodes, err := nm.disc.Nodes(ctx, true)
	if err != nil {
		nm.log.Warn("zombie scan failed, continuing", "error", err)
		return
	}

	signature := conf.Setting().Engine.Signature
	count := 0
	for i := range nodes {
		if signature == "" || !strings.Contains(nodes[i].Name, signature) {
			continue
		}
		nm.DestroyNode(ctx, nodes[i].ID)
		count++
	}
	if count > 0 {
		if nm.metrics != nil {
			nm.metrics.ZombiesCleaned.Add(float64(count))
		}
		nm.log.Info("cleaned zombie nodes", "count", count)
		select {
		case <-ctx.Done():
		case <-time.After(nm.settleDelay):
		}
		nm.disc.Invalidate()
	}
}

// NodeID returns the live node ID for a strip UID.
func (nm *NodeManager) NodeID(uid string) (int, bool) {
	id, ok := nm.registry[uid]
	return id, ok
}

// NodeNameFor returns the node name backing a strip UID.
func (nm *NodeManager) NodeNameFor(uid string) (string, bool) {
	id, ok := nm.registry[uid]
	if !ok {
		return "", false
	}
	name, ok := nm.nameCache[id]
	return name, ok
}

// MonitorNameFor returns the monitor source name of a strip's sink node,
// falling back to the naming convention when the cache has no entry.
func (nm *NodeManager) MonitorNameFor(uid string) (string, bool) {
	id, ok := nm.registry[uid]
	if !ok {
		return "", false
	}
	if mon, ok := nm.monitorCache[id]; ok {
		return mon, true
	}
	name, ok := nm.nameCache[id]
	if !ok {
		return "", false
	}
	return name + ".monitor", true
}

// IsSource reports whether the strip's node is source-class.
func (nm *NodeManager) IsSource(uid string) bool {
	return nm.isSource[uid]
}

// CreatedNodes returns the IDs of nodes this engine instance created.
func (nm *NodeManager) CreatedNodes() []int {
	out := make([]int, len(nm.created))
	copy(out, nm.created)
	return out
}

// ForgetCreated clears created-node tracking after shutdown destroyed them.
func (nm *NodeManager) ForgetCreated() {
	nm.created = nil
}
