package pipewire

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/stripdeck/stripdeck/internal/conf"
	"github.com/stripdeck/stripdeck/internal/errors"
	"github.com/stripdeck/stripdeck/internal/logging"
)

// Node is one audio endpoint reported by the discovery snapshot.
type Node struct {
	ID          int
	Name        string
	Description string
	MediaClass  string
	IsSource    bool
	// MonitorName is the read-only tap exposing a sink's output.
	// Empty for sources.
	MonitorName string
}

const nodeInterface = "PipeWire:Interface:Node"

// pw-dump object shape, reduced to what discovery needs.
type dumpObject struct {
	ID   int    `json:"id"`
	Type string `json:"type"`
	Info struct {
		Props map[string]any `json:"props"`
	} `json:"info"`
}

// Discovery produces typed snapshots of the live PipeWire graph over pw-dump.
// It is the sole source of truth for existence checks; creation commands are
// never trusted on their own. Snapshots are cached briefly so the bounded
// polling loops in the engine do not hammer the server.
type Discovery struct {
	runner Runner
	cache  *gocache.Cache
	log    *slog.Logger
}

const snapshotCacheKey = "snapshot"

// NewDiscovery builds a Discovery on top of the given runner.
func NewDiscovery(runner Runner) *Discovery {
	ttl := time.Duration(conf.Setting().Engine.SnapshotCacheMs) * time.Millisecond
	if ttl <= 0 {
		ttl = 250 * time.Millisecond
	}
	return &Discovery{
		runner: runner,
		cache:  gocache.New(ttl, time.Minute),
		log:    logging.ForService("pipewire-discovery"),
	}
}

// Invalidate drops the cached snapshot. Called after any mutation so the next
// existence check reflects it.
func (d *Discovery) Invalidate() {
	d.cache.Delete(snapshotCacheKey)
}

// Nodes returns all audio nodes in the current graph. With includeInternal
// false, nodes carrying the engine's naming signature and sink monitors are
// filtered out, matching what a device picker should show.
func (d *Discovery) Nodes(ctx context.Context, includeInternal bool) ([]Node, error) {
	all, err := d.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	if includeInternal {
		return all, nil
	}
	out := make([]Node, 0, len(all))
	for _, n := range all {
		if strings.Contains(n.Name, conf.Setting().Engine.Signature) {
			continue
		}
		if n.IsSource && strings.Contains(strings.ToLower(n.Name), "monitor") {
			continue
		}
		out = append(out, n)
	}
	return out, nil
}

// FindByName returns the node with the exact node.name, searching internal
// nodes too.
func (d *Discovery) FindByName(ctx context.Context, name string) (*Node, error) {
	all, err := d.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	for i := range all {
		if all[i].Name == name {
			return &all[i], nil
		}
	}
	return nil, errors.Newf("node %q not found", name).
		Component("pipewire").
		Category(errors.CategoryNotFound).
		Context("node_name", name).
		Build()
}

// FindByMonitorName resolves a node by either its own name or its monitor
// source name.
func (d *Discovery) FindByMonitorName(ctx context.Context, target string) (*Node, error) {
	all, err := d.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	for i := range all {
		if all[i].Name == target || all[i].MonitorName == target {
			return &all[i], nil
		}
	}
	return nil, errors.Newf("no node matches monitor target %q", target).
		Component("pipewire").
		Category(errors.CategoryNotFound).
		Context("target", target).
		Build()
}

func (d *Discovery) snapshot(ctx context.Context) ([]Node, error) {
	if cached, ok := d.cache.Get(snapshotCacheKey); ok {
		return cached.([]Node), nil
	}

	out, err := d.runner.Run(ctx, "pw-dump")
	if err != nil {
		return nil, errors.Wrap(err).
			Component("pipewire").
			Category(errors.CategoryDiscovery).
			Context("operation", "pw_dump").
			Build()
	}

	nodes, err := parseDump([]byte(out))
	if err != nil {
		return nil, err
	}

	d.cache.SetDefault(snapshotCacheKey, nodes)
	return nodes, nil
}

// parseDump extracts audio nodes from raw pw-dump JSON.
func parseDump(raw []byte) ([]Node, error) {
	var objects []dumpObject
	if err := json.Unmarshal(raw, &objects); err != nil {
		return nil, errors.New(err).
			Component("pipewire").
			Category(errors.CategoryDiscovery).
			Context("operation", "parse_dump").
			Context("bytes", len(raw)).
			Build()
	}

	var nodes []Node
	for _, obj := range objects {
		if obj.Type != nodeInterface {
			continue
		}
		props := obj.Info.Props
		mediaClass, _ := props["media.class"].(string)
		if !strings.Contains(mediaClass, "Audio") {
			continue
		}
		name, _ := props["node.name"].(string)
		if name == "" {
			continue
		}

		// Filter-chain capture ends register as Stream/Input, which behaves
		// as a source for linking purposes.
		isSource := strings.Contains(mediaClass, "Source") || strings.Contains(mediaClass, "Stream/Input")

		desc, _ := props["node.description"].(string)
		if desc == "" {
			desc, _ = props["node.nick"].(string)
		}
		if desc == "" {
			desc = name
		}

		node := Node{
			ID:          obj.ID,
			Name:        name,
			Description: desc,
			MediaClass:  mediaClass,
			IsSource:    isSource,
		}
		if strings.Contains(mediaClass, "Sink") {
			// Convention-derived, overridden by metadata when the server
			// exposes it.
			node.MonitorName = name + ".monitor"
			if mon, ok := props["node.monitor.name"].(string); ok && mon != "" {
				node.MonitorName = mon
			}
		}
		nodes = append(nodes, node)
	}
	return nodes, nil
}
