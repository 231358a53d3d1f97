package engine

import (
	"context"
	"log/slog"

	"github.com/stripdeck/stripdeck/internal/logging"
	"github.com/stripdeck/stripdeck/internal/observability/metrics"
	"github.com/stripdeck/stripdeck/internal/pipewire"
)

// LinkPair is one confirmed port-to-port connection.
type LinkPair struct {
	From pipewire.Port
	To   pipewire.Port
}

// PortLinker performs channel-matched linking between named nodes. It works
// purely on node names; route bookkeeping by strip UID lives in the
// orchestrator's link registry.
type PortLinker struct {
	disc    *pipewire.Discovery
	metrics *metrics.EngineMetrics
	log     *slog.Logger
}

// NewPortLinker builds a linker on top of the discovery surface.
// The metrics argument may be nil.
func NewPortLinker(disc *pipewire.Discovery, m *metrics.EngineMetrics) *PortLinker {
	return &PortLinker{disc: disc, metrics: m, log: logging.ForService("port-linker")}
}

// AutoLink wires srcName's output ports to dstName's input ports using
// channel-matched pairing and returns only the pairs actually confirmed.
//
// Matching policy:
//   - explicit left/right channel identifiers pair 1:1 when both sides
//     expose them;
//   - a single-channel source feeding a multi-channel destination is
//     replicated to every destination channel;
//   - forceMono connects every source channel to every destination channel
//     (full fan-out matrix);
//   - with no channel identifiers at all, positional index pairing applies.
//
// Links are all-or-nothing: if any pair fails, the ones already made are
// rolled back and an empty set is returned.
func (pl *PortLinker) AutoLink(ctx context.Context, srcName, dstName string, forceMono bool) ([]LinkPair, error) {
	srcPorts, err := pl.disc.Ports(ctx, srcName, pipewire.DirOutput)
	if err != nil {
		return nil, err
	}
	dstPorts, err := pl.disc.Ports(ctx, dstName, pipewire.DirInput)
	if err != nil {
		return nil, err
	}
	if len(srcPorts) == 0 || len(dstPorts) == 0 {
		return nil, nil
	}

	pairs := matchPorts(srcPorts, dstPorts, forceMono)
	if len(pairs) == 0 {
		return nil, nil
	}

	var made []LinkPair
	for _, pair := range pairs {
		ok, err := pl.disc.Link(ctx, pair.From, pair.To)
		if err != nil || !ok {
			if pl.metrics != nil {
				pl.metrics.LinkFailures.Inc()
			}
			pl.log.Warn("link failed, rolling back route",
				"from", pair.From.String(), "to", pair.To.String(), "error", err)
			pl.unlinkPairs(ctx, made)
			return nil, err
		}
		made = append(made, pair)
	}

	if pl.metrics != nil {
		pl.metrics.LinksCreated.Add(float64(len(made)))
	}
	return made, nil
}

// matchPorts implements the deterministic channel pairing algorithm.
func matchPorts(srcPorts, dstPorts []pipewire.Port, forceMono bool) []LinkPair {
	if forceMono {
		pairs := make([]LinkPair, 0, len(srcPorts)*len(dstPorts))
		for _, src := range srcPorts {
			for _, dst := range dstPorts {
				pairs = append(pairs, LinkPair{From: src, To: dst})
			}
		}
		return pairs
	}

	if len(srcPorts) == 1 && len(dstPorts) >= 2 {
		pairs := make([]LinkPair, 0, len(dstPorts))
		for _, dst := range dstPorts {
			pairs = append(pairs, LinkPair{From: srcPorts[0], To: dst})
		}
		return pairs
	}

	srcLeft, srcRight := byRole(srcPorts)
	dstLeft, dstRight := byRole(dstPorts)

	var pairs []LinkPair
	if srcLeft != nil && dstLeft != nil {
		pairs = append(pairs, LinkPair{From: *srcLeft, To: *dstLeft})
	}
	if srcRight != nil && dstRight != nil {
		pairs = append(pairs, LinkPair{From: *srcRight, To: *dstRight})
	}
	if len(pairs) > 0 {
		return pairs
	}

	// No channel identifiers on either side: fall back to positional pairing.
	n := min(len(srcPorts), len(dstPorts))
	for i := 0; i < n; i++ {
		pairs = append(pairs, LinkPair{From: srcPorts[i], To: dstPorts[i]})
	}
	return pairs
}

func byRole(ports []pipewire.Port) (left, right *pipewire.Port) {
	for i := range ports {
		switch ports[i].Role {
		case pipewire.RoleLeft:
			if left == nil {
				left = &ports[i]
			}
		case pipewire.RoleRight:
			if right == nil {
				right = &ports[i]
			}
		}
	}
	return left, right
}

// Link connects one pair. Idempotent: "already exists" counts as success.
func (pl *PortLinker) Link(ctx context.Context, from, to pipewire.Port) bool {
	ok, err := pl.disc.Link(ctx, from, to)
	if err != nil {
		if pl.metrics != nil {
			pl.metrics.LinkFailures.Inc()
		}
		return false
	}
	return ok
}

// UnlinkPairs removes a known set of links.
func (pl *PortLinker) UnlinkPairs(ctx context.Context, pairs []LinkPair) {
	pl.unlinkPairs(ctx, pairs)
	if pl.metrics != nil {
		pl.metrics.LinksRemoved.Add(float64(len(pairs)))
	}
}

func (pl *PortLinker) unlinkPairs(ctx context.Context, pairs []LinkPair) {
	for _, pair := range pairs {
		if err := pl.disc.Unlink(ctx, pair.From, pair.To); err != nil {
			pl.log.Debug("unlink ignored failure",
				"from", pair.From.String(), "to", pair.To.String(), "error", err)
		}
	}
}

// UnlinkAll brute-forces removal of every port-pair combination between two
// named nodes. Desync recovery: used when the link registry no longer
// reflects reality.
func (pl *PortLinker) UnlinkAll(ctx context.Context, srcName, dstName string) {
	srcPorts, err := pl.disc.Ports(ctx, srcName, pipewire.DirOutput)
	if err != nil {
		return
	}
	dstPorts, err := pl.disc.Ports(ctx, dstName, pipewire.DirInput)
	if err != nil {
		return
	}
	for _, src := range srcPorts {
		for _, dst := range dstPorts {
			_ = pl.disc.Unlink(ctx, src, dst)
		}
	}
}
