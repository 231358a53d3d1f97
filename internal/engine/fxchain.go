package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/stripdeck/stripdeck/internal/conf"
	"github.com/stripdeck/stripdeck/internal/errors"
	"github.com/stripdeck/stripdeck/internal/logging"
	"github.com/stripdeck/stripdeck/internal/observability/metrics"
	"github.com/stripdeck/stripdeck/internal/pipewire"
	"github.com/stripdeck/stripdeck/internal/strip"
)

// pluginBinding ties an EffectKind to its LADSPA plugin: binary, label, and
// the mapping from model parameter keys to LADSPA control names.
type pluginBinding struct {
	File     string
	Label    string
	Controls map[string]string
}

var pluginBindings = map[strip.EffectKind]pluginBinding{
	strip.EffectGate: {
		File:  "gate_1410.so",
		Label: "gate",
		Controls: map[string]string{
			"threshold": "Threshold (dB)",
			"attack":    "Attack (ms)",
			"hold":      "Hold (ms)",
			"decay":     "Decay (ms)",
			"range":     "Range (dB)",
		},
	},
	strip.EffectNoiseSuppressor: {
		File:  "librnnoise_ladspa.so",
		Label: "noise_suppressor_mono",
		Controls: map[string]string{
			"vad_threshold": "VAD Threshold (%)",
		},
	},
	strip.EffectEqualizer: {
		File:  "mbeq_1197.so",
		Label: "mbeq",
		Controls: map[string]string{
			"band_50":    "50Hz gain (low shelving)",
			"band_100":   "100Hz gain",
			"band_156":   "156Hz gain",
			"band_220":   "220Hz gain",
			"band_311":   "311Hz gain",
			"band_440":   "440Hz gain",
			"band_622":   "622Hz gain",
			"band_880":   "880Hz gain",
			"band_1250":  "1250Hz gain",
			"band_1750":  "1750Hz gain",
			"band_2500":  "2500Hz gain",
			"band_3500":  "3500Hz gain",
			"band_5000":  "5000Hz gain",
			"band_10000": "10000Hz gain",
			"band_20000": "20000Hz gain",
		},
	},
	strip.EffectCompressor: {
		File:  "sc4m_1916.so",
		Label: "sc4m",
		Controls: map[string]string{
			"rms_peak":  "RMS/peak",
			"attack":    "Attack time (ms)",
			"release":   "Release time (ms)",
			"threshold": "Threshold level (dB)",
			"ratio":     "Ratio (1:n)",
			"knee":      "Knee radius (dB)",
			"makeup":    "Makeup gain (dB)",
		},
	},
}

// ChainResult describes a successfully loaded effect chain.
type ChainResult struct {
	NodeName string             // composite filter-chain node name
	Effects  []strip.EffectKind // stages actually instantiated, in order
	Degraded bool               // true when controls were omitted on retry
	Links    []LinkPair         // links feeding the chain from its base source
}

// ChainBuilder assembles per-strip effect chains as filter-chain modules
// loaded through the long-lived control session.
type ChainBuilder struct {
	session pipewire.Session
	disc    *pipewire.Discovery
	linker  *PortLinker
	nodes   *NodeManager
	metrics *metrics.FXMetrics
	log     *slog.Logger

	pluginDirs    []string
	verifyTimeout time.Duration
	verifyPoll    time.Duration

	// statFn is the plugin presence probe, injectable for tests.
	statFn func(path string) bool
}

// NewChainBuilder wires a chain builder. The metrics argument may be nil.
func NewChainBuilder(session pipewire.Session, disc *pipewire.Discovery, linker *PortLinker, nodes *NodeManager, m *metrics.FXMetrics) *ChainBuilder {
	cfg := conf.Setting().FX
	return &ChainBuilder{
		session:       session,
		disc:          disc,
		linker:        linker,
		nodes:         nodes,
		metrics:       m,
		log:           logging.ForService("fx-chain"),
		pluginDirs:    cfg.PluginDirs,
		verifyTimeout: time.Duration(cfg.VerifyTimeoutMs) * time.Millisecond,
		verifyPoll:    time.Duration(cfg.VerifyPollMs) * time.Millisecond,
		statFn: func(path string) bool {
			_, err := os.Stat(path)
			return err == nil
		},
	}
}

// ChainNodeName returns the deterministic composite node name for a strip.
func ChainNodeName(uid string) string {
	return conf.FXNodePrefix + uid
}

// PluginAvailability resolves every known effect's plugin binary across the
// given directories. The value is the resolved path, empty when absent.
func PluginAvailability(dirs []string) map[strip.EffectKind]string {
	out := make(map[strip.EffectKind]string, len(pluginBindings))
	for kind, binding := range pluginBindings {
		out[kind] = ""
		for _, dir := range dirs {
			path := filepath.Join(dir, binding.File)
			if _, err := os.Stat(path); err == nil {
				out[kind] = path
				break
			}
		}
	}
	return out
}

// pluginPath resolves an effect's plugin binary, empty when absent.
func (cb *ChainBuilder) pluginPath(kind strip.EffectKind) string {
	binding, ok := pluginBindings[kind]
	if !ok {
		return ""
	}
	for _, dir := range cb.pluginDirs {
		path := filepath.Join(dir, binding.File)
		if cb.statFn(path) {
			return path
		}
	}
	return ""
}

// AvailableEffects filters a strip's active effects down to those whose
// plugin binary is present, preserving canonical order.
func (cb *ChainBuilder) AvailableEffects(s *strip.Strip) []strip.EffectKind {
	var out []strip.EffectKind
	for _, kind := range s.ActiveEffects() {
		if cb.pluginPath(kind) == "" {
			cb.log.Warn("effect plugin missing, skipping stage",
				"strip", s.Label, "effect", string(kind))
			continue
		}
		out = append(out, kind)
	}
	return out
}

// Build assembles and loads the strip's effect chain, feeding it from
// baseSource. A nil result with nil error means no chain (no usable effects),
// which is not a failure.
//
// Load policy is two attempts: first with live parameter controls, then once
// more with controls omitted so plugin defaults apply. A second failure is a
// hard, caller-visible error.
func (cb *ChainBuilder) Build(ctx context.Context, s *strip.Strip, baseSource string) (*ChainResult, error) {
	stages := cb.AvailableEffects(s)
	if len(stages) == 0 {
		return nil, nil
	}

	nodeName := ChainNodeName(s.UID)
	start := time.Now()

	degraded := false
	if err := cb.loadAndVerify(ctx, nodeName, s, stages, true); err != nil {
		cb.log.Warn("chain load with controls failed, retrying without",
			"strip", s.Label, "error", err)
		// A half-created chain from the failed attempt must not survive.
		cb.nodes.DestroyNodeByName(ctx, nodeName)

		if err := cb.loadAndVerify(ctx, nodeName, s, stages, false); err != nil {
			cb.nodes.DestroyNodeByName(ctx, nodeName)
			if cb.metrics != nil {
				cb.metrics.BuildFailures.Inc()
			}
			return nil, errors.Wrap(err).
				Component("engine").
				Category(errors.CategoryFXChain).
				Context("operation", "build_chain").
				Context("strip", s.Label).
				Context("stages", len(stages)).
				Build()
		}
		degraded = true
	}

	links, err := cb.linker.AutoLink(ctx, baseSource, nodeName, false)
	if err != nil {
		cb.log.Warn("chain input link failed", "strip", s.Label, "base", baseSource, "error", err)
	}

	if cb.metrics != nil {
		cb.metrics.RecordBuild(time.Since(start), degraded)
	}
	cb.log.Info("effect chain built",
		"strip", s.Label, "node", nodeName, "stages", len(stages), "degraded", degraded)

	return &ChainResult{
		NodeName: nodeName,
		Effects:  stages,
		Degraded: degraded,
		Links:    links,
	}, nil
}

// loadAndVerify submits the filter-chain module and confirms the composite
// node exposes input ports within the verify budget. pw-cli is silent on
// module loads, so port appearance is the only success signal.
func (cb *ChainBuilder) loadAndVerify(ctx context.Context, nodeName string, s *strip.Strip, stages []strip.EffectKind, withControls bool) error {
	config := cb.graphConfig(nodeName, s, stages, withControls)
	if err := cb.session.LoadFilterChain(config); err != nil {
		return err
	}

	deadline := time.Now().Add(cb.verifyTimeout)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(cb.verifyPoll):
		}
		cb.disc.Invalidate()
		ports, err := cb.disc.Ports(ctx, nodeName, pipewire.DirInput)
		if err == nil && len(ports) > 0 {
			return nil
		}
	}
	return errors.Newf("chain node %q exposed no input ports within %s", nodeName, cb.verifyTimeout).
		Component("engine").
		Category(errors.CategoryTimeout).
		Context("node_name", nodeName).
		Context("with_controls", withControls).
		Build()
}

// graphConfig renders the flattened SPA-JSON filter-chain arguments. Every
// stage is instantiated twice, once per channel, with consecutive stages
// point-to-point linked; the first stage's inputs and the last stage's
// outputs become the composite node's external ports.
func (cb *ChainBuilder) graphConfig(nodeName string, s *strip.Strip, stages []strip.EffectKind, withControls bool) string {
	channels := []string{"L", "R"}

	var nodes []string
	var links []string
	var inputs []string
	var outputs []string

	for _, ch := range channels {
		var prev string
		for i, kind := range stages {
			binding := pluginBindings[kind]
			stageName := fmt.Sprintf("%s_%d_%s", binding.Label, i, ch)
			node := fmt.Sprintf(`{ type = ladspa name = "%s" plugin = "%s" label = "%s"`,
				stageName, cb.pluginPath(kind), binding.Label)
			if withControls {
				if control := cb.controlBlock(s, kind); control != "" {
					node += " control = " + control
				}
			}
			node += " }"
			nodes = append(nodes, node)

			if i == 0 {
				inputs = append(inputs, fmt.Sprintf(`"%s:Input"`, stageName))
			} else {
				links = append(links, fmt.Sprintf(`{ output = "%s:Output" input = "%s:Input" }`, prev, stageName))
			}
			if i == len(stages)-1 {
				outputs = append(outputs, fmt.Sprintf(`"%s:Output"`, stageName))
			}
			prev = stageName
		}
	}

	graph := fmt.Sprintf("{ nodes = [ %s ]", strings.Join(nodes, " "))
	if len(links) > 0 {
		graph += fmt.Sprintf(" links = [ %s ]", strings.Join(links, " "))
	}
	graph += fmt.Sprintf(" inputs = [ %s ] outputs = [ %s ] }",
		strings.Join(inputs, " "), strings.Join(outputs, " "))

	return fmt.Sprintf(
		`{ node.name = "%s" node.description = "Stripdeck FX: %s" filter.graph = %s `+
			`capture.props = { node.passive = true audio.channels = 2 audio.position = [ FL FR ] } `+
			`playback.props = { media.class = Audio/Source audio.channels = 2 audio.position = [ FL FR ] } }`,
		nodeName, s.Label, graph)
}

// controlBlock renders a stage's live parameter controls in deterministic
// key order.
func (cb *ChainBuilder) controlBlock(s *strip.Strip, kind strip.EffectKind) string {
	binding := pluginBindings[kind]
	fx := s.Effects[kind]
	if fx == nil || len(fx.Params) == 0 {
		return ""
	}

	keys := make([]string, 0, len(fx.Params))
	for key := range fx.Params {
		if _, ok := binding.Controls[key]; ok {
			keys = append(keys, key)
		}
	}
	if len(keys) == 0 {
		return ""
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, fmt.Sprintf(`"%s" = %.3f`, binding.Controls[key], fx.Params[key]))
	}
	return "{ " + strings.Join(parts, " ") + " }"
}

// Teardown removes a chain: unlinks its feed, destroys the composite node.
func (cb *ChainBuilder) Teardown(ctx context.Context, result *ChainResult) {
	if result == nil {
		return
	}
	if len(result.Links) > 0 {
		cb.linker.UnlinkPairs(ctx, result.Links)
	}
	cb.nodes.DestroyNodeByName(ctx, result.NodeName)
}
