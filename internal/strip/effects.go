package strip

// EffectKind identifies one stage of the per-strip processing chain.
type EffectKind string

const (
	EffectGate            EffectKind = "gate"
	EffectNoiseSuppressor EffectKind = "noise_suppressor"
	EffectEqualizer       EffectKind = "equalizer"
	EffectCompressor      EffectKind = "compressor"
)

// EffectOrder returns the canonical chain sequence. Chains are always built
// in this order regardless of activation order.
func EffectOrder() []EffectKind {
	return []EffectKind{EffectGate, EffectNoiseSuppressor, EffectEqualizer, EffectCompressor}
}

// EffectSettings holds the activation flag and parameter values of one effect.
type EffectSettings struct {
	Active bool               `json:"active"`
	Params map[string]float64 `json:"params"`
}

// ParamSpec describes one effect parameter: bounds and default.
type ParamSpec struct {
	Name    string
	Min     float64
	Max     float64
	Default float64
}

// EQBands is the number of equalizer bands.
const EQBands = 15

// eqBandNames lists the equalizer parameter keys in ascending frequency order.
var eqBandNames = []string{
	"band_50", "band_100", "band_156", "band_220", "band_311",
	"band_440", "band_622", "band_880", "band_1250", "band_1750",
	"band_2500", "band_3500", "band_5000", "band_10000", "band_20000",
}

var effectSchemas = map[EffectKind][]ParamSpec{
	EffectGate: {
		{Name: "threshold", Min: -70, Max: 20, Default: -30},
		{Name: "attack", Min: 0.05, Max: 250, Default: 10},
		{Name: "hold", Min: 0.1, Max: 2000, Default: 50},
		{Name: "decay", Min: 2, Max: 4000, Default: 100},
		{Name: "range", Min: -90, Max: 0, Default: -70},
	},
	EffectNoiseSuppressor: {
		{Name: "vad_threshold", Min: 0, Max: 95, Default: 50},
	},
	EffectEqualizer: eqSchema(),
	EffectCompressor: {
		{Name: "rms_peak", Min: 0, Max: 1, Default: 0},
		{Name: "attack", Min: 1.5, Max: 400, Default: 25},
		{Name: "release", Min: 2, Max: 800, Default: 150},
		{Name: "threshold", Min: -30, Max: 0, Default: -12},
		{Name: "ratio", Min: 1, Max: 20, Default: 4},
		{Name: "knee", Min: 1, Max: 10, Default: 3.25},
		{Name: "makeup", Min: 0, Max: 24, Default: 0},
	},
}

func eqSchema() []ParamSpec {
	specs := make([]ParamSpec, 0, EQBands)
	for _, name := range eqBandNames {
		specs = append(specs, ParamSpec{Name: name, Min: -70, Max: 30, Default: 0})
	}
	return specs
}

// EQBandNames returns the equalizer parameter keys in ascending frequency order.
func EQBandNames() []string {
	out := make([]string, EQBands)
	copy(out, eqBandNames)
	return out
}

// Schema returns the parameter specs of an effect kind, nil for unknown kinds.
func Schema(kind EffectKind) []ParamSpec {
	return effectSchemas[kind]
}

// DefaultEffectSettings builds an inactive settings block with every
// parameter at its default value.
func DefaultEffectSettings(kind EffectKind) *EffectSettings {
	fx := &EffectSettings{Params: make(map[string]float64)}
	for _, spec := range effectSchemas[kind] {
		fx.Params[spec.Name] = spec.Default
	}
	return fx
}

// NormalizeEffects migrates an effect map from any source version into the
// current schema: unknown kinds dropped, missing kinds added inactive with
// defaults, missing parameters defaulted, out-of-range values clamped.
func NormalizeEffects(effects map[EffectKind]*EffectSettings) map[EffectKind]*EffectSettings {
	out := make(map[EffectKind]*EffectSettings, len(effectSchemas))
	for _, kind := range EffectOrder() {
		existing := effects[kind]
		if existing == nil {
			out[kind] = DefaultEffectSettings(kind)
			continue
		}
		fx := &EffectSettings{
			Active: existing.Active,
			Params: make(map[string]float64, len(effectSchemas[kind])),
		}
		for _, spec := range effectSchemas[kind] {
			val, ok := existing.Params[spec.Name]
			if !ok {
				val = spec.Default
			}
			if val < spec.Min {
				val = spec.Min
			}
			if val > spec.Max {
				val = spec.Max
			}
			fx.Params[spec.Name] = val
		}
		out[kind] = fx
	}
	return out
}
