// Package strip defines the user-facing channel strip model.
// A Strip is pure data: the engine package maps strips onto live PipeWire
// nodes and never mutates them beyond what its public API exposes.
package strip

import (
	"slices"

	"github.com/google/uuid"
)

// Kind tells whether the strip carries an input or an output channel.
type Kind string

const (
	Input  Kind = "input"
	Output Kind = "output"
)

// Mode tells whether the strip is backed by real hardware or a virtual device.
type Mode string

const (
	Physical Mode = "physical"
	Virtual  Mode = "virtual"
)

// Strip is one logical mixer channel.
type Strip struct {
	UID   string `json:"uid"`
	Label string `json:"label"`
	Kind  Kind   `json:"kind"`
	Mode  Mode   `json:"mode"`

	Volume float64 `json:"volume"` // 0.0 to 1.0
	Mute   bool    `json:"mute"`
	IsMono bool    `json:"is_mono"`

	// Routes lists output strip UIDs this strip sends audio to.
	// Only meaningful for Input strips.
	Routes []string `json:"routes"`

	// DeviceName binds a Physical strip to a hardware node:
	// the sink name for outputs, the source name to link from for inputs.
	DeviceName string `json:"device_name,omitempty"`

	// AssignedApps lists application names whose streams follow this strip.
	AssignedApps []string `json:"assigned_apps"`

	// IsDefault marks the strip whose sink becomes the system default.
	// At most one Input strip may carry it.
	IsDefault bool `json:"is_default"`

	// Effects always holds an entry for every known EffectKind.
	// Normalize fills gaps with defaults.
	Effects map[EffectKind]*EffectSettings `json:"effects"`
}

// New creates a strip with a fresh UID and fully populated effect defaults.
func New(label string, kind Kind, mode Mode) *Strip {
	s := &Strip{
		UID:    uuid.NewString(),
		Label:  label,
		Kind:   kind,
		Mode:   mode,
		Volume: 1.0,
	}
	s.Normalize()
	return s
}

// Normalize makes a strip internally consistent regardless of where it came
// from: volume clamped, effect map fully populated with clamped parameters,
// route list deduplicated. Called once when strips enter the engine, never
// ad hoc at read time.
func (s *Strip) Normalize() {
	if s.UID == "" {
		s.UID = uuid.NewString()
	}
	if s.Volume < 0 {
		s.Volume = 0
	}
	if s.Volume > 1 {
		s.Volume = 1
	}
	if s.Routes == nil {
		s.Routes = []string{}
	} else {
		s.Routes = dedupe(s.Routes)
	}
	if s.AssignedApps == nil {
		s.AssignedApps = []string{}
	}
	s.Effects = NormalizeEffects(s.Effects)
}

// HasRoute reports whether the strip routes to the given output UID.
func (s *Strip) HasRoute(targetUID string) bool {
	return slices.Contains(s.Routes, targetUID)
}

// AddRoute records a route to targetUID, keeping the set semantics.
func (s *Strip) AddRoute(targetUID string) {
	if !s.HasRoute(targetUID) {
		s.Routes = append(s.Routes, targetUID)
	}
}

// RemoveRoute drops the route to targetUID if present.
func (s *Strip) RemoveRoute(targetUID string) {
	s.Routes = slices.DeleteFunc(s.Routes, func(uid string) bool {
		return uid == targetUID
	})
}

// ActiveEffects returns the strip's enabled effects in canonical chain order.
func (s *Strip) ActiveEffects() []EffectKind {
	var active []EffectKind
	for _, kind := range EffectOrder() {
		if fx, ok := s.Effects[kind]; ok && fx.Active {
			active = append(active, kind)
		}
	}
	return active
}

// Defaults returns the first-run strip pair: a virtual Desktop input and a
// physical Speakers output.
func Defaults() []*Strip {
	desktop := New("Desktop", Input, Virtual)
	speakers := New("Speakers", Output, Physical)
	desktop.AddRoute(speakers.UID)
	return []*Strip{desktop, speakers}
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
