package pipewire

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/stripdeck/stripdeck/internal/errors"
	"github.com/stripdeck/stripdeck/internal/logging"
)

// Compat exposes the pactl compatibility surface. PipeWire's PulseAudio
// shim handles by-name volume, mute and default-sink changes more reliably
// than raw node parameters, so mutators go through it.
type Compat struct {
	runner Runner
	log    *slog.Logger
}

// NewCompat builds the pactl command wrapper.
func NewCompat(runner Runner) *Compat {
	return &Compat{runner: runner, log: logging.ForService("pipewire-compat")}
}

// SetSinkVolume sets a sink's volume as a percentage of full scale.
func (c *Compat) SetSinkVolume(ctx context.Context, sinkName string, volume float64) error {
	pct := fmt.Sprintf("%d%%", int(volume*100))
	_, err := c.runner.Run(ctx, "pactl", "set-sink-volume", sinkName, pct)
	return err
}

// SetSourceVolume sets a source's volume as a percentage of full scale.
func (c *Compat) SetSourceVolume(ctx context.Context, sourceName string, volume float64) error {
	pct := fmt.Sprintf("%d%%", int(volume*100))
	_, err := c.runner.Run(ctx, "pactl", "set-source-volume", sourceName, pct)
	return err
}

// SetSinkMute mutes or unmutes a sink by name.
func (c *Compat) SetSinkMute(ctx context.Context, sinkName string, muted bool) error {
	_, err := c.runner.Run(ctx, "pactl", "set-sink-mute", sinkName, muteValue(muted))
	return err
}

// SetSourceMute mutes or unmutes a source by name.
func (c *Compat) SetSourceMute(ctx context.Context, sourceName string, muted bool) error {
	_, err := c.runner.Run(ctx, "pactl", "set-source-mute", sourceName, muteValue(muted))
	return err
}

func muteValue(muted bool) string {
	if muted {
		return "1"
	}
	return "0"
}

// SetDefaultSink makes the named sink the system default.
func (c *Compat) SetDefaultSink(ctx context.Context, sinkName string) error {
	_, err := c.runner.Run(ctx, "pactl", "set-default-sink", sinkName)
	return err
}

// AppStream is one application playback stream attached to some sink.
type AppStream struct {
	ID         int
	Name       string
	Icon       string
	TargetNode int
}

// sink-input JSON shape, reduced to what stream listing needs.
type sinkInput struct {
	Index      *int              `json:"index"`
	Sink       int               `json:"sink"`
	Properties map[string]string `json:"properties"`
}

// ListAppStreams returns application playback streams, excluding this
// engine's own capture/monitor clients.
func (c *Compat) ListAppStreams(ctx context.Context) ([]AppStream, error) {
	out, err := c.runner.Run(ctx, "pactl", "-f", "json", "list", "sink-inputs")
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(out) == "" {
		return nil, nil
	}

	var inputs []sinkInput
	if err := json.Unmarshal([]byte(out), &inputs); err != nil {
		return nil, errors.New(err).
			Component("pipewire").
			Category(errors.CategoryDiscovery).
			Context("operation", "parse_sink_inputs").
			Build()
	}

	var apps []AppStream
	for _, item := range inputs {
		if item.Index == nil {
			continue
		}
		name := item.Properties["application.name"]
		if name == "" {
			name = "Unknown App"
		}
		if isOwnClient(name) {
			continue
		}
		apps = append(apps, AppStream{
			ID:         *item.Index,
			Name:       name,
			Icon:       item.Properties["application.icon_name"],
			TargetNode: item.Sink,
		})
	}
	return apps, nil
}

// isOwnClient filters the engine's own helper streams out of app listings.
func isOwnClient(appName string) bool {
	lower := strings.ToLower(appName)
	return strings.Contains(lower, "stripdeck") || strings.Contains(lower, "pw-record")
}

// MoveAppStream reattaches an application stream to the named sink.
func (c *Compat) MoveAppStream(ctx context.Context, streamID int, sinkName string) error {
	_, err := c.runner.Run(ctx, "pactl", "move-sink-input", strconv.Itoa(streamID), sinkName)
	if err != nil {
		return err
	}
	c.log.Debug("moved app stream", "stream_id", streamID, "sink", sinkName)
	return nil
}
