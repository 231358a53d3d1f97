// Package metering captures audio from strip monitor sources and derives
// per-channel RMS levels for UI meters. Capture runs over the PulseAudio
// compatibility layer, one lightweight stream per monitored strip.
package metering

import (
	"os"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/stripdeck/stripdeck/internal/conf"
	"github.com/stripdeck/stripdeck/internal/errors"
)

// Stream is one live capture attachment.
type Stream interface {
	Close() error
}

// Broker attaches capture streams to named sources. The production broker
// rides malgo's pulse backend; tests substitute a fake.
type Broker interface {
	Attach(target string, onSamples func(data []byte, frames uint32)) (Stream, error)
}

// malgoBroker attaches capture devices through the pulse backend. Target
// selection goes through the PULSE_SOURCE environment variable, which is
// process-wide state, so stream creation is serialized under initMu and the
// variable never outlives the init call.
type malgoBroker struct {
	initMu sync.Mutex
}

// NewBroker returns the production capture broker.
func NewBroker() Broker {
	return &malgoBroker{}
}

type malgoStream struct {
	device *malgo.Device
	ctx    *malgo.AllocatedContext
}

func (s *malgoStream) Close() error {
	s.device.Uninit()
	if err := s.ctx.Uninit(); err != nil {
		return err
	}
	s.ctx.Free()
	return nil
}

func (b *malgoBroker) Attach(target string, onSamples func(data []byte, frames uint32)) (Stream, error) {
	b.initMu.Lock()
	defer b.initMu.Unlock()

	if err := os.Setenv("PULSE_SOURCE", target); err != nil {
		return nil, errors.Wrap(err).
			Component("metering").
			Category(errors.CategoryMetering).
			Context("operation", "set_capture_target").
			Build()
	}
	defer os.Unsetenv("PULSE_SOURCE")

	malgoCtx, err := malgo.InitContext(
		[]malgo.Backend{malgo.BackendPulseaudio},
		malgo.ContextConfig{},
		func(string) {},
	)
	if err != nil {
		return nil, errors.Wrap(err).
			Component("metering").
			Category(errors.CategoryMetering).
			Context("operation", "init_context").
			Context("target", target).
			Build()
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = conf.NumChannels
	deviceConfig.SampleRate = conf.SampleRate
	deviceConfig.Alsa.NoMMap = 1

	captureCallbacks := malgo.DeviceCallbacks{
		Data: func(_, pSamples []byte, framecount uint32) {
			onSamples(pSamples, framecount)
		},
	}

	device, err := malgo.InitDevice(malgoCtx.Context, deviceConfig, captureCallbacks)
	if err != nil {
		_ = malgoCtx.Uninit()
		malgoCtx.Free()
		return nil, errors.Wrap(err).
			Component("metering").
			Category(errors.CategoryMetering).
			Context("operation", "init_device").
			Context("target", target).
			Build()
	}

	if err := device.Start(); err != nil {
		device.Uninit()
		_ = malgoCtx.Uninit()
		malgoCtx.Free()
		return nil, errors.Wrap(err).
			Component("metering").
			Category(errors.CategoryMetering).
			Context("operation", "start_device").
			Context("target", target).
			Build()
	}

	return &malgoStream{device: device, ctx: malgoCtx}, nil
}
