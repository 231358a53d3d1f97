package metering

import (
	"log/slog"
	"sync"

	"github.com/stripdeck/stripdeck/internal/conf"
	"github.com/stripdeck/stripdeck/internal/logging"
	"github.com/stripdeck/stripdeck/internal/observability/metrics"
)

// Engine runs one capture stream per monitored strip and publishes the
// latest RMS levels. Attach attempts never block the caller: they run in a
// worker goroutine, and a failed attach parks the strip in the pending set
// until RetryPending picks it up.
type Engine struct {
	broker  Broker
	metrics *metrics.MeteringMetrics
	log     *slog.Logger
	gain    float64

	dataMu  sync.Mutex
	streams map[string]Stream
	levels  map[string][2]float64
	pending map[string]string // strip UID -> capture target
}

// NewEngine builds a metering engine on the given broker.
// The metrics argument may be nil.
func NewEngine(broker Broker, m *metrics.MeteringMetrics) *Engine {
	return &Engine{
		broker:  broker,
		metrics: m,
		log:     logging.ForService("metering"),
		gain:    conf.Setting().Metering.Gain,
		streams: make(map[string]Stream),
		levels:  make(map[string][2]float64),
		pending: make(map[string]string),
	}
}

// StartMonitoring begins level capture for a strip. Returns immediately; the
// attach happens asynchronously and a failure queues the strip for retry.
func (e *Engine) StartMonitoring(uid, sourceName string) {
	e.dataMu.Lock()
	if _, exists := e.streams[uid]; exists {
		e.dataMu.Unlock()
		return
	}
	delete(e.pending, uid)
	e.dataMu.Unlock()

	go e.attach(uid, sourceName)
}

func (e *Engine) attach(uid, sourceName string) {
	if e.metrics != nil {
		e.metrics.AttachAttempts.Inc()
	}

	stream, err := e.broker.Attach(sourceName, func(data []byte, _ uint32) {
		levels := computeLevels(data, conf.NumChannels, e.gain)
		e.dataMu.Lock()
		e.levels[uid] = levels
		e.dataMu.Unlock()
	})
	if err != nil {
		if e.metrics != nil {
			e.metrics.AttachFailures.Inc()
		}
		e.log.Warn("capture attach failed, queued for retry",
			"strip", uid, "source", sourceName, "error", err)
		e.dataMu.Lock()
		e.pending[uid] = sourceName
		if e.metrics != nil {
			e.metrics.PendingRetries.Set(float64(len(e.pending)))
		}
		e.dataMu.Unlock()
		return
	}

	e.dataMu.Lock()
	if _, exists := e.streams[uid]; exists {
		// A concurrent attach won the race.
		e.dataMu.Unlock()
		_ = stream.Close()
		return
	}
	e.streams[uid] = stream
	if e.metrics != nil {
		e.metrics.ActiveStreams.Set(float64(len(e.streams)))
	}
	e.dataMu.Unlock()
	e.log.Debug("capture attached", "strip", uid, "source", sourceName)
}

// RetryPending re-attempts at most one parked attach per call. Callers invoke
// this from their polling loop so retries stay rate-limited by the UI cadence.
func (e *Engine) RetryPending() {
	e.dataMu.Lock()
	var uid, source string
	for k, v := range e.pending {
		uid, source = k, v
		break
	}
	if uid == "" {
		e.dataMu.Unlock()
		return
	}
	delete(e.pending, uid)
	if e.metrics != nil {
		e.metrics.PendingRetries.Set(float64(len(e.pending)))
	}
	e.dataMu.Unlock()

	go e.attach(uid, source)
}

// StopMonitoring tears down one strip's capture stream and clears its level.
func (e *Engine) StopMonitoring(uid string) {
	e.dataMu.Lock()
	stream := e.streams[uid]
	delete(e.streams, uid)
	delete(e.pending, uid)
	delete(e.levels, uid)
	if e.metrics != nil {
		e.metrics.ActiveStreams.Set(float64(len(e.streams)))
		e.metrics.PendingRetries.Set(float64(len(e.pending)))
	}
	e.dataMu.Unlock()

	// Close outside the lock: the capture callback takes dataMu.
	if stream != nil {
		if err := stream.Close(); err != nil {
			e.log.Debug("capture close failed", "strip", uid, "error", err)
		}
	}
}

// StopAll tears down every capture stream and clears all state.
func (e *Engine) StopAll() {
	e.dataMu.Lock()
	streams := e.streams
	e.streams = make(map[string]Stream)
	e.levels = make(map[string][2]float64)
	e.pending = make(map[string]string)
	if e.metrics != nil {
		e.metrics.ActiveStreams.Set(0)
		e.metrics.PendingRetries.Set(0)
	}
	e.dataMu.Unlock()

	for uid, stream := range streams {
		if err := stream.Close(); err != nil {
			e.log.Debug("capture close failed", "strip", uid, "error", err)
		}
	}
}

// Levels returns a snapshot copy of the current per-strip levels.
func (e *Engine) Levels() map[string][2]float64 {
	e.dataMu.Lock()
	defer e.dataMu.Unlock()
	out := make(map[string][2]float64, len(e.levels))
	for uid, lv := range e.levels {
		out[uid] = lv
	}
	return out
}
