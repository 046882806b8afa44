package health

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	defaultInterval    = 10 * time.Second
	defaultSinkTimeout = 2 * time.Second
)

// Sink consumes periodic snapshots. Implementations must be safe for
// repeated calls and honor ctx deadlines.
type Sink interface {
	Consume(ctx context.Context, snap Snapshot) error
}

// QueueGauge exposes the depth of a local queue.
type QueueGauge interface {
	Name() string
	Len() int
}

// Sizer reports how many entries a collection holds.
type Sizer interface {
	Len() int
}

// Config controls the Monitor.
//   - Interval: sampling period (default 10s).
//   - SinkTimeout: per-sink timeout (default 2s).
//   - Domains: optional domain throttle cache to size.
//   - Logger: optional logger for sink failures.
type Config struct {
	Interval    time.Duration
	SinkTimeout time.Duration
	Domains     Sizer
	Logger      *zap.Logger
}

// Monitor samples a Tracker on its own timer. Sink failures are logged and
// never propagate.
type Monitor struct {
	cfg     Config
	tracker *Tracker
	queues  []QueueGauge
	sinks   []Sink
	logger  *zap.Logger
	now     func() time.Time

	startOnce sync.Once
	stopOnce  sync.Once
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// NewMonitor builds a Monitor. Call Start to begin sampling.
func NewMonitor(cfg Config, tracker *Tracker, queues []QueueGauge, sinks ...Sink) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = defaultSinkTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{
		cfg:     cfg,
		tracker: tracker,
		queues:  append([]QueueGauge(nil), queues...),
		sinks:   append([]Sink(nil), sinks...),
		logger:  logger,
		now:     time.Now,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// Start launches the sampling goroutine. Subsequent calls are no-ops.
func (m *Monitor) Start() {
	m.startOnce.Do(func() {
		go m.run()
	})
}

// Stop halts sampling and waits for the goroutine to exit. It is safe to call
// more than once, and before Start.
func (m *Monitor) Stop() {
	started := true
	m.startOnce.Do(func() {
		started = false
	})
	m.stopOnce.Do(func() {
		close(m.stopCh)
	})
	if started {
		<-m.doneCh
	}
}

func (m *Monitor) run() {
	defer close(m.doneCh)
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.Sample(context.Background())
		}
	}
}

// Sample takes one snapshot and delivers it to every sink.
func (m *Monitor) Sample(ctx context.Context) Snapshot {
	running, blocked, terminated := m.tracker.Counts()
	snap := Snapshot{
		At:          m.now(),
		Running:     running,
		Blocked:     blocked,
		Terminated:  terminated,
		QueueDepths: make(map[string]int, len(m.queues)),
	}
	for _, q := range m.queues {
		snap.QueueDepths[q.Name()] = q.Len()
	}
	if m.cfg.Domains != nil {
		snap.ThrottledDomains = m.cfg.Domains.Len()
	}
	for _, sink := range m.sinks {
		sinkCtx, cancel := context.WithTimeout(ctx, m.cfg.SinkTimeout)
		if err := sink.Consume(sinkCtx, snap); err != nil {
			m.logger.Warn("health sink failed", zap.Error(err))
		}
		cancel()
	}
	return snap
}
