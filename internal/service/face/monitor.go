package face

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/zhouzirui/facechat/backend/internal/metrics"
)

// MonitorConfig tunes a Monitor.
type MonitorConfig struct {
	Interval time.Duration
	Detect   DetectOptions
	// OnChange is called from the polling goroutine when presence flips.
	OnChange func(present bool)
}

// Monitor samples a frame source on a fixed interval and keeps a single
// presence flag. No history is retained.
type Monitor struct {
	source Source
	load   Loader
	cfg    MonitorConfig

	mu        sync.Mutex
	detector  Detector
	present   bool
	lastReady bool
	stopped   bool
}

// NewMonitor returns a monitor that has not started polling yet.
func NewMonitor(source Source, load Loader, cfg MonitorConfig) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.Detect.InputSize <= 0 {
		cfg.Detect = DefaultDetectOptions()
	}
	return &Monitor{source: source, load: load, cfg: cfg}
}

// Run loads the model in the background and polls until ctx is done. The
// ticker and the detector are released on every exit path.
func (m *Monitor) Run(ctx context.Context) error {
	loaded := make(chan struct{})
	go func() {
		defer close(loaded)
		m.loadModel(ctx)
	}()

	ticker := time.NewTicker(m.cfg.Interval)
	defer func() {
		ticker.Stop()
		<-loaded
		m.release()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.tick()
		}
	}
}

// Present reports the presence flag computed on the last sampled tick.
func (m *Monitor) Present() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.present
}

func (m *Monitor) loadModel(ctx context.Context) {
	if m.load == nil {
		log.Printf("[face] no detection model configured")
		return
	}

	log.Printf("[face] loading face detection model...")
	detector, err := m.load(ctx)
	if err != nil {
		log.Printf("[face] error loading face detection model: %v", err)
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		detector.Close()
		return
	}
	m.detector = detector
	log.Printf("[face] face detection model loaded successfully")
}

func (m *Monitor) release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = true
	if m.detector != nil {
		if err := m.detector.Close(); err != nil {
			log.Printf("[face] error releasing detector: %v", err)
		}
		m.detector = nil
	}
}

// tick samples one frame. A frame that is not ready skips the tick without
// touching the presence flag.
func (m *Monitor) tick() {
	frame, ready := m.source.Frame()

	m.mu.Lock()
	readyChanged := ready != m.lastReady
	m.lastReady = ready
	detector := m.detector
	m.mu.Unlock()

	if !ready {
		if readyChanged {
			log.Printf("[face] video not ready, skipping detection")
		}
		metrics.RecordFaceTick(metrics.TickSkipped)
		return
	}

	if detector == nil {
		metrics.RecordFaceTick(metrics.TickError)
		return
	}

	detections, err := detector.Detect(frame, m.cfg.Detect)
	if err != nil {
		log.Printf("[face] error during face detection: %v", err)
		metrics.RecordFaceTick(metrics.TickError)
		return
	}

	present := AnyAbove(detections, m.cfg.Detect.ScoreThreshold)
	if present {
		metrics.RecordFaceTick(metrics.TickPresent)
	} else {
		metrics.RecordFaceTick(metrics.TickAbsent)
	}
	m.setPresent(present)
}

func (m *Monitor) setPresent(present bool) {
	m.mu.Lock()
	changed := m.present != present
	m.present = present
	m.mu.Unlock()

	if changed && m.cfg.OnChange != nil {
		m.cfg.OnChange(present)
	}
}
