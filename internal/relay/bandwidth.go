package relay

import (
	"sync"
	"sync/atomic"
	"time"
)

const (
	// DefaultBandwidthWindowSize is the default number of samples in the rolling average.
	DefaultBandwidthWindowSize = 6

	// DefaultBandwidthSamplePeriod is the default interval between samples.
	DefaultBandwidthSamplePeriod = 10 * time.Second
)

type bandwidthSample struct {
	bytes   uint64
	elapsed time.Duration
}

// BandwidthTracker counts relayed bytes and derives a rolling rate from
// periodic samples. Add is safe to call concurrently with the readers.
type BandwidthTracker struct {
	totalBytes atomic.Uint64

	mu           sync.RWMutex
	samples      []bandwidthSample
	windowSize   int
	samplePeriod time.Duration
	lastSample   time.Time
	lastBytes    uint64
}

// NewBandwidthTracker creates a tracker with the default window.
func NewBandwidthTracker() *BandwidthTracker {
	return NewBandwidthTrackerWithConfig(DefaultBandwidthWindowSize, DefaultBandwidthSamplePeriod)
}

// NewBandwidthTrackerWithConfig creates a tracker keeping windowSize samples
// taken every samplePeriod. Non-positive values fall back to the defaults.
func NewBandwidthTrackerWithConfig(windowSize int, samplePeriod time.Duration) *BandwidthTracker {
	if windowSize <= 0 {
		windowSize = DefaultBandwidthWindowSize
	}
	if samplePeriod <= 0 {
		samplePeriod = DefaultBandwidthSamplePeriod
	}
	return &BandwidthTracker{
		samples:      make([]bandwidthSample, 0, windowSize),
		windowSize:   windowSize,
		samplePeriod: samplePeriod,
		lastSample:   time.Now(),
	}
}

// Add records bytes transferred.
func (t *BandwidthTracker) Add(bytes uint64) {
	t.totalBytes.Add(bytes)
}

// TotalBytes returns the cumulative bytes transferred.
func (t *BandwidthTracker) TotalBytes() uint64 {
	return t.totalBytes.Load()
}

// Due reports whether a sample period has passed since the last sample.
func (t *BandwidthTracker) Due(now time.Time) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return now.Sub(t.lastSample) >= t.samplePeriod
}

// Sample closes the current period at now and returns the bytes it carried.
func (t *BandwidthTracker) Sample(now time.Time) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	current := t.totalBytes.Load()
	s := bandwidthSample{
		bytes:   current - t.lastBytes,
		elapsed: now.Sub(t.lastSample),
	}
	t.samples = append(t.samples, s)
	if len(t.samples) > t.windowSize {
		t.samples = t.samples[len(t.samples)-t.windowSize:]
	}

	t.lastBytes = current
	t.lastSample = now
	return s.bytes
}

// CurrentBps returns the rolling average in bytes per second over the
// measured duration of the sample window.
func (t *BandwidthTracker) CurrentBps() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var bytes uint64
	var elapsed time.Duration
	for _, s := range t.samples {
		bytes += s.bytes
		elapsed += s.elapsed
	}
	if elapsed <= 0 {
		return 0
	}
	return uint64(float64(bytes) / elapsed.Seconds())
}

// WindowSize returns the configured window size.
func (t *BandwidthTracker) WindowSize() int {
	return t.windowSize
}

// SamplePeriod returns the configured sample period.
func (t *BandwidthTracker) SamplePeriod() time.Duration {
	return t.samplePeriod
}

// SampleCount returns the number of samples currently in the window.
func (t *BandwidthTracker) SampleCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.samples)
}
