package relay

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBandwidthTracker_NewWithDefaults(t *testing.T) {
	tracker := NewBandwidthTracker()

	assert.Equal(t, DefaultBandwidthWindowSize, tracker.WindowSize())
	assert.Equal(t, DefaultBandwidthSamplePeriod, tracker.SamplePeriod())
	assert.Equal(t, uint64(0), tracker.TotalBytes())
	assert.Equal(t, 0, tracker.SampleCount())
	assert.Equal(t, uint64(0), tracker.CurrentBps())
}

func TestBandwidthTracker_NewWithInvalidConfig(t *testing.T) {
	tracker := NewBandwidthTrackerWithConfig(0, -time.Second)

	assert.Equal(t, DefaultBandwidthWindowSize, tracker.WindowSize())
	assert.Equal(t, DefaultBandwidthSamplePeriod, tracker.SamplePeriod())
}

func TestBandwidthTracker_Add(t *testing.T) {
	tracker := NewBandwidthTracker()

	tracker.Add(1316)
	tracker.Add(1316)
	tracker.Add(0)
	assert.Equal(t, uint64(2632), tracker.TotalBytes())
}

func TestBandwidthTracker_SampleAndRate(t *testing.T) {
	tracker := NewBandwidthTrackerWithConfig(3, time.Second)
	start := tracker.lastSample

	assert.False(t, tracker.Due(start.Add(500*time.Millisecond)))
	assert.True(t, tracker.Due(start.Add(time.Second)))

	tracker.Add(2000)
	assert.Equal(t, uint64(2000), tracker.Sample(start.Add(time.Second)))
	assert.Equal(t, uint64(2000), tracker.CurrentBps())

	tracker.Add(4000)
	assert.Equal(t, uint64(4000), tracker.Sample(start.Add(2*time.Second)))
	assert.Equal(t, uint64(3000), tracker.CurrentBps())
	assert.Equal(t, 2, tracker.SampleCount())
}

func TestBandwidthTracker_WindowTrim(t *testing.T) {
	tracker := NewBandwidthTrackerWithConfig(2, time.Second)
	start := tracker.lastSample

	tracker.Add(10000)
	tracker.Sample(start.Add(time.Second))
	tracker.Add(1000)
	tracker.Sample(start.Add(2 * time.Second))
	tracker.Add(1000)
	tracker.Sample(start.Add(3 * time.Second))

	assert.Equal(t, 2, tracker.SampleCount())
	assert.Equal(t, uint64(1000), tracker.CurrentBps())
	assert.Equal(t, uint64(12000), tracker.TotalBytes())
}
