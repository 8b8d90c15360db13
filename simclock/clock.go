// Package simclock tracks the simulated calendar as a day offset from a fixed
// start date. One clock instance is created at startup and handed to every
// component that needs the simulated date.
package simclock

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"
)

const DateLayout = "2006-01-02"

// SystemSettings keys.
const (
	KeyEpochMs       = "simulation_epoch_ms"
	KeyStartDate     = "simulation_start_date"
	KeyDayOffset     = "current_day_offset"
	KeySimulatedDate = "current_simulated_date"
)

var ErrNotInitialized = errors.New("simulated clock not initialized")

// Settings is the key/value store the clock persists into.
type Settings interface {
	GetSetting(ctx context.Context, key string) (string, bool, error)
	SetSetting(ctx context.Context, key, value string) error
}

type Clock struct {
	mu          sync.RWMutex
	initialized bool
	epochMs     int64
	start       time.Time
	offset      int
	advancedAt  time.Time
	dayLength   time.Duration
	realNow     func() time.Time
}

// New returns an unanchored clock. dayLength is the real duration of one
// simulated day and only affects Now.
func New(dayLength time.Duration) *Clock {
	return &Clock{dayLength: dayLength, realNow: time.Now}
}

// SetRealTimeSource replaces the wall clock used to interpolate Now.
func (c *Clock) SetRealTimeSource(fn func() time.Time) {
	c.mu.Lock()
	c.realNow = fn
	c.mu.Unlock()
}

// SetStart anchors day offset 0 at 00:00 UTC of startDate.
func (c *Clock) SetStart(epochRealMs int64, startDate string) error {
	d, err := time.Parse(DateLayout, startDate)
	if err != nil {
		return fmt.Errorf("simclock: start date %q: %w", startDate, err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.initialized = true
	c.epochMs = epochRealMs
	c.start = d.UTC()
	c.offset = 0
	c.advancedAt = c.realNow()
	return nil
}

// AdvanceDay moves the clock forward one day and returns the new offset.
func (c *Clock) AdvanceDay() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.initialized {
		return 0, ErrNotInitialized
	}
	c.offset++
	c.advancedAt = c.realNow()
	return c.offset, nil
}

func (c *Clock) Initialized() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.initialized
}

func (c *Clock) Offset() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.offset
}

func (c *Clock) EpochMs() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.epochMs
}

// SimulatedDate returns 00:00 UTC of the current simulated day, or the zero
// time before SetStart.
func (c *Clock) SimulatedDate() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.dayStart()
}

// DateString is SimulatedDate formatted as YYYY-MM-DD.
func (c *Clock) DateString() string {
	d := c.SimulatedDate()
	if d.IsZero() {
		return ""
	}
	return d.Format(DateLayout)
}

// EndOfSimulatedDay returns the last millisecond of the current simulated day.
func (c *Clock) EndOfSimulatedDay() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.initialized {
		return time.Time{}
	}
	return c.dayStart().AddDate(0, 0, 1).Add(-time.Millisecond)
}

// Now returns the simulated instant: the start of the current day plus the
// real time since the last advance, scaled so dayLength spans one day.
// It never passes the end of the current day.
func (c *Clock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.initialized {
		return time.Time{}
	}
	start := c.dayStart()
	if c.dayLength <= 0 {
		return start
	}
	elapsed := c.realNow().Sub(c.advancedAt)
	if elapsed < 0 {
		elapsed = 0
	}
	scaled := time.Duration(float64(elapsed) * float64(24*time.Hour) / float64(c.dayLength))
	end := start.AddDate(0, 0, 1).Add(-time.Millisecond)
	if t := start.Add(scaled); t.Before(end) {
		return t
	}
	return end
}

func (c *Clock) dayStart() time.Time {
	if !c.initialized {
		return time.Time{}
	}
	return c.start.AddDate(0, 0, c.offset)
}

// Persist writes the anchor, offset and derived date to settings.
func (c *Clock) Persist(ctx context.Context, s Settings) error {
	c.mu.RLock()
	if !c.initialized {
		c.mu.RUnlock()
		return ErrNotInitialized
	}
	values := [][2]string{
		{KeyEpochMs, strconv.FormatInt(c.epochMs, 10)},
		{KeyStartDate, c.start.Format(DateLayout)},
		{KeyDayOffset, strconv.Itoa(c.offset)},
		{KeySimulatedDate, c.dayStart().Format(DateLayout)},
	}
	c.mu.RUnlock()

	for _, kv := range values {
		if err := s.SetSetting(ctx, kv[0], kv[1]); err != nil {
			return fmt.Errorf("simclock: persist %s: %w", kv[0], err)
		}
	}
	return nil
}

// Restore loads a previously persisted clock. It reports false, without
// error, when nothing has been persisted yet.
func (c *Clock) Restore(ctx context.Context, s Settings) (bool, error) {
	startDate, ok, err := s.GetSetting(ctx, KeyStartDate)
	if err != nil {
		return false, fmt.Errorf("simclock: restore: %w", err)
	}
	if !ok {
		return false, nil
	}
	start, err := time.Parse(DateLayout, startDate)
	if err != nil {
		return false, fmt.Errorf("simclock: restore start date %q: %w", startDate, err)
	}

	var offset int
	if v, ok, err := s.GetSetting(ctx, KeyDayOffset); err != nil {
		return false, fmt.Errorf("simclock: restore: %w", err)
	} else if ok {
		offset, err = strconv.Atoi(v)
		if err != nil || offset < 0 {
			return false, fmt.Errorf("simclock: invalid day offset %q", v)
		}
	}

	var epochMs int64
	if v, ok, err := s.GetSetting(ctx, KeyEpochMs); err != nil {
		return false, fmt.Errorf("simclock: restore: %w", err)
	} else if ok {
		epochMs, _ = strconv.ParseInt(v, 10, 64)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.initialized = true
	c.epochMs = epochMs
	c.start = start.UTC()
	c.offset = offset
	c.advancedAt = c.realNow()
	return true, nil
}
