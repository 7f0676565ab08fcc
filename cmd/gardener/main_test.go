package main

import (
	"context"
	"io/ioutil"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/huangjunwen/repetask/logr/zerologr"
	"github.com/huangjunwen/repetask/taskrunner/limitedrunner"
	"github.com/huangjunwen/repetask/taskrunner/repetitive"
)

func eventually(cond func() bool, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return cond()
}

func TestShutdown(t *testing.T) {
	logger := zerologr.NewJSON(ioutil.Discard)

	newRunners := func(wateringTime time.Duration) ([]*repetitive.Runner, *limitedrunner.LimitedRunner) {
		cfg := &Config{Interval: time.Hour}
		pool := limitedrunner.Must(limitedrunner.MinWorkers(1), limitedrunner.MaxWorkers(2))
		runners := []*repetitive.Runner{}
		for _, name := range []string{"north", "south"} {
			zone := ZoneConfig{
				Name:         name,
				Threshold:    20,
				WateringTime: wateringTime,
				Moisture:     10,
				Decay:        1,
			}
			runners = append(runners, newZoneRunner(zone, cfg, pool, logger))
		}
		return runners, pool
	}

	// Watering outlasts the shutdown timeout: shutdown returns in time.
	{
		assert := assert.New(t)
		runners, pool := newRunners(2 * time.Second)
		for _, r := range runners {
			r.Start()
		}
		for _, r := range runners {
			require.True(t, eventually(func() bool { return r.State() == repetitive.Executing }, time.Second))
		}
		time.Sleep(50 * time.Millisecond)

		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()
		start := time.Now()
		err := shutdown(ctx, runners, pool, logger)
		elapsed := time.Since(start)
		assert.Equal(context.DeadlineExceeded, err)
		assert.True(elapsed < time.Second, "shutdown took %s", elapsed)

		// Cancelled cycles settle well before the watering time.
		for _, r := range runners {
			assert.True(eventually(func() bool { return r.State() == repetitive.Stopped }, time.Second))
		}
	}

	// Watering finishes within the timeout: clean shutdown.
	{
		assert := assert.New(t)
		runners, pool := newRunners(20 * time.Millisecond)
		for _, r := range runners {
			r.Start()
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		assert.NoError(shutdown(ctx, runners, pool, logger))
		for _, r := range runners {
			assert.Equal(repetitive.Stopped, r.State())
		}
	}
}
