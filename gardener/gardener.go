// Package gardener waters a garden zone when its soil is too dry. Gardener is
// a repetitive.Worker: each cycle reads the soil moisture and, when it is below
// Threshold, opens the valve for WateringTime.
package gardener

import (
	"context"
	"time"

	perrors "github.com/pkg/errors"

	"github.com/huangjunwen/repetask/taskrunner/repetitive"
)

const (
	// DefaultThreshold is the default moisture level (percent) below which to water.
	DefaultThreshold = 20.0

	// DefaultWateringTime is the default time the valve is kept open.
	DefaultWateringTime = 5 * time.Minute
)

// Sensor reads soil moisture in percent.
type Sensor interface {
	SoilMoisture(ctx context.Context) (float64, error)
}

// Valve controls the water.
type Valve interface {
	TurnOn(ctx context.Context) error
	TurnOff(ctx context.Context) error
}

// Gardener implements repetitive.Worker.
type Gardener struct {
	Sensor Sensor
	Valve  Valve

	// Threshold in percent, DefaultThreshold if zero.
	Threshold float64

	// WateringTime is DefaultWateringTime if zero.
	WateringTime time.Duration
}

var (
	_ repetitive.Worker    = (*Gardener)(nil)
	_ repetitive.Describer = (*Gardener)(nil)
)

// Fetch returns the moisture level if the soil needs water, nil otherwise.
func (g *Gardener) Fetch(ctx context.Context) (interface{}, error) {
	level, err := g.Sensor.SoilMoisture(ctx)
	if err != nil {
		return nil, perrors.Wrap(err, "Read soil moisture error")
	}
	if level < g.threshold() {
		return level, nil
	}
	return nil, nil
}

// Process opens the valve for WateringTime. Watering ends early when ctx is
// done, which is the case when the runner is stopped with a deadline that
// expires before the watering ends. The valve is always turned off before
// returning.
func (g *Gardener) Process(ctx context.Context, task interface{}) (err error) {
	if err := g.Valve.TurnOn(ctx); err != nil {
		return perrors.Wrap(err, "Turn on water error")
	}
	defer func() {
		// ctx may be done already, the valve must be closed anyway.
		if offErr := g.Valve.TurnOff(context.Background()); offErr != nil && err == nil {
			err = perrors.Wrap(offErr, "Turn off water error")
		}
	}()

	timer := time.NewTimer(g.wateringTime())
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Describe adds moisture level to the log.
func (g *Gardener) Describe(task interface{}) []interface{} {
	return []interface{}{"moisture", task, "threshold", g.threshold()}
}

func (g *Gardener) threshold() float64 {
	if g.Threshold != 0 {
		return g.Threshold
	}
	return DefaultThreshold
}

func (g *Gardener) wateringTime() time.Duration {
	if g.WateringTime != 0 {
		return g.WateringTime
	}
	return DefaultWateringTime
}
