package thermode

import (
	"context"
	"math"

	"tprf-host/pkg/clock"
	"tprf-host/pkg/config"
	"tprf-host/pkg/log"
)

var ctlLogger = log.GetLogger("thermode")

// Controller wraps a Device with the policies the runner relies on:
// bounded NaN-retry on readback, the baseline convenience command, and
// close semantics that are safe on every cleanup path. It owns the only
// reference to the device once constructed.
type Controller struct {
	dev        Device
	clk        clock.Clock
	baseline   float64
	simulation bool
	retryCount int
	retryDelay float64

	// retryTotal and exhausted feed the metrics layer.
	retryTotal int64
	exhausted  int64
}

// NewController wraps a device. In simulation the readback retry is
// skipped entirely; the stub's NaN answer is already final.
func NewController(dev Device, clk clock.Clock, stim config.StimConfig, th config.ThermodeConfig) *Controller {
	return &Controller{
		dev:        dev,
		clk:        clk,
		baseline:   stim.BaselineTemp,
		simulation: th.Simulation,
		retryCount: th.RetryCount,
		retryDelay: th.RetryDelay,
	}
}

// SetTemperatures sends targets to the device, fire-and-forget. The
// device's own command latency is the only blocking cost.
func (c *Controller) SetTemperatures(temps [Zones]float64) error {
	return c.dev.SetTemperatures(temps)
}

// GetTemperatures reads the probes, retrying while any zone is NaN, up
// to the configured attempt count with the configured delay between
// attempts. The last attempt's readings are returned even if still NaN;
// persistent NaN is a data-quality matter for QC, not an error. Only a
// transport-level failure propagates.
func (c *Controller) GetTemperatures() ([Zones]float64, error) {
	temps, err := c.dev.GetTemperatures()
	if err != nil || c.simulation || !anyNaN(temps) {
		return temps, err
	}
	for attempt := 1; attempt < c.retryCount; attempt++ {
		c.retryTotal++
		c.clk.Sleep(context.Background(), c.retryDelay)
		temps, err = c.dev.GetTemperatures()
		if err != nil || !anyNaN(temps) {
			return temps, err
		}
	}
	c.exhausted++
	return temps, nil
}

// SetBaseline commands every zone to the configured baseline.
func (c *Controller) SetBaseline() error {
	var temps [Zones]float64
	for z := range temps {
		temps[z] = c.baseline
	}
	return c.SetTemperatures(temps)
}

// Close returns the device to a safe state and releases it: abort (some
// firmware lacks the command; failure is logged and swallowed), then
// baseline, then disconnect. It never panics and never propagates the
// abort error, so deferred cleanup after a mid-block failure cannot mask
// the original problem.
func (c *Controller) Close() error {
	defer func() {
		if r := recover(); r != nil {
			ctlLogger.Errorf("panic during thermode close: %v", r)
		}
	}()
	if err := c.dev.Abort(); err != nil {
		ctlLogger.WithError(err).Warn("abort not supported or failed; continuing cleanup")
	}
	if err := c.SetBaseline(); err != nil {
		ctlLogger.WithError(err).Warn("baseline return failed during close")
	}
	return c.dev.Close()
}

// RetryStats reports readback retries and exhaustions since creation.
func (c *Controller) RetryStats() (retries, exhausted int64) {
	return c.retryTotal, c.exhausted
}

func anyNaN(temps [Zones]float64) bool {
	for _, t := range temps {
		if math.IsNaN(t) {
			return true
		}
	}
	return false
}
