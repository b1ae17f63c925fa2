// Package thermode drives the five-zone TCS stimulation device. The
// Device interface is the capability contract the block runner needs;
// the real serial driver and the simulation stub both satisfy it, so the
// control loop is identical with and without hardware.
package thermode

import "math"

// Zones is the number of independently controlled contact points.
const Zones = 5

// Device is the capability contract for the stimulation hardware. The
// single connection is owned by the Controller and touched only from the
// runner's tick loop, so implementations do not need to be goroutine-safe.
type Device interface {
	// SetTemperatures commands target temperatures for all five zones.
	// In follow mode the device ramps toward each new target on its own.
	SetTemperatures(temps [Zones]float64) error

	// GetTemperatures reads the current probe temperatures. Entries may
	// be NaN when the device has no valid reading; that is not an error.
	GetTemperatures() ([Zones]float64, error)

	// Abort stops any active stimulation. Older firmware revisions do
	// not support it; callers on cleanup paths must tolerate failure.
	Abort() error

	// Close releases the connection.
	Close() error
}

// SimDevice is the no-hardware stand-in. Commands are discarded and
// reads return NaN for every zone, which the QC layer excludes from
// aggregation.
type SimDevice struct{}

// NewSimDevice creates a simulation device.
func NewSimDevice() *SimDevice {
	return &SimDevice{}
}

// SetTemperatures discards the command.
func (d *SimDevice) SetTemperatures(temps [Zones]float64) error {
	return nil
}

// GetTemperatures returns five NaNs immediately.
func (d *SimDevice) GetTemperatures() ([Zones]float64, error) {
	var t [Zones]float64
	for i := range t {
		t[i] = math.NaN()
	}
	return t, nil
}

// Abort is a no-op.
func (d *SimDevice) Abort() error {
	return nil
}

// Close is a no-op.
func (d *SimDevice) Close() error {
	return nil
}
