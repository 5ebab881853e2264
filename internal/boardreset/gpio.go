// Package boardreset pulses a GPIO line to reset the concentrator board
// before the HAL is started, following the concentrator's own reset
// sequence: output high, low, high, low, with a fixed settle margin
// between transitions.
package boardreset

import (
	"time"

	"github.com/pkg/errors"
	"github.com/stianeikeland/go-rpio/v4"
)

const settleMargin = 100 * time.Millisecond

// Pin resets the concentrator by toggling the GPIO line identified by
// pinNumber. It is a no-op error path on platforms without accessible
// GPIO memory (e.g. when running against a simulated HAL).
func Pin(pinNumber int) error {
	if err := rpio.Open(); err != nil {
		return errors.Wrap(err, "couldn't get GPIO access")
	}
	defer rpio.Close()

	pin := rpio.Pin(uint8(pinNumber))
	pin.Output()
	pin.High()
	time.Sleep(settleMargin)
	pin.Low()
	time.Sleep(settleMargin)
	pin.High()
	time.Sleep(settleMargin)
	pin.Low()
	time.Sleep(settleMargin)

	return nil
}
