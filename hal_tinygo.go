//go:build tinygo

package esphosted

import (
	"machine"

	"log/slog"
)

// NewMachineDevice wires an already-configured machine SPI peripheral and
// the three link GPIOs into a driver. The SPI bus must be configured by the
// caller (mode 2, up to 40MHz per the slave's datasheet); the pins are
// configured here.
func NewMachineDevice(spi machine.SPI, handshake, dataReady, reset machine.Pin, logger *slog.Logger) (*Device, *Control, *Runner) {
	handshake.Configure(machine.PinConfig{Mode: machine.PinInput})
	dataReady.Configure(machine.PinConfig{Mode: machine.PinInput})
	reset.Configure(machine.PinConfig{Mode: machine.PinOutput})
	reset.High()
	// The slave's EN line is active low: asserting reset drives it low.
	resetFn := func(assert bool) { reset.Set(!assert) }
	return New(machineSPI{spi}, handshake.Get, dataReady.Get, resetFn, Config{Logger: logger})
}

// machineSPI adapts the machine SPI peripheral to the driver's bus
// interface. Chip select is managed by the peripheral.
type machineSPI struct {
	spi machine.SPI
}

func (b machineSPI) Tx(w, r []byte) error {
	return b.spi.Tx(w, r)
}
