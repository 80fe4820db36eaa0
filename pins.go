package esphosted

import (
	"time"
)

// pins.go contains the link signaling layer: the reset output and the two
// lines the slave drives to gate bus transfers. Pure GPIO, never allocates,
// never touches the bus.

func (d *Device) assertReset()  { d.reset(true) }
func (d *Device) releaseReset() { d.reset(false) }

// hasData is a non-blocking poll of the handshake line: the slave asserts
// it when it has inbound data for the host.
func (d *Device) hasData() bool { return d.handshake() }

// waitReady suspends the calling task until the slave asserts the ready
// line. Returns immediately without any bus transaction if the line is
// already asserted. A zero deadline waits forever; otherwise exceeding it
// fails with ErrBootTimeout.
func (d *Device) waitReady(deadline time.Time) error {
	if d.dataReady() {
		return nil
	}
	for {
		if !deadline.IsZero() && time.Since(deadline) >= 0 {
			return ErrBootTimeout
		}
		time.Sleep(pinPollInterval)
		if d.dataReady() {
			return nil
		}
	}
}
