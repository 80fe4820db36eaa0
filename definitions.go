package esphosted

import (
	"encoding/binary"
	"errors"
	"time"

	"golang.org/x/exp/constraints"
)

// Bus transaction endianess. The slave firmware is little endian.
var _busOrder binary.ByteOrder = binary.LittleEndian

// SPI is the byte-transfer primitive the driver runs on. Tx performs one
// full-duplex transaction clocking out w while reading into r. Implemented
// by machine.SPI on tinygo targets.
type SPI interface {
	Tx(w, r []byte) error
}

// InputPin reads the logical level of a signal line driven by the slave.
type InputPin func() bool

// OutputPin drives the logical level of a signal line owned by the host.
type OutputPin func(bool)

// State is the driver lifecycle state. Transitions happen only on the
// runner/control path; other tasks observe via Device.State.
type State uint8

const (
	// Reset line asserted, slave held in reset.
	StateResetting State = iota
	// Reset released, waiting for the slave to signal boot readiness.
	StateAwaitingBoot
	// Slave booted, control channel usable, not joined to a network.
	StateInitializing
	// Join request acknowledged, waiting for the station-connected event.
	StateJoining
	// Joined, link up, data path active.
	StateReady
	// Terminal failure. Only reconstructing the driver recovers the link.
	StateFaulted
)

func (s State) String() (str string) {
	switch s {
	case StateResetting:
		str = "resetting"
	case StateAwaitingBoot:
		str = "awaiting-boot"
	case StateInitializing:
		str = "initializing"
	case StateJoining:
		str = "joining"
	case StateReady:
		str = "ready"
	case StateFaulted:
		str = "faulted"
	default:
		str = "unknown"
	}
	return str
}

var (
	// ErrBootTimeout means the slave never asserted the ready line within
	// the boot bound. Fatal for the construction attempt.
	ErrBootTimeout = errors.New("esphosted: slave boot timeout")
	// ErrControlBusy means a control command was issued while another was
	// still outstanding. Commands are serialized; retry after completion.
	ErrControlBusy = errors.New("esphosted: control command outstanding")
	// ErrControlTimeout means no correlated response arrived in time.
	ErrControlTimeout = errors.New("esphosted: control response timeout")
	// ErrQueueFull signals backpressure on the outbound packet queue.
	// The caller still owns the packet and should retry later.
	ErrQueueFull = errors.New("esphosted: packet queue full")
	// ErrDeviceFaulted is returned uniformly by all operations once the
	// driver has transitioned to StateFaulted.
	ErrDeviceFaulted = errors.New("esphosted: device faulted")
	// ErrPacketTooLarge rejects payloads exceeding the device MTU.
	ErrPacketTooLarge = errors.New("esphosted: packet exceeds MTU")
	// ErrBus wraps electrical or peripheral-level transfer failures.
	ErrBus = errors.New("esphosted: bus transfer failed")
	// ErrFraming marks a received frame that failed validation. The frame
	// is discarded whole; nothing is delivered upstream.
	ErrFraming = errors.New("esphosted: bad frame")

	errLinkDown       = errors.New("esphosted: link down")
	errControlTooBig  = errors.New("esphosted: control frame too large")
	errNoHardwareAddr = errors.New("esphosted: hardware address not acquired")
)

const (
	// Consecutive bus/framing failures tolerated before faulting.
	busRetryBudget = 3
	// Hold time of the reset line. Also covers supply settling on a cold start.
	defaultResetHold = 100 * time.Millisecond
	// Bound on the slave asserting ready after reset release.
	defaultBootTimeout = 5 * time.Second
	// Bound on a control command receiving its correlated response.
	defaultControlTimeout = time.Second
	// Bound on the station-connected event after a join acknowledge.
	defaultJoinTimeout = 10 * time.Second
	// Handshake/ready line poll cadence when idle. Trade off: the idle poll
	// period is added to worst-case receive latency.
	pinPollInterval = time.Millisecond
)

func errjoin(errs ...error) error {
	n := 0
	for _, err := range errs {
		if err != nil {
			n++
		}
	}
	if n == 0 {
		return nil
	}
	e := &joinError{
		errs: make([]error, 0, n),
	}
	for _, err := range errs {
		if err != nil {
			e.errs = append(e.errs, err)
		}
	}
	return e
}

type joinError struct {
	errs []error
}

func (e *joinError) Error() string {
	var b []byte
	for i, err := range e.errs {
		if i > 0 {
			b = append(b, '\n')
		}
		b = append(b, err.Error()...)
	}
	return string(b)
}

func (e *joinError) Unwrap() []error { return e.errs }

// alignup rounds `val` up to nearest multiple of `align`. `align` must be a power of 2.
func alignup[T constraints.Unsigned](val, align T) T {
	return (val + align - 1) &^ (align - 1)
}

// isaligned checks if `val` is wholly divisible by `align`. `align` must be a power of 2.
func isaligned[T constraints.Unsigned](val, align T) bool {
	return val&(align-1) == 0
}
