package esphosted

import (
	"sync"
	"sync/atomic"
	"time"

	"log/slog"

	"github.com/soypat/esphosted/hostedprot"
)

// Device is the virtual network device half of an ESP-Hosted driver. It
// exposes the packet send/receive surface an IP stack drives; the bus side
// is serviced by the Runner returned from the same New call.
type Device struct {
	mu        sync.Mutex
	spi       SPI
	reset     OutputPin
	handshake InputPin
	dataReady InputPin

	state atomic.Uint32 // holds a State; written under mu, read lock-free.
	fault error         // first fatal error, set once with StateFaulted.

	mac    [6]byte
	txSeq  uint16
	rcvEth func(pkt []byte) error

	// Control plane. One outstanding request at a time; the staged frame
	// is picked up by the runner on its next transfer.
	pending   *pendingRequest
	ctrlSeq   uint16
	ctrlFrame [hostedprot.MaxFrameLen]byte
	ctrlLen   int
	// Seq of the command whose frame was last copied to the tx buffer.
	// consumeTx releases ctrlLen only while it still matches ctrlSeq, so a
	// command staged after a timeout retraction is never discarded by the
	// retracted command's in-flight exchange.
	ctrlStagedSeq uint16
	ctrlResp      [maxCtrlPayload]byte

	// Packet rings. The runner is sole consumer of txq and sole producer
	// of rxq; the stack side owns the other ends.
	txq packetQueue
	rxq packetQueue
	// Inbound data frames dropped because rxq was full. The handshake loop
	// must never stall on a slow consumer, so these are counted, not queued.
	droppedRx atomic.Uint32

	// Transfer buffers. Fixed size: every bus transaction clocks
	// hostedprot.MaxFrameLen bytes each way.
	_txBuf [hostedprot.MaxFrameLen]byte
	_rxBuf [hostedprot.MaxFrameLen]byte

	kick chan struct{}

	resetHold      time.Duration
	bootTimeout    time.Duration
	controlTimeout time.Duration
	joinTimeout    time.Duration

	logger *slog.Logger
}

type Config struct {
	Logger *slog.Logger
	// BootTimeout bounds the wait for the slave's ready line after reset
	// release. Zero selects the default.
	BootTimeout time.Duration
	// ControlTimeout bounds the wait for a correlated control response.
	ControlTimeout time.Duration
	// JoinTimeout bounds the wait for the station-connected event after a
	// join acknowledge.
	JoinTimeout time.Duration
	// ResetHold is how long the reset line is held asserted.
	ResetHold time.Duration
}

// New assembles a driver around the bus and the three signal lines and
// returns its three faces: the network device consumed by an IP stack, the
// control handle for init/join/disconnect, and the runner whose Run method
// must be serviced by a dedicated task for the lifetime of the device.
//
// Reference: https://github.com/embassy-rs/embassy/blob/main/embassy-net-esp-hosted/src/lib.rs
func New(spi SPI, handshake, dataReady InputPin, reset OutputPin, cfg Config) (*Device, *Control, *Runner) {
	d := &Device{
		spi:            spi,
		reset:          reset,
		handshake:      handshake,
		dataReady:      dataReady,
		kick:           make(chan struct{}, 1),
		resetHold:      cfg.ResetHold,
		bootTimeout:    cfg.BootTimeout,
		controlTimeout: cfg.ControlTimeout,
		joinTimeout:    cfg.JoinTimeout,
		logger:         cfg.Logger,
	}
	if d.resetHold == 0 {
		d.resetHold = defaultResetHold
	}
	if d.bootTimeout == 0 {
		d.bootTimeout = defaultBootTimeout
	}
	if d.controlTimeout == 0 {
		d.controlTimeout = defaultControlTimeout
	}
	if d.joinTimeout == 0 {
		d.joinTimeout = defaultJoinTimeout
	}
	d.state.Store(uint32(StateResetting))
	return d, &Control{d: d}, &Runner{d: d}
}

// State returns the current driver state. Safe to call from any task.
func (d *Device) State() State { return State(d.state.Load()) }

// Faulted reports whether the device reached its terminal failure state
// and the error that put it there.
func (d *Device) Faulted() (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.State() == StateFaulted, d.fault
}

// DroppedRx returns the count of inbound data frames discarded because the
// receive queue was full.
func (d *Device) DroppedRx() uint32 { return d.droppedRx.Load() }

func (d *Device) lock()   { d.mu.Lock() }
func (d *Device) unlock() { d.mu.Unlock() }

// setState must be called with d.mu held.
func (d *Device) setState(s State) {
	old := d.State()
	if old == StateFaulted {
		return // Terminal.
	}
	d.state.Store(uint32(s))
	if old != s {
		d.debug("state", slog.String("from", old.String()), slog.String("to", s.String()))
	}
}

// faultLocked records the first fatal error and makes the failure the only
// externally observable signal. Must be called with d.mu held.
func (d *Device) faultLocked(err error) {
	if d.State() == StateFaulted {
		return
	}
	d.fault = err
	d.state.Store(uint32(StateFaulted))
	d.logerr("faulted", slog.String("err", err.Error()))
	// Fail the waiter immediately rather than letting it time out.
	if d.pending != nil {
		d.pending.complete(hostedprot.ControlMessage{}, ErrDeviceFaulted)
		d.pending = nil
		d.ctrlLen = 0
	}
}

// kickRunner wakes the runner's idle wait. Non-blocking: a pending kick is
// as good as many.
func (d *Device) kickRunner() {
	select {
	case d.kick <- struct{}{}:
	default:
	}
}
