package esphosted

import (
	"errors"
	"time"

	"log/slog"

	"github.com/soypat/esphosted/hostedprot"
)

// This file is based on control.rs and ioctl.rs from the reference:
// https://github.com/embassy-rs/embassy/tree/main/embassy-net-esp-hosted/src

var (
	errJoinRejected = errors.New("join: request rejected by slave")
	errJoinNoLink   = errors.New("join: no station-connected event")
	errCtrlRejected = errors.New("control: request rejected by slave")
)

// Largest serial payload a control command may occupy. Credentials plus
// headers fit with ample margin.
const maxCtrlPayload = 256

// Control is the handle for explicit init/join/disconnect operations on the
// slave. Commands are serialized: at most one may be outstanding, and they
// observably complete in issue order.
type Control struct {
	d *Device
}

type ctrlResult struct {
	msg hostedprot.ControlMessage
	err error
}

// pendingRequest is an in-flight command awaiting its correlated response.
// Created on submit, destroyed on matched response, timeout or fault.
type pendingRequest struct {
	seq  uint16
	resp chan ctrlResult
}

func (p *pendingRequest) complete(msg hostedprot.ControlMessage, err error) {
	select {
	case p.resp <- ctrlResult{msg: msg, err: err}:
	default:
	}
}

// Init performs the first control exchange with the booted slave and
// acquires its hardware address. On success the driver is ready to join.
func (c *Control) Init() error {
	resp, err := c.sendCommand(hostedprot.MsgInit, nil)
	if err != nil {
		return err
	}
	if resp.Status != hostedprot.StatusOK {
		return errjoin(errCtrlRejected, statusErr(resp.Status))
	}
	return nil
}

// Join connects to the network named ssid. An empty passphrase joins an
// open network. Join returns once the slave acknowledged the request and
// the station-connected event arrived, i.e. the link is up.
func (c *Control) Join(ssid, passphrase string) error {
	var body [2 + hostedprot.MaxSSIDLen + hostedprot.MaxPassphraseLen]byte
	n, err := hostedprot.PutConnectBody(body[:], ssid, passphrase)
	if err != nil {
		return err
	}
	if c.d.logenabled(slog.LevelInfo) {
		c.d.info("join", slog.String("ssid", ssid), slog.Int("passlen", len(passphrase)))
	}
	resp, err := c.sendCommand(hostedprot.MsgConnectAP, body[:n])
	if err != nil {
		return err
	}
	if resp.Status != hostedprot.StatusOK {
		return errjoin(errJoinRejected, statusErr(resp.Status))
	}
	// Acknowledge moves the driver to Joining; the link is only usable
	// after the slave reports the association event.
	deadline := time.Now().Add(c.d.joinTimeout)
	for c.d.State() != StateReady {
		if c.d.State() == StateFaulted {
			return ErrDeviceFaulted
		}
		if time.Since(deadline) >= 0 {
			return errJoinNoLink
		}
		time.Sleep(pinPollInterval)
	}
	return nil
}

// Disconnect leaves the currently joined network.
func (c *Control) Disconnect() error {
	resp, err := c.sendCommand(hostedprot.MsgDisconnectAP, nil)
	if err != nil {
		return err
	}
	if resp.Status != hostedprot.StatusOK {
		return errjoin(errCtrlRejected, statusErr(resp.Status))
	}
	return nil
}

// HardwareAddr returns the slave's MAC address, querying the slave if the
// init exchange did not already report it.
func (c *Control) HardwareAddr() ([6]byte, error) {
	c.d.mu.Lock()
	mac := c.d.mac
	c.d.mu.Unlock()
	if mac != [6]byte{} {
		return mac, nil
	}
	resp, err := c.sendCommand(hostedprot.MsgGetMAC, nil)
	if err != nil {
		return [6]byte{}, err
	}
	if resp.Status != hostedprot.StatusOK {
		return [6]byte{}, errjoin(errCtrlRejected, statusErr(resp.Status))
	}
	mac, err = hostedprot.ParseMACBody(resp.Body)
	if err != nil {
		return [6]byte{}, err
	}
	c.d.mu.Lock()
	c.d.mac = mac
	c.d.mu.Unlock()
	return mac, nil
}

// sendCommand stages a command frame for the runner and suspends the caller
// until the correlated response is observed or the control timeout elapses.
// A second call while one command is outstanding fails with ErrControlBusy.
func (c *Control) sendCommand(id hostedprot.MessageID, body []byte) (hostedprot.ControlMessage, error) {
	d := c.d
	var payload [maxCtrlPayload]byte

	d.mu.Lock()
	if d.State() == StateFaulted {
		d.mu.Unlock()
		return hostedprot.ControlMessage{}, ErrDeviceFaulted
	}
	if d.pending != nil {
		d.mu.Unlock()
		return hostedprot.ControlMessage{}, ErrControlBusy
	}
	d.ctrlSeq++
	seq := d.ctrlSeq
	msg := hostedprot.ControlMessage{
		Kind: hostedprot.KindRequest,
		ID:   uint8(id),
		Seq:  seq,
		Body: body,
	}
	n, err := msg.PutTLV(_busOrder, payload[:])
	if err != nil {
		d.mu.Unlock()
		return hostedprot.ControlMessage{}, errjoin(errControlTooBig, err)
	}
	flen, err := hostedprot.PutFrame(_busOrder, d.ctrlFrame[:], hostedprot.IfaceSerial, seq, payload[:n])
	if err != nil {
		d.mu.Unlock()
		return hostedprot.ControlMessage{}, errjoin(errControlTooBig, err)
	}
	d.ctrlLen = flen
	p := &pendingRequest{seq: seq, resp: make(chan ctrlResult, 1)}
	d.pending = p
	d.mu.Unlock()

	if d.logenabled(slog.LevelDebug) {
		d.debug("sendCommand", slog.String("cmd", id.String()), slog.Uint64("seq", uint64(seq)), slog.Int("bodylen", len(body)))
	}
	d.kickRunner()

	timeout := time.NewTimer(d.controlTimeout)
	defer timeout.Stop()
	select {
	case res := <-p.resp:
		return res.msg, res.err
	case <-timeout.C:
		// Retract the request; a late response will be logged and dropped.
		d.mu.Lock()
		if d.pending == p {
			d.pending = nil
			d.ctrlLen = 0
		}
		d.mu.Unlock()
		// Completion may have raced the timer.
		select {
		case res := <-p.resp:
			return res.msg, res.err
		default:
		}
		return hostedprot.ControlMessage{}, ErrControlTimeout
	}
}

type statusError int32

func (e statusError) Error() string {
	switch int32(e) {
	case hostedprot.StatusFail:
		return "slave status: generic failure"
	case hostedprot.StatusInvalidArg:
		return "slave status: invalid argument"
	case hostedprot.StatusOutOfRange:
		return "slave status: out of range"
	case hostedprot.StatusNotConnected:
		return "slave status: not connected"
	}
	return "slave status: unknown"
}

func statusErr(status int32) error { return statusError(status) }
