package esphosted

import (
	"time"

	"log/slog"

	"github.com/soypat/esphosted/hostedprot"
)

// This file is based on runner.rs from the reference:
// https://github.com/embassy-rs/embassy/blob/main/embassy-net-esp-hosted/src/lib.rs

// Runner owns the transport run loop. Exactly one task must call Run for
// the lifetime of the device; every bus transaction happens on that task.
type Runner struct {
	d *Device
}

// Run drives the reset and boot sequence, then services the link until a
// transport fault. It only returns on failure: the returned error is the
// fault that made the device permanently unusable (ErrBootTimeout when the
// slave never signalled boot, or the bus/framing error that exhausted the
// retry budget).
func (r *Runner) Run() error {
	d := r.d
	err := r.bringup()
	if err != nil {
		d.mu.Lock()
		d.faultLocked(err)
		d.mu.Unlock()
		return err
	}

	idle := time.NewTimer(pinPollInterval)
	defer idle.Stop()
	consecutive := 0
	for {
		if d.State() == StateFaulted {
			d.mu.Lock()
			err = d.fault
			d.mu.Unlock()
			return err
		}
		if !r.hasWork() {
			// Yield until the slave raises handshake or a producer kicks.
			idle.Reset(pinPollInterval)
			select {
			case <-d.kick:
				if !idle.Stop() {
					<-idle.C
				}
			case <-idle.C:
			}
			continue
		}
		err = r.serviceOnce()
		if err == nil {
			consecutive = 0
			continue
		}
		consecutive++
		d.warn("transfer", slog.String("err", err.Error()), slog.Int("consecutive", consecutive))
		if consecutive > busRetryBudget {
			d.mu.Lock()
			d.faultLocked(err)
			d.mu.Unlock()
			return err
		}
	}
}

// bringup performs the reset sequence and waits for the slave's boot
// signal. No bus transaction happens before the ready line asserts.
func (r *Runner) bringup() error {
	d := r.d
	d.mu.Lock()
	d.setState(StateResetting)
	d.mu.Unlock()
	d.assertReset()
	time.Sleep(d.resetHold)
	d.releaseReset()
	d.mu.Lock()
	d.setState(StateAwaitingBoot)
	d.mu.Unlock()

	start := time.Now()
	err := d.waitReady(start.Add(d.bootTimeout))
	if err != nil {
		return err
	}
	d.info("bringup:ready", slog.Duration("took", time.Since(start)))
	return nil
}

// hasWork reports whether a transfer should be initiated: the slave has
// inbound data, or we have a control frame or outbound packet to send.
func (r *Runner) hasWork() bool {
	d := r.d
	if d.hasData() || !d.txq.empty() {
		return true
	}
	d.mu.Lock()
	ctrl := d.ctrlLen > 0
	d.mu.Unlock()
	return ctrl
}

// serviceOnce executes one combined send/receive bus transaction and
// distributes the result.
func (r *Runner) serviceOnce() error {
	d := r.d
	staged := d.stageTx()
	err := d.exchange()
	if err != nil {
		return err
	}
	d.consumeTx(staged)
	hdr, payload, err := d.parseRx()
	if err != nil {
		return err
	}
	if hdr.IsEmpty() {
		return nil
	}
	r.dispatch(hdr, payload)
	return nil
}

// dispatch classifies a received frame and hands it to the control channel
// or the inbound packet queue. Never blocks: a full inbound queue drops the
// frame and counts it so link servicing cannot stall on a slow consumer.
func (r *Runner) dispatch(hdr hostedprot.PayloadHeader, payload []byte) {
	d := r.d
	switch hdr.IfType() {
	case hostedprot.IfaceSerial:
		r.routeSerial(payload)
	case hostedprot.IfaceSta:
		err := d.rxq.enqueue(payload)
		if err != nil {
			d.droppedRx.Add(1)
			if d.logenabled(slog.LevelWarn) {
				d.warn("rx:drop", slog.Int("len", len(payload)), slog.Uint64("dropped", uint64(d.droppedRx.Load())))
			}
		}
	case hostedprot.IfacePriv:
		d.trace("rx:priv", slog.Int("len", len(payload)))
	default:
		d.warn("rx:unsupported-iface", slog.String("iface", hdr.IfType().String()))
	}
}

// routeSerial decodes a control-plane payload and completes the pending
// request or applies the event. Malformed serial payloads inside a valid
// frame are logged and dropped without counting against the bus budget.
func (r *Runner) routeSerial(payload []byte) {
	d := r.d
	endpoint, raw, err := hostedprot.ParseTLV(_busOrder, payload)
	if err != nil {
		d.warn("serial:tlv", slog.String("err", err.Error()))
		return
	}
	msg, err := hostedprot.DecodeControlMessage(_busOrder, raw)
	if err != nil {
		d.warn("serial:decode", slog.String("err", err.Error()))
		return
	}
	if d.logenabled(slog.LevelDebug) {
		d.debug("serial:rx",
			slog.String("endpoint", string(endpoint)),
			slog.String("kind", msg.Kind.String()),
			slog.Uint64("seq", uint64(msg.Seq)),
		)
	}
	switch msg.Kind {
	case hostedprot.KindResponse:
		r.completeResponse(msg)
	case hostedprot.KindEvent:
		r.handleEvent(msg)
	default:
		d.warn("serial:unexpected-kind", slog.String("kind", msg.Kind.String()))
	}
}

// completeResponse correlates a response with the pending request by
// sequence identifier and wakes the suspended caller. Responses nobody is
// waiting for (late arrivals after a timeout) are dropped.
func (r *Runner) completeResponse(msg hostedprot.ControlMessage) {
	d := r.d
	d.mu.Lock()
	defer d.mu.Unlock()
	p := d.pending
	if p == nil || p.seq != msg.Seq {
		d.warn("serial:unmatched-response", slog.Uint64("seq", uint64(msg.Seq)))
		return
	}
	// Copy the body out of the transfer buffer before handing it over; the
	// buffer is reused on the next transaction.
	n := copy(d.ctrlResp[:], msg.Body)
	msg.Body = d.ctrlResp[:n]
	if msg.Status == hostedprot.StatusOK {
		switch hostedprot.MessageID(msg.ID) {
		case hostedprot.MsgInit:
			if mac, err := hostedprot.ParseMACBody(msg.Body); err == nil {
				d.mac = mac
			}
			if d.State() == StateAwaitingBoot {
				d.setState(StateInitializing)
			}
		case hostedprot.MsgConnectAP:
			if d.State() == StateInitializing {
				d.setState(StateJoining)
			}
		case hostedprot.MsgDisconnectAP:
			if d.State() == StateReady || d.State() == StateJoining {
				d.setState(StateInitializing)
			}
		}
	}
	d.pending = nil
	p.complete(msg, nil)
}

// handleEvent applies an unsolicited slave event to the driver state.
func (r *Runner) handleEvent(msg hostedprot.ControlMessage) {
	d := r.d
	d.mu.Lock()
	defer d.mu.Unlock()
	ev := hostedprot.EventID(msg.ID)
	d.debug("event", slog.String("ev", ev.String()))
	switch ev {
	case hostedprot.EvInitDone:
		if mac, err := hostedprot.ParseMACBody(msg.Body); err == nil {
			d.mac = mac
		}
	case hostedprot.EvStationConnected:
		if d.State() == StateJoining {
			d.setState(StateReady)
		}
	case hostedprot.EvStationDisconnected:
		if d.State() == StateReady {
			d.warn("link lost")
			d.setState(StateInitializing)
		}
	default:
		d.warn("event:unknown", slog.Uint64("id", uint64(msg.ID)))
	}
}
