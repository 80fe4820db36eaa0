package esphosted

import (
	"sync"
	"testing"
	"time"

	"github.com/soypat/esphosted/hostedprot"
)

// simPeer is a scripted ESP-Hosted slave living behind the SPI and signal
// line interfaces, in the spirit of the stub driver used for host tests.
type simPeer struct {
	mu sync.Mutex

	ready    bool
	inReset  bool
	noBoot   bool // Never assert ready after reset release.
	manual   bool // Disable the automatic control responder.
	macAddr  [6]byte
	rejectAP bool // Respond to connect-AP with a failure status.

	txErrs   []error // Injected bus failures, consumed one per transfer.
	txCount  int
	out      [][]byte // Frames pending delivery to the host, in order.
	gotData  [][]byte // Sta payloads received from the host.
	gotCreds []string // "ssid/pass" from connect-AP requests.
	lastSeq  uint16   // Seq of the last control request seen.
	scratch  [hostedprot.MaxFrameLen]byte
	// When set, each Tx first receives a token before touching the bus;
	// closing the channel releases all later transfers.
	gate chan struct{}
}

func newSimPeer() *simPeer {
	return &simPeer{macAddr: [6]byte{0x02, 0xad, 0xbe, 0xef, 0x00, 0x01}}
}

// Signal line and reset plumbing handed to New.
func (p *simPeer) handshakePin() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.out) > 0
}

func (p *simPeer) readyPin() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ready
}

func (p *simPeer) resetPin(assert bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if assert {
		p.inReset = true
		p.ready = false
		return
	}
	if p.inReset {
		p.inReset = false
		p.ready = !p.noBoot // Boot is instantaneous in simulation.
	}
}

// Tx implements the SPI interface: one full-duplex fixed-size exchange.
func (p *simPeer) Tx(w, r []byte) error {
	p.mu.Lock()
	gate := p.gate
	p.mu.Unlock()
	if gate != nil {
		<-gate
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.txCount++
	if len(p.txErrs) > 0 {
		err := p.txErrs[0]
		p.txErrs = p.txErrs[1:]
		return err
	}
	// Capture the host's frame. Parse from a copy: ParseFrame scribbles on
	// the checksum field while validating.
	n := copy(p.scratch[:], w)
	hdr, payload, err := hostedprot.ParseFrame(_busOrder, p.scratch[:n])
	if err == nil && !hdr.IsEmpty() {
		switch hdr.IfType() {
		case hostedprot.IfaceSta:
			p.gotData = append(p.gotData, append([]byte(nil), payload...))
		case hostedprot.IfaceSerial:
			p.handleSerial(payload)
		}
	}
	// Clock out the oldest pending frame, or zeros when idle.
	for i := range r {
		r[i] = 0
	}
	if len(p.out) > 0 {
		copy(r, p.out[0])
		p.out = p.out[1:]
	}
	return nil
}

// handleSerial runs the automatic control responder. Callers hold p.mu.
func (p *simPeer) handleSerial(payload []byte) {
	_, raw, err := hostedprot.ParseTLV(_busOrder, payload)
	if err != nil {
		return
	}
	msg, err := hostedprot.DecodeControlMessage(_busOrder, raw)
	if err != nil || msg.Kind != hostedprot.KindRequest {
		return
	}
	p.lastSeq = msg.Seq
	if p.manual {
		return
	}
	switch hostedprot.MessageID(msg.ID) {
	case hostedprot.MsgInit:
		p.respondLocked(msg.Seq, msg.ID, hostedprot.StatusOK, p.macAddr[:])
	case hostedprot.MsgConnectAP:
		ssid, pass, err := hostedprot.ParseConnectBody(msg.Body)
		if err != nil {
			p.respondLocked(msg.Seq, msg.ID, hostedprot.StatusInvalidArg, nil)
			return
		}
		p.gotCreds = append(p.gotCreds, ssid+"/"+pass)
		if p.rejectAP {
			p.respondLocked(msg.Seq, msg.ID, hostedprot.StatusFail, nil)
			return
		}
		p.respondLocked(msg.Seq, msg.ID, hostedprot.StatusOK, nil)
		p.queueEventLocked(hostedprot.EvStationConnected, nil)
	case hostedprot.MsgDisconnectAP:
		p.respondLocked(msg.Seq, msg.ID, hostedprot.StatusOK, nil)
		p.queueEventLocked(hostedprot.EvStationDisconnected, nil)
	case hostedprot.MsgGetMAC:
		p.respondLocked(msg.Seq, msg.ID, hostedprot.StatusOK, p.macAddr[:])
	}
}

func (p *simPeer) respondLocked(seq uint16, id uint8, status int32, body []byte) {
	p.out = append(p.out, serialFrame(hostedprot.ControlMessage{
		Kind:   hostedprot.KindResponse,
		ID:     id,
		Seq:    seq,
		Status: status,
		Body:   body,
	}))
}

func (p *simPeer) queueEventLocked(ev hostedprot.EventID, body []byte) {
	p.out = append(p.out, serialFrame(hostedprot.ControlMessage{
		Kind: hostedprot.KindEvent,
		ID:   uint8(ev),
		Body: body,
	}))
}

// Test-facing queueing helpers.
func (p *simPeer) queueData(payload []byte) {
	frame := make([]byte, hostedprot.MaxFrameLen)
	n, err := hostedprot.PutFrame(_busOrder, frame, hostedprot.IfaceSta, 0, payload)
	if err != nil {
		panic(err.Error())
	}
	p.mu.Lock()
	p.out = append(p.out, frame[:n])
	p.mu.Unlock()
}

func (p *simPeer) queueRaw(frame []byte) {
	p.mu.Lock()
	p.out = append(p.out, append([]byte(nil), frame...))
	p.mu.Unlock()
}

func (p *simPeer) queueResponse(seq uint16, id uint8, status int32, body []byte) {
	p.mu.Lock()
	p.respondLocked(seq, id, status, body)
	p.mu.Unlock()
}

func (p *simPeer) dataReceived() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][]byte(nil), p.gotData...)
}

func (p *simPeer) transfers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.txCount
}

func (p *simPeer) lastRequestSeq() uint16 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastSeq
}

func (p *simPeer) injectBusErrors(err error, n int) {
	p.mu.Lock()
	for i := 0; i < n; i++ {
		p.txErrs = append(p.txErrs, err)
	}
	p.mu.Unlock()
}

func serialFrame(msg hostedprot.ControlMessage) []byte {
	var payload [maxCtrlPayload]byte
	n, err := msg.PutTLV(_busOrder, payload[:])
	if err != nil {
		panic(err.Error())
	}
	frame := make([]byte, hostedprot.MaxFrameLen)
	fn, err := hostedprot.PutFrame(_busOrder, frame, hostedprot.IfaceSerial, msg.Seq, payload[:n])
	if err != nil {
		panic(err.Error())
	}
	return frame[:fn]
}

// oversizedFrame builds a frame whose declared length exceeds the maximum
// buffer capacity.
func oversizedFrame() []byte {
	frame := make([]byte, hostedprot.MaxFrameLen)
	hdr := hostedprot.NewPayloadHeader(hostedprot.IfaceSta, 0, 0)
	hdr.Len = hostedprot.MaxPayloadLen + 1
	hdr.Put(_busOrder, frame)
	return frame
}

func testConfig() Config {
	return Config{
		ResetHold:      time.Millisecond,
		BootTimeout:    200 * time.Millisecond,
		ControlTimeout: 300 * time.Millisecond,
		JoinTimeout:    time.Second,
	}
}

// newTestDevice wires a driver to a fresh simulated peer and starts the
// runner task.
func newTestDevice(t *testing.T, peer *simPeer) (*Device, *Control, *simPeer) {
	t.Helper()
	if peer == nil {
		peer = newSimPeer()
	}
	dev, ctl, runner := New(peer, peer.handshakePin, peer.readyPin, peer.resetPin, testConfig())
	go runner.Run()
	return dev, ctl, peer
}

// waitState blocks until the device reaches want or the deadline passes.
func waitState(t *testing.T, d *Device, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for d.State() != want {
		if time.Since(deadline) >= 0 {
			t.Fatalf("timeout waiting for state %s, have %s", want, d.State())
		}
		time.Sleep(time.Millisecond)
	}
}
