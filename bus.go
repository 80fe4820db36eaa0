package esphosted

import (
	"time"

	"log/slog"

	"github.com/soypat/esphosted/hostedprot"
)

// bus.go contains the SPI frame transport. The bus has a single logical
// owner: only the runner task calls into this file, so transactions are
// serialized by construction and nothing can interleave mid-transfer.

// txStaged describes what the staged tx buffer carries so it can be
// consumed only after the bus transaction succeeds.
type txStaged uint8

const (
	txNone txStaged = iota
	txControl
	txData
)

// spiWordSize is the slave DMA word granularity. The tail of a staged
// frame is padded to this boundary.
const spiWordSize = 4

// stageTx assembles the next outbound frame into d._txBuf. Control frames
// take priority over data per the command-serialization guarantee. Returns
// what was staged; on txNone the buffer holds an idle (all-zero) header so
// the slave sees an empty exchange.
func (d *Device) stageTx() txStaged {
	d.mu.Lock()
	if d.ctrlLen > 0 {
		n := copy(d._txBuf[:], d.ctrlFrame[:d.ctrlLen])
		d.ctrlStagedSeq = d.ctrlSeq
		d.mu.Unlock()
		d.padTx(n)
		return txControl
	}
	d.mu.Unlock()
	if payload, ok := d.txq.peek(); ok {
		seq := d.txSeq
		n, err := hostedprot.PutFrame(_busOrder, d._txBuf[:], hostedprot.IfaceSta, seq, payload)
		if err != nil {
			// Queue-accepted payloads always fit a frame.
			d.logerr("stageTx:data", slog.String("err", err.Error()))
			d.txq.pop()
			return txNone
		}
		d.padTx(n)
		return txData
	}
	for i := range d._txBuf[:hostedprot.PayloadHeaderLen] {
		d._txBuf[i] = 0
	}
	return txNone
}

// padTx zeroes the tx buffer from n up to the next word boundary so stale
// bytes of a longer previous frame never share the final DMA word. Bytes
// past the padded word are ignored by the slave, which reads the declared
// length.
func (d *Device) padTx(n int) {
	if isaligned(uint(n), spiWordSize) {
		return
	}
	end := alignup(uint(n), spiWordSize)
	for i := uint(n); i < end; i++ {
		d._txBuf[i] = 0
	}
}

// consumeTx releases the staged frame after a successful transaction. A
// control slot is only released while it still holds the frame that was
// staged: if the command was retracted on timeout and a successor staged
// its own frame mid-exchange, that frame stays queued for the next
// transfer.
func (d *Device) consumeTx(staged txStaged) {
	switch staged {
	case txControl:
		d.mu.Lock()
		if d.ctrlSeq == d.ctrlStagedSeq {
			d.ctrlLen = 0
		}
		d.mu.Unlock()
	case txData:
		d.txq.pop()
		d.txSeq++
	}
}

// exchange performs one exclusive full-duplex transaction of the fixed
// frame size: d._txBuf out, d._rxBuf in. The ready line gates the start of
// the transfer; the wait is unbounded in steady state.
func (d *Device) exchange() error {
	err := d.waitReady(time.Time{})
	if err != nil {
		return err
	}
	d.trace("exchange")
	err = d.spi.Tx(d._txBuf[:], d._rxBuf[:])
	if err != nil {
		return errjoin(ErrBus, err)
	}
	return nil
}

// parseRx validates the received buffer. A zero header means the slave had
// nothing to send. Validation failures wrap ErrFraming: the frame is
// discarded whole and the parser state carries nothing over, so the next
// transfer starts clean.
func (d *Device) parseRx() (hdr hostedprot.PayloadHeader, payload []byte, err error) {
	hdr, payload, err = hostedprot.ParseFrame(_busOrder, d._rxBuf[:])
	if err != nil {
		return hdr, nil, errjoin(ErrFraming, err)
	}
	return hdr, payload, nil
}
