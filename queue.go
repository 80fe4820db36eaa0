package esphosted

import (
	"sync/atomic"

	"github.com/soypat/esphosted/hostedprot"
)

// queueDepth is the slot count of each packet ring. Must be a power of 2.
const queueDepth = 4

// packetQueue is a single-producer single-consumer ring of statically
// allocated buffer slots. The producer only writes tail, the consumer only
// writes head, so no lock is needed: slot ownership transfers exactly once
// per packet on the atomic index store.
type packetQueue struct {
	head atomic.Uint32 // next slot to consume.
	tail atomic.Uint32 // next slot to produce.
	lens [queueDepth]uint16
	bufs [queueDepth][hostedprot.MaxPayloadLen]byte
}

func (q *packetQueue) empty() bool {
	return q.head.Load() == q.tail.Load()
}

func (q *packetQueue) len() int {
	return int(q.tail.Load() - q.head.Load())
}

// enqueue copies pkt into the next free slot. Returns ErrQueueFull as
// backpressure when no slot is free; the packet is never dropped silently.
func (q *packetQueue) enqueue(pkt []byte) error {
	if len(pkt) > hostedprot.MaxPayloadLen {
		return ErrPacketTooLarge
	}
	head, tail := q.head.Load(), q.tail.Load()
	if tail-head >= queueDepth {
		return ErrQueueFull
	}
	slot := tail % queueDepth
	copy(q.bufs[slot][:], pkt)
	q.lens[slot] = uint16(len(pkt))
	q.tail.Store(tail + 1) // Publish; slot now owned by consumer.
	return nil
}

// peek returns the oldest packet without consuming it. The returned slice
// aliases the slot buffer and is valid until pop.
func (q *packetQueue) peek() ([]byte, bool) {
	head, tail := q.head.Load(), q.tail.Load()
	if head == tail {
		return nil, false
	}
	slot := head % queueDepth
	return q.bufs[slot][:q.lens[slot]], true
}

// pop consumes the oldest packet. Call only after a successful peek.
func (q *packetQueue) pop() {
	q.head.Store(q.head.Load() + 1)
}

// tryDequeue pops the oldest packet into dst, returning its length.
// Non-blocking; ok is false when the queue is empty.
func (q *packetQueue) tryDequeue(dst []byte) (int, bool) {
	pkt, ok := q.peek()
	if !ok {
		return 0, false
	}
	n := copy(dst, pkt)
	q.pop()
	return n, true
}
