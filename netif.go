package esphosted

import (
	"net"
)

// netif.go is the network device adapter: the two operations the IP stack
// expects from a link layer, delegated to the packet queues. No decisions
// are made here.

// Ethernet MTU of the station interface. The bus frame could carry
// slightly more; the slave firmware forwards standard Ethernet.
const MTU = 1500

// MTU (maximum transmission unit) returns the maximum amount
// of bytes that can be sent in a single ethernet frame in a call to SendEth.
func (d *Device) MTU() int { return MTU }

// HardwareAddr6 returns the device's 6-byte [MAC address], acquired during
// the init control exchange.
//
// [MAC address]: https://en.wikipedia.org/wiki/MAC_address
func (d *Device) HardwareAddr6() ([6]byte, error) {
	d.lock()
	defer d.unlock()
	if d.mac == [6]byte{} {
		return [6]byte{}, errNoHardwareAddr
	}
	return d.mac, nil
}

// SendEth enqueues an Ethernet packet for transmission over the current
// interface. ErrQueueFull is backpressure: the caller still owns pkt and
// should retry later; the driver never drops an accepted packet.
func (d *Device) SendEth(pkt []byte) error {
	switch {
	case d.State() == StateFaulted:
		return ErrDeviceFaulted
	case d.State() != StateReady:
		return errLinkDown
	case len(pkt) > MTU:
		return ErrPacketTooLarge
	}
	// The lock serializes stack-side producers; the runner end is lock-free.
	d.lock()
	err := d.txq.enqueue(pkt)
	d.unlock()
	if err != nil {
		return err
	}
	d.kickRunner()
	return nil
}

// RecvEthHandle sets the handler receiving Ethernet packets popped by
// PollOne. If set to nil then incoming packets are ignored.
func (d *Device) RecvEthHandle(handler func(pkt []byte) error) {
	d.lock()
	defer d.unlock()
	d.rcvEth = handler
}

// PollOne attempts to pop one received packet and hand it to the receive
// handler. Returns true if a packet was read, false if none was available.
func (d *Device) PollOne() (bool, error) {
	if d.State() == StateFaulted {
		return false, ErrDeviceFaulted
	}
	d.lock()
	defer d.unlock()
	pkt, ok := d.rxq.peek()
	if !ok {
		return false, nil
	}
	var err error
	if d.rcvEth != nil {
		err = d.rcvEth(pkt)
	}
	// The slot is released even on handler error; the packet was delivered.
	d.rxq.pop()
	return true, err
}

// NetFlags returns the current network flags for the device.
func (d *Device) NetFlags() (flags net.Flags) {
	state := d.State()
	if state == StateResetting || state == StateAwaitingBoot || state == StateFaulted {
		return 0
	}
	flags |= net.FlagUp
	if state == StateReady {
		flags |= net.FlagRunning
	}
	return flags
}
