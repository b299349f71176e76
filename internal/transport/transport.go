// Package transport carries IBIHOP frames between devices. Each frame is
// one datagram; the transport does not look inside it.
package transport

import "net"

// MaxFrameSize bounds a datagram. The largest IBIHOP frame is a secp384r1
// point frame of 1 + 96 + 16 bytes.
const MaxFrameSize = 256

// Handler receives one inbound frame. data is owned by the handler.
type Handler func(data []byte, from net.Addr)

// Sender delivers one frame to a peer.
type Sender interface {
	Send(data []byte, to net.Addr) error
}
