// Package core defines core data structures with zero external dependencies.
package core

import "time"

// RawPacket is captured from the network interface.
type RawPacket struct {
	Data           []byte
	Timestamp      time.Time
	CaptureLen     uint32
	OrigLen        uint32
	InterfaceIndex int
}
