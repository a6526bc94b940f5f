// Package wake sends wake-on-LAN magic packets to the destination machine.
// The frame is six 0xFF bytes followed by the hardware address repeated
// sixteen times, broadcast over UDP.
package wake

import (
	"fmt"
	"net"
)

// DefaultBroadcast is the conventional WOL target: limited broadcast on
// the discard port.
const DefaultBroadcast = "255.255.255.255:9"

// MagicPacket builds the 102-byte wake frame for hw.
func MagicPacket(hw net.HardwareAddr) ([]byte, error) {
	if len(hw) != 6 {
		return nil, fmt.Errorf("hardware address must be 6 bytes, got %d", len(hw))
	}
	packet := make([]byte, 0, 102)
	for i := 0; i < 6; i++ {
		packet = append(packet, 0xFF)
	}
	for i := 0; i < 16; i++ {
		packet = append(packet, hw...)
	}
	return packet, nil
}

// Send broadcasts a magic packet for the given hardware address. An empty
// broadcast address falls back to DefaultBroadcast.
func Send(mac, broadcast string) error {
	hw, err := net.ParseMAC(mac)
	if err != nil {
		return fmt.Errorf("invalid wake address %q: %w", mac, err)
	}
	packet, err := MagicPacket(hw)
	if err != nil {
		return err
	}

	if broadcast == "" {
		broadcast = DefaultBroadcast
	}
	addr, err := net.ResolveUDPAddr("udp", broadcast)
	if err != nil {
		return fmt.Errorf("resolving broadcast address %q: %w", broadcast, err)
	}

	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return fmt.Errorf("opening broadcast socket: %w", err)
	}
	defer conn.Close()

	if _, err := conn.Write(packet); err != nil {
		return fmt.Errorf("sending magic packet: %w", err)
	}
	return nil
}
