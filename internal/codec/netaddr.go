package codec

import (
	"encoding/binary"
	"net"
)

// NetAddrSize is the fixed on-wire size of a NetAddr used inside a version
// message: 8 bytes services + 16 bytes IP + 2 bytes port.
const NetAddrSize = 26

// NetAddr is the (services, ip, port) triple Bitcoin uses to describe a
// peer address inside version and addr messages. IP is always stored and
// emitted as IPv4-mapped IPv6, per spec; this implementation is IPv4-only.
type NetAddr struct {
	Services uint64
	IP       net.IP // IPv4 address in 4- or 16-byte form; To4() is applied on encode
	Port     uint16
}

// Encode writes the 26-byte on-wire form: services (LE), IPv4-mapped IPv6,
// port (BE — the one deliberate endian inversion in the protocol).
func (a NetAddr) Encode() []byte {
	b := make([]byte, NetAddrSize)
	binary.LittleEndian.PutUint64(b[0:8], a.Services)

	b[10] = 0xff
	b[11] = 0xff
	ip4 := a.IP.To4()
	if ip4 == nil {
		ip4 = net.IPv4zero.To4()
	}
	copy(b[12:16], ip4)

	binary.BigEndian.PutUint16(b[24:26], a.Port)
	return b
}

// DecodeNetAddr reads a 26-byte NetAddr from the front of b.
func DecodeNetAddr(b []byte) (NetAddr, int, error) {
	if len(b) < NetAddrSize {
		return NetAddr{}, 0, ErrTruncated
	}
	var a NetAddr
	a.Services = binary.LittleEndian.Uint64(b[0:8])
	a.IP = net.IPv4(b[12], b[13], b[14], b[15])
	a.Port = binary.BigEndian.Uint16(b[24:26])
	return a, NetAddrSize, nil
}
