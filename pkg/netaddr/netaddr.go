// Package netaddr provides the IPv4 value types used by the discovery
// engine. Addresses are stored as unsigned 32-bit integers so subnet ranges
// can be enumerated, ordered, and indexed cheaply.
package netaddr

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidNetworkConfig is returned when a base address or subnet mask
// cannot be parsed, or when a mask's set bits are not contiguous. The
// caller treats this as fatal at boot.
var ErrInvalidNetworkConfig = errors.New("invalid network configuration")

// IPv4Address is an IPv4 address as a 32-bit unsigned integer.
// The zero value is 0.0.0.0. Ordering by integer value matches the
// natural ordering of a subnet sweep.
type IPv4Address uint32

// ParseIPv4 parses a dotted-quad string into an IPv4Address.
func ParseIPv4(s string) (IPv4Address, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 4 {
		return 0, fmt.Errorf("%w: %q is not a dotted quad", ErrInvalidNetworkConfig, s)
	}
	var v uint32
	for _, p := range parts {
		octet, err := strconv.ParseUint(p, 10, 8)
		if err != nil {
			return 0, fmt.Errorf("%w: bad octet %q in %q", ErrInvalidNetworkConfig, p, s)
		}
		v = v<<8 | uint32(octet)
	}
	return IPv4Address(v), nil
}

// FromUint32 converts an integer to an IPv4Address.
func FromUint32(v uint32) IPv4Address {
	return IPv4Address(v)
}

// Uint32 returns the address as an integer.
func (a IPv4Address) Uint32() uint32 {
	return uint32(a)
}

// String returns the dotted-quad form.
func (a IPv4Address) String() string {
	v := uint32(a)
	return fmt.Sprintf("%d.%d.%d.%d", v>>24&0xff, v>>16&0xff, v>>8&0xff, v&0xff)
}

// MarshalText implements encoding.TextMarshaler so addresses serialize as
// dotted quads in JSON payloads and map keys.
func (a IPv4Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *IPv4Address) UnmarshalText(text []byte) error {
	parsed, err := ParseIPv4(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// SubnetMask is an IPv4 subnet mask with contiguous high bits set.
type SubnetMask uint32

// ParseMask parses a dotted-quad mask and verifies its set bits are
// contiguous from the high end.
func ParseMask(s string) (SubnetMask, error) {
	addr, err := ParseIPv4(s)
	if err != nil {
		return 0, err
	}
	m := uint32(addr)
	// Contiguous iff the inverted mask plus one is a power of two.
	inv := ^m
	if inv&(inv+1) != 0 {
		return 0, fmt.Errorf("%w: mask %s is not contiguous", ErrInvalidNetworkConfig, addr)
	}
	return SubnetMask(m), nil
}

// PrefixLength returns the number of set bits in the mask (the /N form).
func (m SubnetMask) PrefixLength() int {
	n := 0
	for v := uint32(m); v&0x80000000 != 0; v <<= 1 {
		n++
	}
	return n
}

// String returns the dotted-quad form of the mask.
func (m SubnetMask) String() string {
	return IPv4Address(m).String()
}

// Subnet is a base address plus mask. It yields the inclusive integer
// range [NetworkStart, NetworkEnd] and a containment test. Values are
// immutable once constructed.
type Subnet struct {
	base IPv4Address
	mask SubnetMask
}

// NewSubnet builds a subnet from a base address and mask.
func NewSubnet(base IPv4Address, mask SubnetMask) Subnet {
	return Subnet{base: base, mask: mask}
}

// ParseSubnet parses base and mask dotted quads into a Subnet.
func ParseSubnet(baseIP, subnetMask string) (Subnet, error) {
	base, err := ParseIPv4(baseIP)
	if err != nil {
		return Subnet{}, fmt.Errorf("base ip: %w", err)
	}
	mask, err := ParseMask(subnetMask)
	if err != nil {
		return Subnet{}, fmt.Errorf("subnet mask: %w", err)
	}
	return NewSubnet(base, mask), nil
}

// Base returns the configured base address.
func (s Subnet) Base() IPv4Address { return s.base }

// Mask returns the subnet mask.
func (s Subnet) Mask() SubnetMask { return s.mask }

// NetworkStart returns the first address of the subnet (base AND mask).
func (s Subnet) NetworkStart() IPv4Address {
	return IPv4Address(uint32(s.base) & uint32(s.mask))
}

// NetworkEnd returns the last address of the subnet (start OR NOT mask).
func (s Subnet) NetworkEnd() IPv4Address {
	return IPv4Address(uint32(s.NetworkStart()) | ^uint32(s.mask))
}

// Contains reports whether the address falls inside the subnet range.
func (s Subnet) Contains(a IPv4Address) bool {
	return uint32(a)&uint32(s.mask) == uint32(s.NetworkStart())
}

// Size returns the number of addresses in the subnet, including the
// network and broadcast addresses.
func (s Subnet) Size() int {
	return int(uint64(s.NetworkEnd())-uint64(s.NetworkStart())) + 1
}

// Addresses enumerates every address in the subnet in ascending order,
// inclusive of the network and broadcast addresses. The management
// controllers this engine probes are frequently parked on either end of
// small subnets, so nothing is excluded here.
func (s Subnet) Addresses() []IPv4Address {
	start := uint64(s.NetworkStart())
	end := uint64(s.NetworkEnd())
	out := make([]IPv4Address, 0, end-start+1)
	for v := start; v <= end; v++ {
		out = append(out, IPv4Address(uint32(v)))
	}
	return out
}

// String returns the subnet in "start/prefix" form.
func (s Subnet) String() string {
	return fmt.Sprintf("%s/%d", s.NetworkStart(), s.mask.PrefixLength())
}
