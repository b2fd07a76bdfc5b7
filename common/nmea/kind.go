package nmea

import "strings"

// Kind identifies a decodable NMEA 0183 sentence. Every concrete kind owns a
// single bit so kinds can be combined into a KindMask.
type Kind uint32

const (
	// KindInvalid marks data that is not a supported sentence. It owns no bit.
	KindInvalid Kind = 0
	// KindGPGGA is the Global Positioning System Fix Data sentence.
	KindGPGGA Kind = 1 << 0
)

// kinds lists every concrete kind in bit order.
var kinds = []Kind{KindGPGGA}

func (k Kind) String() string {
	switch k {
	case KindInvalid:
		return "INVALID"
	case KindGPGGA:
		return "GPGGA"
	default:
		return "UNKNOWN"
	}
}

// KindMask is a set of kinds.
type KindMask uint32

const (
	MaskNone KindMask = 0
	MaskAll  KindMask = ^KindMask(0)
)

// MaskOf builds a mask holding the given kinds.
func MaskOf(ks ...Kind) KindMask {
	var m KindMask
	for _, k := range ks {
		m.Set(k)
	}
	return m
}

func (m *KindMask) Set(k Kind) {
	*m |= KindMask(k)
}

func (m *KindMask) Clear(k Kind) {
	*m &^= KindMask(k)
}

// IsSet reports whether every bit of k is in the mask. KindInvalid is never set.
func (m KindMask) IsSet(k Kind) bool {
	return k != KindInvalid && m&KindMask(k) == KindMask(k)
}

func (m KindMask) IsNone() bool {
	return m == MaskNone
}

func (m KindMask) Union(o KindMask) KindMask {
	return m | o
}

func (m KindMask) Intersect(o KindMask) KindMask {
	return m & o
}

func (m KindMask) Complement() KindMask {
	return ^m
}

// Kinds returns the concrete kinds present in the mask.
func (m KindMask) Kinds() []Kind {
	var out []Kind
	for _, k := range kinds {
		if m.IsSet(k) {
			out = append(out, k)
		}
	}
	return out
}

func (m KindMask) String() string {
	ks := m.Kinds()
	if len(ks) == 0 {
		return "{}"
	}
	names := make([]string, 0, len(ks))
	for _, k := range ks {
		names = append(names, k.String())
	}
	return "{" + strings.Join(names, "|") + "}"
}
