package coapd

import "sort"

// Option numbers this endpoint understands (RFC 7252/7641/7959).
const (
	OptObserve       uint16 = 6
	OptUriPath       uint16 = 11
	OptContentFormat uint16 = 12
	OptUriQuery      uint16 = 15
	OptAccept        uint16 = 17
	OptBlock2        uint16 = 23
)

// Content-Format values this endpoint assigns (RFC 7252 §12.3).
const (
	ContentFormatTextPlain uint32 = 0
	ContentFormatImageJPEG uint32 = 22
)

// Option is a single (number, value) pair. Repeated option numbers (e.g.
// Uri-Path segments) are represented as multiple Options with the same
// Number, in wire order.
type Option struct {
	Number uint16
	Value  []byte
}

// OptionSet is an ordered, possibly-repeated option container. Insertion
// preserves numerical order and the relative order of repeats (§4.2).
type OptionSet struct {
	opts []Option
}

// Add inserts an option, keeping the set sorted by Number; if one or more
// options with the same Number already exist, the new one is appended
// after them (stable order of repeats, matching how Uri-Path segments must
// be encoded in path order).
func (s *OptionSet) Add(number uint16, value []byte) {
	insertAt := len(s.opts)
	for i, o := range s.opts {
		if o.Number > number {
			insertAt = i
			break
		}
	}
	s.opts = append(s.opts, Option{})
	copy(s.opts[insertAt+1:], s.opts[insertAt:])
	s.opts[insertAt] = Option{Number: number, Value: value}
}

// Find returns the first option with the given number.
func (s *OptionSet) Find(number uint16) (Option, bool) {
	for _, o := range s.opts {
		if o.Number == number {
			return o, true
		}
	}
	return Option{}, false
}

// FindAll returns every option with the given number, in wire order.
func (s *OptionSet) FindAll(number uint16) []Option {
	var out []Option
	for _, o := range s.opts {
		if o.Number == number {
			out = append(out, o)
		}
	}
	return out
}

// GetUint decodes the first option with the given number as an unsigned
// integer (§4.1 helper).
func (s *OptionSet) GetUint(number uint16) (uint32, bool) {
	o, ok := s.Find(number)
	if !ok {
		return 0, false
	}
	return decodeUint(o.Value), true
}

// SetUint replaces (or adds) the single-valued option `number` with an
// encoded unsigned integer. Used for Observe, Content-Format, Accept,
// Block2 — options this endpoint never repeats.
func (s *OptionSet) SetUint(number uint16, value uint32) {
	s.Remove(number)
	s.Add(number, encodeUint(value))
}

// Remove deletes every option with the given number.
func (s *OptionSet) Remove(number uint16) {
	kept := s.opts[:0]
	for _, o := range s.opts {
		if o.Number != number {
			kept = append(kept, o)
		}
	}
	s.opts = kept
}

// AppendPathSegment adds one Uri-Path segment, in order.
func (s *OptionSet) AppendPathSegment(segment string) {
	s.Add(OptUriPath, []byte(segment))
}

// Path reconstructs the URI path from repeated Uri-Path options.
func (s *OptionSet) Path() string {
	segs := s.FindAll(OptUriPath)
	path := ""
	for _, seg := range segs {
		path += "/" + string(seg.Value)
	}
	if path == "" {
		path = "/"
	}
	return path
}

// Query returns the decoded Uri-Query options (each "key=value" or bare
// flag, per RFC 7252 §5.10.1), in wire order.
func (s *OptionSet) Query() []string {
	opts := s.FindAll(OptUriQuery)
	out := make([]string, len(opts))
	for i, o := range opts {
		out[i] = string(o.Value)
	}
	return out
}

// sorted returns the options ordered for wire encoding; Add already keeps
// them in order, this exists for defence against callers who mutate opts
// directly and to make the codec's dependency on ordering explicit.
func (s *OptionSet) sorted() []Option {
	out := make([]Option, len(s.opts))
	copy(out, s.opts)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out
}

// encodeUint encodes v in the minimum number of big-endian bytes, 0-4
// bytes; a value of 0 encodes as an empty option value, the common CoAP
// convention used for e.g. Observe=0 registration (§4.1).
func encodeUint(v uint32) []byte {
	switch {
	case v == 0:
		return nil
	case v <= 0xFF:
		return []byte{byte(v)}
	case v <= 0xFFFF:
		return []byte{byte(v >> 8), byte(v)}
	case v <= 0xFFFFFF:
		return []byte{byte(v >> 16), byte(v >> 8), byte(v)}
	default:
		return []byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
	}
}

// decodeUint decodes a big-endian unsigned integer of 0-4 bytes; longer
// values are truncated to their low 32 bits (cannot occur for the options
// this endpoint uses, all of which are <= 3 bytes on the wire).
func decodeUint(b []byte) uint32 {
	var v uint32
	for _, c := range b {
		v = v<<8 | uint32(c)
	}
	return v
}

// EncodeBlock2 packs a Block2 option value: NUM in the upper bits, a
// 1-bit M(ore) flag, and a 3-bit SZX size exponent (§4.1). SZX is clamped
// to SZXMax before packing.
func EncodeBlock2(num uint32, more bool, szx uint8) []byte {
	if szx > SZXMax {
		szx = SZXMax
	}
	packed := num<<4 | uint32(szx)&0x7
	if more {
		packed |= 1 << 3
	}
	return encodeUint(packed)
}

// DecodeBlock2 unpacks a Block2 option value from its wire bytes.
func DecodeBlock2(value []byte) (num uint32, more bool, szx uint8) {
	return UnpackBlock2Value(decodeUint(value))
}

// UnpackBlock2Value unpacks an already-decoded Block2 packed integer
// (e.g. from OptionSet.GetUint), avoiding a re-encode/decode round trip.
func UnpackBlock2Value(packed uint32) (num uint32, more bool, szx uint8) {
	num = packed >> 4
	more = packed&(1<<3) != 0
	szx = uint8(packed & 0x7)
	return
}

// BlockSize returns the payload size in bytes for a given SZX, clamped to
// SZXMax (1024 bytes, §4.1/§GLOSSARY).
func BlockSize(szx uint8) int {
	if szx > SZXMax {
		szx = SZXMax
	}
	return 1 << (szx + 4)
}
