package coapd

// Parse decodes a CoAP packet per RFC 7252 §3. The returned Message's
// Token, option values and Payload are slices into `data` — they must not
// be retained past the caller's handling of this datagram (§3, Ownership).
func Parse(data []byte) (*Message, error) {
	if len(data) < 4 {
		return nil, ErrTruncated
	}
	b0 := data[0]
	ver := b0 >> 6
	typ := Type((b0 >> 4) & 0x3)
	tkl := int(b0 & 0xF)

	if ver != Version {
		return nil, ErrBadVersion
	}
	if tkl > MaxTokenLength {
		return nil, ErrBadFormat
	}

	code := data[1]
	mid := uint16(data[2])<<8 | uint16(data[3])

	pos := 4
	if pos+tkl > len(data) {
		return nil, ErrTruncated
	}
	token := data[pos : pos+tkl]
	pos += tkl

	var opts OptionSet
	lastNumber := uint16(0)
	markerSeen := false
	for pos < len(data) {
		if data[pos] == 0xFF {
			pos++
			markerSeen = true
			break
		}
		b := data[pos]
		deltaNibble := uint16(b >> 4)
		lenNibble := uint16(b & 0xF)
		pos++

		delta, newPos, err := decodeOptionField(deltaNibble, data, pos, ErrBadOptionDelta)
		if err != nil {
			return nil, err
		}
		pos = newPos

		length, newPos2, err := decodeOptionField(lenNibble, data, pos, ErrBadOptionLen)
		if err != nil {
			return nil, err
		}
		pos = newPos2

		number := lastNumber + delta
		if number < lastNumber {
			// overflowed uint16 arithmetic: a delta this large is invalid
			return nil, ErrBadOptionDelta
		}
		if pos+int(length) > len(data) {
			return nil, ErrTruncated
		}
		value := data[pos : pos+int(length)]
		pos += int(length)

		opts.Add(number, value)
		lastNumber = number
	}

	payload := data[pos:]
	if len(payload) == 0 {
		payload = nil
	}
	if markerSeen && len(payload) == 0 {
		// §4.1: payload marker present iff payload bytes present
		return nil, ErrBadFormat
	}

	return &Message{
		Version:   ver,
		Type:      typ,
		Code:      code,
		MessageID: mid,
		Token:     token,
		Options:   opts,
		Payload:   payload,
	}, nil
}

// decodeOptionField extends a 4-bit option delta/length nibble per RFC 7252
// §3.1's 13/14/15 extension rule. `errKind` is returned when the nibble is
// 15 outside of the reserved payload-marker byte (0xFF), which is invalid
// mid-stream.
func decodeOptionField(nibble uint16, data []byte, pos int, errKind error) (uint16, int, error) {
	switch nibble {
	case 13:
		if pos >= len(data) {
			return 0, pos, ErrTruncated
		}
		return uint16(data[pos]) + 13, pos + 1, nil
	case 14:
		if pos+1 >= len(data) {
			return 0, pos, ErrTruncated
		}
		return (uint16(data[pos])<<8 | uint16(data[pos+1])) + 269, pos + 2, nil
	case 15:
		return 0, pos, errKind
	default:
		return nibble, pos, nil
	}
}

// Build serializes a Message into buf, options sorted by number (§4.1).
// It returns the number of bytes written, or ErrBufferTooSmall if buf
// cannot hold the result; no partial write is meaningful on error.
func Build(m *Message, buf []byte) (int, error) {
	if len(m.Token) > MaxTokenLength {
		return 0, ErrTokenTooLong
	}
	need := 4 + len(m.Token)
	if len(buf) < need {
		return 0, ErrBufferTooSmall
	}

	buf[0] = Version<<6 | uint8(m.Type)<<4 | uint8(len(m.Token))
	buf[1] = m.Code
	buf[2] = byte(m.MessageID >> 8)
	buf[3] = byte(m.MessageID)
	pos := 4
	copy(buf[pos:], m.Token)
	pos += len(m.Token)

	lastNumber := uint16(0)
	for _, o := range m.Options.sorted() {
		delta := o.Number - lastNumber
		lastNumber = o.Number
		n, err := encodeOption(buf[pos:], delta, o.Value)
		if err != nil {
			return 0, err
		}
		pos += n
	}

	if len(m.Payload) > 0 {
		if pos >= len(buf) {
			return 0, ErrBufferTooSmall
		}
		buf[pos] = 0xFF
		pos++
		if pos+len(m.Payload) > len(buf) {
			return 0, ErrBufferTooSmall
		}
		copy(buf[pos:], m.Payload)
		pos += len(m.Payload)
	}

	return pos, nil
}

// encodeOption writes one option's header (with 13/14-extended delta and
// length fields as needed) and value into dst.
func encodeOption(dst []byte, delta uint16, value []byte) (int, error) {
	deltaNibble, deltaExt := optionFieldBytes(delta)
	lengthNibble, lengthExt := optionFieldBytes(uint16(len(value)))

	total := 1 + len(deltaExt) + len(lengthExt) + len(value)
	if len(dst) < total {
		return 0, ErrBufferTooSmall
	}

	dst[0] = deltaNibble<<4 | lengthNibble
	pos := 1
	copy(dst[pos:], deltaExt)
	pos += len(deltaExt)
	copy(dst[pos:], lengthExt)
	pos += len(lengthExt)
	copy(dst[pos:], value)
	pos += len(value)
	return pos, nil
}

// optionFieldBytes returns the 4-bit nibble and any extended bytes needed
// to encode v as an option delta or length field.
func optionFieldBytes(v uint16) (nibble uint8, ext []byte) {
	switch {
	case v < 13:
		return uint8(v), nil
	case v < 269:
		return 13, []byte{byte(v - 13)}
	default:
		ev := v - 269
		return 14, []byte{byte(ev >> 8), byte(ev)}
	}
}
