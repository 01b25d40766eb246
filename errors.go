package coapd

import "errors"

// Parse/build errors (§4.1). A ParseError is never answered with a CoAP
// response: RFC 7252 forbids replying to a malformed message.
var (
	ErrBadVersion     = errors.New("coap: unsupported version")
	ErrBadFormat      = errors.New("coap: malformed message")
	ErrTokenTooLong   = errors.New("coap: token length exceeds 8 bytes")
	ErrBadOptionDelta = errors.New("coap: option delta out of range")
	ErrBadOptionLen   = errors.New("coap: option length out of range")
	ErrTruncated      = errors.New("coap: truncated message")
	ErrBufferTooSmall = errors.New("coap: destination buffer too small")
)

// Handler/engine errors (§7). These map 1:1 to the taxonomy in spec.md.
// Handlers do not return them: each handler builds its response Message
// with the matching CoAP response code itself. The sentinels are returned
// by the engine, registry, client and block-transfer components.
var (
	ErrResourceNotFound         = errors.New("coap: resource not found")
	ErrBadRequest               = errors.New("coap: bad request")
	ErrUnsupportedContentFormat = errors.New("coap: unsupported content-format")
	ErrServiceUnavailable       = errors.New("coap: service unavailable")
	ErrRetransmitExhausted      = errors.New("coap: retransmission exhausted")
	ErrSubscriberSlotsFull      = errors.New("coap: no free subscriber slot")
	ErrPendingQueueFull         = errors.New("coap: no free pending-message slot")
)
