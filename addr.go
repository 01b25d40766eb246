package coapd

// Addr identifies a peer endpoint (IP address + UDP port, §3) as its wire
// string form ("host:port"). Using the string as the identity itself —
// rather than net.Addr — keeps the protocol engine transport-agnostic and
// directly usable as a map/array key, the way the teacher's observe code
// keys registrations off `RemoteAddr().String()` (coap_observe.go).
type Addr = string
