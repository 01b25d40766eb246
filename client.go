package coapd

// clientDownload tracks one in-flight client-role block-wise GET (§2
// "Data flow (client role)"): the remote path being pulled, the local
// path blocks are written to, and the token correlating the whole
// exchange across successive per-block requests.
type clientDownload struct {
	remotePath string
	localPath  string
	imageQuery bool
	token      []byte
	szx        uint8
}

// Client drives the client role spec.md §1/§2 requires symmetrically with
// the server role: building requests, registering them with the shared
// reliability engine, and routing Block2-carrying responses to the same
// BlockTransferReceiver the server side uses for its own inbound
// transfers. Both roles share one engine and one receiver, never a
// separate copy; the client holds no Observe registry or duplicate window.
type Client struct {
	engine    *ReliabilityEngine
	receiver  *BlockTransferReceiver
	downloads map[Addr]*clientDownload
	nextMID   uint16
	log       Logger
}

// NewClient builds a client role sharing engine and receiver with the
// server role, so retransmission and block assembly behave identically
// regardless of which role initiated the exchange.
func NewClient(engine *ReliabilityEngine, receiver *BlockTransferReceiver, log Logger) *Client {
	return &Client{
		engine:    engine,
		receiver:  receiver,
		downloads: make(map[Addr]*clientDownload),
		log:       log,
	}
}

// GetFile starts a block-wise download of remotePath on peer into
// localPath, requesting block 0 at the largest block size this endpoint
// understands (§4.5/§9). It registers the outgoing CON with the shared
// reliability engine and returns the wire bytes the caller must send.
func (c *Client) GetFile(peer Addr, remotePath, localPath string, imageQuery bool, now int64) ([]byte, error) {
	mid := c.nextMessageID()
	token := encodeUint(uint32(mid))
	req := NewMessage(CON, CodeGET, mid, token)
	req.Options.AppendPathSegment(remotePath)
	if imageQuery {
		req.Options.Add(OptUriQuery, []byte("type=image"))
	}
	req.Options.SetUint(OptBlock2, block2Value(0, false, SZXMax))

	buf := make([]byte, ResponseBufferSize)
	n, err := Build(req, buf)
	if err != nil {
		return nil, err
	}
	if !c.engine.Register(now, mid, peer, buf[:n]) {
		return nil, ErrPendingQueueFull
	}
	c.downloads[peer] = &clientDownload{
		remotePath: remotePath,
		localPath:  localPath,
		imageQuery: imageQuery,
		token:      token,
		szx:        SZXMax,
	}
	return buf[:n], nil
}

// HandleResponse processes one inbound datagram belonging to an in-flight
// download: clears the matching request from the reliability engine,
// writes the Block2 payload via the shared receiver, and — if more blocks
// remain — builds, registers, and returns the next block's GET request
// (§4.8 step 2, "payload carrying Block2 routes to BlockTransferReceiver").
// The bool return reports whether the caller must send the returned
// bytes. It is false when the datagram wasn't part of a download in
// progress, when the download has just completed, when the block was a
// duplicate or a gap (the download stays in flight), or when a failure
// ended the download.
func (c *Client) HandleResponse(data []byte, peer Addr, now int64) ([]byte, bool) {
	msg, err := Parse(data)
	if err != nil {
		logf(c.log, "client: dropping malformed datagram from %s: %s", peer, err)
		return nil, false
	}
	if msg.Type != ACK {
		return nil, false
	}
	dl, ok := c.downloads[peer]
	if !ok {
		return nil, false
	}
	if !c.engine.Clear(msg.MessageID, peer) {
		return nil, false
	}

	opt, ok := msg.Options.Find(OptBlock2)
	if !ok {
		delete(c.downloads, peer)
		return nil, false
	}
	num, more, szx := DecodeBlock2(opt.Value)
	cf, _ := msg.Options.GetUint(OptContentFormat)

	action, err := c.receiver.OnBlock(peer, dl.localPath, num, more, szx, cf, msg.Payload)
	if err != nil {
		logf(c.log, "client: writing block %d from %s to %s: %s", num, peer, dl.localPath, err)
		delete(c.downloads, peer)
		return nil, false
	}
	if action == BlockComplete || !more {
		delete(c.downloads, peer)
		return nil, false
	}
	if action == BlockDuplicate || action == BlockGap {
		// the receiver didn't advance; don't request past it yet.
		return nil, false
	}

	dl.szx = szx
	req := NewMessage(CON, CodeGET, c.nextMessageID(), dl.token)
	req.Options.AppendPathSegment(dl.remotePath)
	if dl.imageQuery {
		req.Options.Add(OptUriQuery, []byte("type=image"))
	}
	req.Options.SetUint(OptBlock2, block2Value(num+1, false, dl.szx))

	buf := make([]byte, ResponseBufferSize)
	n, err := Build(req, buf)
	if err != nil {
		delete(c.downloads, peer)
		return nil, false
	}
	if !c.engine.Register(now, req.MessageID, peer, buf[:n]) {
		delete(c.downloads, peer)
		return nil, false
	}
	return buf[:n], true
}

// Active reports whether a download to peer is in flight.
func (c *Client) Active(peer Addr) bool {
	_, ok := c.downloads[peer]
	return ok
}

func (c *Client) nextMessageID() uint16 {
	c.nextMID++
	return c.nextMID
}
