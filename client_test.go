package coapd

import "testing"

func newTestClient(fs Filesystem) (*Client, *ReliabilityEngine, *BlockTransferReceiver) {
	engine := NewReliabilityEngine(MaxPendingMessages, AckTimeout.Milliseconds(), MaxRetransmits, nil, nil)
	receiver := NewBlockTransferReceiver(fs, nil)
	return NewClient(engine, receiver, nil), engine, receiver
}

func TestClientGetFileBuildsBlock0Request(t *testing.T) {
	c, engine, _ := newTestClient(newMemFilesystem())

	data, err := c.GetFile("peer:1", "file", "out.bin", false, 0)
	if err != nil {
		t.Fatalf("GetFile: %s", err)
	}
	req, err := Parse(data)
	if err != nil {
		t.Fatalf("parsing request: %s", err)
	}
	if req.Type != CON || req.Code != CodeGET || req.Options.Path() != "/file" {
		t.Fatalf("request header mismatch: %+v", req)
	}
	opt, found := req.Options.Find(OptBlock2)
	if !found {
		t.Fatalf("request should carry Block2")
	}
	num, more, szx := DecodeBlock2(opt.Value)
	if num != 0 || more || szx != SZXMax {
		t.Fatalf("expected block 0, no more, max size: num=%d more=%v szx=%d", num, more, szx)
	}
	if !c.Active("peer:1") {
		t.Fatalf("a download should now be in flight")
	}
	if engine.ActiveCount() != 1 {
		t.Fatalf("the initial GET should be registered with the reliability engine")
	}
}

func TestClientGetFileRejectsSecondDownloadWhenQueueFull(t *testing.T) {
	engine := NewReliabilityEngine(1, AckTimeout.Milliseconds(), MaxRetransmits, nil, nil)
	receiver := NewBlockTransferReceiver(newMemFilesystem(), nil)
	c := NewClient(engine, receiver, nil)

	if _, err := c.GetFile("peer:1", "file", "out.bin", false, 0); err != nil {
		t.Fatalf("first GetFile: %s", err)
	}
	if _, err := c.GetFile("peer:2", "file", "out2.bin", false, 0); err != ErrPendingQueueFull {
		t.Fatalf("expected ErrPendingQueueFull with the pending table full, got %v", err)
	}
}

func TestClientHandleResponseDrivesMultiBlockDownload(t *testing.T) {
	fs := newMemFilesystem()
	c, _, _ := newTestClient(fs)

	data, err := c.GetFile("peer:1", "file", "out.bin", false, 0)
	if err != nil {
		t.Fatalf("GetFile: %s", err)
	}
	req, _ := Parse(data)

	ack0 := NewMessage(ACK, Content2_05, req.MessageID, req.Token)
	ack0.Options.SetUint(OptBlock2, block2Value(0, true, SZXMax))
	ack0.Options.SetUint(OptContentFormat, ContentFormatTextPlain)
	ack0.Payload = make([]byte, 1024)
	buf := make([]byte, 1536)
	n, err := Build(ack0, buf)
	if err != nil {
		t.Fatalf("Build ack0: %s", err)
	}

	out, ok := c.HandleResponse(buf[:n], "peer:1", 1)
	if !ok {
		t.Fatalf("block 0 response with more=true should request block 1")
	}
	next, err := Parse(out)
	if err != nil {
		t.Fatalf("parsing next request: %s", err)
	}
	if next.Code != CodeGET {
		t.Fatalf("expected a follow-up GET, got code %d", next.Code)
	}
	opt, found := next.Options.Find(OptBlock2)
	if !found {
		t.Fatalf("follow-up request should carry Block2")
	}
	num, more, _ := DecodeBlock2(opt.Value)
	if num != 1 || more {
		t.Fatalf("expected block 1 requested, got num=%d more=%v", num, more)
	}
	if !c.Active("peer:1") {
		t.Fatalf("download should still be in flight after an intermediate block")
	}

	ack1 := NewMessage(ACK, Content2_05, next.MessageID, next.Token)
	ack1.Options.SetUint(OptBlock2, block2Value(1, false, SZXMax))
	ack1.Payload = make([]byte, 200)
	n2, err := Build(ack1, buf)
	if err != nil {
		t.Fatalf("Build ack1: %s", err)
	}

	_, ok = c.HandleResponse(buf[:n2], "peer:1", 2)
	if ok {
		t.Fatalf("the final block should not request anything further")
	}
	if c.Active("peer:1") {
		t.Fatalf("download should be complete after the last block")
	}

	f, err := fs.OpenRead("out.bin")
	if err != nil {
		t.Fatalf("opening downloaded file: %s", err)
	}
	size, err := f.Size()
	if err != nil {
		t.Fatalf("Size: %s", err)
	}
	if size != 1024+200 {
		t.Fatalf("expected %d bytes written, got %d", 1024+200, size)
	}
}

func TestClientHandleResponseIgnoresUnrelatedDatagram(t *testing.T) {
	c, _, _ := newTestClient(newMemFilesystem())

	unrelated := NewMessage(ACK, CodeEmpty, 0x1234, nil)
	buf := make([]byte, 32)
	n, _ := Build(unrelated, buf)

	_, ok := c.HandleResponse(buf[:n], "peer:9", 0)
	if ok {
		t.Fatalf("a datagram for a peer with no in-flight download should be ignored")
	}
}
