package coapd

import "testing"

func TestBlockTransferSenderThreeBlocks(t *testing.T) {
	fs := newMemFilesystem()
	data := make([]byte, 2500) // 1024 + 1024 + 452, per spec.md §8 scenario 5
	for i := range data {
		data[i] = byte(i % 256)
	}
	fs.seed("file.txt", data)

	f, err := fs.OpenRead("file.txt")
	if err != nil {
		t.Fatalf("OpenRead: %s", err)
	}
	s := NewBlockTransferSender(nil)

	m0, err := s.Begin("peer:1", []byte("tok"), f, false, 0, 100)
	if err != nil {
		t.Fatalf("Begin: %s", err)
	}
	num, more, szx := func() (uint32, bool, uint8) {
		opt, _ := m0.Options.Find(OptBlock2)
		return DecodeBlock2(opt.Value)
	}()
	if num != 0 || !more || szx != SZXMax || len(m0.Payload) != 1024 {
		t.Fatalf("block 0: num=%d more=%v szx=%d len=%d", num, more, szx, len(m0.Payload))
	}
	if !s.Active("peer:1") {
		t.Fatalf("transfer should be active after Begin")
	}

	m1, done, err := s.Advance("peer:1", 0, 101)
	if err != nil || done {
		t.Fatalf("Advance to block 1: done=%v err=%v", done, err)
	}
	num, more, _ = func() (uint32, bool, uint8) {
		opt, _ := m1.Options.Find(OptBlock2)
		return DecodeBlock2(opt.Value)
	}()
	if num != 1 || !more || len(m1.Payload) != 1024 {
		t.Fatalf("block 1: num=%d more=%v len=%d", num, more, len(m1.Payload))
	}

	m2, done, err := s.Advance("peer:1", 0, 102)
	if err != nil || done {
		t.Fatalf("Advance to block 2: done=%v err=%v", done, err)
	}
	num, more, _ = func() (uint32, bool, uint8) {
		opt, _ := m2.Options.Find(OptBlock2)
		return DecodeBlock2(opt.Value)
	}()
	if num != 2 || more || len(m2.Payload) != 452 {
		t.Fatalf("block 2 (last): num=%d more=%v len=%d", num, more, len(m2.Payload))
	}

	_, done, err = s.Advance("peer:1", 0, 103)
	if err != nil || !done {
		t.Fatalf("transfer should complete after the last block's ACK")
	}
	if s.Active("peer:1") {
		t.Fatalf("transfer should no longer be active after completion")
	}
}

func TestBlockTransferSenderRejectsOverlap(t *testing.T) {
	fs := newMemFilesystem()
	fs.seed("file.txt", []byte("hello"))
	f1, _ := fs.OpenRead("file.txt")
	f2, _ := fs.OpenRead("file.txt")

	s := NewBlockTransferSender(nil)
	if _, err := s.Begin("peer:1", []byte("tok"), f1, false, 0, 1); err != nil {
		t.Fatalf("first Begin: %s", err)
	}
	if _, err := s.Begin("peer:1", []byte("tok"), f2, false, 0, 2); err != ErrServiceUnavailable {
		t.Fatalf("overlapping Begin should fail with ErrServiceUnavailable, got %v", err)
	}
}

func TestBlockTransferSenderAbortOnRetransmitFailure(t *testing.T) {
	fs := newMemFilesystem()
	fs.seed("file.txt", make([]byte, 2000))
	f, _ := fs.OpenRead("file.txt")

	s := NewBlockTransferSender(nil)
	s.Begin("peer:1", []byte("tok"), f, false, 0, 1)
	s.Abort("peer:1")
	if s.Active("peer:1") {
		t.Fatalf("Abort should clear the in-flight transfer")
	}
}
