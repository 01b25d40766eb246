package coapd

import "io"

// BlockRecvState is per-stream file-receive-in-progress state (§3). Block
// N is accepted iff N == ExpectedBlock; N < ExpectedBlock is a duplicate
// (re-ACKed, discarded); N > ExpectedBlock is a gap (dropped silently, no
// ACK — the sender will retransmit).
type BlockRecvState struct {
	File          File
	ExpectedBlock uint32
	TotalBytes    int64
	ContentFormat uint32
	BlockSize     int
	Open          bool
}

// BlockRecvAction tells the caller what happened to an incoming block and
// what, if anything, it must do about acknowledging it.
type BlockRecvAction int

const (
	// BlockAccepted: the block was written; ACK it and echo its Block2.
	BlockAccepted BlockRecvAction = iota
	// BlockDuplicate: already-received block; re-ACK, don't rewrite.
	BlockDuplicate
	// BlockGap: a block arrived out of order; drop silently, do not ACK.
	BlockGap
	// BlockComplete: the last block (M=0) was accepted; the file is closed.
	BlockComplete
)

// BlockTransferReceiver consumes incoming Block2-carrying notifications or
// responses, one stream per peer (§4.6).
type BlockTransferReceiver struct {
	streams map[Addr]*BlockRecvState
	fs      Filesystem
	log     Logger
}

// NewBlockTransferReceiver builds a receiver that opens destination files
// through fs.
func NewBlockTransferReceiver(fs Filesystem, log Logger) *BlockTransferReceiver {
	return &BlockTransferReceiver{
		streams: make(map[Addr]*BlockRecvState),
		fs:      fs,
		log:     log,
	}
}

// OnBlock processes one received block for peer, writing it to destPath
// when it is block 0 and no stream is open yet. The block size is taken
// from szx so the receiver mirrors whatever size the sender chose (§4.6).
func (r *BlockTransferReceiver) OnBlock(peer Addr, destPath string, num uint32, more bool, szx uint8, contentFormat uint32, payload []byte) (BlockRecvAction, error) {
	st, open := r.streams[peer]
	blockSize := BlockSize(szx)

	if num == 0 && !open {
		f, err := r.fs.Create(destPath)
		if err != nil {
			return BlockGap, ErrServiceUnavailable
		}
		st = &BlockRecvState{
			File:          f,
			ExpectedBlock: 0,
			ContentFormat: contentFormat,
			BlockSize:     blockSize,
			Open:          true,
		}
		r.streams[peer] = st
	}
	if st == nil || !st.Open {
		// a non-zero first block with no prior state: treat as a gap,
		// the sender is expected to have started at block 0.
		return BlockGap, nil
	}

	if num < st.ExpectedBlock {
		logf(r.log, "blockrecv: duplicate block %d from peer=%s (expected %d)", num, peer, st.ExpectedBlock)
		return BlockDuplicate, nil
	}
	if num > st.ExpectedBlock {
		logf(r.log, "blockrecv: gap at block %d from peer=%s (expected %d)", num, peer, st.ExpectedBlock)
		return BlockGap, nil
	}

	offset := int64(num) * int64(st.BlockSize)
	if _, err := st.File.Seek(offset, io.SeekStart); err != nil {
		return BlockGap, ErrServiceUnavailable
	}
	if _, err := st.File.Write(payload); err != nil {
		return BlockGap, ErrServiceUnavailable
	}
	st.TotalBytes = offset + int64(len(payload))
	st.ExpectedBlock++

	if !more {
		st.File.Close()
		st.Open = false
		delete(r.streams, peer)
		return BlockComplete, nil
	}
	return BlockAccepted, nil
}

// Abort releases any in-progress receive stream for peer, e.g. when the
// peer's subscription is pruned mid-transfer.
func (r *BlockTransferReceiver) Abort(peer Addr) {
	if st, ok := r.streams[peer]; ok {
		st.File.Close()
		delete(r.streams, peer)
	}
}

// ActiveCount returns the number of in-flight receives, for StatusReporter.
func (r *BlockTransferReceiver) ActiveCount() int {
	return len(r.streams)
}
