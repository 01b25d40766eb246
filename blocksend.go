package coapd

import "io"

// BlockSendState is per-subscriber file-transfer-in-progress state (§3).
// At most one block is outstanding per subscriber: WaitingForAck is true
// exactly between emitting block N and receiving its ACK (or the
// reliability engine giving up on it).
type BlockSendState struct {
	Peer          Addr
	Token         []byte
	File          File
	BlockNum      uint32
	WaitingForAck bool
	IsImage       bool
	TotalSize     int64
	MessageID     uint16
}

// BlockTransferSender drives a file out in fixed-size Block2 blocks to one
// subscriber at a time, advancing only on ACK (§4.5). It is the push-style
// counterpart used when the server proactively streams a large resource to
// an Observe subscriber (e.g. an image capture taken on a trigger), rather
// than waiting for the client to ask for each block in turn.
type BlockTransferSender struct {
	states    map[Addr]*BlockSendState
	blockSize int
	log       Logger
}

// NewBlockTransferSender builds a sender using the 1024-byte block size
// (SZX=6, the only size this endpoint emits, §4.5).
func NewBlockTransferSender(log Logger) *BlockTransferSender {
	return &BlockTransferSender{
		states:    make(map[Addr]*BlockSendState),
		blockSize: BlockSizeMax,
		log:       log,
	}
}

// Begin opens a transfer to peer and returns the CON notification carrying
// block 0. It fails with ErrServiceUnavailable if a transfer to this peer
// is already active (§5: "the handler for a concurrent request on the same
// resource observes transfer_active == true and rejects the overlap").
func (s *BlockTransferSender) Begin(peer Addr, token []byte, file File, isImage bool, sequence uint32, messageID uint16) (*Message, error) {
	if _, active := s.states[peer]; active {
		return nil, ErrServiceUnavailable
	}
	size, err := file.Size()
	if err != nil {
		return nil, ErrServiceUnavailable
	}

	payload, more, err := readBlock(file, 0, s.blockSize, size)
	if err != nil {
		return nil, ErrServiceUnavailable
	}

	st := &BlockSendState{
		Peer:          peer,
		Token:         token,
		File:          file,
		BlockNum:      0,
		WaitingForAck: true,
		IsImage:       isImage,
		TotalSize:     size,
		MessageID:     messageID,
	}
	s.states[peer] = st

	m := NewMessage(CON, Content2_05, messageID, token)
	m.Options.SetUint(OptObserve, sequence)
	m.Options.SetUint(OptBlock2, block2Value(0, more, SZXMax))
	if isImage {
		m.Options.SetUint(OptContentFormat, ContentFormatImageJPEG)
	}
	m.Payload = payload
	return m, nil
}

// Advance is called when the outstanding block for peer is ACKed. It
// returns the next CON notification, or (nil, true, nil) when the
// transfer has just completed (the file is closed and state released).
func (s *BlockTransferSender) Advance(peer Addr, sequence uint32, messageID uint16) (*Message, bool, error) {
	st, ok := s.states[peer]
	if !ok {
		return nil, false, nil
	}
	total := blockCount(st.TotalSize, s.blockSize)
	if st.BlockNum+1 >= total {
		s.closeAndClear(peer)
		return nil, true, nil
	}

	st.BlockNum++
	payload, more, err := readBlock(st.File, st.BlockNum, s.blockSize, st.TotalSize)
	if err != nil {
		s.closeAndClear(peer)
		return nil, true, ErrServiceUnavailable
	}
	st.WaitingForAck = true
	st.MessageID = messageID

	m := NewMessage(CON, Content2_05, messageID, st.Token)
	m.Options.SetUint(OptObserve, sequence)
	m.Options.SetUint(OptBlock2, block2Value(st.BlockNum, more, SZXMax))
	// Content-Format is only ever present on block 0 (§4.5/§9).
	m.Payload = payload
	return m, false, nil
}

// Abort is called from the reliability engine's failure callback when a
// block notification is never ACKed: the transfer is cancelled, the file
// released (§4.5).
func (s *BlockTransferSender) Abort(peer Addr) {
	if _, ok := s.states[peer]; !ok {
		return
	}
	logf(s.log, "blocksend: aborting transfer to peer=%s", peer)
	s.closeAndClear(peer)
}

// Active reports whether peer has an in-flight transfer (used to reject
// overlapping requests on the same resource, §5).
func (s *BlockTransferSender) Active(peer Addr) bool {
	_, ok := s.states[peer]
	return ok
}

// ActiveCount returns the number of in-flight sends, for StatusReporter.
func (s *BlockTransferSender) ActiveCount() int {
	return len(s.states)
}

func (s *BlockTransferSender) closeAndClear(peer Addr) {
	if st, ok := s.states[peer]; ok {
		st.File.Close()
		delete(s.states, peer)
	}
}

// readBlock reads up to blockSize bytes starting at blockNum*blockSize and
// reports whether more blocks follow.
func readBlock(f File, blockNum uint32, blockSize int, totalSize int64) ([]byte, bool, error) {
	offset := int64(blockNum) * int64(blockSize)
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return nil, false, err
	}
	buf := make([]byte, blockSize)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, false, err
	}
	more := offset+int64(n) < totalSize
	return buf[:n], more, nil
}

func blockCount(totalSize int64, blockSize int) uint32 {
	if totalSize <= 0 {
		return 1
	}
	n := (totalSize + int64(blockSize) - 1) / int64(blockSize)
	return uint32(n)
}

func block2Value(num uint32, more bool, szx uint8) uint32 {
	packed := num<<4 | uint32(szx)&0x7
	if more {
		packed |= 1 << 3
	}
	return packed
}
