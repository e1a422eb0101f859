package sync

import (
	"encoding/binary"
	"fmt"
	"io"
)

// writeFrame length-prefixes a pre-encoded wire frame and writes it to
// stream, the same shape the teacher's gossip.go used for its
// newline-delimited JSON frames, adapted to a binary length prefix since
// internal/wire's RLP encoding is not self-delimiting over a stream.
func writeFrame(w io.Writer, framed []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(framed)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("write frame length: %w", err)
	}
	if _, err := w.Write(framed); err != nil {
		return fmt.Errorf("write frame body: %w", err)
	}
	return nil
}

// readFrame reads one length-prefixed frame previously written by
// writeFrame.
func readFrame(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, fmt.Errorf("read frame length: %w", err)
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	const maxFrame = 16 * 1024 * 1024
	if n > maxFrame {
		return nil, fmt.Errorf("frame too large: %d bytes", n)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("read frame body: %w", err)
	}
	return body, nil
}
