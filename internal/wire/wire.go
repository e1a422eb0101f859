// Package wire implements the binary, self-describing frame format sync
// messages travel in: an RLP-encoded list of a one-byte type
// discriminant and the RLP-encoded body. go-ethereum/rlp is already a direct teacher
// dependency (previously used for its devp2p transport); repurposed
// here as a transport-agnostic encoder, replacing the teacher's
// encoding/json-over-stream framing in internal/gossip/gossip.go.
package wire

import (
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"
)

// MessageType discriminates the frame body's Go type on decode.
type MessageType byte

const (
	MsgDeltaAnnounce MessageType = iota + 1
	MsgDeltaRequest
	MsgDeltaBatch
	MsgSnapshotRequest
	MsgSnapshotPage
	MsgMerkleDiffRequest
	MsgMerkleChunk
	MsgEntityDiffRequest
	MsgEntityBatch
	MsgKeyShareInit
	MsgKeyShareChallenge
	MsgKeyShareResponse
	MsgKeyShareAck
	MsgAncestorRequest
	MsgAncestorResponse
)

// Frame is the on-wire envelope: a type tag plus the RLP-encoded body.
type Frame struct {
	Type MessageType
	Body []byte
}

// Encode RLP-encodes body and wraps it in a Frame tagged typ, producing
// the bytes written to a stream.
func Encode(typ MessageType, body interface{}) ([]byte, error) {
	bodyBytes, err := rlp.EncodeToBytes(body)
	if err != nil {
		return nil, fmt.Errorf("rlp encode body: %w", err)
	}
	frame := Frame{Type: typ, Body: bodyBytes}
	framed, err := rlp.EncodeToBytes(frame)
	if err != nil {
		return nil, fmt.Errorf("rlp encode frame: %w", err)
	}
	return framed, nil
}

// DecodeFrame strips the envelope, returning the message type and raw
// RLP-encoded body for a type-specific Decode call.
func DecodeFrame(data []byte) (Frame, error) {
	var frame Frame
	if err := rlp.DecodeBytes(data, &frame); err != nil {
		return Frame{}, fmt.Errorf("rlp decode frame: %w", err)
	}
	return frame, nil
}

// Decode RLP-decodes a frame's body into out.
func Decode(body []byte, out interface{}) error {
	if err := rlp.DecodeBytes(body, out); err != nil {
		return fmt.Errorf("rlp decode body: %w", err)
	}
	return nil
}
