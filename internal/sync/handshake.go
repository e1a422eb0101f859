package sync

import (
	cryptorand "crypto/rand"
	"fmt"
	"io"

	"github.com/calimero-network/core/internal/wire"
	"github.com/calimero-network/core/pkg/calerr"
	"github.com/calimero-network/core/pkg/identity"
)

// domainTag is prepended to every handshake challenge before signing,
// so a signature from this protocol can never be replayed as a
// signature over some other message shape.
var domainTag = []byte("calimero-key-share-v1")

// IsInitiator implements §4.5.5 step 2's deterministic role split: the
// peer with the lexicographically greater public key leads.
func IsInitiator(ourPub, peerPub identity.PublicKey) bool {
	for i := 0; i < len(ourPub) && i < len(peerPub); i++ {
		if ourPub[i] != peerPub[i] {
			return ourPub[i] > peerPub[i]
		}
	}
	return len(ourPub) > len(peerPub)
}

// Challenge is a 32-byte random nonce one side asks the other to sign.
type Challenge [32]byte

// NewChallenge generates a fresh random challenge.
func NewChallenge() (Challenge, error) {
	var c Challenge
	if _, err := cryptorand.Read(c[:]); err != nil {
		return Challenge{}, fmt.Errorf("generate challenge: %w", err)
	}
	return c, nil
}

// SignChallenge signs DOMAIN_TAG||challenge with priv, the responder's
// half of the challenge-response exchange.
func SignChallenge(priv identity.PrivateKey, c Challenge) ([]byte, error) {
	return identity.Sign(priv, append(append([]byte(nil), domainTag...), c[:]...))
}

// VerifyChallenge checks a peer's signature over a challenge this side
// issued, against the peer's claimed public key.
func VerifyChallenge(peerPub identity.PublicKey, c Challenge, signature []byte) bool {
	return identity.Verify(peerPub, append(append([]byte(nil), domainTag...), c[:]...), signature)
}

// KeyShareHandshake drives both roles of §4.5.5 over a single duplex
// stream, each side proving possession of its private key before
// trading sender keys.
type KeyShareHandshake struct {
	ourPub     identity.PublicKey
	ourPriv    identity.PrivateKey
	ourSenderKey []byte
}

// NewKeyShareHandshake constructs a handshake driver for our identity.
func NewKeyShareHandshake(pub identity.PublicKey, priv identity.PrivateKey, senderKey []byte) *KeyShareHandshake {
	return &KeyShareHandshake{ourPub: pub, ourPriv: priv, ourSenderKey: senderKey}
}

// handshakeInit / Challenge / ChallengeResponse / KeyShare mirror
// spec.md §6's Stream message Payload variants.
type handshakeInit struct {
	PublicKey []byte
}
type handshakeChallenge struct {
	Nonce [32]byte
}
type handshakeChallengeResponse struct {
	Signature []byte
}
type handshakeKeyShare struct {
	SenderKey []byte
}

// RunInitiator drives the initiator side of the handshake (this side
// has the lexicographically greater public key): send Init, issue a
// challenge, verify the response, answer the peer's own challenge, then
// trade sender keys. Returns the peer's verified sender key.
func (h *KeyShareHandshake) RunInitiator(peerPub identity.PublicKey, send func(msgType byte, v interface{}) error, recv func(msgType byte, v interface{}) error) ([]byte, error) {
	if err := send(msgHandshakeInit, handshakeInit{PublicKey: h.ourPub}); err != nil {
		return nil, err
	}

	challenge, err := NewChallenge()
	if err != nil {
		return nil, err
	}
	if err := send(msgHandshakeChallenge, handshakeChallenge{Nonce: challenge}); err != nil {
		return nil, err
	}
	var resp handshakeChallengeResponse
	if err := recv(msgHandshakeChallengeResponse, &resp); err != nil {
		return nil, err
	}
	if !VerifyChallenge(peerPub, challenge, resp.Signature) {
		return nil, calerr.Wrap(calerr.ErrAuthenticationFailed, "responder signature invalid")
	}

	var peerChallenge handshakeChallenge
	if err := recv(msgHandshakeChallenge, &peerChallenge); err != nil {
		return nil, err
	}
	sig, err := SignChallenge(h.ourPriv, peerChallenge.Nonce)
	if err != nil {
		return nil, err
	}
	if err := send(msgHandshakeChallengeResponse, handshakeChallengeResponse{Signature: sig}); err != nil {
		return nil, err
	}

	if err := send(msgHandshakeKeyShare, handshakeKeyShare{SenderKey: h.ourSenderKey}); err != nil {
		return nil, err
	}
	var peerKeyShare handshakeKeyShare
	if err := recv(msgHandshakeKeyShare, &peerKeyShare); err != nil {
		return nil, err
	}
	return peerKeyShare.SenderKey, nil
}

// RunResponder drives the responder side (lexicographically smaller
// public key): receive Init, answer the initiator's challenge, issue
// our own, verify the response, then trade sender keys.
func (h *KeyShareHandshake) RunResponder(send func(msgType byte, v interface{}) error, recv func(msgType byte, v interface{}) error) ([]byte, identity.PublicKey, error) {
	var init handshakeInit
	if err := recv(msgHandshakeInit, &init); err != nil {
		return nil, nil, err
	}
	peerPub := identity.PublicKey(init.PublicKey)

	var challenge handshakeChallenge
	if err := recv(msgHandshakeChallenge, &challenge); err != nil {
		return nil, nil, err
	}
	sig, err := SignChallenge(h.ourPriv, challenge.Nonce)
	if err != nil {
		return nil, nil, err
	}
	if err := send(msgHandshakeChallengeResponse, handshakeChallengeResponse{Signature: sig}); err != nil {
		return nil, nil, err
	}

	ourChallenge, err := NewChallenge()
	if err != nil {
		return nil, nil, err
	}
	if err := send(msgHandshakeChallenge, handshakeChallenge{Nonce: ourChallenge}); err != nil {
		return nil, nil, err
	}
	var resp handshakeChallengeResponse
	if err := recv(msgHandshakeChallengeResponse, &resp); err != nil {
		return nil, nil, err
	}
	if !VerifyChallenge(peerPub, ourChallenge, resp.Signature) {
		return nil, nil, calerr.Wrap(calerr.ErrAuthenticationFailed, "initiator signature invalid")
	}

	var peerKeyShare handshakeKeyShare
	if err := recv(msgHandshakeKeyShare, &peerKeyShare); err != nil {
		return nil, nil, err
	}
	if err := send(msgHandshakeKeyShare, handshakeKeyShare{SenderKey: h.ourSenderKey}); err != nil {
		return nil, nil, err
	}
	return peerKeyShare.SenderKey, peerPub, nil
}

const (
	msgHandshakeInit byte = iota + 1
	msgHandshakeChallenge
	msgHandshakeChallengeResponse
	msgHandshakeKeyShare
)

var handshakeWireType = map[byte]wire.MessageType{
	msgHandshakeInit:              wire.MsgKeyShareInit,
	msgHandshakeChallenge:         wire.MsgKeyShareChallenge,
	msgHandshakeChallengeResponse: wire.MsgKeyShareResponse,
	msgHandshakeKeyShare:          wire.MsgKeyShareAck,
}

// StreamSendRecv builds the send/recv callbacks KeyShareHandshake needs
// from a raw duplex stream (a libp2p network.Stream satisfies
// io.ReadWriter), framing each message through internal/wire.
func StreamSendRecv(stream io.ReadWriter) (send func(byte, interface{}) error, recv func(byte, interface{}) error) {
	send = func(msgType byte, v interface{}) error {
		framed, err := wire.Encode(handshakeWireType[msgType], v)
		if err != nil {
			return err
		}
		return writeFrame(stream, framed)
	}
	recv = func(wantType byte, v interface{}) error {
		data, err := readFrame(stream)
		if err != nil {
			return err
		}
		frame, err := wire.DecodeFrame(data)
		if err != nil {
			return err
		}
		if frame.Type != handshakeWireType[wantType] {
			return calerr.Wrap(calerr.ErrProtocolError, "expected message type %d, got %d", handshakeWireType[wantType], frame.Type)
		}
		return wire.Decode(frame.Body, v)
	}
	return send, recv
}
