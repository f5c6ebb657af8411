package wire

import (
	"crypto/rand"

	"golang.org/x/crypto/chacha20"
)

// NonceStream draws successive XChaCha20-Poly1305 nonces from a single
// ChaCha20 keystream seeded by the session secret, mirroring the
// original connection.rs's ChaCha20Rng::from_seed(seed) generator.
// Both directions of a connection seed their stream from the same
// all-zero nonce, so the client->server and server->client keystreams
// are the SAME sequence. This is a known, flagged nonce-reuse hazard
// inherited from the original design (see spec.md §9 Open Question 2)
// and is intentionally not silently fixed here: doing so (e.g. by
// folding a direction byte into the seed) would make this
// implementation wire-incompatible with a conforming peer. Concurrent
// use of a single NonceStream from more than one goroutine is not
// supported; each connection actor owns exactly one.
type NonceStream struct {
	cipher *chacha20.Cipher
}

// NewNonceStream seeds a nonce stream from secret. dir documents which
// direction this stream is for at the call site but does NOT affect
// the seed: both directions deliberately draw from the identical
// keystream sequence, per the hazard noted above.
func NewNonceStream(secret [SecretLen]byte, dir byte) (*NonceStream, error) {
	var nonce [chacha20.NonceSize]byte

	c, err := chacha20.NewUnauthenticatedCipher(secret[:], nonce[:])
	if err != nil {
		return nil, err
	}
	return &NonceStream{cipher: c}, nil
}

// DirectionClientToServer and DirectionServerToClient label the two
// per-connection nonce streams at their construction call sites.
const (
	DirectionClientToServer byte = 0
	DirectionServerToClient byte = 1
)

// Next draws the next NonceLen-byte nonce from the stream.
func (ns *NonceStream) Next() [NonceLen]byte {
	var zero, out [NonceLen]byte
	ns.cipher.XORKeyStream(out[:], zero[:])
	return out
}

// GenerateSecret returns a fresh cryptographically random session
// secret of SecretLen bytes, the value a client encrypts into
// EncryptionConfirm. The server itself never calls it: it adopts the
// secret the client sends.
func GenerateSecret() ([SecretLen]byte, error) {
	var s [SecretLen]byte
	_, err := rand.Read(s[:])
	return s, err
}

// GenerateToken returns a fresh handshake challenge token.
func GenerateToken() ([TokenLen]byte, error) {
	var t [TokenLen]byte
	_, err := rand.Read(t[:])
	return t, err
}
