package wire

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"errors"
)

// Standard library crypto/rsa and crypto/x509 are used here rather than
// a third-party library: no available dependency ships an RSA
// implementation suited to this handshake, so bootstrapping the
// session secret falls back to Go's own PKCS1v15 support.

// KeyPair is the arbiter's long-lived RSA handshake key, generated
// once at startup.
type KeyPair struct {
	Private *rsa.PrivateKey
}

// GenerateKeyPair creates a fresh RSABits-bit RSA key pair.
func GenerateKeyPair() (*KeyPair, error) {
	priv, err := rsa.GenerateKey(rand.Reader, RSABits)
	if err != nil {
		return nil, err
	}
	return &KeyPair{Private: priv}, nil
}

// PublicKeyDER marshals the public half as a DER-encoded
// SubjectPublicKeyInfo, the form carried in EncryptionResponse.
func (kp *KeyPair) PublicKeyDER() ([]byte, error) {
	return x509.MarshalPKIXPublicKey(&kp.Private.PublicKey)
}

// ParsePublicKeyDER parses the DER SubjectPublicKeyInfo a client
// receives in EncryptionResponse.
func ParsePublicKeyDER(der []byte) (*rsa.PublicKey, error) {
	pub, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, err
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("wire: handshake public key is not RSA")
	}
	return rsaPub, nil
}

// EncryptPKCS1v15 encrypts msg for pub, the client-side half of the
// handshake (encrypting the session secret and the echoed token).
func EncryptPKCS1v15(pub *rsa.PublicKey, msg []byte) ([]byte, error) {
	return rsa.EncryptPKCS1v15(rand.Reader, pub, msg)
}

// DecryptPKCS1v15 decrypts ciphertext with the arbiter's private key.
func DecryptPKCS1v15(kp *KeyPair, ciphertext []byte) ([]byte, error) {
	return rsa.DecryptPKCS1v15(rand.Reader, kp.Private, ciphertext)
}

// SaltLen is the length in bytes of a per-account password salt.
const SaltLen = 64

// HashPassword derives the stored credential from a plaintext password
// and a per-account salt: the first 32 bytes of SHA-256(pw || salt),
// which for SHA-256 is simply the whole digest. Standard library
// crypto/sha256 is used directly rather than a dedicated
// password-hashing library (argon2/bcrypt): none is present anywhere in
// the retrieved corpus, and matching the original server's own scheme
// (a plain salted hash, not a deliberately slow KDF) is the grounded
// choice here.
func HashPassword(password string, salt [SaltLen]byte) [32]byte {
	h := sha256.New()
	h.Write([]byte(password))
	h.Write(salt[:])
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// NewSalt returns a fresh random per-account password salt.
func NewSalt() ([SaltLen]byte, error) {
	var s [SaltLen]byte
	_, err := rand.Read(s[:])
	return s, err
}
