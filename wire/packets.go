// Package wire implements Accord's framed, nonce-synchronized,
// length-prefixed, authenticated-encrypted wire protocol: the typed
// packet sum types, their CBOR encoding, and the XChaCha20-Poly1305
// frame format layered on top once a session key is installed.
package wire

// RSABits is the size of the RSA key pair generated once at arbiter
// startup and used only to bootstrap the session key.
const RSABits = 1024

// TokenLen is the length in bytes of the handshake challenge token.
const TokenLen = 32

// SecretLen is the length in bytes of the session key established by
// the handshake.
const SecretLen = 32

// NonceLen is the length in bytes of an XChaCha20-Poly1305 nonce.
const NonceLen = 24

// MaxFrameLen bounds the length prefix of an encrypted frame so a
// corrupt or hostile length field can't make the reader allocate
// unboundedly.
const MaxFrameLen = 32 * 1024 * 1024

// ServerboundPacket is implemented by every client-to-server packet
// variant.
type ServerboundPacket interface {
	isServerboundPacket()
}

// ClientboundPacket is implemented by every server-to-client packet
// variant.
type ClientboundPacket interface {
	isClientboundPacket()
}

// --- Serverbound (client -> server) variants ---

type Ping struct{}

func (Ping) isServerboundPacket() {}

type EncryptionRequest struct{}

func (EncryptionRequest) isServerboundPacket() {}

// EncryptionConfirm carries the RSA-PKCS1v15-encrypted session secret
// and the RSA-PKCS1v15-encrypted echo of the challenge token.
type EncryptionConfirm struct {
	EncSecret []byte
	EncToken  []byte
}

func (EncryptionConfirm) isServerboundPacket() {}

type Login struct {
	Username string
	Password string
}

func (Login) isServerboundPacket() {}

type Message struct {
	Text string
}

func (Message) isServerboundPacket() {}

type ImageMessage struct {
	Bytes []byte
}

func (ImageMessage) isServerboundPacket() {}

type Command struct {
	Text string
}

func (Command) isServerboundPacket() {}

type FetchMessages struct {
	Offset int64
	Count  int64
}

func (FetchMessages) isServerboundPacket() {}

// --- Clientbound (server -> client) variants ---

type Pong struct{}

func (Pong) isClientboundPacket() {}

// EncryptionResponse carries the server's RSA public key (DER
// SubjectPublicKeyInfo) and the fresh challenge token.
type EncryptionResponse struct {
	PubKeyDER []byte
	Token     []byte
}

func (EncryptionResponse) isClientboundPacket() {}

type EncryptionAck struct{}

func (EncryptionAck) isClientboundPacket() {}

type LoginAck struct{}

func (LoginAck) isClientboundPacket() {}

type LoginFailed struct {
	Reason string
}

func (LoginFailed) isClientboundPacket() {}

type UserJoined struct {
	Username string
}

func (UserJoined) isClientboundPacket() {}

type UserLeft struct {
	Username string
}

func (UserLeft) isClientboundPacket() {}

type UsersOnline struct {
	Usernames []string
}

func (UsersOnline) isClientboundPacket() {}

// ChatMessage is the clientbound Message{...} variant (named to avoid
// colliding with the serverbound Message above).
type ChatMessage struct {
	SenderID int64
	Sender   string
	Text     string
	Time     uint64
}

func (ChatMessage) isClientboundPacket() {}

// ChatImageMessage is the clientbound ImageMessage{...} variant.
type ChatImageMessage struct {
	SenderID   int64
	Sender     string
	ImageBytes []byte
	Time       uint64
}

func (ChatImageMessage) isClientboundPacket() {}
