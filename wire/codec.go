package wire

import (
	"bytes"
	"errors"
	"io"
	"reflect"

	"github.com/fxamacker/cbor/v2"
	"golang.org/x/crypto/chacha20poly1305"
)

// ErrIncomplete is returned by the decode functions when the supplied
// buffer does not yet contain a full packet or frame; the caller should
// read more bytes from the socket and retry.
var ErrIncomplete = errors.New("wire: incomplete data")

// Tag numbers are taken from the IANA "unassigned" private-use range.
// Serverbound and clientbound packets get disjoint ranges so a stray
// cross-direction packet fails to decode instead of being silently
// reinterpreted.
const (
	tagPing = 40000 + iota
	tagEncryptionRequest
	tagEncryptionConfirm
	tagLogin
	tagMessage
	tagImageMessage
	tagCommand
	tagFetchMessages
)

const (
	tagPong = 40100 + iota
	tagEncryptionResponse
	tagEncryptionAck
	tagLoginAck
	tagLoginFailed
	tagUserJoined
	tagUserLeft
	tagUsersOnline
	tagChatMessage
	tagChatImageMessage
)

func mustAdd(ts cbor.TagSet, typ interface{}, tag uint64) {
	opts := cbor.TagOptions{EncTag: cbor.EncTagRequired, DecTag: cbor.DecTagRequired}
	if err := ts.Add(opts, reflect.TypeOf(typ), tag); err != nil {
		panic(err)
	}
}

var serverboundTags = cbor.NewTagSet()
var clientboundTags = cbor.NewTagSet()

func init() {
	mustAdd(serverboundTags, Ping{}, tagPing)
	mustAdd(serverboundTags, EncryptionRequest{}, tagEncryptionRequest)
	mustAdd(serverboundTags, EncryptionConfirm{}, tagEncryptionConfirm)
	mustAdd(serverboundTags, Login{}, tagLogin)
	mustAdd(serverboundTags, Message{}, tagMessage)
	mustAdd(serverboundTags, ImageMessage{}, tagImageMessage)
	mustAdd(serverboundTags, Command{}, tagCommand)
	mustAdd(serverboundTags, FetchMessages{}, tagFetchMessages)

	mustAdd(clientboundTags, Pong{}, tagPong)
	mustAdd(clientboundTags, EncryptionResponse{}, tagEncryptionResponse)
	mustAdd(clientboundTags, EncryptionAck{}, tagEncryptionAck)
	mustAdd(clientboundTags, LoginAck{}, tagLoginAck)
	mustAdd(clientboundTags, LoginFailed{}, tagLoginFailed)
	mustAdd(clientboundTags, UserJoined{}, tagUserJoined)
	mustAdd(clientboundTags, UserLeft{}, tagUserLeft)
	mustAdd(clientboundTags, UsersOnline{}, tagUsersOnline)
	mustAdd(clientboundTags, ChatMessage{}, tagChatMessage)
	mustAdd(clientboundTags, ChatImageMessage{}, tagChatImageMessage)
}

var serverboundEncMode, _ = cbor.EncOptions{}.EncModeWithTags(serverboundTags)
var serverboundDecMode, _ = cbor.DecOptions{}.DecModeWithTags(serverboundTags)
var clientboundEncMode, _ = cbor.EncOptions{}.EncModeWithTags(clientboundTags)
var clientboundDecMode, _ = cbor.DecOptions{}.DecModeWithTags(clientboundTags)

// EncodeServerbound serializes a client-to-server packet.
func EncodeServerbound(p ServerboundPacket) ([]byte, error) {
	return serverboundEncMode.Marshal(p)
}

// EncodeClientbound serializes a server-to-client packet.
func EncodeClientbound(p ClientboundPacket) ([]byte, error) {
	return clientboundEncMode.Marshal(p)
}

// DecodeServerbound attempts to decode a single packet from the head of
// buf. On success it returns the packet and the number of bytes
// consumed; the caller retains buf[consumed:] as the carry-over buffer
// for the next call. Returns
// ErrIncomplete if buf does not yet hold a full packet.
func DecodeServerbound(buf []byte) (ServerboundPacket, int, error) {
	var v interface{}
	consumed, err := decodeOne(serverboundDecMode, buf, &v)
	if err != nil {
		return nil, 0, err
	}
	p, ok := v.(ServerboundPacket)
	if !ok {
		return nil, 0, errors.New("wire: decoded value is not a serverbound packet")
	}
	return p, consumed, nil
}

// DecodeClientbound is the clientbound analogue of DecodeServerbound.
func DecodeClientbound(buf []byte) (ClientboundPacket, int, error) {
	var v interface{}
	consumed, err := decodeOne(clientboundDecMode, buf, &v)
	if err != nil {
		return nil, 0, err
	}
	p, ok := v.(ClientboundPacket)
	if !ok {
		return nil, 0, errors.New("wire: decoded value is not a clientbound packet")
	}
	return p, consumed, nil
}

func decodeOne(mode cbor.DecMode, buf []byte, v interface{}) (int, error) {
	// The stream decoder reads ahead from r into its own buffer, so the
	// consumed count comes from the decoder, not from what is left in r.
	dec := mode.NewDecoder(bytes.NewReader(buf))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return 0, ErrIncomplete
		}
		return 0, err
	}
	return dec.NumBytesRead(), nil
}

// EncryptFrame wraps packetBytes into the on-wire ciphertext frame:
// [4-byte big-endian length][XChaCha20-Poly1305 ciphertext || tag].
func EncryptFrame(packetBytes []byte, key [SecretLen]byte, nonce [NonceLen]byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, err
	}
	ciphertext := aead.Seal(nil, nonce[:], packetBytes, nil)

	frame := make([]byte, 4+len(ciphertext))
	putBE32(frame[:4], uint32(len(ciphertext)))
	copy(frame[4:], ciphertext)
	return frame, nil
}

// PeekFrameTotal inspects the 4-byte length prefix at the head of buf
// without consuming anything or drawing a nonce. ready reports whether
// buf already holds the complete frame (total bytes); callers should
// wait for more input when ready is false and err is nil.
func PeekFrameTotal(buf []byte) (total int, ready bool, err error) {
	if len(buf) < 4 {
		return 0, false, nil
	}
	n := readBE32(buf[:4])
	if n > MaxFrameLen {
		return 0, false, errors.New("wire: frame length exceeds maximum")
	}
	total = 4 + int(n)
	return total, len(buf) >= total, nil
}

// DecryptFrame reads one ciphertext frame from the head of buf and
// returns the decrypted packet bytes plus the number of bytes consumed.
// Returns ErrIncomplete if buf doesn't yet hold a full frame, and a
// non-ErrIncomplete error if the length prefix exceeds MaxFrameLen or
// the authentication tag fails to verify (both fatal for the
// connection).
func DecryptFrame(buf []byte, key [SecretLen]byte, nonce [NonceLen]byte) ([]byte, int, error) {
	if len(buf) < 4 {
		return nil, 0, ErrIncomplete
	}
	n := readBE32(buf[:4])
	if n > MaxFrameLen {
		return nil, 0, errors.New("wire: frame length exceeds maximum")
	}
	total := 4 + int(n)
	if len(buf) < total {
		return nil, 0, ErrIncomplete
	}

	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, 0, err
	}
	plaintext, err := aead.Open(nil, nonce[:], buf[4:total], nil)
	if err != nil {
		return nil, 0, errors.New("wire: authentication tag mismatch")
	}
	return plaintext, total, nil
}

func putBE32(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}

func readBE32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}
