package conn

import (
	"fmt"
	"net"
	"time"
	"unicode"

	logging "gopkg.in/op/go-logging.v1"

	"github.com/LoipesMas/accord/internal/arbiter"
	"github.com/LoipesMas/accord/internal/command"
	"github.com/LoipesMas/accord/internal/worker"
	"github.com/LoipesMas/accord/wire"
)

// readChunkSize is how much the reader pulls from the socket per Read
// call before retrying a decode against the carry-over buffer.
const readChunkSize = 4096

// state is the C2 handshake/session state machine.
type state int

const (
	stateFresh state = iota
	stateAwaitingEncryptionConfirm
	stateEncrypted
	stateLoggedIn
	stateClosed
)

// Reader is Accord's C2: it owns the socket's read half, runs the
// handshake state machine, and translates inbound packets into
// arbiter commands or direct writer commands.
type Reader struct {
	worker.Worker

	conn    net.Conn
	addr    string
	cmds    chan<- arbiter.Command
	writerQ chan arbiter.WriterCmd
	log     *logging.Logger

	state         state
	expectedToken [wire.TokenLen]byte
	secret        *[wire.SecretLen]byte
	nonces        *wire.NonceStream
	userID        int64
	username      string
}

// NewReader constructs a Reader for c. writerQ is the queue of this
// connection's own paired Writer.
func NewReader(c net.Conn, cmds chan<- arbiter.Command, writerQ chan arbiter.WriterCmd, log *logging.Logger) *Reader {
	return &Reader{
		conn:    c,
		addr:    c.RemoteAddr().String(),
		cmds:    cmds,
		writerQ: writerQ,
		log:     log,
		state:   stateFresh,
	}
}

// Addr returns the identifier the arbiter's global state uses for this
// connection.
func (r *Reader) Addr() string { return r.addr }

// Start launches the reader's receive loop.
func (r *Reader) Start() {
	r.Go(r.run)
}

func (r *Reader) run() {
	buf := make([]byte, 0, readChunkSize)
	chunk := make([]byte, readChunkSize)

	for {
		pkt, consumed, err := r.tryDecode(buf)
		if err == wire.ErrIncomplete {
			n, readErr := r.conn.Read(chunk)
			if n > 0 {
				buf = append(buf, chunk[:n]...)
			}
			if readErr != nil {
				r.logDisconnect(readErr)
				r.terminate()
				return
			}
			continue
		}
		if err != nil {
			r.log.Warningf("%s: decode error: %v", r.addr, err)
			r.terminate()
			return
		}

		buf = buf[consumed:]
		if !r.dispatch(pkt) {
			r.terminate()
			return
		}
		if r.state == stateClosed {
			return
		}
	}
}

func (r *Reader) logDisconnect(err error) {
	if ne, ok := err.(net.Error); ok && !ne.Timeout() {
		r.log.Infof("%s: connection reset by peer", r.addr)
		return
	}
	r.log.Infof("%s: connection closed: %v", r.addr, err)
}

// tryDecode attempts to pull one serverbound packet from the head of
// buf, applying decryption first if a session key has been installed.
func (r *Reader) tryDecode(buf []byte) (wire.ServerboundPacket, int, error) {
	if r.secret == nil {
		return wire.DecodeServerbound(buf)
	}

	total, ready, err := wire.PeekFrameTotal(buf)
	if err != nil {
		return nil, 0, err
	}
	if !ready {
		return nil, 0, wire.ErrIncomplete
	}
	nonce := r.nonces.Next()
	plaintext, consumed, err := wire.DecryptFrame(buf[:total], *r.secret, nonce)
	if err != nil {
		return nil, 0, err
	}
	pkt, _, err := wire.DecodeServerbound(plaintext)
	if err != nil {
		return nil, 0, err
	}
	return pkt, consumed, nil
}

// terminate runs the common failure/disconnect path: tell the arbiter
// this address is gone and close the writer.
func (r *Reader) terminate() {
	if r.state == stateClosed {
		return
	}
	r.state = stateClosed
	r.cmds <- arbiter.UserLeftCmd{Addr: r.addr}
	TrySend(r.writerQ, arbiter.CloseWriter{}, r.log)
}

// dispatch handles one decoded packet per the current state. It
// returns false if the connection must terminate.
func (r *Reader) dispatch(pkt wire.ServerboundPacket) bool {
	switch pkt.(type) {
	case wire.Ping:
		TrySend(r.writerQ, arbiter.WriteFrame{Pkt: wire.Pong{}}, r.log)
		return true
	}

	switch r.state {
	case stateFresh:
		return r.dispatchFresh(pkt)
	case stateAwaitingEncryptionConfirm:
		return r.dispatchAwaitingConfirm(pkt)
	case stateEncrypted:
		return r.dispatchEncrypted(pkt)
	case stateLoggedIn:
		return r.dispatchLoggedIn(pkt)
	default:
		return true
	}
}

func (r *Reader) dispatchFresh(pkt wire.ServerboundPacket) bool {
	if _, ok := pkt.(wire.EncryptionRequest); !ok {
		r.log.Debugf("%s: ignoring %T in Fresh state", r.addr, pkt)
		return true
	}
	reply := make(chan arbiter.EncryptionRequestReply, 1)
	r.cmds <- arbiter.EncryptionRequestCmd{WriterQ: r.writerQ, Reply: reply}
	res := <-reply
	r.expectedToken = res.Token
	r.state = stateAwaitingEncryptionConfirm
	return true
}

func (r *Reader) dispatchAwaitingConfirm(pkt wire.ServerboundPacket) bool {
	confirm, ok := pkt.(wire.EncryptionConfirm)
	if !ok {
		r.log.Debugf("%s: ignoring %T in AwaitingEncryptionConfirm state", r.addr, pkt)
		return true
	}

	reply := make(chan arbiter.EncryptionConfirmReply, 1)
	r.cmds <- arbiter.EncryptionConfirmCmd{
		WriterQ:       r.writerQ,
		ExpectedToken: r.expectedToken,
		EncSecret:     confirm.EncSecret,
		EncToken:      confirm.EncToken,
		Reply:         reply,
	}
	res := <-reply
	if res.Err != nil {
		r.log.Warningf("%s: handshake failed: %v", r.addr, res.Err)
		return false
	}

	secret := res.Secret
	r.secret = &secret
	nonces, err := wire.NewNonceStream(secret, wire.DirectionClientToServer)
	if err != nil {
		r.log.Errorf("%s: failed to construct reader nonce stream: %v", r.addr, err)
		return false
	}
	r.nonces = nonces
	r.state = stateEncrypted
	return true
}

func (r *Reader) dispatchEncrypted(pkt wire.ServerboundPacket) bool {
	login, ok := pkt.(wire.Login)
	if !ok {
		r.log.Debugf("%s: ignoring %T in Encrypted state", r.addr, pkt)
		return true
	}

	reply := make(chan arbiter.LoginReply, 1)
	r.cmds <- arbiter.LoginAttemptCmd{
		Addr:     r.addr,
		Username: login.Username,
		Password: login.Password,
		WriterQ:  r.writerQ,
		Reply:    reply,
	}
	res := <-reply
	if !res.Ok {
		TrySend(r.writerQ, arbiter.WriteFrame{Pkt: wire.LoginFailed{Reason: res.Reason}}, r.log)
		return false
	}

	r.userID = res.UserID
	r.username = res.Username
	r.state = stateLoggedIn
	TrySend(r.writerQ, arbiter.WriteFrame{Pkt: wire.LoginAck{}}, r.log)
	r.cmds <- arbiter.UserJoinedCmd{Username: r.username}
	return true
}

func (r *Reader) dispatchLoggedIn(pkt wire.ServerboundPacket) bool {
	switch p := pkt.(type) {
	case wire.Message:
		if !isValidMessage(p.Text) {
			r.log.Debugf("%s: dropping invalid message", r.addr)
			return true
		}
		r.cmds <- arbiter.Broadcast{Pkt: wire.ChatMessage{
			SenderID: r.userID,
			Sender:   r.username,
			Text:     p.Text,
			Time:     uint64(time.Now().Unix()),
		}}
		return true

	case wire.ImageMessage:
		r.cmds <- arbiter.Broadcast{
			Pkt: wire.ChatImageMessage{
				SenderID:   r.userID,
				Sender:     r.username,
				ImageBytes: p.Bytes,
				Time:       uint64(time.Now().Unix()),
			},
			ImageBytes: p.Bytes,
		}
		return true

	case wire.FetchMessages:
		reply := make(chan []wire.ClientboundPacket, 1)
		r.cmds <- arbiter.FetchMessagesCmd{Addr: r.addr, Offset: p.Offset, Count: p.Count, Reply: reply}
		pkts := <-reply
		for i := len(pkts) - 1; i >= 0; i-- {
			TrySend(r.writerQ, arbiter.WriteFrame{Pkt: pkts[i]}, r.log)
		}
		return true

	case wire.Command:
		r.handleCommand(p.Text)
		return true

	default:
		r.log.Debugf("%s: ignoring %T in LoggedIn state", r.addr, pkt)
		return true
	}
}

func isValidMessage(text string) bool {
	if len(text) == 0 {
		return false
	}
	for _, ru := range text {
		if unicode.IsControl(ru) {
			return false
		}
	}
	return true
}

func (r *Reader) replyServerMessage(text string) {
	TrySend(r.writerQ, arbiter.WriteFrame{Pkt: wire.ChatMessage{
		SenderID: 0,
		Sender:   "#SERVER#",
		Text:     text,
		Time:     uint64(time.Now().Unix()),
	}}, r.log)
}

func (r *Reader) handleCommand(text string) {
	parsed := command.Parse(text)
	if parsed.Verb == command.Unknown {
		r.replyServerMessage(fmt.Sprintf("Unknown command: %s", parsed.RawVerb))
		return
	}

	if parsed.Verb.RequiresOperator() {
		reply := make(chan arbiter.Permissions, 1)
		r.cmds <- arbiter.CheckPermissionsCmd{Username: r.username, Reply: reply}
		perms := <-reply
		if !perms.Operator {
			r.replyServerMessage("Not permitted.")
			return
		}
	}

	switch parsed.Verb {
	case command.List:
		r.cmds <- arbiter.UsersQueryCmd{Addr: r.addr}
	case command.Kick:
		r.cmds <- arbiter.KickUserCmd{Username: parsed.Arg}
	case command.Ban:
		r.cmds <- arbiter.BanUserCmd{Username: parsed.Arg, On: true}
	case command.Unban:
		r.cmds <- arbiter.BanUserCmd{Username: parsed.Arg, On: false}
	case command.Whitelist:
		r.cmds <- arbiter.WhitelistUserCmd{Username: parsed.Arg, On: true}
	case command.Unwhitelist:
		r.cmds <- arbiter.WhitelistUserCmd{Username: parsed.Arg, On: false}
	case command.SetWhitelist:
		on, err := parsed.On()
		if err != nil {
			r.replyServerMessage(fmt.Sprintf("Unknown command: %s", text))
			return
		}
		r.cmds <- arbiter.SetWhitelistCmd{On: on}
	case command.SetAllowNewAccounts:
		on, err := parsed.On()
		if err != nil {
			r.replyServerMessage(fmt.Sprintf("Unknown command: %s", text))
			return
		}
		r.cmds <- arbiter.SetAllowNewAccountsCmd{On: on}
	}
}
