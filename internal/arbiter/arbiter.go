// Package arbiter implements Accord's central broker: the single-task
// actor that owns the RSA handshake key, the account database, the
// per-connection writer queues, and server policy (bans, whitelist,
// operator commands). Every other actor reaches these only by sending
// it a Command.
package arbiter

import (
	"context"
	"fmt"

	logging "gopkg.in/op/go-logging.v1"

	"github.com/LoipesMas/accord/internal/config"
	"github.com/LoipesMas/accord/internal/store"
	"github.com/LoipesMas/accord/internal/worker"
	"github.com/LoipesMas/accord/wire"
)

// CommandQueueCapacity bounds the arbiter's central command channel, so
// a burst of connection activity applies backpressure to its senders
// rather than growing without limit.
const CommandQueueCapacity = 256

// Arbiter is Accord's C5: the sole owner of the broadcast fan-out, the
// handshake key pair, and account/policy state.
type Arbiter struct {
	worker.Worker

	log   *logging.Logger
	store store.Store
	cache *store.ImageCache
	keys  *wire.KeyPair
	cfg   config.Config

	cmdCh chan Command

	// txs and connectedUsers are owned exclusively by the run goroutine;
	// no other goroutine may touch them.
	txs            map[string]WriterQueue
	connectedUsers map[string]string // addr -> username
}

// New constructs an Arbiter. The RSA key pair is generated once, here,
// per §4.5's "created once at arbiter start and never rotated".
func New(log *logging.Logger, st store.Store, cache *store.ImageCache, cfg config.Config) (*Arbiter, error) {
	keys, err := wire.GenerateKeyPair()
	if err != nil {
		return nil, fmt.Errorf("arbiter: generate handshake key: %w", err)
	}
	return &Arbiter{
		log:            log,
		store:          st,
		cache:          cache,
		keys:           keys,
		cfg:            cfg,
		cmdCh:          make(chan Command, CommandQueueCapacity),
		txs:            make(map[string]WriterQueue),
		connectedUsers: make(map[string]string),
	}, nil
}

// Commands returns the channel every reader actor sends Command values
// on.
func (a *Arbiter) Commands() chan<- Command {
	return a.cmdCh
}

// Start launches the arbiter's single command loop.
func (a *Arbiter) Start() {
	a.Go(a.run)
}

func (a *Arbiter) run() {
	for {
		select {
		case <-a.HaltCh():
			return
		case cmd := <-a.cmdCh:
			a.handle(cmd)
		}
	}
}

func (a *Arbiter) handle(cmd Command) {
	switch c := cmd.(type) {
	case Broadcast:
		a.handleBroadcast(c)
	case EncryptionRequestCmd:
		a.handleEncryptionRequest(c)
	case EncryptionConfirmCmd:
		a.handleEncryptionConfirm(c)
	case LoginAttemptCmd:
		a.handleLoginAttempt(c)
	case UserJoinedCmd:
		a.broadcastTo(wire.UserJoined{Username: c.Username})
	case UserLeftCmd:
		a.handleUserLeft(c)
	case UsersQueryCmd:
		a.handleUsersQuery(c)
	case FetchMessagesCmd:
		a.handleFetchMessages(c)
	case CheckPermissionsCmd:
		a.handleCheckPermissions(c)
	case KickUserCmd:
		a.kickUser(c.Username)
	case BanUserCmd:
		a.handleBanUser(c)
	case WhitelistUserCmd:
		a.handleWhitelistUser(c)
	case SetWhitelistCmd:
		a.cfg.WhitelistOn = c.On
		a.persistConfig()
	case SetAllowNewAccountsCmd:
		a.cfg.AllowNewAccounts = c.On
		a.persistConfig()
	default:
		a.log.Warningf("unhandled command type %T", cmd)
	}
}

func (a *Arbiter) persistConfig() {
	if err := config.Save(a.cfg); err != nil {
		a.log.Errorf("failed to persist config: %v", err)
	}
}

// sendWriter performs a non-blocking send to a writer's queue: a full
// queue means that connection is backpressured, which per §4.5 is
// swallowed (logged) rather than allowed to stall the arbiter or other
// recipients.
func (a *Arbiter) sendWriter(wq WriterQueue, cmd WriterCmd) {
	select {
	case wq <- cmd:
	default:
		a.log.Warningf("writer queue full, dropping %T", cmd)
	}
}

func (a *Arbiter) handleBroadcast(c Broadcast) {
	ctx := context.Background()
	switch pkt := c.Pkt.(type) {
	case wire.ChatMessage:
		err := a.store.InsertMessage(ctx, store.Message{
			SenderID: pkt.SenderID,
			Sender:   pkt.Sender,
			Content:  pkt.Text,
			SendTime: int64(pkt.Time),
		})
		if err != nil {
			a.log.Errorf("failed to persist message: %v", err)
			return
		}
	case wire.ChatImageMessage:
		msg := store.Message{
			SenderID: pkt.SenderID,
			Sender:   pkt.Sender,
			SendTime: int64(pkt.Time),
		}
		if err := a.store.InsertImageMessage(ctx, msg, c.ImageBytes); err != nil {
			a.log.Errorf("failed to persist image message: %v", err)
			return
		}
		if a.cache != nil {
			if err := a.cache.Put(store.ImageHash(c.ImageBytes), c.ImageBytes); err != nil {
				a.log.Warningf("failed to populate image cache: %v", err)
			}
		}
	}
	a.broadcastTo(c.Pkt)
}

func (a *Arbiter) broadcastTo(pkt wire.ClientboundPacket) {
	for addr, username := range a.connectedUsers {
		if username == "" {
			continue
		}
		if wq, ok := a.txs[addr]; ok {
			a.sendWriter(wq, WriteFrame{Pkt: pkt})
		}
	}
}

func (a *Arbiter) handleEncryptionRequest(c EncryptionRequestCmd) {
	token, err := wire.GenerateToken()
	if err != nil {
		a.log.Errorf("failed to generate handshake token: %v", err)
		return
	}
	der, err := a.keys.PublicKeyDER()
	if err != nil {
		a.log.Errorf("failed to marshal handshake public key: %v", err)
		return
	}
	a.sendWriter(c.WriterQ, WriteFrame{Pkt: wire.EncryptionResponse{
		PubKeyDER: der,
		Token:     token[:],
	}})
	c.Reply <- EncryptionRequestReply{Token: token}
}

func (a *Arbiter) handleEncryptionConfirm(c EncryptionConfirmCmd) {
	decSecret, err := wire.DecryptPKCS1v15(a.keys, c.EncSecret)
	if err != nil {
		a.sendWriter(c.WriterQ, CloseWriter{})
		c.Reply <- EncryptionConfirmReply{Err: fmt.Errorf("decrypt secret: %w", err)}
		return
	}
	decToken, err := wire.DecryptPKCS1v15(a.keys, c.EncToken)
	if err != nil {
		a.sendWriter(c.WriterQ, CloseWriter{})
		c.Reply <- EncryptionConfirmReply{Err: fmt.Errorf("decrypt token: %w", err)}
		return
	}
	if len(decSecret) != wire.SecretLen {
		a.sendWriter(c.WriterQ, CloseWriter{})
		c.Reply <- EncryptionConfirmReply{Err: fmt.Errorf("decrypted secret has length %d, want %d", len(decSecret), wire.SecretLen)}
		return
	}
	if string(decToken) != string(c.ExpectedToken[:]) {
		a.sendWriter(c.WriterQ, CloseWriter{})
		c.Reply <- EncryptionConfirmReply{Err: fmt.Errorf("handshake token mismatch")}
		return
	}

	var secret [wire.SecretLen]byte
	copy(secret[:], decSecret)
	a.sendWriter(c.WriterQ, InstallSecret{Secret: secret})
	a.sendWriter(c.WriterQ, WriteFrame{Pkt: wire.EncryptionAck{}})
	c.Reply <- EncryptionConfirmReply{Secret: secret}
}

func (a *Arbiter) handleLoginAttempt(c LoginAttemptCmd) {
	ctx := context.Background()

	if !verifyUsername(c.Username) {
		c.Reply <- LoginReply{Reason: "Invalid username."}
		return
	}

	account, err := a.store.GetUser(ctx, c.Username)
	switch err {
	case nil:
		if account.Banned {
			c.Reply <- LoginReply{Reason: "Banned."}
			return
		}
		if a.cfg.WhitelistOn && !account.Whitelisted {
			c.Reply <- LoginReply{Reason: "Not whitelisted."}
			return
		}
		hash := wire.HashPassword(c.Password, account.Salt)
		if hash != account.PasswordHash {
			c.Reply <- LoginReply{Reason: "Incorrect password."}
			return
		}
		if contains(a.connectedUsers, c.Username) {
			c.Reply <- LoginReply{Reason: "Already logged in."}
			return
		}
		a.connectedUsers[c.Addr] = c.Username
		a.txs[c.Addr] = c.WriterQ
		c.Reply <- LoginReply{Ok: true, UserID: account.UserID, Username: c.Username}

	case store.ErrNotFound:
		if a.cfg.WhitelistOn && !a.cfg.IsWhitelisted(c.Username) {
			c.Reply <- LoginReply{Reason: "Not whitelisted."}
			return
		}
		if !a.cfg.AllowNewAccounts {
			c.Reply <- LoginReply{Reason: "Account creation is disabled."}
			return
		}
		salt, err := wire.NewSalt()
		if err != nil {
			a.log.Errorf("failed to generate salt: %v", err)
			c.Reply <- LoginReply{Reason: "Internal error."}
			return
		}
		hash := wire.HashPassword(c.Password, salt)
		created, err := a.store.InsertUser(ctx, c.Username, hash, salt)
		if err != nil {
			a.log.Errorf("failed to create account %q: %v", c.Username, err)
			c.Reply <- LoginReply{Reason: "Internal error."}
			return
		}
		a.connectedUsers[c.Addr] = c.Username
		a.txs[c.Addr] = c.WriterQ
		c.Reply <- LoginReply{Ok: true, UserID: created.UserID, Username: c.Username}

	default:
		a.log.Errorf("get_user(%q) failed: %v", c.Username, err)
		c.Reply <- LoginReply{Reason: "Internal error."}
	}
}

func contains(m map[string]string, username string) bool {
	for _, u := range m {
		if u == username {
			return true
		}
	}
	return false
}

func (a *Arbiter) handleUserLeft(c UserLeftCmd) {
	username, had := a.connectedUsers[c.Addr]
	delete(a.connectedUsers, c.Addr)
	delete(a.txs, c.Addr)
	if had && username != "" {
		a.broadcastTo(wire.UserLeft{Username: username})
	}
}

func (a *Arbiter) handleUsersQuery(c UsersQueryCmd) {
	wq, ok := a.txs[c.Addr]
	if !ok {
		return
	}
	var usernames []string
	for _, u := range a.connectedUsers {
		usernames = append(usernames, u)
	}
	a.sendWriter(wq, WriteFrame{Pkt: wire.UsersOnline{Usernames: usernames}})
}

func (a *Arbiter) handleFetchMessages(c FetchMessagesCmd) {
	ctx := context.Background()
	rows, err := a.store.FetchMessages(ctx, c.Offset, store.ClampCount(c.Count))
	if err != nil {
		a.log.Errorf("fetch_messages failed: %v", err)
		c.Reply <- nil
		return
	}

	pkts := make([]wire.ClientboundPacket, 0, len(rows))
	for _, row := range rows {
		if row.HasImage {
			var bytes []byte
			if a.cache != nil {
				bytes, err = a.cache.FetchImage(ctx, row.ImageHash)
			} else {
				bytes, err = a.store.FetchImage(ctx, row.ImageHash)
			}
			if err != nil {
				a.log.Errorf("failed to load image %d: %v", row.ImageHash, err)
				continue
			}
			pkts = append(pkts, wire.ChatImageMessage{
				SenderID:   row.SenderID,
				Sender:     row.Sender,
				ImageBytes: bytes,
				Time:       uint64(row.SendTime),
			})
			continue
		}
		pkts = append(pkts, wire.ChatMessage{
			SenderID: row.SenderID,
			Sender:   row.Sender,
			Text:     row.Content,
			Time:     uint64(row.SendTime),
		})
	}
	c.Reply <- pkts
}

func (a *Arbiter) handleCheckPermissions(c CheckPermissionsCmd) {
	perms := Permissions{Operator: a.cfg.IsOperator(c.Username)}
	account, err := a.store.GetUser(context.Background(), c.Username)
	if err == nil {
		perms.Banned = account.Banned
		perms.Whitelisted = account.Whitelisted
	}
	c.Reply <- perms
}

func (a *Arbiter) kickUser(username string) {
	for addr, u := range a.connectedUsers {
		if u != username {
			continue
		}
		if wq, ok := a.txs[addr]; ok {
			a.sendWriter(wq, CloseWriter{})
		}
	}
}

func (a *Arbiter) handleBanUser(c BanUserCmd) {
	if err := a.store.SetBanned(context.Background(), c.Username, c.On); err != nil {
		if err == store.ErrNotFound {
			a.log.Warningf("ban_user: %q has no account", c.Username)
			return
		}
		a.log.Errorf("set_banned(%q, %v) failed: %v", c.Username, c.On, err)
		return
	}
	if c.On {
		a.kickUser(c.Username)
	}
}

func (a *Arbiter) handleWhitelistUser(c WhitelistUserCmd) {
	if err := a.store.SetWhitelisted(context.Background(), c.Username, c.On); err != nil {
		if err == store.ErrNotFound {
			a.log.Warningf("whitelist_user: %q has no account", c.Username)
			return
		}
		a.log.Errorf("set_whitelisted(%q, %v) failed: %v", c.Username, c.On, err)
	}
}
