package arbiter

import "github.com/LoipesMas/accord/wire"

// WriterCmd is the contract between the arbiter (and a connection's own
// reader) and that connection's writer actor: the small, fixed command
// set a writer actor drains from its queue.
type WriterCmd interface {
	isWriterCmd()
}

// WriteFrame asks the writer to encode and send pkt, applying the
// current session key and nonce if one has been installed.
type WriteFrame struct {
	Pkt wire.ClientboundPacket
}

func (WriteFrame) isWriterCmd() {}

// InstallSecret asks the writer to adopt secret as the session key and
// construct its nonce stream from it.
type InstallSecret struct {
	Secret [wire.SecretLen]byte
}

func (InstallSecret) isWriterCmd() {}

// CloseWriter asks the writer to flush any in-flight write, close the
// socket, and exit. Terminal: anything sent after is silently dropped.
type CloseWriter struct{}

func (CloseWriter) isWriterCmd() {}

// WriterQueue is a connection's writer command queue, the "txs" value
// in the arbiter's global state.
type WriterQueue chan<- WriterCmd

// Command is the sum type the arbiter's single command loop consumes.
type Command interface {
	isCommand()
}

// Broadcast persists pkt (when it is a message variant) and then fans
// it out to every writer whose connection has completed login.
// ImageBytes carries the raw image payload when Pkt is a
// ChatImageMessage; it is empty otherwise.
type Broadcast struct {
	Pkt        wire.ClientboundPacket
	ImageBytes []byte
}

func (Broadcast) isCommand() {}

// EncryptionRequestCmd is sent by a reader in the Fresh state. The
// arbiter mints a fresh token, tells the writer to emit
// EncryptionResponse, and reports the token back so the reader can
// validate the eventual EncryptionConfirm.
type EncryptionRequestCmd struct {
	WriterQ WriterQueue
	Reply   chan<- EncryptionRequestReply
}

func (EncryptionRequestCmd) isCommand() {}

type EncryptionRequestReply struct {
	Token [wire.TokenLen]byte
}

// EncryptionConfirmCmd carries both RSA ciphertexts the client sent in
// response to EncryptionResponse, plus the token the arbiter expects
// to find inside EncToken once decrypted.
type EncryptionConfirmCmd struct {
	WriterQ       WriterQueue
	ExpectedToken [wire.TokenLen]byte
	EncSecret     []byte
	EncToken      []byte
	Reply         chan<- EncryptionConfirmReply
}

func (EncryptionConfirmCmd) isCommand() {}

type EncryptionConfirmReply struct {
	Secret [wire.SecretLen]byte
	Err    error
}

// LoginAttemptCmd runs the §4.5 login policy and, on success,
// registers (Addr, Username) and (Addr, WriterQ) in the arbiter's
// global state.
type LoginAttemptCmd struct {
	Addr     string
	Username string
	Password string
	WriterQ  WriterQueue
	Reply    chan<- LoginReply
}

func (LoginAttemptCmd) isCommand() {}

type LoginReply struct {
	Ok       bool
	Reason   string
	UserID   int64
	Username string
}

// UserJoinedCmd broadcasts a join notice; sent by a reader right after
// a successful LoginAttemptCmd.
type UserJoinedCmd struct {
	Username string
}

func (UserJoinedCmd) isCommand() {}

// UserLeftCmd purges addr from the arbiter's global state and, if it
// had logged in, broadcasts a leave notice.
type UserLeftCmd struct {
	Addr string
}

func (UserLeftCmd) isCommand() {}

// UsersQueryCmd asks the arbiter to send the current UsersOnline list
// to addr's own writer.
type UsersQueryCmd struct {
	Addr string
}

func (UsersQueryCmd) isCommand() {}

// FetchMessagesCmd asks for a history slice, newest first (as
// persistence returns it); the reader is responsible for reversing it
// before replay.
type FetchMessagesCmd struct {
	Addr   string
	Offset int64
	Count  int64
	Reply  chan<- []wire.ClientboundPacket
}

func (FetchMessagesCmd) isCommand() {}

// CheckPermissionsCmd resolves a username's operator/banned/whitelisted
// status; unknown usernames report all false.
type CheckPermissionsCmd struct {
	Username string
	Reply    chan<- Permissions
}

func (CheckPermissionsCmd) isCommand() {}

type Permissions struct {
	Operator    bool
	Banned      bool
	Whitelisted bool
}

// KickUserCmd closes every writer belonging to username.
type KickUserCmd struct {
	Username string
}

func (KickUserCmd) isCommand() {}

// BanUserCmd updates the banned flag; On=true additionally kicks.
type BanUserCmd struct {
	Username string
	On       bool
}

func (BanUserCmd) isCommand() {}

// WhitelistUserCmd updates the whitelisted flag.
type WhitelistUserCmd struct {
	Username string
	On       bool
}

func (WhitelistUserCmd) isCommand() {}

// SetWhitelistCmd toggles the whitelist gate in config.
type SetWhitelistCmd struct {
	On bool
}

func (SetWhitelistCmd) isCommand() {}

// SetAllowNewAccountsCmd toggles account self-registration in config.
type SetAllowNewAccountsCmd struct {
	On bool
}

func (SetAllowNewAccountsCmd) isCommand() {}
