package arbiter

import (
	"context"
	"testing"
	"time"

	logging "gopkg.in/op/go-logging.v1"

	"github.com/LoipesMas/accord/internal/config"
	"github.com/LoipesMas/accord/internal/store"
	"github.com/LoipesMas/accord/wire"
)

type fakeStore struct {
	accounts map[string]store.Account
	nextID   int64
	messages []store.Message
}

func newFakeStore() *fakeStore {
	return &fakeStore{accounts: map[string]store.Account{}, nextID: 1}
}

func (f *fakeStore) GetUser(ctx context.Context, username string) (store.Account, error) {
	a, ok := f.accounts[username]
	if !ok {
		return store.Account{}, store.ErrNotFound
	}
	return a, nil
}

func (f *fakeStore) InsertUser(ctx context.Context, username string, hash [32]byte, salt [64]byte) (store.Account, error) {
	a := store.Account{UserID: f.nextID, Username: username, PasswordHash: hash, Salt: salt}
	f.nextID++
	f.accounts[username] = a
	return a, nil
}

func (f *fakeStore) InsertMessage(ctx context.Context, msg store.Message) error {
	f.messages = append(f.messages, msg)
	return nil
}

func (f *fakeStore) InsertImageMessage(ctx context.Context, msg store.Message, data []byte) error {
	msg.HasImage = true
	msg.ImageHash = store.ImageHash(data)
	f.messages = append(f.messages, msg)
	return nil
}

func (f *fakeStore) FetchMessages(ctx context.Context, offset, count int64) ([]store.Message, error) {
	return f.messages, nil
}

func (f *fakeStore) FetchImage(ctx context.Context, hash int64) ([]byte, error) {
	return []byte("image-bytes"), nil
}

func (f *fakeStore) SetBanned(ctx context.Context, username string, banned bool) error {
	a, ok := f.accounts[username]
	if !ok {
		return store.ErrNotFound
	}
	a.Banned = banned
	f.accounts[username] = a
	return nil
}

func (f *fakeStore) SetWhitelisted(ctx context.Context, username string, whitelisted bool) error {
	a, ok := f.accounts[username]
	if !ok {
		return store.ErrNotFound
	}
	a.Whitelisted = whitelisted
	f.accounts[username] = a
	return nil
}

func (f *fakeStore) Close() error { return nil }

var _ store.Store = (*fakeStore)(nil)

func newTestArbiter(t *testing.T, st *fakeStore, cfg config.Config) *Arbiter {
	t.Helper()
	log := logging.MustGetLogger("arbiter_test")
	a, err := New(log, st, nil, cfg)
	if err != nil {
		t.Fatal(err)
	}
	a.Start()
	t.Cleanup(a.Halt)
	return a
}

func recvWriterCmd(t *testing.T, ch chan WriterCmd) WriterCmd {
	t.Helper()
	select {
	case c := <-ch:
		return c
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for writer command")
		return nil
	}
}

func TestLoginNewAccountThenDuplicateRejected(t *testing.T) {
	st := newFakeStore()
	cfg := config.Default()
	a := newTestArbiter(t, st, cfg)

	wq := make(chan WriterCmd, 32)
	reply := make(chan LoginReply, 1)
	a.Commands() <- LoginAttemptCmd{Addr: "1.1.1.1:1", Username: "alice", Password: "hunter2", WriterQ: wq, Reply: reply}

	got := <-reply
	if !got.Ok {
		t.Fatalf("expected first login to succeed, got %+v", got)
	}

	wq2 := make(chan WriterCmd, 32)
	reply2 := make(chan LoginReply, 1)
	a.Commands() <- LoginAttemptCmd{Addr: "2.2.2.2:2", Username: "alice", Password: "hunter2", WriterQ: wq2, Reply: reply2}
	got2 := <-reply2
	if got2.Ok {
		t.Fatal("expected duplicate login to be rejected")
	}
	if got2.Reason != "Already logged in." {
		t.Errorf("got reason %q", got2.Reason)
	}
}

func TestLoginWrongPasswordRejected(t *testing.T) {
	st := newFakeStore()
	salt, _ := wire.NewSalt()
	st.accounts["bob"] = store.Account{UserID: 1, Username: "bob", PasswordHash: wire.HashPassword("correct", salt), Salt: salt}
	a := newTestArbiter(t, st, config.Default())

	reply := make(chan LoginReply, 1)
	a.Commands() <- LoginAttemptCmd{Addr: "1.1.1.1:1", Username: "bob", Password: "wrong", WriterQ: make(chan WriterCmd, 1), Reply: reply}
	got := <-reply
	if got.Ok {
		t.Fatal("expected wrong password to be rejected")
	}
}

func TestLoginRejectsWhenAccountCreationDisabled(t *testing.T) {
	st := newFakeStore()
	cfg := config.Default()
	cfg.AllowNewAccounts = false
	a := newTestArbiter(t, st, cfg)

	reply := make(chan LoginReply, 1)
	a.Commands() <- LoginAttemptCmd{Addr: "1.1.1.1:1", Username: "carol", Password: "pw", WriterQ: make(chan WriterCmd, 1), Reply: reply}
	got := <-reply
	if got.Ok {
		t.Fatal("expected new account to be rejected when AllowNewAccounts is false")
	}
}

func loginAndJoin(t *testing.T, a *Arbiter, addr, username string) chan WriterCmd {
	t.Helper()
	wq := make(chan WriterCmd, 32)
	reply := make(chan LoginReply, 1)
	a.Commands() <- LoginAttemptCmd{Addr: addr, Username: username, Password: "pw", WriterQ: wq, Reply: reply}
	got := <-reply
	if !got.Ok {
		t.Fatalf("login for %q failed: %s", username, got.Reason)
	}
	a.Commands() <- UserJoinedCmd{Username: username}
	return wq
}

func TestBroadcastPersistsAndFansOut(t *testing.T) {
	st := newFakeStore()
	a := newTestArbiter(t, st, config.Default())

	wqA := loginAndJoin(t, a, "A", "alice")
	drainJoinNotice(t, wqA)
	wqB := loginAndJoin(t, a, "B", "bob")
	drainJoinNotice(t, wqA)
	drainJoinNotice(t, wqB)

	a.Commands() <- Broadcast{Pkt: wire.ChatMessage{SenderID: 1, Sender: "alice", Text: "hi", Time: 100}}

	for _, wq := range []chan WriterCmd{wqA, wqB} {
		cmd := recvWriterCmd(t, wq)
		wf, ok := cmd.(WriteFrame)
		if !ok {
			t.Fatalf("expected WriteFrame, got %T", cmd)
		}
		msg, ok := wf.Pkt.(wire.ChatMessage)
		if !ok || msg.Text != "hi" {
			t.Fatalf("unexpected broadcast payload: %#v", wf.Pkt)
		}
	}

	if len(st.messages) != 1 || st.messages[0].Content != "hi" {
		t.Fatalf("expected message to be persisted, got %+v", st.messages)
	}
}

func drainJoinNotice(t *testing.T, wq chan WriterCmd) {
	t.Helper()
	select {
	case <-wq:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for join notice")
	}
}

func TestKickUserClosesItsWriter(t *testing.T) {
	st := newFakeStore()
	a := newTestArbiter(t, st, config.Default())

	wq := loginAndJoin(t, a, "A", "alice")
	drainJoinNotice(t, wq) // the UserJoined broadcast to itself

	a.Commands() <- KickUserCmd{Username: "alice"}
	cmd := recvWriterCmd(t, wq)
	if _, ok := cmd.(CloseWriter); !ok {
		t.Fatalf("expected CloseWriter, got %T", cmd)
	}
}

func TestBanUserKicks(t *testing.T) {
	st := newFakeStore()
	salt, _ := wire.NewSalt()
	st.accounts["alice"] = store.Account{UserID: 1, Username: "alice", PasswordHash: wire.HashPassword("pw", salt), Salt: salt}
	a := newTestArbiter(t, st, config.Default())

	wq := loginAndJoin(t, a, "A", "alice")
	drainJoinNotice(t, wq)

	a.Commands() <- BanUserCmd{Username: "alice", On: true}
	cmd := recvWriterCmd(t, wq)
	if _, ok := cmd.(CloseWriter); !ok {
		t.Fatalf("expected CloseWriter after ban, got %T", cmd)
	}
	if !st.accounts["alice"].Banned {
		t.Fatal("expected account to be marked banned")
	}
}

func TestCheckPermissionsReportsOperator(t *testing.T) {
	st := newFakeStore()
	cfg := config.Default()
	cfg.Operators = []string{"alice"}
	a := newTestArbiter(t, st, cfg)

	reply := make(chan Permissions, 1)
	a.Commands() <- CheckPermissionsCmd{Username: "alice", Reply: reply}
	got := <-reply
	if !got.Operator {
		t.Fatal("expected alice to be reported as operator")
	}

	reply2 := make(chan Permissions, 1)
	a.Commands() <- CheckPermissionsCmd{Username: "mallory", Reply: reply2}
	got2 := <-reply2
	if got2.Operator || got2.Banned || got2.Whitelisted {
		t.Fatalf("expected unknown user to default to all-false, got %+v", got2)
	}
}
