package conn

import (
	"net"
	"testing"
	"time"

	logging "gopkg.in/op/go-logging.v1"

	"github.com/LoipesMas/accord/internal/arbiter"
	"github.com/LoipesMas/accord/wire"
)

func newTestLogger() *logging.Logger {
	return logging.MustGetLogger("conn_test")
}

// newWiredPair builds a Reader+Writer pair over one end of a net.Pipe,
// and returns the other end (the "client" side) plus the fake arbiter
// command channel the reader sends to.
func newWiredPair(t *testing.T) (clientSide net.Conn, cmds chan arbiter.Command) {
	t.Helper()
	serverSide, client := net.Pipe()
	cmds = make(chan arbiter.Command, 16)

	w := NewWriter(serverSide, newTestLogger())
	r := NewReader(serverSide, cmds, w.Queue(), newTestLogger())
	w.Start()
	r.Start()

	t.Cleanup(func() {
		w.Halt()
		r.Halt()
	})
	return client, cmds
}

func TestPingPong(t *testing.T) {
	client, _ := newWiredPair(t)

	enc, err := wire.EncodeServerbound(wire.Ping{})
	if err != nil {
		t.Fatal(err)
	}
	go func() { client.Write(enc) }()

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 4096)
	n, err := client.Read(buf)
	if err != nil {
		t.Fatal(err)
	}
	pkt, consumed, err := wire.DecodeClientbound(buf[:n])
	if err != nil {
		t.Fatal(err)
	}
	if consumed != n {
		t.Errorf("consumed %d, want %d", consumed, n)
	}
	if _, ok := pkt.(wire.Pong); !ok {
		t.Fatalf("got %#v, want Pong", pkt)
	}
}

func TestFreshStateIgnoresOutOfStatePacket(t *testing.T) {
	client, _ := newWiredPair(t)

	// A Login before any handshake is out-of-state: logged and dropped,
	// not fatal. The connection should still answer a subsequent Ping.
	loginEnc, err := wire.EncodeServerbound(wire.Login{Username: "alice", Password: "pw"})
	if err != nil {
		t.Fatal(err)
	}
	pingEnc, err := wire.EncodeServerbound(wire.Ping{})
	if err != nil {
		t.Fatal(err)
	}
	go func() {
		client.Write(loginEnc)
		client.Write(pingEnc)
	}()

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 4096)
	n, err := client.Read(buf)
	if err != nil {
		t.Fatal(err)
	}
	pkt, _, err := wire.DecodeClientbound(buf[:n])
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := pkt.(wire.Pong); !ok {
		t.Fatalf("got %#v, want Pong (Login should have been silently dropped)", pkt)
	}
}

func TestEncryptionRequestAsksArbiterForToken(t *testing.T) {
	client, cmds := newWiredPair(t)

	enc, err := wire.EncodeServerbound(wire.EncryptionRequest{})
	if err != nil {
		t.Fatal(err)
	}
	go func() { client.Write(enc) }()

	select {
	case cmd := <-cmds:
		req, ok := cmd.(arbiter.EncryptionRequestCmd)
		if !ok {
			t.Fatalf("got %T, want EncryptionRequestCmd", cmd)
		}
		req.Reply <- arbiter.EncryptionRequestReply{Token: [wire.TokenLen]byte{1, 2, 3}}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for EncryptionRequestCmd")
	}
}
