// Package conn implements Accord's per-connection reader and writer
// actors (C2/C3): the handshake state machine, packet dispatch to the
// arbiter, and the encode-and-write loop that owns the socket's write
// half.
package conn

import (
	"bufio"
	"net"

	logging "gopkg.in/op/go-logging.v1"

	"github.com/LoipesMas/accord/internal/arbiter"
	"github.com/LoipesMas/accord/internal/worker"
	"github.com/LoipesMas/accord/wire"
)

// WriterQueueCapacity is the writer command queue's capacity; §4.3
// requires "at least moderate capacity (≥32 items)".
const WriterQueueCapacity = 32

// Writer is Accord's C3: it owns the socket's write half, draining a
// command queue that both the connection's own reader and the arbiter
// send to.
type Writer struct {
	worker.Worker

	conn  net.Conn
	bw    *bufio.Writer
	queue chan arbiter.WriterCmd
	log   *logging.Logger

	secret *[wire.SecretLen]byte
	nonces *wire.NonceStream
}

// NewWriter constructs a Writer for conn. Call Start to begin draining
// its queue.
func NewWriter(c net.Conn, log *logging.Logger) *Writer {
	return &Writer{
		conn:  c,
		bw:    bufio.NewWriter(c),
		queue: make(chan arbiter.WriterCmd, WriterQueueCapacity),
		log:   log,
	}
}

// Queue returns the channel producers (the arbiter, or this
// connection's own reader) send WriterCmd values on.
func (w *Writer) Queue() chan arbiter.WriterCmd {
	return w.queue
}

// Start launches the writer's drain loop.
func (w *Writer) Start() {
	w.Go(w.run)
}

func (w *Writer) run() {
	defer w.conn.Close()
	for {
		select {
		case <-w.HaltCh():
			return
		case cmd, ok := <-w.queue:
			if !ok {
				return
			}
			if !w.handle(cmd) {
				return
			}
		}
	}
}

// handle processes one command; it returns false when the writer
// should stop (Close, or a write failure).
func (w *Writer) handle(cmd arbiter.WriterCmd) bool {
	switch c := cmd.(type) {
	case arbiter.WriteFrame:
		if err := w.writePacket(c.Pkt); err != nil {
			w.log.Warningf("write failed, closing connection: %v", err)
			return false
		}
		return true

	case arbiter.InstallSecret:
		secret := c.Secret
		w.secret = &secret
		nonces, err := wire.NewNonceStream(secret, wire.DirectionServerToClient)
		if err != nil {
			w.log.Errorf("failed to construct writer nonce stream: %v", err)
			return false
		}
		w.nonces = nonces
		return true

	case arbiter.CloseWriter:
		return false

	default:
		w.log.Warningf("writer: unrecognized command %T", cmd)
		return true
	}
}

func (w *Writer) writePacket(pkt wire.ClientboundPacket) error {
	encoded, err := wire.EncodeClientbound(pkt)
	if err != nil {
		return err
	}

	if w.secret != nil {
		nonce := w.nonces.Next()
		frame, err := wire.EncryptFrame(encoded, *w.secret, nonce)
		if err != nil {
			return err
		}
		encoded = frame
	}

	if _, err := w.bw.Write(encoded); err != nil {
		return err
	}
	return w.bw.Flush()
}

// TrySend performs a non-blocking send of cmd to queue, logging and
// dropping it if the queue is full or already closed-out. Used by
// callers (the reader's own history-replay path) that must not block
// forever on a writer that has already halted.
func TrySend(queue chan<- arbiter.WriterCmd, cmd arbiter.WriterCmd, log *logging.Logger) {
	select {
	case queue <- cmd:
	default:
		log.Warningf("writer queue full or closed, dropping %T", cmd)
	}
}
