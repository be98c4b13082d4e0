package nio

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"
)

func TestFifoBufferWriteReadRoundTrip(t *testing.T) {
	fb := NewFifoBuffer(64, 1<<20, nil)
	want := bytes.Repeat([]byte("x"), 10*1024*1024) // ten-megabyte copy, per spec scenario

	errc := make(chan error, 1)
	go func() {
		_, err := fb.Write(want)
		errc <- err
	}()

	got := make([]byte, 0, len(want))
	buf := make([]byte, 4096)
	for len(got) < len(want) {
		n, err := fb.Read(buf)
		got = append(got, buf[:n]...)
		if err != nil {
			t.Fatalf("Read: unexpected error %v", err)
		}
	}
	if err := <-errc; err != nil {
		t.Fatalf("Write: unexpected error %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("round trip corrupted %d bytes", len(want))
	}
}

func TestFifoBufferWriteBlocksUntilRoom(t *testing.T) {
	fb := NewFifoBuffer(16, 16, nil)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := fb.Write(make([]byte, 32)); err != nil {
			t.Errorf("Write: unexpected error %v", err)
		}
	}()

	select {
	case <-done:
		t.Fatal("Write returned before any bytes were drained")
	case <-time.After(150 * time.Millisecond):
	}

	buf := make([]byte, 16)
	if _, err := fb.Read(buf); err != nil {
		t.Fatalf("Read: unexpected error %v", err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Write never unblocked after room freed up")
	}
}

func TestFifoBufferWriteContextInterrupted(t *testing.T) {
	fb := NewFifoBuffer(16, 16, nil)
	if _, err := fb.Write(make([]byte, 16)); err != nil {
		t.Fatalf("priming write failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := fb.WriteContext(ctx, make([]byte, 8))
		errc <- err
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errc:
		if err != ErrInterrupted {
			t.Fatalf("WriteContext error = %v, want ErrInterrupted", err)
		}
	case <-time.After(time.Second):
		t.Fatal("WriteContext did not observe cancellation")
	}
}

func TestFifoBufferCloseWakesBlockedReader(t *testing.T) {
	fb := NewFifoBuffer(16, 16, nil)
	readErr := make(chan error, 1)
	go func() {
		_, err := fb.Read(make([]byte, 8))
		readErr <- err
	}()

	time.Sleep(20 * time.Millisecond)
	fb.Close(nil)

	select {
	case err := <-readErr:
		if err != ErrBufferClosed {
			t.Fatalf("Read error = %v, want ErrBufferClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("blocked Read never woke on Close")
	}
}

func TestFifoBufferCloseIsIdempotent(t *testing.T) {
	fb := NewFifoBuffer(16, 16, nil)
	fb.Close(io.ErrClosedPipe)
	fb.Close(io.ErrUnexpectedEOF)
	if cause := fb.CloseCause(); cause != io.ErrClosedPipe {
		t.Fatalf("CloseCause = %v, want first-recorded cause", cause)
	}
}

func TestFifoBufferPeekDoesNotConsume(t *testing.T) {
	fb := NewFifoBuffer(16, 1024, nil)
	fb.WriteNonBlock([]byte("hello-world"))

	peek := make([]byte, 5)
	if n := fb.Peek(6, peek); n != 5 || string(peek) != "world" {
		t.Fatalf("Peek(6,_) = %q (n=%d), want world", peek, n)
	}

	out := make([]byte, 11)
	n, err := fb.ReadNonBlocking(out)
	if err != nil || n != 11 || string(out) != "hello-world" {
		t.Fatalf("ReadNonBlocking after Peek = %q,%v (n=%d)", out, err, n)
	}
}

// fakeConn is a minimal non-blocking Readable/Writable double that reports
// ErrWouldBlock once its scripted bytes are exhausted, mimicking a socket
// with a per-call deadline.
type fakeConn struct {
	toRead  []byte
	readErr error // returned once toRead is exhausted
	written []byte
	writeN  int // bytes accepted per Write call; 0 means unlimited
}

func (c *fakeConn) Read(p []byte) (int, error) {
	if len(c.toRead) == 0 {
		if c.readErr != nil {
			return 0, c.readErr
		}
		return 0, ErrWouldBlock
	}
	n := copy(p, c.toRead)
	c.toRead = c.toRead[n:]
	return n, nil
}

func (c *fakeConn) Write(p []byte) (int, error) {
	n := len(p)
	if c.writeN > 0 && n > c.writeN {
		n = c.writeN
	}
	c.written = append(c.written, p[:n]...)
	return n, nil
}

func TestFifoBufferReceiveStopsOnWouldBlock(t *testing.T) {
	fb := NewFifoBuffer(4, 1024, nil)
	src := &fakeConn{toRead: []byte("abcdefghij")}

	n, err := fb.Receive(src)
	if err != nil {
		t.Fatalf("Receive: unexpected error %v", err)
	}
	if n != 10 {
		t.Fatalf("Receive copied %d bytes, want 10", n)
	}
	if fb.Readable() != 10 {
		t.Fatalf("Readable() = %d, want 10", fb.Readable())
	}
}

func TestFifoBufferReceiveClosesOnEOF(t *testing.T) {
	fb := NewFifoBuffer(4, 1024, nil)
	src := &fakeConn{toRead: []byte("ab"), readErr: io.EOF}

	n, err := fb.Receive(src)
	if err != nil {
		t.Fatalf("Receive: unexpected error %v", err)
	}
	if n != 2 {
		t.Fatalf("Receive copied %d bytes, want 2", n)
	}

	// Buffer is closed but not yet drained: Readable() still reports the
	// buffered bytes until a reader consumes them.
	out := make([]byte, 2)
	got, _ := fb.ReadNonBlocking(out)
	if got != 2 {
		t.Fatalf("ReadNonBlocking after EOF = %d, want 2", got)
	}
	if !fb.IsClosed() {
		t.Fatal("buffer should be closed and drained after EOF and full read")
	}
}

func TestFifoBufferSendDrainsUntilEmpty(t *testing.T) {
	fb := NewFifoBuffer(4, 1024, nil)
	fb.WriteNonBlock([]byte("0123456789"))
	dst := &fakeConn{}

	n, err := fb.Send(dst)
	if err != nil {
		t.Fatalf("Send: unexpected error %v", err)
	}
	if n != 10 {
		t.Fatalf("Send wrote %d bytes, want 10", n)
	}
	if string(dst.written) != "0123456789" {
		t.Fatalf("Send wrote %q, want 0123456789", dst.written)
	}
	if got := fb.Readable(); got != 0 {
		t.Fatalf("Readable() = %d, want 0 (drained, still open)", got)
	}
}

func TestConsumerStreamTranslatesBufferClosedToEOF(t *testing.T) {
	fb := NewFifoBuffer(16, 16, nil)
	fb.Close(nil)
	cs := NewConsumerStream(fb)
	_, err := cs.Read(make([]byte, 4))
	if err != io.EOF {
		t.Fatalf("ConsumerStream.Read error = %v, want io.EOF", err)
	}
}
