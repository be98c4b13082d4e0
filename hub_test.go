package nio

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// tcpLoopback dials a real TCP loopback pair, since net.Pipe conns don't
// implement syscall.Conn and so can't be registered with the epoll poller.
func tcpLoopback(t *testing.T) (client, server net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	acceptedCh := make(chan net.Conn, 1)
	errCh := make(chan error, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			errCh <- err
			return
		}
		acceptedCh <- c
	}()

	client, err = net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)

	select {
	case server = <-acceptedCh:
	case err := <-errCh:
		t.Fatalf("Accept failed: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("server never accepted the loopback connection")
	}
	return client, server
}

func TestChannelHubEndToEndPacketRoundTrip(t *testing.T) {
	hub, err := NewChannelHub(nil, 4)
	if err != nil {
		t.Skipf("selector poller unavailable in this environment: %v", err)
	}
	defer hub.Close()
	hub.Start()

	clientConn, serverConn := tcpLoopback(t)
	defer clientConn.Close()
	defer serverConn.Close()

	client, err := NewTCPTransport(hub, clientConn)
	require.NoError(t, err)
	server, err := NewTCPTransport(hub, serverConn)
	require.NoError(t, err)

	serverRecv := newRecordingReceiver()
	server.Setup(serverRecv)
	clientRecv := newRecordingReceiver()
	client.Setup(clientRecv)

	want := []byte("ping over the wire")
	require.NoError(t, client.WriteBlock(want))

	waitForPackets(t, serverRecv, 1)
	got := serverRecv.snapshot()
	require.Len(t, got, 1)
	require.Equal(t, want, got[0])
}

func TestChannelHubEndToEndMultiplePackets(t *testing.T) {
	hub, err := NewChannelHub(nil, 4)
	if err != nil {
		t.Skipf("selector poller unavailable in this environment: %v", err)
	}
	defer hub.Close()
	hub.Start()

	clientConn, serverConn := tcpLoopback(t)
	defer clientConn.Close()
	defer serverConn.Close()

	client, err := NewTCPTransport(hub, clientConn, WithFrameSize(4))
	require.NoError(t, err)
	server, err := NewTCPTransport(hub, serverConn, WithFrameSize(4))
	require.NoError(t, err)

	serverRecv := newRecordingReceiver()
	server.Setup(serverRecv)
	client.Setup(newRecordingReceiver())

	packets := [][]byte{[]byte("first"), []byte("second-longer-one"), []byte("3")}
	for _, p := range packets {
		require.NoError(t, client.WriteBlock(p))
	}

	waitForPackets(t, serverRecv, len(packets))
	got := serverRecv.snapshot()
	require.Len(t, got, len(packets))
	for i, p := range packets {
		require.Equal(t, p, got[i])
	}
}

func TestChannelHubHalfCloseSignalsEOFToPeer(t *testing.T) {
	hub, err := NewChannelHub(nil, 4)
	if err != nil {
		t.Skipf("selector poller unavailable in this environment: %v", err)
	}
	defer hub.Close()
	hub.Start()

	clientConn, serverConn := tcpLoopback(t)
	defer clientConn.Close()
	defer serverConn.Close()

	client, err := NewTCPTransport(hub, clientConn)
	require.NoError(t, err)
	server, err := NewTCPTransport(hub, serverConn)
	require.NoError(t, err)

	serverRecv := newRecordingReceiver()
	server.Setup(serverRecv)
	client.Setup(newRecordingReceiver())

	client.CloseWrite()

	select {
	case cause := <-serverRecv.terminate:
		require.ErrorIs(t, cause, io.EOF)
	case <-time.After(2 * time.Second):
		t.Fatal("peer never observed the half-close as EOF")
	}
}
