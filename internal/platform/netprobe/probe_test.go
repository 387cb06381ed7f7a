package netprobe

import (
	"context"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHostPort(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"https://matrix.example.org", "matrix.example.org:443", false},
		{"http://matrix.example.org", "matrix.example.org:80", false},
		{"https://matrix.example.org:8448/_matrix", "matrix.example.org:8448", false},
		{"http://[::1]:8008", "[::1]:8008", false},
		{"ftp://matrix.example.org", "", true},
		{"not a url", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		got, err := HostPort(tt.in)
		if tt.wantErr {
			assert.ErrorIs(t, err, ErrInvalidHomeserverURL, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestProbe_Reachable(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			_ = conn.Close()
		}
	}()

	p, err := New("http://"+ln.Addr().String(), time.Second, testLogger())
	require.NoError(t, err)

	assert.True(t, p.Check(context.Background()))
	assert.Equal(t, ln.Addr().String(), p.Addr())
}

func TestProbe_Unreachable(t *testing.T) {
	t.Parallel()

	// Grab a free port, then close the listener so nothing is accepting.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	p, err := New("http://"+addr, time.Second, testLogger())
	require.NoError(t, err)

	assert.False(t, p.Check(context.Background()))
}

func TestProbe_CancelledContext(t *testing.T) {
	t.Parallel()

	p, err := New("https://matrix.example.org", time.Second, testLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.False(t, p.Check(ctx))
}
