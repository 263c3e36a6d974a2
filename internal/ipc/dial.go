// Package ipc is the gRPC client of the cmdintel daemon and the wire
// contract shared with it.
package ipc

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Default timeouts for different operation types
const (
	// FireAndForgetTimeout bounds recording calls made from shell hooks.
	FireAndForgetTimeout = 20 * time.Millisecond

	// QueryTimeout bounds prediction and lookup calls.
	QueryTimeout = 500 * time.Millisecond

	// InteractiveTimeout bounds calls that may reach the oracle.
	InteractiveTimeout = 10 * time.Second

	// DialTimeout is the maximum time to wait for initial connection
	DialTimeout = 50 * time.Millisecond
)

// SocketExists checks if the daemon socket file exists
func SocketExists(socketPath string) bool {
	_, err := os.Stat(socketPath)
	return err == nil
}

// Dial connects to the daemon socket with the specified timeout.
func Dial(socketPath string, timeout time.Duration) (*grpc.ClientConn, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	return DialContext(ctx, socketPath)
}

// DialContext connects to the daemon socket using ctx for the blocking
// handshake.
func DialContext(ctx context.Context, socketPath string) (*grpc.ClientConn, error) {
	if !SocketExists(socketPath) {
		return nil, fmt.Errorf("socket not found: %s", socketPath)
	}

	dialer := func(ctx context.Context, _ string) (net.Conn, error) {
		var d net.Dialer
		return d.DialContext(ctx, "unix", socketPath)
	}

	//nolint:staticcheck // Using deprecated DialContext for blocking connection behavior
	conn, err := grpc.DialContext(
		ctx,
		"passthrough:///"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithContextDialer(dialer),
		grpc.WithBlock(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to dial: %w", err)
	}

	return conn, nil
}
