package rpc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dSpringOnion/clidistcachelayer/internal/rpcpb"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
)

// AddressBook resolves a node id to its dial address, backed by the
// coordinator registry's node list.
type AddressBook interface {
	Address(nodeID string) (string, bool)
}

// Dialer caches one grpc.ClientConn per node address, keyed by node id
// via an AddressBook rather than embedding host/port on every call.
type Dialer struct {
	creds   credentials.TransportCredentials
	book    AddressBook
	timeout time.Duration
	logger  *zap.Logger

	mu    sync.Mutex
	conns map[string]*grpc.ClientConn
}

// DialerConfig controls transport security and connect timeout.
type DialerConfig struct {
	Credentials credentials.TransportCredentials // nil uses insecure transport
	DialTimeout time.Duration
}

// NewDialer constructs a Dialer resolving node ids through book.
func NewDialer(cfg DialerConfig, book AddressBook, logger *zap.Logger) *Dialer {
	creds := cfg.Credentials
	if creds == nil {
		creds = insecure.NewCredentials()
	}
	timeout := cfg.DialTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dialer{
		creds:   creds,
		book:    book,
		timeout: timeout,
		logger:  logger,
		conns:   make(map[string]*grpc.ClientConn),
	}
}

func (d *Dialer) connFor(nodeID string) (*grpc.ClientConn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if conn, ok := d.conns[nodeID]; ok {
		return conn, nil
	}

	addr, ok := d.book.Address(nodeID)
	if !ok {
		return nil, fmt.Errorf("rpc: unknown node %q", nodeID)
	}

	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	conn, err := grpc.DialContext(ctx, addr, grpc.WithTransportCredentials(d.creds), grpc.WithBlock())
	if err != nil {
		return nil, fmt.Errorf("rpc: dial %s (%s): %w", nodeID, addr, err)
	}
	d.conns[nodeID] = conn
	d.logger.Info("rpc: dialed peer", zap.String("node_id", nodeID), zap.String("addr", addr))
	return conn, nil
}

// CacheClient returns a rpcpb.CacheClient for nodeID, dialing lazily.
func (d *Dialer) CacheClient(nodeID string) (rpcpb.CacheClient, error) {
	conn, err := d.connFor(nodeID)
	if err != nil {
		return nil, err
	}
	return rpcpb.NewCacheClient(conn), nil
}

// ReplicationClient returns a rpcpb.ReplicationClient for nodeID.
func (d *Dialer) ReplicationClient(nodeID string) (rpcpb.ReplicationClient, error) {
	conn, err := d.connFor(nodeID)
	if err != nil {
		return nil, err
	}
	return rpcpb.NewReplicationClient(conn), nil
}

// FailoverClient returns a rpcpb.FailoverClient for nodeID.
func (d *Dialer) FailoverClient(nodeID string) (rpcpb.FailoverClient, error) {
	conn, err := d.connFor(nodeID)
	if err != nil {
		return nil, err
	}
	return rpcpb.NewFailoverClient(conn), nil
}

// CoordinatorClient returns a rpcpb.CoordinatorClient for nodeID.
func (d *Dialer) CoordinatorClient(nodeID string) (rpcpb.CoordinatorClient, error) {
	conn, err := d.connFor(nodeID)
	if err != nil {
		return nil, err
	}
	return rpcpb.NewCoordinatorClient(conn), nil
}

// AdminClient returns a rpcpb.AdminClient for nodeID.
func (d *Dialer) AdminClient(nodeID string) (rpcpb.AdminClient, error) {
	conn, err := d.connFor(nodeID)
	if err != nil {
		return nil, err
	}
	return rpcpb.NewAdminClient(conn), nil
}

// Close tears down every cached connection.
func (d *Dialer) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	var firstErr error
	for nodeID, conn := range d.conns {
		if err := conn.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("rpc: close %s: %w", nodeID, err)
		}
	}
	d.conns = make(map[string]*grpc.ClientConn)
	return firstErr
}
