// Package tlscreds loads TLS certificates for the RPC server and
// client. No third-party TLS library appears anywhere in the example
// pack, so this ambient shell is built directly on crypto/tls and
// google.golang.org/grpc/credentials, per SPEC_FULL.md's domain-stack
// note (see DESIGN.md "internal/tlscreds" for the justification).
package tlscreds

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	"google.golang.org/grpc/credentials"
)

// Config names the certificate material for either end of a connection.
type Config struct {
	CertFile   string
	KeyFile    string
	CAFile     string
	ServerName string
}

// ServerCredentials loads a server-side TLS certificate, optionally
// requiring and verifying client certificates against CAFile (mutual TLS).
func ServerCredentials(cfg Config) (credentials.TransportCredentials, error) {
	cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("tlscreds: load server cert: %w", err)
	}
	tlsCfg := &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}

	if cfg.CAFile != "" {
		pool, err := loadCAPool(cfg.CAFile)
		if err != nil {
			return nil, err
		}
		tlsCfg.ClientCAs = pool
		tlsCfg.ClientAuth = tls.RequireAndVerifyClientCert
	}
	return credentials.NewTLS(tlsCfg), nil
}

// ClientCredentials loads client-side TLS credentials, verifying the
// server's certificate against CAFile.
func ClientCredentials(cfg Config) (credentials.TransportCredentials, error) {
	tlsCfg := &tls.Config{ServerName: cfg.ServerName, MinVersion: tls.VersionTLS12}

	if cfg.CAFile != "" {
		pool, err := loadCAPool(cfg.CAFile)
		if err != nil {
			return nil, err
		}
		tlsCfg.RootCAs = pool
	}
	if cfg.CertFile != "" && cfg.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("tlscreds: load client cert: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	}
	return credentials.NewTLS(tlsCfg), nil
}

func loadCAPool(caFile string) (*x509.CertPool, error) {
	pem, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("tlscreds: read CA file: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("tlscreds: no valid certificates found in %q", caFile)
	}
	return pool, nil
}
