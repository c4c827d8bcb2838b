package rpc

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
)

// TLSFiles names the PEM files a HALO process loads its mTLS identity and
// trust root from. Unlike the teacher's pkg/security, nothing here issues or
// rotates certificates — HALO only consumes whatever the surrounding
// deployment has already provisioned on disk.
type TLSFiles struct {
	CertFile string
	KeyFile  string
	CAFile   string
}

func loadCAPool(caFile string) (*x509.CertPool, error) {
	pemBytes, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("read ca file: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pemBytes) {
		return nil, fmt.Errorf("no certificates found in %s", caFile)
	}
	return pool, nil
}

// ServerCredentials builds the mTLS credentials a manager or remote agent's
// grpc.Server listens with: client certificates are required and verified
// against the cluster CA, mirroring pkg/api/server.go's NewServer.
func ServerCredentials(files TLSFiles) (credentials.TransportCredentials, error) {
	cert, err := tls.LoadX509KeyPair(files.CertFile, files.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("load server keypair: %w", err)
	}
	caPool, err := loadCAPool(files.CAFile)
	if err != nil {
		return nil, err
	}
	cfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		ClientAuth:   tls.RequireAndVerifyClientCert,
		ClientCAs:    caPool,
		MinVersion:   tls.VersionTLS13,
	}
	return credentials.NewTLS(cfg), nil
}

// ClientCredentials builds the mTLS credentials a caller dials a manager or
// remote agent with, mirroring pkg/worker/worker.go's connectWithMTLS.
func ClientCredentials(files TLSFiles, serverName string) (credentials.TransportCredentials, error) {
	cert, err := tls.LoadX509KeyPair(files.CertFile, files.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("load client keypair: %w", err)
	}
	caPool, err := loadCAPool(files.CAFile)
	if err != nil {
		return nil, err
	}
	cfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		RootCAs:      caPool,
		ServerName:   serverName,
		MinVersion:   tls.VersionTLS13,
	}
	return credentials.NewTLS(cfg), nil
}

// MaybeServerCredentials builds mTLS server credentials when files names a
// cert and key, and falls back to insecure transport otherwise. Per §6, TLS
// is only required when HALO_*_CERT/HALO_*_KEY are present — the default
// /etc/halo/halo.conf deployment and the HALO_TEST_DIRECTORY test
// environment both run without provisioned certificates.
func MaybeServerCredentials(files TLSFiles) (credentials.TransportCredentials, error) {
	if files.CertFile == "" && files.KeyFile == "" {
		return insecure.NewCredentials(), nil
	}
	return ServerCredentials(files)
}

// MaybeClientCredentials is MaybeServerCredentials' dial-side counterpart.
func MaybeClientCredentials(files TLSFiles, serverName string) (credentials.TransportCredentials, error) {
	if files.CertFile == "" && files.KeyFile == "" {
		return insecure.NewCredentials(), nil
	}
	return ClientCredentials(files, serverName)
}
