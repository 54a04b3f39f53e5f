package kafka

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
)

// BuildTLSConfig loads the broker CA and the optional client key pair.
// Without a CA path the system pool is trusted.
func BuildTLSConfig(caPath, certPath, keyPath string) (*tls.Config, error) {
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}

	if caPath == "" {
		pool, err := x509.SystemCertPool()
		if err != nil {
			return nil, fmt.Errorf("kafka tls: system roots: %w", err)
		}
		cfg.RootCAs = pool
	} else {
		pem, err := os.ReadFile(caPath)
		if err != nil {
			return nil, fmt.Errorf("kafka tls: read ca %s: %w", caPath, err)
		}
		cfg.RootCAs = x509.NewCertPool()
		if !cfg.RootCAs.AppendCertsFromPEM(pem) {
			return nil, errors.New("kafka tls: ca file holds no certificates")
		}
	}

	if certPath != "" && keyPath != "" {
		pair, err := tls.LoadX509KeyPair(certPath, keyPath)
		if err != nil {
			return nil, fmt.Errorf("kafka tls: client key pair: %w", err)
		}
		cfg.Certificates = []tls.Certificate{pair}
	}
	return cfg, nil
}
