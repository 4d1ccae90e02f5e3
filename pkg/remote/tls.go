package remote

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"

	"google.golang.org/grpc/credentials"
)

// TLSConfig describes the certificates used between cohort members. When
// Enabled is false every connection is plaintext.
type TLSConfig struct {
	Enabled           bool     `mapstructure:"enabled"`
	CAPath            string   `mapstructure:"ca_path"`
	CertPath          string   `mapstructure:"cert_path"`
	KeyPath           string   `mapstructure:"key_path"`
	ClientCAPath      string   `mapstructure:"client_ca_path"`
	RequireClientAuth bool     `mapstructure:"require_client_auth"`
	AllowedNames      []string `mapstructure:"allowed_names"`
	MinVersion        string   `mapstructure:"min_version"`
	ServerName        string   `mapstructure:"server_name"`
}

// Validate checks that the configured paths are present.
func (c TLSConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.CAPath == "" {
		return errors.New("CA certificate path is required when TLS is enabled")
	}
	if c.CertPath == "" || c.KeyPath == "" {
		return errors.New("certificate and key paths are required when TLS is enabled")
	}
	return nil
}

// ServerCredentials returns the credentials for the member's listener, or nil
// when TLS is disabled.
func (c TLSConfig) ServerCredentials() (credentials.TransportCredentials, error) {
	cfg, err := c.serverConfig()
	if err != nil || cfg == nil {
		return nil, err
	}
	return credentials.NewTLS(cfg), nil
}

// ClientCredentials returns the credentials for outgoing connections, or nil
// when TLS is disabled.
func (c TLSConfig) ClientCredentials() (credentials.TransportCredentials, error) {
	cfg, err := c.clientConfig()
	if err != nil || cfg == nil {
		return nil, err
	}
	return credentials.NewTLS(cfg), nil
}

func (c TLSConfig) serverConfig() (*tls.Config, error) {
	if !c.Enabled {
		return nil, nil
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}

	cert, err := tls.LoadX509KeyPair(c.CertPath, c.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load server certificate: %w", err)
	}
	cfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   c.minVersion(),
	}

	if c.RequireClientAuth {
		path := c.ClientCAPath
		if path == "" {
			path = c.CAPath
		}
		pool, err := loadCAPool(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load client CA pool: %w", err)
		}
		cfg.ClientAuth = tls.RequireAndVerifyClientCert
		cfg.ClientCAs = pool
		cfg.VerifyPeerCertificate = c.verifyPeerCertificate
	}
	return cfg, nil
}

func (c TLSConfig) clientConfig() (*tls.Config, error) {
	if !c.Enabled {
		return nil, nil
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}

	pool, err := loadCAPool(c.CAPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load CA pool: %w", err)
	}
	cert, err := tls.LoadX509KeyPair(c.CertPath, c.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load client certificate: %w", err)
	}
	return &tls.Config{
		RootCAs:               pool,
		Certificates:          []tls.Certificate{cert},
		MinVersion:            c.minVersion(),
		ServerName:            c.ServerName,
		VerifyPeerCertificate: c.verifyPeerCertificate,
	}, nil
}

// verifyPeerCertificate restricts peers to AllowedNames, matched against the
// leaf certificate's common name and DNS names. It runs after chain
// verification.
func (c TLSConfig) verifyPeerCertificate(rawCerts [][]byte, _ [][]*x509.Certificate) error {
	if len(c.AllowedNames) == 0 {
		return nil
	}
	if len(rawCerts) == 0 {
		return errors.New("no certificates provided")
	}
	cert, err := x509.ParseCertificate(rawCerts[0])
	if err != nil {
		return fmt.Errorf("failed to parse peer certificate: %w", err)
	}

	names := append([]string{cert.Subject.CommonName}, cert.DNSNames...)
	for _, allowed := range c.AllowedNames {
		for _, name := range names {
			if name == allowed {
				return nil
			}
		}
	}
	return fmt.Errorf("peer %q is not an allowed cohort member", cert.Subject.CommonName)
}

func (c TLSConfig) minVersion() uint16 {
	if c.MinVersion == "1.3" {
		return tls.VersionTLS13
	}
	return tls.VersionTLS12
}

func loadCAPool(path string) (*x509.CertPool, error) {
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA certificate: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("failed to parse CA certificate %s", path)
	}
	return pool, nil
}
