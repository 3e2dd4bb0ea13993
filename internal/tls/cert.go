// Package tls handles the certificates used for wss:// connections to a
// companion server. The companion typically runs with a self-signed
// certificate, so the client trusts it by pinning the certificate file
// (and optionally its SHA-256 fingerprint) instead of relying on system roots.
package tls

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	certFileName = "host.crt"
	keyFileName  = "host.key"
)

// CertConfig controls self-signed certificate generation.
type CertConfig struct {
	// Dir receives host.crt and host.key.
	Dir string

	// Hosts become SANs. Defaults to localhost and 127.0.0.1.
	Hosts []string

	// ValidFor defaults to one year.
	ValidFor time.Duration
}

// CertInfo describes a certificate on disk.
type CertInfo struct {
	CertPath    string
	KeyPath     string
	Fingerprint string // colon-separated uppercase hex, "AA:BB:..."
	NotAfter    time.Time
	Generated   bool
}

// EnsureCertificate loads host.crt/host.key from cfg.Dir, generating a new
// pair when either file is missing.
func EnsureCertificate(cfg CertConfig) (*CertInfo, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("certificate directory is required")
	}
	certPath := filepath.Join(cfg.Dir, certFileName)
	keyPath := filepath.Join(cfg.Dir, keyFileName)

	if fileExists(certPath) && fileExists(keyPath) {
		pair, err := tls.LoadX509KeyPair(certPath, keyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load certificate pair: %w", err)
		}
		leaf, err := x509.ParseCertificate(pair.Certificate[0])
		if err != nil {
			return nil, fmt.Errorf("failed to parse certificate: %w", err)
		}
		return &CertInfo{
			CertPath:    certPath,
			KeyPath:     keyPath,
			Fingerprint: Fingerprint(leaf),
			NotAfter:    leaf.NotAfter,
		}, nil
	}

	return generate(cfg, certPath, keyPath)
}

func generate(cfg CertConfig, certPath, keyPath string) (*CertInfo, error) {
	hosts := cfg.Hosts
	if len(hosts) == 0 {
		hosts = []string{"localhost", "127.0.0.1"}
	}
	validFor := cfg.ValidFor
	if validFor == 0 {
		validFor = 365 * 24 * time.Hour
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate private key: %w", err)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("failed to generate serial number: %w", err)
	}

	now := time.Now()
	tmpl := x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{Organization: []string{"claudeconnect"}, CommonName: "claudeconnect companion"},
		NotBefore:             now.Add(-time.Minute),
		NotAfter:              now.Add(validFor),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	for _, h := range hosts {
		if ip := net.ParseIP(h); ip != nil {
			tmpl.IPAddresses = append(tmpl.IPAddresses, ip)
		} else {
			tmpl.DNSNames = append(tmpl.DNSNames, h)
		}
	}

	der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("failed to create certificate: %w", err)
	}
	keyDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal private key: %w", err)
	}

	if err := os.MkdirAll(cfg.Dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create certificate directory: %w", err)
	}
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	if err := os.WriteFile(certPath, certPEM, 0644); err != nil {
		return nil, fmt.Errorf("failed to write certificate: %w", err)
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDER})
	if err := os.WriteFile(keyPath, keyPEM, 0600); err != nil {
		return nil, fmt.Errorf("failed to write private key: %w", err)
	}

	leaf, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("failed to parse generated certificate: %w", err)
	}
	return &CertInfo{
		CertPath:    certPath,
		KeyPath:     keyPath,
		Fingerprint: Fingerprint(leaf),
		NotAfter:    leaf.NotAfter,
		Generated:   true,
	}, nil
}

// Fingerprint returns the SHA-256 of the DER certificate as "AA:BB:...".
func Fingerprint(cert *x509.Certificate) string {
	sum := sha256.Sum256(cert.Raw)
	enc := strings.ToUpper(hex.EncodeToString(sum[:]))
	parts := make([]string, 0, len(sum))
	for i := 0; i < len(enc); i += 2 {
		parts = append(parts, enc[i:i+2])
	}
	return strings.Join(parts, ":")
}

// FingerprintPEM parses the first PEM certificate block and fingerprints it.
func FingerprintPEM(data []byte) (string, error) {
	cert, err := parsePEM(data)
	if err != nil {
		return "", err
	}
	return Fingerprint(cert), nil
}

// ServerConfig builds the TLS config served by the companion emulator.
func ServerConfig(certPath, keyPath string) (*tls.Config, error) {
	pair, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load certificate pair: %w", err)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{pair},
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// PinnedClientConfig trusts exactly the certificate stored at certPath.
// When fingerprint is non-empty the presented leaf must also match it.
func PinnedClientConfig(certPath, fingerprint string) (*tls.Config, error) {
	data, err := os.ReadFile(certPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read pinned certificate: %w", err)
	}
	cert, err := parsePEM(data)
	if err != nil {
		return nil, err
	}

	pool := x509.NewCertPool()
	pool.AddCert(cert)

	want := strings.ToUpper(strings.TrimSpace(fingerprint))
	cfg := &tls.Config{
		RootCAs:    pool,
		MinVersion: tls.VersionTLS12,
	}
	if want != "" {
		cfg.VerifyPeerCertificate = func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
			if len(rawCerts) == 0 {
				return fmt.Errorf("server presented no certificate")
			}
			leaf, err := x509.ParseCertificate(rawCerts[0])
			if err != nil {
				return fmt.Errorf("failed to parse server certificate: %w", err)
			}
			if got := Fingerprint(leaf); got != want {
				return fmt.Errorf("certificate fingerprint mismatch: got %s", got)
			}
			return nil
		}
	}
	return cfg, nil
}

func parsePEM(data []byte) (*x509.Certificate, error) {
	block, _ := pem.Decode(data)
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, fmt.Errorf("failed to decode PEM certificate")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate: %w", err)
	}
	return cert, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
