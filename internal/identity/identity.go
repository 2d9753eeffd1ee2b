// Package identity owns a node's process-lifetime identifiers: its unique
// id (used to filter out a node's own mDNS broadcasts) and its TLS
// key/certificate pair, generated once and persisted to disk, per
// SPEC_FULL.md §6's persisted state layout.
package identity

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Identity is a node's unique id plus its TLS serving certificate.
type Identity struct {
	// UniqueID is this process's UUID, lowercased, used as the mDNS TXT
	// __mkey_proto_uuid__ value and to filter out self-discovery.
	UniqueID string
	TLS      tls.Certificate
}

// Load returns the node identity rooted at rootDir: a UUID generated fresh
// each process start (per SPEC_FULL.md §2 C5: "process UUID"), and a TLS
// key/cert pair loaded from <root>/tls.key and <root>/tls.crt if present,
// generated and persisted there otherwise.
func Load(rootDir string) (*Identity, error) {
	certPath := filepath.Join(rootDir, "tls.crt")
	keyPath := filepath.Join(rootDir, "tls.key")

	cert, err := loadCertificate(certPath, keyPath)
	if err != nil {
		return nil, err
	}

	return &Identity{
		UniqueID: strings.ToLower(uuid.NewString()),
		TLS:      cert,
	}, nil
}

func loadCertificate(certPath, keyPath string) (tls.Certificate, error) {
	if fileExists(certPath) && fileExists(keyPath) {
		cert, err := tls.LoadX509KeyPair(certPath, keyPath)
		if err != nil {
			return tls.Certificate{}, fmt.Errorf("identity: loading tls certificate: %w", err)
		}
		return cert, nil
	}

	cert, certPEM, keyPEM, err := generateSelfSigned()
	if err != nil {
		return tls.Certificate{}, err
	}
	if err := os.MkdirAll(filepath.Dir(certPath), 0o700); err != nil {
		return tls.Certificate{}, fmt.Errorf("identity: creating root dir: %w", err)
	}
	if err := os.WriteFile(certPath, certPEM, 0o644); err != nil {
		return tls.Certificate{}, fmt.Errorf("identity: writing tls.crt: %w", err)
	}
	if err := os.WriteFile(keyPath, keyPEM, 0o600); err != nil {
		return tls.Certificate{}, fmt.Errorf("identity: writing tls.key: %w", err)
	}
	return cert, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func generateSelfSigned() (cert tls.Certificate, certPEM, keyPEM []byte, err error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, nil, nil, fmt.Errorf("identity: generating tls key: %w", err)
	}

	serialLimit := new(big.Int).Lsh(big.NewInt(1), 128)
	serial, err := rand.Int(rand.Reader, serialLimit)
	if err != nil {
		return tls.Certificate{}, nil, nil, fmt.Errorf("identity: generating tls serial: %w", err)
	}

	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			CommonName: "localhost",
		},
		NotBefore:             time.Now().Add(-5 * time.Minute),
		NotAfter:              time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              []string{"localhost"},
		IPAddresses: []net.IP{
			net.ParseIP("127.0.0.1"),
			net.ParseIP("::1"),
		},
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return tls.Certificate{}, nil, nil, fmt.Errorf("identity: generating tls certificate: %w", err)
	}

	certPEM = pemEncode("CERTIFICATE", der)
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return tls.Certificate{}, nil, nil, fmt.Errorf("identity: marshaling tls key: %w", err)
	}
	keyPEM = pemEncode("EC PRIVATE KEY", keyDER)

	return tls.Certificate{
		Certificate: [][]byte{der},
		PrivateKey:  key,
		Leaf:        template,
	}, certPEM, keyPEM, nil
}

func pemEncode(blockType string, der []byte) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: blockType, Bytes: der})
}
