package ca

import (
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"sync/atomic"
	"time"

	"github.com/adamscao/acmeserver/internal/policy"
)

// CA wraps a KeyPair with the monotonic serial counter used for every
// certificate it issues during this process's lifetime.
type CA struct {
	KeyPair *KeyPair
	serial  atomic.Uint64
}

// New seeds the serial counter from the CA certificate's own serial
// number, so issued-leaf serials never collide with the CA's.
func New(kp *KeyPair) *CA {
	c := &CA{KeyPair: kp}
	seed := uint64(0)
	if kp.Cert != nil && kp.Cert.SerialNumber != nil {
		seed = kp.Cert.SerialNumber.Uint64() + 1
	}
	c.serial.Store(seed)
	return c
}

// nextSerial returns the next serial number, strictly increasing
// within this process.
func (c *CA) nextSerial() *big.Int {
	n := c.serial.Add(1)
	return new(big.Int).SetUint64(n)
}

// IssueCertificate parses the CSR, builds an X.509 v3 certificate
// carrying its subject, public key, and requested SAN extension, and
// signs it with the CA key.
func (c *CA) IssueCertificate(csrB64URL string, notBefore, notAfter time.Time) ([]byte, error) {
	csr, err := policy.DecodeCSR(csrB64URL)
	if err != nil {
		return nil, fmt.Errorf("csr does not parse as a PKCS#10 request: %w", err)
	}
	if err := csr.CheckSignature(); err != nil {
		return nil, fmt.Errorf("csr signature does not verify: %w", err)
	}

	template := &x509.Certificate{
		SerialNumber:    c.nextSerial(),
		Subject:         pkix.Name{CommonName: csr.Subject.CommonName},
		NotBefore:       notBefore,
		NotAfter:        notAfter,
		KeyUsage:        x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:     []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		DNSNames:        csr.DNSNames,
		EmailAddresses:  csr.EmailAddresses,
		IPAddresses:     csr.IPAddresses,
		URIs:            csr.URIs,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, c.KeyPair.Cert, csr.PublicKey, c.KeyPair.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign certificate: %w", err)
	}
	return der, nil
}
