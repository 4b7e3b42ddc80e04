package ca

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"math/big"
	"testing"
	"time"
)

func selfSignedKeyPair(t *testing.T, serial int64) *KeyPair {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	template := &x509.Certificate{
		SerialNumber:          big.NewInt(serial),
		Subject:               pkix.Name{CommonName: "test root CA"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().AddDate(1, 0, 0),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("self-sign: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return &KeyPair{PrivateKey: key, Cert: cert, KeyType: "ecdsa"}
}

func csrFor(t *testing.T, name string) string {
	t.Helper()
	key, _ := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	der, err := x509.CreateCertificateRequest(rand.Reader, &x509.CertificateRequest{
		Subject: pkix.Name{CommonName: name},
	}, key)
	if err != nil {
		t.Fatalf("create CSR: %v", err)
	}
	return base64.RawURLEncoding.EncodeToString(der)
}

func TestIssueCertificateProducesAVerifiableLeaf(t *testing.T) {
	kp := selfSignedKeyPair(t, 1)
	signer := New(kp)

	der, err := signer.IssueCertificate(csrFor(t, "example.com"), time.Now(), time.Now().AddDate(0, 0, 90))
	if err != nil {
		t.Fatalf("IssueCertificate: %v", err)
	}

	leaf, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("parse issued certificate: %v", err)
	}
	if leaf.Subject.CommonName != "example.com" {
		t.Fatalf("expected CN example.com, got %s", leaf.Subject.CommonName)
	}

	pool := x509.NewCertPool()
	pool.AddCert(kp.Cert)
	if _, err := leaf.Verify(x509.VerifyOptions{Roots: pool, KeyUsages: []x509.ExtKeyUsage{x509.ExtKeyUsageAny}}); err != nil {
		t.Fatalf("expected the issued leaf to chain to the CA, got %v", err)
	}
}

func TestSerialsAreMonotonicAndNeverCollideWithTheCA(t *testing.T) {
	kp := selfSignedKeyPair(t, 7)
	signer := New(kp)

	var serials []*big.Int
	for i := 0; i < 3; i++ {
		der, err := signer.IssueCertificate(csrFor(t, "example.com"), time.Now(), time.Now().AddDate(0, 0, 1))
		if err != nil {
			t.Fatalf("IssueCertificate: %v", err)
		}
		leaf, err := x509.ParseCertificate(der)
		if err != nil {
			t.Fatalf("parse: %v", err)
		}
		serials = append(serials, leaf.SerialNumber)
	}

	for i, s := range serials {
		if s.Cmp(kp.Cert.SerialNumber) == 0 {
			t.Fatalf("serial %d collides with the CA's own serial", i)
		}
		if i > 0 && s.Cmp(serials[i-1]) <= 0 {
			t.Fatalf("expected strictly increasing serials, got %v then %v", serials[i-1], s)
		}
	}
}

func TestIssueCertificateRejectsUnparsableCSR(t *testing.T) {
	kp := selfSignedKeyPair(t, 1)
	signer := New(kp)

	if _, err := signer.IssueCertificate("not-a-csr", time.Now(), time.Now().AddDate(0, 0, 1)); err == nil {
		t.Fatal("expected an unparsable CSR to fail")
	}
}
