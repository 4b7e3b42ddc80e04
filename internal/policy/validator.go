// Package policy implements the CSR validator (C5), grounded on the
// teacher's internal/policy/validator.go rule-checking style: ordered,
// short-circuiting checks that each return the first failing rule's
// message.
package policy

import (
	"crypto/x509"
	"encoding/asn1"
	"encoding/base64"
	"fmt"
	"regexp"
	"strings"
)

// dnsNamePattern is the exact DNS regex from the CSR policy rules.
var dnsNamePattern = regexp.MustCompile(`^([a-z0-9][a-z0-9-]{1,62}\.)+[a-z][a-z0-9-]{0,62}$`)

// oidExtensionRequest is the PKCS#9 extensionRequest CSR attribute OID.
var oidExtensionRequest = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 14}

// Result is the outcome of validating a CSR.
type Result struct {
	Names []string
	Error string
}

// DecodeCSR decodes a base64url CSR and parses it as a PKCS#10 request.
// Shared by the policy validator and the CA so both agree on exactly
// what bytes were signed.
func DecodeCSR(csrB64URL string) (*x509.CertificateRequest, error) {
	der, err := base64.RawURLEncoding.DecodeString(csrB64URL)
	if err != nil {
		// Some clients pad base64url; tolerate that before giving up.
		der, err = base64.URLEncoding.DecodeString(csrB64URL)
		if err != nil {
			return nil, fmt.Errorf("csr is not valid base64url")
		}
	}
	return x509.ParseCertificateRequest(der)
}

// Validate decodes a base64url CSR and enforces the subject/attribute/
// extension/SAN rules in order, short-circuiting on the first failure.
func Validate(csrB64URL string) Result {
	csr, err := DecodeCSR(csrB64URL)
	if err != nil {
		return Result{Error: "csr does not parse as a PKCS#10 request"}
	}

	var names []string

	// Rule 1: subject attributes, zero or one, and if present it must be
	// commonName — anything else (or more than one) is rejected rather
	// than silently dropped when the certificate is issued.
	switch len(csr.Subject.Names) {
	case 0:
	case 1:
		if csr.Subject.CommonName == "" {
			return Result{Error: "the only subject attribute must be commonName"}
		}
	default:
		return Result{Error: "csr subject must carry zero or one attribute"}
	}
	cn := csr.Subject.CommonName
	if cn != "" {
		lowered := strings.ToLower(cn)
		if !dnsNamePattern.MatchString(lowered) {
			return Result{Error: fmt.Sprintf("subject commonName %q is not a valid DNS name", cn)}
		}
		names = append(names, lowered)
	}

	// Rule 2 & 3: CSR attributes must be at most extensionRequest,
	// containing at most subjectAltName. x509.ParseCertificateRequest
	// already promotes subjectAltName out of extensionRequest into
	// csr.DNSNames, so we only need to reject attributes we don't know.
	for _, attr := range csr.Attributes {
		if !attr.Type.Equal(oidExtensionRequest) {
			return Result{Error: fmt.Sprintf("unsupported CSR attribute %s", attr.Type.String())}
		}
	}
	for _, ext := range csr.Extensions {
		if !ext.Id.Equal(oidSubjectAltName) {
			return Result{Error: fmt.Sprintf("unsupported extensionRequest extension %s", ext.Id.String())}
		}
	}

	// Rule 4: SAN entries must be dNSName and match the DNS regex.
	if len(csr.EmailAddresses) > 0 || len(csr.IPAddresses) > 0 || len(csr.URIs) > 0 {
		return Result{Error: "subjectAltName must contain only dNSName entries"}
	}
	for _, name := range csr.DNSNames {
		lowered := strings.ToLower(name)
		if !dnsNamePattern.MatchString(lowered) {
			return Result{Error: fmt.Sprintf("SAN dNSName %q is not a valid DNS name", name)}
		}
		names = append(names, lowered)
	}

	// Rule 5: name set must be non-empty.
	names = dedupe(names)
	if len(names) == 0 {
		return Result{Error: "csr contains no usable names"}
	}

	return Result{Names: names}
}

var oidSubjectAltName = asn1.ObjectIdentifier{2, 5, 29, 17}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
