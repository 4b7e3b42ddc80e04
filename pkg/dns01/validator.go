// Package dns01 is the optional DNS-01 challenge collaborator: it
// queries a configured set of DNS resolvers for the
// "_acme-challenge.<name>" TXT record and compares it against the
// expected key authorization digest, grounded on intx4-acme's
// cmd/dns package use of github.com/miekg/dns for TXT record
// handling (there used server-side to serve the record; here used
// client-side to verify it).
//
// This validator is never wired in by default: internal/acme builds it
// only when acme.challenges.dns01 is true and acme.dns01_resolvers is
// non-empty, and then installs it on each new dns-01 challenge in place
// of the built-in "auto" hook.
package dns01

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/miekg/dns"

	"github.com/adamscao/acmeserver/internal/models"
)

const challengeLabelPrefix = "_acme-challenge."

// Validator looks up TXT records against a fixed list of resolver
// addresses (host:port), trying each in order until one answers.
type Validator struct {
	Resolvers []string
	Client    *dns.Client
}

func New(resolvers []string) *Validator {
	return &Validator{
		Resolvers: resolvers,
		Client:    &dns.Client{Timeout: 5 * time.Second},
	}
}

// Hook builds a models.Challenge.Validate closure for a dns-01
// challenge on the identifier name, keyed off the account thumbprint
// as the key authorization's second component. The expected record
// value is base64url(sha256(token + "." + thumbprint)), the RFC 8555
// §8.4 construction adapted to this core's hex thumbprint encoding.
func (v *Validator) Hook(ch *models.Challenge, name, thumbprint string) func(map[string]any) error {
	return func(map[string]any) error {
		expected := keyAuthorizationDigest(ch.Token, thumbprint)
		got, err := v.lookupTXT(challengeLabelPrefix + dns.Fqdn(name))
		if err != nil {
			return fmt.Errorf("dns-01: TXT lookup failed: %w", err)
		}
		for _, record := range got {
			if record == expected {
				ch.Status = models.ChallengeStatusValid
				return nil
			}
		}
		ch.Status = models.ChallengeStatusInvalid
		return fmt.Errorf("dns-01: no TXT record at %s matched the expected key authorization", name)
	}
}

func keyAuthorizationDigest(token, thumbprint string) string {
	sum := sha256.Sum256([]byte(token + "." + thumbprint))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

func (v *Validator) lookupTXT(fqdn string) ([]string, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(fqdn, dns.TypeTXT)
	msg.RecursionDesired = true

	var lastErr error
	for _, resolver := range v.Resolvers {
		reply, _, err := v.Client.Exchange(msg, resolver)
		if err != nil {
			lastErr = err
			continue
		}
		if reply.Rcode != dns.RcodeSuccess {
			lastErr = fmt.Errorf("resolver %s returned rcode %d", resolver, reply.Rcode)
			continue
		}
		var out []string
		for _, rr := range reply.Answer {
			if txt, ok := rr.(*dns.TXT); ok {
				out = append(out, txt.Txt...)
			}
		}
		return out, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no resolvers configured")
	}
	return nil, lastErr
}
