package models

import "github.com/go-jose/go-jose/v4"

// Registration is an ACME account. Its id is the hex-encoded JWK
// thumbprint of the account key, making lookup by key a pure function
// of the key itself.
type Registration struct {
	Thumbprint string            `json:"-"`
	Key        *jose.JSONWebKey  `json:"key"`
	Contact    []string          `json:"contact,omitempty"`
	Agreement  string            `json:"agreement,omitempty"`
	Status     string            `json:"status"`
	OrdersURL  string            `json:"orders,omitempty"`
}

const (
	RegStatusGood        = "good"
	RegStatusDeactivated = "deactivated"
)

func NewRegistration(thumbprint string, key *jose.JSONWebKey, contact []string) *Registration {
	return &Registration{
		Thumbprint: thumbprint,
		Key:        key,
		Contact:    contact,
		Status:     RegStatusGood,
	}
}

func (r *Registration) TypeTag() string { return TypeRegistration }
func (r *Registration) ID() string      { return r.Thumbprint }

// Marshal returns the public JSON shape; it never exposes the
// internal Thumbprint field under its Go name.
func (r *Registration) Marshal() any {
	return struct {
		Key       *jose.JSONWebKey `json:"key"`
		Contact   []string         `json:"contact,omitempty"`
		Agreement string           `json:"agreement,omitempty"`
		Status    string           `json:"status"`
		Orders    string           `json:"orders,omitempty"`
	}{
		Key:       r.Key,
		Contact:   r.Contact,
		Agreement: r.Agreement,
		Status:    r.Status,
		Orders:    r.OrdersURL,
	}
}
