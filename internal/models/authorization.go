package models

import "time"

const (
	AuthzStatusPending     = "pending"
	AuthzStatusValid       = "valid"
	AuthzStatusInvalid     = "invalid"
	AuthzStatusDeactivated = "deactivated"
)

type Identifier struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// Authorization is proof that an account controls one identifier.
// Status is derived lazily by Update(): deactivated is never changed,
// otherwise expiry wins, otherwise any valid challenge makes the
// authorization valid.
type Authorization struct {
	UUID       string       `json:"-"`
	Thumbprint string       `json:"-"`
	Identifier Identifier   `json:"identifier"`
	Scope      string       `json:"-"`
	Expires    time.Time    `json:"expires"`
	Challenges []*Challenge `json:"challenges"`
	Status     string       `json:"status"`
}

func NewAuthorization(id, thumbprint, name, scope string, expires time.Time) *Authorization {
	return &Authorization{
		UUID:       id,
		Thumbprint: thumbprint,
		Identifier: Identifier{Type: "dns", Value: name},
		Scope:      scope,
		Expires:    expires,
		Status:     AuthzStatusPending,
	}
}

func (a *Authorization) TypeTag() string { return TypeAuthorization }
func (a *Authorization) ID() string      { return a.UUID }

// Update recomputes Status from the current challenge set and wall
// clock and caches it on the struct. It runs only where a caller
// invokes it (fetch challenge, update-authz, authorization reuse in
// new-order); other reads see the cached value. A deactivated
// authorization is left unchanged; otherwise expiry wins once
// now >= Expires, otherwise any valid challenge makes the authorization
// valid, else it is unchanged.
func (a *Authorization) Update(now time.Time) {
	if a.Status == AuthzStatusDeactivated {
		return
	}
	if !now.Before(a.Expires) {
		a.Status = AuthzStatusInvalid
		return
	}
	for _, c := range a.Challenges {
		if c.Status == ChallengeStatusValid {
			a.Status = AuthzStatusValid
			return
		}
	}
}

func (a *Authorization) Marshal() any {
	challenges := make([]any, len(a.Challenges))
	for i, c := range a.Challenges {
		challenges[i] = c.ToJSON()
	}
	return struct {
		Status     string     `json:"status"`
		Identifier Identifier `json:"identifier"`
		Challenges []any      `json:"challenges"`
		Expires    string     `json:"expires"`
	}{
		Status:     a.Status,
		Identifier: a.Identifier,
		Challenges: challenges,
		Expires:    a.Expires.UTC().Format(time.RFC3339),
	}
}

// Requirement is one line item of an Application's requirement list.
type Requirement struct {
	Type   string `json:"type"`
	Status string `json:"status"`
	URL    string `json:"url"`
}

func (a *Authorization) AsRequirement(url string) Requirement {
	return Requirement{Type: "authorization", Status: a.Status, URL: url}
}
