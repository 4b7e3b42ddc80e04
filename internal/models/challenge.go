package models

const (
	ChallengeStatusPending = "pending"
	ChallengeStatusValid   = "valid"
	ChallengeStatusInvalid = "invalid"
)

const (
	ChallengeHTTP01  = "http-01"
	ChallengeDNS01   = "dns-01"
	ChallengeTLSSNI1 = "tls-sni-01"
	ChallengeAuto    = "auto"
)

// Challenge is one proof-of-control attempt under an authorization.
// Update is the type-specific verification hook; the built-in "auto"
// variant unconditionally succeeds and exists for tests. Production
// validators (see pkg/dns01) are supplied by the operator and must
// perform real out-of-process validation.
type Challenge struct {
	Type   string `json:"type"`
	Token  string `json:"token,omitempty"`
	Status string `json:"status"`
	URL    string `json:"url"`

	Validate func(payload map[string]any) error `json:"-"`
}

func NewChallenge(typ, token, url string) *Challenge {
	c := &Challenge{
		Type:   typ,
		Token:  token,
		Status: ChallengeStatusPending,
		URL:    url,
	}
	c.Validate = c.defaultValidate
	return c
}

// defaultValidate is the "auto" hook: it always succeeds. Challenge
// types that need real validation (pkg/dns01.Validator, an http-01
// prober, …) overwrite Validate after construction.
func (c *Challenge) defaultValidate(map[string]any) error {
	c.Status = ChallengeStatusValid
	return nil
}

// Update runs the challenge's verification hook against the supplied
// payload. It is the asynchronous suspension point called out in the
// concurrency model; here it is realized as a direct, blocking error
// return since nothing in this package itself needs to run off-goroutine.
func (c *Challenge) Update(payload map[string]any) error {
	if c.Validate == nil {
		c.Status = ChallengeStatusValid
		return nil
	}
	return c.Validate(payload)
}

func (c *Challenge) ToJSON() any {
	return struct {
		Type   string `json:"type"`
		Token  string `json:"token,omitempty"`
		Status string `json:"status"`
		URL    string `json:"url"`
	}{
		Type:   c.Type,
		Token:  c.Token,
		Status: c.Status,
		URL:    c.URL,
	}
}
