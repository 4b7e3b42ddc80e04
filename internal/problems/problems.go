// Package problems implements the Error Model (C9): structured ACME
// problem documents, urn:ietf:params:acme:error:<kind>.
package problems

import "net/http"

const urnPrefix = "urn:ietf:params:acme:error:"

// Problem is the wire shape of an ACME error response body.
type Problem struct {
	Type        string `json:"type"`
	Title       string `json:"title,omitempty"`
	Description string `json:"detail"`

	HTTPStatus int `json:"-"`
}

func build(kind string, status int, detail string) *Problem {
	return &Problem{
		Type:        urnPrefix + kind,
		Title:       kind,
		Description: detail,
		HTTPStatus:  status,
	}
}

func Malformed(detail string) *Problem {
	return build("malformed", http.StatusBadRequest, detail)
}

func Unauthorized(detail string) *Problem {
	return build("unauthorized", http.StatusUnauthorized, detail)
}

func BadNonce(detail string) *Problem {
	return build("bad-nonce", http.StatusBadRequest, detail)
}

func RejectedIdentifier(detail string) *Problem {
	return build("rejectedIdentifier", http.StatusBadRequest, detail)
}

func OrderNotReady(detail string) *Problem {
	return build("orderNotReady", http.StatusForbidden, detail)
}

func AccountDoesNotExist(detail string) *Problem {
	return build("accountDoesNotExist", http.StatusUnauthorized, detail)
}

func ServerInternal(detail string) *Problem {
	return build("serverInternal", http.StatusInternalServerError, detail)
}
