// Package urls implements the Directory & URL Scheme (C8): derive the
// server's base URL from (scheme, host, port, basePath), and build
// object URLs relative to it.
package urls

import "fmt"

// Base derives the base URL per spec.md §4.7: port 80 implies http
// without an explicit port, 443 implies https without an explicit
// port, anything else always gets an explicit http://host:port,
// regardless of the configured scheme.
func Base(scheme, host string, port int, basePath string) string {
	switch port {
	case 80:
		return fmt.Sprintf("http://%s%s", host, basePath)
	case 443:
		return fmt.Sprintf("https://%s%s", host, basePath)
	default:
		return fmt.Sprintf("http://%s:%d%s", host, port, basePath)
	}
}

// Object builds {base}/{typeTag}/{id}.
func Object(base, typeTag, id string) string {
	return fmt.Sprintf("%s/%s/%s", base, typeTag, id)
}

// ChallengeURL builds {authzURL}/{index}.
func ChallengeURL(authzURL string, index int) string {
	return fmt.Sprintf("%s/%d", authzURL, index)
}
