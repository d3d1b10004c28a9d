package domain

import "strings"

// Credential is a platform login.
type Credential struct {
	User     string
	Password string
}

// Valid reports whether both fields are set.
func (c Credential) Valid() bool {
	return strings.TrimSpace(c.User) != "" && c.Password != ""
}

// Credentials holds logins keyed by platform.
type Credentials map[Platform]Credential

// For returns the login for p, if one is configured.
func (c Credentials) For(p Platform) (Credential, bool) {
	cred, ok := c[p]
	if !ok || !cred.Valid() {
		return Credential{}, false
	}
	return cred, true
}
