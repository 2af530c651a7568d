package domain

import "time"

// Identity represents the authenticated subject of an access request.
// It is supplied by an external identity provider and is immutable per request.
type Identity struct {
	ID          string
	UserID      string
	Email       string
	Name        string
	Groups      []string
	Roles       []string
	MFAVerified bool
	VerifiedAt  time.Time
	Provider    Provider
}

// Provider identifies where the identity was asserted.
type Provider string

const (
	ProviderLocal Provider = "local"
	ProviderSAML  Provider = "saml"
	ProviderOIDC  Provider = "oidc"
	ProviderLDAP  Provider = "ldap"
)

// InGroup reports whether the identity belongs to the named group.
func (i *Identity) InGroup(group string) bool {
	for _, g := range i.Groups {
		if g == group {
			return true
		}
	}
	return false
}

// HasRole reports whether the identity carries the named role.
func (i *Identity) HasRole(role string) bool {
	for _, r := range i.Roles {
		if r == role {
			return true
		}
	}
	return false
}
