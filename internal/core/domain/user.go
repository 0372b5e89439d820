package domain

type UserID string

// Identity is the resolved caller behind a connection. The zero value is
// an anonymous guest.
type Identity struct {
	UserID        UserID `json:"user_id,omitempty"`
	Username      string `json:"username,omitempty"`
	Admin         bool   `json:"admin,omitempty"`
	Authenticated bool   `json:"authenticated"`
}

// DisplayName returns the name shown to managers.
func (i Identity) DisplayName() string {
	if !i.Authenticated || i.Username == "" {
		return GuestName
	}
	return i.Username
}

// TokenTrust is the verification outcome of an event access token.
// Unverified carries no claims and grants nothing.
type TokenTrust struct {
	verified bool
	claims   AccessClaims
}

// AccessClaims are the verified contents of an event access token.
type AccessClaims struct {
	EventID EventID
	Subject string
}

func Unverified() TokenTrust {
	return TokenTrust{}
}

func Verified(claims AccessClaims) TokenTrust {
	return TokenTrust{verified: true, claims: claims}
}

// Claims returns the verified claims, or false for an unverified token.
func (t TokenTrust) Claims() (AccessClaims, bool) {
	return t.claims, t.verified
}

func (t TokenTrust) IsVerified() bool {
	return t.verified
}
