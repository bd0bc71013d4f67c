package model

// IdentityKind tags where a user identifier came from.
type IdentityKind string

const (
	IdentityAuthenticated IdentityKind = "authenticated"
	IdentityEmail         IdentityKind = "email"
	IdentityDemo          IdentityKind = "demo"
)

// Identity is a resolved caller identity.
type Identity struct {
	Kind IdentityKind `json:"kind"`
	ID   string       `json:"id"`
}

// IsDemo reports whether the identity is a throwaway demo id.
func (i Identity) IsDemo() bool {
	return i.Kind == IdentityDemo
}

// Metered reports whether sessions for this identity go through the
// credit gate and usage recorder.
func (i Identity) Metered() bool {
	return i.Kind == IdentityAuthenticated || i.Kind == IdentityEmail
}
