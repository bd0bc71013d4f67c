// Package identity maps request inputs to the user id credits are keyed on.
package identity

import (
	"crypto/sha256"
	"encoding/base64"
	"strconv"
	"strings"
	"time"

	"github.com/voicecredits/voicecredits/internal/model"
)

const (
	emailPrefix = "email_"
	demoPrefix  = "demo_"

	// emailDigestLen is the number of base64url characters kept from the digest.
	emailDigestLen = 22
)

// Resolve picks the identity for a request.
// An authenticated id wins, then a supplied email, then a fresh demo id.
// Resolution never fails.
func Resolve(authUserID, email string, now time.Time) model.Identity {
	if id := strings.TrimSpace(authUserID); id != "" {
		return model.Identity{Kind: model.IdentityAuthenticated, ID: id}
	}

	if e := NormalizeEmail(email); e != "" {
		return model.Identity{Kind: model.IdentityEmail, ID: EmailUserID(e)}
	}

	return model.Identity{
		Kind: model.IdentityDemo,
		ID:   demoPrefix + strconv.FormatInt(now.UnixMilli(), 10),
	}
}

// NormalizeEmail trims and lowercases an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// EmailUserID derives the stable pseudonymous id for an email address.
// The address is normalized first, so case and surrounding whitespace
// do not change the result.
func EmailUserID(email string) string {
	sum := sha256.Sum256([]byte(NormalizeEmail(email)))
	encoded := base64.RawURLEncoding.EncodeToString(sum[:])
	return emailPrefix + encoded[:emailDigestLen]
}

// FromUserID classifies an id supplied by a client.
// Ids carrying the demo or email prefix keep that kind; anything else
// is treated as an authenticated id.
func FromUserID(id string) (model.Identity, bool) {
	id = strings.TrimSpace(id)
	switch {
	case id == "":
		return model.Identity{}, false
	case strings.HasPrefix(id, demoPrefix):
		return model.Identity{Kind: model.IdentityDemo, ID: id}, true
	case strings.HasPrefix(id, emailPrefix):
		return model.Identity{Kind: model.IdentityEmail, ID: id}, true
	default:
		return model.Identity{Kind: model.IdentityAuthenticated, ID: id}, true
	}
}
