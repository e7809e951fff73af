// Package auth classifies caller identities and validates service-to-service
// credentials. End-user authentication happens upstream (oauth2-proxy /
// kube-rbac-proxy headers); this package only decides what kind of caller a
// user_id represents and whether service callers are allowed in.
package auth

import (
	"strings"

	"github.com/netra-ai/netra/pkg/faults"
)

// SystemUserID is the legacy identity that bypasses per-user authentication
// entirely. It always succeeds; only internal components use it.
const SystemUserID = "system"

// servicePrefix tags service-to-service identities: "service:<name>".
const servicePrefix = "service:"

// IdentityKind discriminates the three caller classes.
type IdentityKind int

const (
	IdentityUser IdentityKind = iota
	IdentitySystem
	IdentityService
)

func (k IdentityKind) String() string {
	switch k {
	case IdentitySystem:
		return "system"
	case IdentityService:
		return "service"
	default:
		return "user"
	}
}

// Identity is the classified form of a user_id.
type Identity struct {
	Kind        IdentityKind
	UserID      string
	ServiceName string // set only for IdentityService
}

// ClassifyIdentity parses a user_id into its identity class. A "service:"
// prefix with an empty remainder is a policy error, not a valid identity.
func ClassifyIdentity(userID string) (Identity, error) {
	if userID == SystemUserID {
		return Identity{Kind: IdentitySystem, UserID: userID}, nil
	}
	if strings.HasPrefix(userID, servicePrefix) {
		name := strings.TrimPrefix(userID, servicePrefix)
		if strings.TrimSpace(name) == "" {
			return Identity{}, faults.Newf(faults.KindPolicy, faults.CodeInvalidServiceIdentity,
				"service identity %q has an empty service name", userID)
		}
		return Identity{Kind: IdentityService, UserID: userID, ServiceName: name}, nil
	}
	return Identity{Kind: IdentityUser, UserID: userID}, nil
}
