package service

import (
	"log/slog"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/nexus-tt/nexus/internal/config"
	"github.com/nexus-tt/nexus/internal/domain/guard"
)

// DefaultRole is assigned to callers that claim no role or fail verification.
const DefaultRole = "user"

// RoleResolver decides the effective role of a chat request. Claiming the
// privileged role requires an admin key matching the configured bcrypt hash.
type RoleResolver struct {
	privileged string
	hash       func() string
}

// NewRoleResolver creates a RoleResolver from the guard configuration.
func NewRoleResolver(cfg config.Guard) *RoleResolver {
	privileged := cfg.PrivilegedRole
	if privileged == "" {
		privileged = guard.DefaultPrivilegedRole
	}
	hash := cfg.AdminKeyHash
	return &RoleResolver{privileged: privileged, hash: func() string { return hash }}
}

// UseHashSource makes Resolve read the admin key hash from src on every call,
// so a rotated hash applies without a restart.
func (r *RoleResolver) UseHashSource(src func() string) {
	r.hash = src
}

// Resolve returns the role the request is served with.
func (r *RoleResolver) Resolve(claimed, adminKey string) string {
	claimed = strings.ToLower(strings.TrimSpace(claimed))
	if claimed == "" {
		return DefaultRole
	}
	if claimed != r.privileged {
		return claimed
	}
	hash := r.hash()
	if hash == "" || adminKey == "" {
		slog.Warn("privileged role claimed without a usable admin key")
		return DefaultRole
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(adminKey)); err != nil {
		slog.Warn("privileged role claimed with a wrong admin key")
		return DefaultRole
	}
	return r.privileged
}

// HashAdminKey returns the bcrypt hash to store as guard.admin_key_hash.
func HashAdminKey(key string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}
