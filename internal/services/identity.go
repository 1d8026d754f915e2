package services

import (
	"strings"

	"github.com/tbourn/go-circulation-backend/internal/domain"
)

// Role is the operator category granted by the identity provider.
type Role string

const (
	RoleReader      Role = "reader"
	RoleCirculation Role = "circulation"
	RoleSystem      Role = "system"
)

// ParseRole maps a header value to a Role. ok is false for unknown roles.
func ParseRole(s string) (Role, bool) {
	switch r := Role(strings.ToLower(strings.TrimSpace(s))); r {
	case RoleReader, RoleCirculation, RoleSystem:
		return r, true
	}
	return "", false
}

// Identity is the authenticated caller. It is passed explicitly into every
// operation; the core never looks up an ambient session.
type Identity struct {
	ActorID string
	Role    Role
}

// SystemIdentity is used by the scheduler and the operator CLI.
func SystemIdentity() Identity {
	return Identity{ActorID: domain.SystemOperator, Role: RoleSystem}
}

// IsStaff reports whether the caller may act on behalf of any reader.
func (i Identity) IsStaff() bool {
	return i.Role == RoleCirculation || i.Role == RoleSystem
}

// Operator is the name recorded in audit logs.
func (i Identity) Operator() string {
	if i.ActorID == "" {
		return domain.SystemOperator
	}
	return i.ActorID
}

// requireStaff rejects callers that are not circulation or system staff.
func requireStaff(id Identity) error {
	if !id.IsStaff() {
		return newError(ErrPermissionDenied, "staff role required", "role", string(id.Role))
	}
	return nil
}

// requireSystem rejects callers that are not system operators.
func requireSystem(id Identity) error {
	if id.Role != RoleSystem {
		return newError(ErrPermissionDenied, "system role required", "role", string(id.Role))
	}
	return nil
}

// requireSelfOrStaff lets readers act only on their own records.
func requireSelfOrStaff(id Identity, readerID string) error {
	if id.IsStaff() || (id.Role == RoleReader && id.ActorID == readerID) {
		return nil
	}
	return newError(ErrPermissionDenied, "readers may only act on their own records", "reader_id", readerID)
}
