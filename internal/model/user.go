package model

import (
	"errors"
	"strings"
	"time"
)

// Role is the closed set of account roles.  Values are the canonical
// spellings stored in tokens and persisted records.
type Role string

const (
	RolePsychologist Role = "psychologist"
	RolePatient      Role = "patient"
)

// ErrUnknownRole is returned by ParseRole for spellings outside the
// accepted set.
var ErrUnknownRole = errors.New("unknown role")

// roleSpellings maps every accepted input spelling (lower-cased, trimmed)
// to its canonical Role.  Registration and token parsing go through
// ParseRole so that no other code compares raw role strings.
var roleSpellings = map[string]Role{
	"psychologist": RolePsychologist,
	"psicologo":    RolePsychologist,
	"psicólogo":    RolePsychologist,
	"psicologa":    RolePsychologist,
	"psicóloga":    RolePsychologist,
	"patient":      RolePatient,
	"paciente":     RolePatient,
	"pacient":      RolePatient,
}

// ParseRole normalizes a role spelling received at the system boundary.
// Matching is case-insensitive; unknown spellings are rejected rather than
// defaulted.
func ParseRole(s string) (Role, error) {
	if r, ok := roleSpellings[strings.ToLower(strings.TrimSpace(s))]; ok {
		return r, nil
	}
	return "", ErrUnknownRole
}

// Valid reports whether r is one of the canonical roles.
func (r Role) Valid() bool { return r == RolePsychologist || r == RolePatient }

// User represents an account as stored by every persistence backend.
//
// Fields:
//
//	ID           – opaque unique identifier (uuid string).
//	Username     – globally unique login name, case sensitive.
//	PasswordHash – bcrypt hash; never serialized to clients.
//	Name         – display name.
//	Email        – contact address.
//	Role         – psychologist or patient.
//	CreatedAt    – registration timestamp.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	Role         Role      `json:"role"`
	CreatedAt    time.Time `json:"createdAt"`
}

// IsPatient reports whether the user holds the patient role.
func (u *User) IsPatient() bool { return u != nil && u.Role == RolePatient }

// Principal is the authenticated identity derived from a bearer token.
type Principal struct {
	ID   string
	Role Role
}
