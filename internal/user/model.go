package user

import (
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RolePatient      Role = "patient"
	RoleDoctor       Role = "doctor"
	RoleTranslator   Role = "translator"
	RoleOrganization Role = "organization"
	RoleAdmin        Role = "admin"
)

// earning roles get a wallet provisioned alongside the account.
func (r Role) earns() bool {
	return r == RoleDoctor || r == RoleTranslator || r == RoleOrganization
}

type User struct {
	ID        uuid.UUID
	Role      Role
	Name      string
	Email     string
	CreatedAt time.Time
	UpdatedAt time.Time
}
