package roles

import (
	"fmt"
	"strings"
)

// RoleID identifies a principal-level role. Values match the seeded roles table.
type RoleID int

const (
	RoleAdministrator RoleID = 1
	RoleUser          RoleID = 2
	RoleEmployee      RoleID = 3
)

// Role is an immutable row of the roles reference table.
type Role struct {
	ID   RoleID `json:"role_id"`
	Name string `json:"role_name"`
}

var builtinRoles = []Role{
	{ID: RoleAdministrator, Name: "Administrator"},
	{ID: RoleUser, Name: "User"},
	{ID: RoleEmployee, Name: "Employee"},
}

// Roles returns the seeded role table in id order.
func Roles() []Role {
	out := make([]Role, len(builtinRoles))
	copy(out, builtinRoles)
	return out
}

// Valid reports whether id is a member of the role enumeration.
func (id RoleID) Valid() bool {
	return id >= RoleAdministrator && id <= RoleEmployee
}

// IsStaff reports whether the role may open administrative review scopes.
func (id RoleID) IsStaff() bool {
	return id == RoleAdministrator || id == RoleEmployee
}

func (id RoleID) String() string {
	if !id.Valid() {
		return fmt.Sprintf("RoleID(%d)", int(id))
	}
	return builtinRoles[id-1].Name
}

// AccessRoleID identifies the role a person holds on one account.
type AccessRoleID int

const (
	PrimaryOwner   AccessRoleID = 1
	SecondaryOwner AccessRoleID = 2
	Beneficiary    AccessRoleID = 3
)

// AccessRole is an immutable row of the access_roles reference table.
type AccessRole struct {
	ID   AccessRoleID `json:"access_role_id"`
	Name string       `json:"access_role_name"`
}

var builtinAccessRoles = []AccessRole{
	{ID: PrimaryOwner, Name: "PrimaryOwner"},
	{ID: SecondaryOwner, Name: "SecondaryOwner"},
	{ID: Beneficiary, Name: "Beneficiary"},
}

// AccessRoles returns the seeded access role table in id order.
func AccessRoles() []AccessRole {
	out := make([]AccessRole, len(builtinAccessRoles))
	copy(out, builtinAccessRoles)
	return out
}

func (id AccessRoleID) Valid() bool {
	return id >= PrimaryOwner && id <= Beneficiary
}

func (id AccessRoleID) String() string {
	if !id.Valid() {
		return fmt.Sprintf("AccessRoleID(%d)", int(id))
	}
	return builtinAccessRoles[id-1].Name
}

// ParseAccessRole resolves a case-insensitive access role name.
func ParseAccessRole(name string) (AccessRoleID, bool) {
	name = strings.TrimSpace(name)
	for _, r := range builtinAccessRoles {
		if strings.EqualFold(r.Name, name) {
			return r.ID, true
		}
	}
	return 0, false
}
