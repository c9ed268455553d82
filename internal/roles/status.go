package roles

import "fmt"

// AccountStatus is the lifecycle status carried by an account.
type AccountStatus int

const (
	StatusNew AccountStatus = iota + 1
	StatusActive
	StatusPending
	StatusInactive
	StatusDormant
	StatusClosed
	StatusSuspended
	StatusFrozen
	StatusRestricted
	StatusDenied
)

var statusNames = [...]string{
	StatusNew:        "New",
	StatusActive:     "Active",
	StatusPending:    "Pending",
	StatusInactive:   "Inactive",
	StatusDormant:    "Dormant",
	StatusClosed:     "Closed",
	StatusSuspended:  "Suspended",
	StatusFrozen:     "Frozen",
	StatusRestricted: "Restricted",
	StatusDenied:     "Denied",
}

// Statuses lists every account status in id order.
func Statuses() []AccountStatus {
	out := make([]AccountStatus, 0, len(statusNames)-1)
	for s := StatusNew; s <= StatusDenied; s++ {
		out = append(out, s)
	}
	return out
}

func (s AccountStatus) Valid() bool {
	return s >= StatusNew && s <= StatusDenied
}

// Blocked reports whether the status disables every capability regardless of role.
func (s AccountStatus) Blocked() bool {
	switch s {
	case StatusSuspended, StatusFrozen, StatusClosed, StatusDenied, StatusRestricted:
		return true
	}
	return false
}

func (s AccountStatus) String() string {
	if !s.Valid() {
		return fmt.Sprintf("AccountStatus(%d)", int(s))
	}
	return statusNames[s]
}

// DeletePolicy is the referential action attached to a foreign relation.
type DeletePolicy int

const (
	Restrict DeletePolicy = iota
	SetNull
	Cascade
)

func (p DeletePolicy) SQL() string {
	switch p {
	case SetNull:
		return "set null"
	case Cascade:
		return "cascade"
	default:
		return "restrict"
	}
}

// Relation describes one foreign key leaving the account_links table.
type Relation struct {
	Column   string
	Table    string
	OnDelete DeletePolicy
}

// LinkRelations are the foreign relations of the account link table as created by the schema.
var LinkRelations = []Relation{
	{Column: "access_role_id", Table: "access_roles", OnDelete: Restrict},
	{Column: "account_id", Table: "accounts", OnDelete: Cascade},
}

// RelationTo returns the account link relation that references table.
func RelationTo(table string) (Relation, bool) {
	for _, r := range LinkRelations {
		if r.Table == table {
			return r, true
		}
	}
	return Relation{}, false
}
