// Package access holds the role table that gates privileged operations.
package access

import (
	"fmt"
	"sort"

	"OptionLedger/internal/errs"

	"github.com/ethereum/go-ethereum/common"
)

type Role uint8

const (
	RoleAdmin Role = iota + 1
	RoleOptionsEngine
)

func (r Role) String() string {
	switch r {
	case RoleAdmin:
		return "admin"
	case RoleOptionsEngine:
		return "options_engine"
	default:
		return "unknown"
	}
}

// ParseRole accepts the names produced by Role.String.
func ParseRole(s string) (Role, error) {
	switch s {
	case "admin":
		return RoleAdmin, nil
	case "options_engine":
		return RoleOptionsEngine, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownRole, s)
}

var (
	ErrMissingRole = errs.Auth("access: caller lacks role")
	ErrUnknownRole = errs.Input("access: unknown role")
	ErrZeroAddress = errs.Input("access: zero address")
	ErrLastAdmin   = errs.Invariant("access: cannot revoke the last admin")
)

// Table maps roles to the principals holding them. Several principals may
// hold the same role, so more than one options engine can share a pool.
type Table struct {
	members map[Role]map[common.Address]struct{}
}

// NewTable creates a table with admin as the sole Admin.
func NewTable(admin common.Address) *Table {
	t := &Table{members: make(map[Role]map[common.Address]struct{})}
	t.set(RoleAdmin, admin)
	return t
}

func (t *Table) set(role Role, who common.Address) {
	m, ok := t.members[role]
	if !ok {
		m = make(map[common.Address]struct{})
		t.members[role] = m
	}
	m[who] = struct{}{}
}

func (t *Table) Has(role Role, who common.Address) bool {
	_, ok := t.members[role][who]
	return ok
}

// Require fails with ErrMissingRole unless who holds role.
func (t *Table) Require(role Role, who common.Address) error {
	if !t.Has(role, who) {
		return fmt.Errorf("%w: %s is not %s", ErrMissingRole, who.Hex(), role)
	}
	return nil
}

// Grant is admin-only.
func (t *Table) Grant(caller common.Address, role Role, who common.Address) error {
	if err := t.Require(RoleAdmin, caller); err != nil {
		return err
	}
	if role != RoleAdmin && role != RoleOptionsEngine {
		return ErrUnknownRole
	}
	if who == (common.Address{}) {
		return ErrZeroAddress
	}
	t.set(role, who)
	return nil
}

// Revoke is admin-only. The last admin cannot be removed.
func (t *Table) Revoke(caller common.Address, role Role, who common.Address) error {
	if err := t.Require(RoleAdmin, caller); err != nil {
		return err
	}
	if role == RoleAdmin && t.Has(RoleAdmin, who) && len(t.members[RoleAdmin]) == 1 {
		return ErrLastAdmin
	}
	delete(t.members[role], who)
	return nil
}

// TransferAdmin hands the Admin role from caller to newAdmin.
func (t *Table) TransferAdmin(caller, newAdmin common.Address) error {
	if err := t.Require(RoleAdmin, caller); err != nil {
		return err
	}
	if newAdmin == (common.Address{}) {
		return ErrZeroAddress
	}
	t.set(RoleAdmin, newAdmin)
	if newAdmin != caller {
		delete(t.members[RoleAdmin], caller)
	}
	return nil
}

// Members lists holders of role in a stable order.
func (t *Table) Members(role Role) []common.Address {
	out := make([]common.Address, 0, len(t.members[role]))
	for a := range t.members[role] {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Hex() < out[j].Hex() })
	return out
}

// Grants is the serializable form of a Table.
type Grants map[Role][]common.Address

func (t *Table) Export() Grants {
	g := make(Grants, len(t.members))
	for role := range t.members {
		if members := t.Members(role); len(members) > 0 {
			g[role] = members
		}
	}
	return g
}

func Restore(g Grants) *Table {
	t := &Table{members: make(map[Role]map[common.Address]struct{})}
	for role, who := range g {
		for _, a := range who {
			t.set(role, a)
		}
	}
	return t
}
