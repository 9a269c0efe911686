package permission

import (
	"errors"
	"fmt"
	"math/bits"
)

// AgriVision permissions.
const (
	ProfileRead    = "profile:read"
	ProfileWrite   = "profile:write"
	FarmRead       = "farm:read"
	FarmWrite      = "farm:write"
	ResearchRead   = "research:read"
	MarketList     = "market:list"
	AccountsManage = "accounts:manage"
)

// MaxPermissions is how many names fit beside the root bit.
const MaxPermissions = 63

const root Set = 1 << MaxPermissions

// ErrUnknownPermission is returned by Check for a name never registered.
var ErrUnknownPermission = errors.New("unknown permission")

// Set is a bitmask of permissions.
type Set uint64

// Len counts the permissions in s, root included.
func (s Set) Len() int { return bits.OnesCount64(uint64(s)) }

// Policy answers role/permission questions.
type Policy struct {
	names []string
	bit   map[string]Set
	roles map[string]Set
}

// NewPolicy assigns bits to permissions in order, then composes grants.
// Roles listed in rootRoles also hold the root bit.
func NewPolicy(permissions []string, grants map[string][]string, rootRoles ...string) (*Policy, error) {
	if len(permissions) > MaxPermissions {
		return nil, fmt.Errorf("%d permissions exceed the limit of %d", len(permissions), MaxPermissions)
	}

	p := &Policy{
		names: make([]string, 0, len(permissions)),
		bit:   make(map[string]Set, len(permissions)),
		roles: make(map[string]Set, len(grants)+len(rootRoles)),
	}
	for i, name := range permissions {
		if name == "" {
			return nil, errors.New("empty permission name")
		}
		if _, dup := p.bit[name]; dup {
			return nil, fmt.Errorf("permission %q registered twice", name)
		}
		p.bit[name] = 1 << i
		p.names = append(p.names, name)
	}

	for role, perms := range grants {
		if role == "" {
			return nil, errors.New("empty role name")
		}
		var set Set
		for _, name := range perms {
			b, ok := p.bit[name]
			if !ok {
				return nil, fmt.Errorf("role %q: %w %q", role, ErrUnknownPermission, name)
			}
			set |= b
		}
		p.roles[role] = set
	}
	for _, role := range rootRoles {
		p.roles[role] |= root
	}

	return p, nil
}

// DefaultPolicy returns the AgriVision role grants.
func DefaultPolicy() *Policy {
	p, err := NewPolicy(
		[]string{ProfileRead, ProfileWrite, FarmRead, FarmWrite, ResearchRead, MarketList, AccountsManage},
		map[string][]string{
			"standard":   {ProfileRead, ProfileWrite, FarmRead, FarmWrite},
			"researcher": {ProfileRead, ProfileWrite, FarmRead, ResearchRead},
			"supplier":   {ProfileRead, ProfileWrite, MarketList},
		},
		"admin",
	)
	if err != nil {
		panic("permission: invalid default policy: " + err.Error())
	}
	return p
}

// Grants returns the set held by role and whether the role is known.
func (p *Policy) Grants(role string) (Set, bool) {
	set, ok := p.roles[role]
	return set, ok
}

// Check reports ErrUnknownPermission for an unregistered name, and
// otherwise whether role holds perm. Unknown roles hold nothing.
func (p *Policy) Check(role, perm string) (bool, error) {
	b, ok := p.bit[perm]
	if !ok {
		return false, ErrUnknownPermission
	}
	set := p.roles[role]
	return set&(root|b) != 0, nil
}

// Allowed is Check with unknown permissions denied.
func (p *Policy) Allowed(role, perm string) bool {
	ok, err := p.Check(role, perm)
	return err == nil && ok
}

// Permissions lists what role holds, in registration order.
func (p *Policy) Permissions(role string) []string {
	var out []string
	for _, name := range p.names {
		if p.Allowed(role, name) {
			out = append(out, name)
		}
	}
	return out
}
