package access

import "strings"

// Permission is a bit-flag set of capabilities against a cached value.
type Permission uint8

const (
	// Read grants visibility of the value.
	Read Permission = 1 << iota
	// Write grants creating the value.
	Write
	// Update grants overwriting the value.
	Update
	// Delete grants removing the value.
	Delete
	// Execute grants using the value as computation input without
	// granting visibility. This is what makes blind computation
	// policies possible: an agent can pass a reference into a tool it
	// may not read.
	Execute
)

// None grants nothing.
const None Permission = 0

// Convenience unions.
const (
	// CRUD is Read|Write|Update|Delete.
	CRUD = Read | Write | Update | Delete
	// Full is CRUD|Execute.
	Full = CRUD | Execute
)

// Has reports whether every bit in required is present.
func (p Permission) Has(required Permission) bool {
	return p&required == required
}

// Add returns the union of p and other.
func (p Permission) Add(other Permission) Permission {
	return p | other
}

// Without returns p with the bits of other cleared.
func (p Permission) Without(other Permission) Permission {
	return p &^ other
}

var permissionNames = []struct {
	bit  Permission
	name string
}{
	{Read, "read"},
	{Write, "write"},
	{Update, "update"},
	{Delete, "delete"},
	{Execute, "execute"},
}

// String returns a stable "read|write" style rendering.
func (p Permission) String() string {
	if p == None {
		return "none"
	}
	parts := make([]string, 0, len(permissionNames))
	for _, pn := range permissionNames {
		if p.Has(pn.bit) {
			parts = append(parts, pn.name)
		}
	}
	return strings.Join(parts, "|")
}
