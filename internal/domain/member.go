package domain

// Member is a resolved guild member handle.
type Member struct {
	ID          string
	Username    string
	DisplayName string
	RoleIDs     []string
	Bot         bool
}

// Mention renders the platform mention syntax for the member.
func (m Member) Mention() string {
	return "<@" + m.ID + ">"
}

// Label returns the best human readable name.
func (m Member) Label() string {
	if m.DisplayName != "" {
		return m.DisplayName
	}
	return m.Username
}

// HasRole reports whether the member holds roleID.
func (m Member) HasRole(roleID string) bool {
	if roleID == "" {
		return false
	}
	for _, id := range m.RoleIDs {
		if id == roleID {
			return true
		}
	}
	return false
}

// Actor is the member invoking an action. Elevated is resolved by the
// caller against the admin role before the action runs.
type Actor struct {
	Member
	Elevated bool
}

// Guild identifies the guild an action runs in.
type Guild struct {
	ID            string
	DefaultRoleID string
}

// EveryoneRole returns the guild's default role, which on most platforms
// shares the guild's ID.
func (g Guild) EveryoneRole() string {
	if g.DefaultRoleID != "" {
		return g.DefaultRoleID
	}
	return g.ID
}
