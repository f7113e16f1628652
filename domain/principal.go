package domain

// Principal is the verified identity and claims presented by a connection.
// An empty UserID means the connection is anonymous.
type Principal struct {
	UserID    string   `json:"userId,omitempty"`
	Roles     []string `json:"roles,omitempty"`
	HotelID   *int64   `json:"hotelId,omitempty"`
	BookingID *int64   `json:"bookingId,omitempty"`
}

// Anonymous reports whether the principal carries no identity.
func (p Principal) Anonymous() bool { return p.UserID == "" }

// Groups derives the memberships a connection holds for the lifetime of the
// connection. Anonymous principals belong to no group.
func (p Principal) Groups() []GroupKey {
	if p.Anonymous() {
		return nil
	}
	groups := make([]GroupKey, 0, 3+len(p.Roles))
	groups = append(groups, UserGroup(p.UserID))
	seen := make(map[string]struct{}, len(p.Roles))
	for _, r := range p.Roles {
		if r == "" {
			continue
		}
		if _, dup := seen[r]; dup {
			continue
		}
		seen[r] = struct{}{}
		groups = append(groups, RoleGroup(r))
	}
	if p.HotelID != nil {
		groups = append(groups, HotelGroup(*p.HotelID))
	}
	if p.BookingID != nil {
		groups = append(groups, BookingGroup(*p.BookingID))
	}
	return groups
}
