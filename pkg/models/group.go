package models

import "time"

// GroupMetadata is the durable record for one group thread. It is created
// by the first group_created system message for the group id and mutated
// only by later system messages applied in timestamp order. Admins is
// always a subset of Members.
type GroupMetadata struct {
	GroupID          string    `json:"group_id"`
	GroupName        string    `json:"group_name,omitempty"`
	GroupDescription string    `json:"group_description,omitempty"`
	GroupDpURL       string    `json:"group_dp_url,omitempty"`
	Admins           []string  `json:"admins"`
	Members          []string  `json:"members"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// HasMember reports whether addr is a current member.
func (g *GroupMetadata) HasMember(addr string) bool { return contains(g.Members, addr) }

// HasAdmin reports whether addr is a current admin.
func (g *GroupMetadata) HasAdmin(addr string) bool { return contains(g.Admins, addr) }

// AddMember appends addr to the member set if not already present.
func (g *GroupMetadata) AddMember(addr string) {
	if !contains(g.Members, addr) {
		g.Members = append(g.Members, addr)
	}
}

// AddAdmin appends addr to the admin set if not already present.
func (g *GroupMetadata) AddAdmin(addr string) {
	if !contains(g.Admins, addr) {
		g.Admins = append(g.Admins, addr)
	}
}

// RemoveMember drops addr from both the member and admin sets.
func (g *GroupMetadata) RemoveMember(addr string) {
	g.Members = remove(g.Members, addr)
	g.Admins = remove(g.Admins, addr)
}

// RemoveAdmin drops addr from the admin set only.
func (g *GroupMetadata) RemoveAdmin(addr string) {
	g.Admins = remove(g.Admins, addr)
}

// Clone returns a deep copy so transitions can be applied tentatively and
// committed only after persistence succeeds.
func (g *GroupMetadata) Clone() *GroupMetadata {
	c := *g
	c.Admins = append([]string(nil), g.Admins...)
	c.Members = append([]string(nil), g.Members...)
	return &c
}

func contains(set []string, s string) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

func remove(set []string, s string) []string {
	out := set[:0]
	for _, v := range set {
		if v != s {
			out = append(out, v)
		}
	}
	return out
}
