package models

import (
	"encoding/json"
	"strings"
	"time"
)

// Envelope type values.
const (
	TypeText   = "text"
	TypeSystem = "system"
)

// System message subtypes.
const (
	SubJoined             = "joined"
	SubLeft               = "left"
	SubRemoved            = "removed"
	SubAdminAssigned      = "admin_assigned"
	SubAdminRevoked       = "admin_revoked"
	SubGroupCreated       = "group_created"
	SubGroupRenamed       = "group_renamed"
	SubDescriptionUpdated = "description_updated"
	SubDpUpdated          = "dp_updated"
	SubProfileUpdated     = "profile_updated"
)

// KnownSubtype reports whether s is a recognized system subtype.
func KnownSubtype(s string) bool {
	switch s {
	case SubJoined, SubLeft, SubRemoved, SubAdminAssigned, SubAdminRevoked,
		SubGroupCreated, SubGroupRenamed, SubDescriptionUpdated, SubDpUpdated,
		SubProfileUpdated:
		return true
	}
	return false
}

// Envelope is one wire message: a newline-delimited JSON object received
// over a client connection. Signature and SenderPubkey are base64 (std)
// encoded and are excluded from the bytes the signature covers.
type Envelope struct {
	To      []string `json:"to"`
	Cc      []string `json:"cc,omitempty"`
	GroupID string   `json:"group_id,omitempty"`
	Type    string   `json:"type"`

	// System message fields (type == "system").
	Subtype   string `json:"subtype,omitempty"`
	Actor     string `json:"actor,omitempty"`
	Target    string `json:"target,omitempty"`
	Timestamp string `json:"timestamp,omitempty"` // RFC3339

	// Body is opaque to the server; it is transported and signed over,
	// never inspected.
	Body json.RawMessage `json:"body,omitempty"`

	Signature    string `json:"signature"`
	SenderPubkey string `json:"sender_pubkey"`

	// Subtype-specific metadata.
	NewName        string          `json:"new_name,omitempty"`
	NewDescription string          `json:"new_description,omitempty"`
	NewDpURL       string          `json:"new_dp_url,omitempty"`
	Changes        *ProfileChanges `json:"changes,omitempty"`
}

// ProfileChanges carries the changed plaintext values announced by a
// profile_updated system message.
type ProfileChanges struct {
	FirstName      *string `json:"first_name,omitempty"`
	MiddleName     *string `json:"middle_name,omitempty"`
	LastName       *string `json:"last_name,omitempty"`
	DisplayPicture *string `json:"display_picture,omitempty"`
}

// Time parses the envelope timestamp as an RFC3339 instant.
func (e *Envelope) Time() (time.Time, error) {
	return time.Parse(time.RFC3339, e.Timestamp)
}

// IsSystem reports whether the envelope is a system message.
func (e *Envelope) IsSystem() bool { return e.Type == TypeSystem }

// ValidAddress reports whether s has the localpart#domain shape. Addresses
// are otherwise opaque; equality is exact string equality.
func ValidAddress(s string) bool {
	local, domain, ok := strings.Cut(s, "#")
	return ok && local != "" && domain != "" && !strings.Contains(domain, "#")
}
