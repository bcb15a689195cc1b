package models

import "time"

// Visibility is the per-field access policy on a profile.
type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
)

// Valid reports whether v is a recognized visibility value.
func (v Visibility) Valid() bool {
	return v == VisibilityPublic || v == VisibilityPrivate
}

// ProfileField is a profile value with its visibility. A nil Value means
// the field was never set.
type ProfileField struct {
	Value      *string    `json:"value,omitempty"`
	Visibility Visibility `json:"visibility,omitempty"`
}

// EncryptedField is the address field as stored: the value is AES-GCM
// ciphertext (nonce|ciphertext), never plaintext, and visibility is
// pinned private.
type EncryptedField struct {
	Value      []byte     `json:"value,omitempty"`
	Visibility Visibility `json:"visibility,omitempty"`
}

// UserProfile is the durable record for one public key. The key is both
// identity and lookup key; profiles are created lazily on first write and
// mutated only by owner-signed updates.
type UserProfile struct {
	Pubkey         string         `json:"pubkey"`
	FirstName      ProfileField   `json:"first_name"`
	MiddleName     ProfileField   `json:"middle_name"`
	LastName       ProfileField   `json:"last_name"`
	DisplayPicture ProfileField   `json:"display_picture"`
	Address        EncryptedField `json:"address"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// NewUserProfile returns an empty profile for pubkey with every field
// private and unset.
func NewUserProfile(pubkey string) *UserProfile {
	return &UserProfile{
		Pubkey:         pubkey,
		FirstName:      ProfileField{Visibility: VisibilityPrivate},
		MiddleName:     ProfileField{Visibility: VisibilityPrivate},
		LastName:       ProfileField{Visibility: VisibilityPrivate},
		DisplayPicture: ProfileField{Visibility: VisibilityPrivate},
		Address:        EncryptedField{Visibility: VisibilityPrivate},
	}
}
