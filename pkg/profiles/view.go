package profiles

import (
	"time"

	"esmpd/pkg/models"
	"esmpd/pkg/security"
	"esmpd/pkg/store"
)

// ViewField is one rendered profile field.
type ViewField struct {
	Value      *string           `json:"value,omitempty"`
	Visibility models.Visibility `json:"visibility"`
}

// View is the read model of a profile. Owners see every field with the
// address decrypted; anyone else sees only the fields marked public, and
// never the address.
type View struct {
	Pubkey         string     `json:"pubkey"`
	FirstName      *ViewField `json:"first_name,omitempty"`
	MiddleName     *ViewField `json:"middle_name,omitempty"`
	LastName       *ViewField `json:"last_name,omitempty"`
	DisplayPicture *ViewField `json:"display_picture,omitempty"`
	Address        *ViewField `json:"address,omitempty"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// View renders the profile of pubkey for the given requester. Returns
// store.ErrNotFound when the profile was never created.
func (s *Store) View(pubkey, requester string) (*View, error) {
	e := s.entry(pubkey)
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.loadLocked(pubkey); err != nil {
		return nil, err
	}
	if e.prof == nil {
		return nil, store.ErrNotFound
	}
	p := e.prof
	owner := requester == pubkey

	v := &View{Pubkey: p.Pubkey, UpdatedAt: p.UpdatedAt}
	v.FirstName = renderField(p.FirstName, owner)
	v.MiddleName = renderField(p.MiddleName, owner)
	v.LastName = renderField(p.LastName, owner)
	v.DisplayPicture = renderField(p.DisplayPicture, owner)

	// The address never leaves the server for non-owners.
	if owner && len(p.Address.Value) > 0 {
		addr := string(p.Address.Value)
		if security.Enabled() {
			pt, err := security.Decrypt(p.Address.Value)
			if err != nil {
				return nil, err
			}
			addr = string(pt)
		}
		v.Address = &ViewField{Value: &addr, Visibility: models.VisibilityPrivate}
	}
	return v, nil
}

func renderField(f models.ProfileField, owner bool) *ViewField {
	if !owner && f.Visibility != models.VisibilityPublic {
		return nil
	}
	if f.Value == nil && !owner {
		return nil
	}
	return &ViewField{Value: f.Value, Visibility: f.Visibility}
}
