// Package profiles holds per-pubkey user profiles with field-level
// visibility. Updates must be signed by the owning key; the address field
// is encrypted at rest and pinned private, and only an owner read ever
// decrypts it.
package profiles

import (
	"encoding/json"
	"net/url"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	"esmpd/pkg/logger"
	"esmpd/pkg/models"
	"esmpd/pkg/protocol"
	"esmpd/pkg/security"
	"esmpd/pkg/store"
)

const (
	maxNameLen    = 50
	maxAddressLen = 200
)

// FieldUpdate is one requested field change. A nil Value leaves the
// stored value alone (visibility-only change); a nil Visibility keeps the
// current visibility.
type FieldUpdate struct {
	Value      *string            `json:"value,omitempty"`
	Visibility *models.Visibility `json:"visibility,omitempty"`
}

// Update is the set of requested field changes of one profile write.
type Update struct {
	FirstName      *FieldUpdate `json:"first_name,omitempty"`
	MiddleName     *FieldUpdate `json:"middle_name,omitempty"`
	LastName       *FieldUpdate `json:"last_name,omitempty"`
	DisplayPicture *FieldUpdate `json:"display_picture,omitempty"`
	Address        *FieldUpdate `json:"address,omitempty"`
}

// FromChanges lifts the plaintext values of a profile_updated system
// message into an Update. Visibilities are left untouched.
func FromChanges(c *models.ProfileChanges) Update {
	u := Update{}
	if c.FirstName != nil {
		u.FirstName = &FieldUpdate{Value: c.FirstName}
	}
	if c.MiddleName != nil {
		u.MiddleName = &FieldUpdate{Value: c.MiddleName}
	}
	if c.LastName != nil {
		u.LastName = &FieldUpdate{Value: c.LastName}
	}
	if c.DisplayPicture != nil {
		u.DisplayPicture = &FieldUpdate{Value: c.DisplayPicture}
	}
	return u
}

// Store serializes updates per public key; different keys proceed in
// parallel.
type Store struct {
	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	mu     sync.Mutex
	prof   *models.UserProfile
	loaded bool
}

// NewStore returns an empty profile store backed by the opened database.
func NewStore() *Store {
	return &Store{entries: map[string]*entry{}}
}

func (s *Store) entry(pubkey string) *entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[pubkey]
	if !ok {
		e = &entry{}
		s.entries[pubkey] = e
	}
	return e
}

func (e *entry) loadLocked(pubkey string) error {
	if e.loaded {
		return nil
	}
	raw, err := store.GetProfile(pubkey)
	if err == store.ErrNotFound {
		e.loaded = true
		return nil
	}
	if err != nil {
		return err
	}
	var p models.UserProfile
	if err := json.Unmarshal(raw, &p); err != nil {
		return err
	}
	e.prof = &p
	e.loaded = true
	return nil
}

// Apply validates and applies an owner-signed update. The profile is
// created lazily on first write. record is persisted to the owner's
// audit thread in the same batch as the profile itself. Returns the
// stored profile (address still ciphertext) and the audit log sequence
// number.
func (s *Store) Apply(pubkey string, upd Update, ts time.Time, record []byte) (*models.UserProfile, uint64, error) {
	if err := validate(upd); err != nil {
		return nil, 0, err
	}

	e := s.entry(pubkey)
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.loadLocked(pubkey); err != nil {
		return nil, 0, err
	}

	next := models.NewUserProfile(pubkey)
	if e.prof != nil {
		if !ts.After(e.prof.UpdatedAt) {
			return nil, 0, protocol.Errf(protocol.KindStaleMutation,
				"timestamp %s is not newer than profile state at %s",
				ts.Format(time.RFC3339), e.prof.UpdatedAt.Format(time.RFC3339))
		}
		c := *e.prof
		next = &c
	}

	applyField(&next.FirstName, upd.FirstName)
	applyField(&next.MiddleName, upd.MiddleName)
	applyField(&next.LastName, upd.LastName)
	applyField(&next.DisplayPicture, upd.DisplayPicture)
	if upd.Address != nil {
		// Visibility is pinned private no matter what was requested, and
		// the stored value is ciphertext.
		next.Address.Visibility = models.VisibilityPrivate
		if upd.Address.Value != nil {
			if security.Enabled() {
				ct, err := security.Encrypt([]byte(*upd.Address.Value))
				if err != nil {
					return nil, 0, err
				}
				next.Address.Value = ct
			} else {
				next.Address.Value = []byte(*upd.Address.Value)
			}
		}
	}
	next.UpdatedAt = ts

	data, err := json.Marshal(next)
	if err != nil {
		return nil, 0, err
	}
	seq, err := store.ApplyProfileUpdate(pubkey, data, record)
	if err != nil {
		return nil, 0, err
	}
	e.prof = next
	logger.Info("profile_updated", "pubkey", pubkey, "seq", seq)
	out := *next
	return &out, seq, nil
}

func applyField(f *models.ProfileField, upd *FieldUpdate) {
	if upd == nil {
		return
	}
	if upd.Value != nil {
		f.Value = upd.Value
	}
	if upd.Visibility != nil {
		f.Visibility = *upd.Visibility
	}
	if f.Visibility == "" {
		f.Visibility = models.VisibilityPrivate
	}
}

func validate(upd Update) *protocol.Error {
	for _, nf := range []struct {
		name string
		f    *FieldUpdate
	}{
		{"first_name", upd.FirstName},
		{"middle_name", upd.MiddleName},
		{"last_name", upd.LastName},
	} {
		if nf.f == nil {
			continue
		}
		if err := validateVisibility(nf.name, nf.f); err != nil {
			return err
		}
		if nf.f.Value == nil {
			continue
		}
		v := *nf.f.Value
		if utf8.RuneCountInString(v) > maxNameLen {
			return protocol.FieldErr(protocol.KindInvalidField, nf.name, "too long (max 50 characters)")
		}
		for _, r := range v {
			if !unicode.IsLetter(r) && r != ' ' && r != '-' && r != '\'' {
				return protocol.FieldErr(protocol.KindInvalidField, nf.name, "invalid character "+string(r))
			}
		}
	}
	if upd.DisplayPicture != nil {
		if err := validateVisibility("display_picture", upd.DisplayPicture); err != nil {
			return err
		}
		if upd.DisplayPicture.Value != nil {
			u, err := url.Parse(*upd.DisplayPicture.Value)
			if err != nil || u.Scheme == "" || u.Host == "" {
				return protocol.FieldErr(protocol.KindInvalidField, "display_picture", "not a well-formed URL")
			}
		}
	}
	if upd.Address != nil && upd.Address.Value != nil {
		if utf8.RuneCountInString(*upd.Address.Value) > maxAddressLen {
			return protocol.FieldErr(protocol.KindInvalidField, "address", "too long (max 200 characters)")
		}
	}
	return nil
}

func validateVisibility(name string, f *FieldUpdate) *protocol.Error {
	if f.Visibility != nil && !f.Visibility.Valid() {
		return protocol.FieldErr(protocol.KindInvalidField, name, "visibility must be public or private")
	}
	return nil
}
