// Package groups holds the per-group membership and metadata state
// machine. System messages are the only way group state changes; each
// accepted transition updates the metadata record and appends the
// envelope to the group's thread log in one atomic unit, so the metadata
// is always reconstructible by replaying the log.
package groups

import (
	"encoding/json"
	"sync"
	"time"

	"esmpd/pkg/logger"
	"esmpd/pkg/models"
	"esmpd/pkg/protocol"
	"esmpd/pkg/store"
)

// Store serializes transitions per group id. Unrelated groups are
// processed fully in parallel; there is no cross-group lock.
type Store struct {
	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	mu     sync.Mutex
	meta   *models.GroupMetadata // nil when the group does not exist
	loaded bool
}

// NewStore returns an empty group store backed by the opened database.
func NewStore() *Store {
	return &Store{entries: map[string]*entry{}}
}

func (s *Store) entry(groupID string) *entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[groupID]
	if !ok {
		e = &entry{}
		s.entries[groupID] = e
	}
	return e
}

// loadLocked populates e.meta from storage; e.mu must be held.
func (e *entry) loadLocked(groupID string) error {
	if e.loaded {
		return nil
	}
	raw, err := store.GetGroupMeta(groupID)
	if err == store.ErrNotFound {
		e.loaded = true
		return nil
	}
	if err != nil {
		return err
	}
	var m models.GroupMetadata
	if err := json.Unmarshal(raw, &m); err != nil {
		return err
	}
	e.meta = &m
	e.loaded = true
	return nil
}

// Get returns a copy of the group's metadata, or store.ErrNotFound.
func (s *Store) Get(groupID string) (*models.GroupMetadata, error) {
	e := s.entry(groupID)
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.loadLocked(groupID); err != nil {
		return nil, err
	}
	if e.meta == nil {
		return nil, store.ErrNotFound
	}
	return e.meta.Clone(), nil
}

// Apply runs one validated system envelope through the state machine and,
// on acceptance, commits the metadata mutation together with the log
// append. raw is the wire form persisted as the audit record. Returns the
// log sequence number of the transition.
func (s *Store) Apply(env *models.Envelope, raw []byte) (uint64, error) {
	ts, err := env.Time()
	if err != nil {
		return 0, protocol.FieldErr(protocol.KindSchemaViolation, "timestamp", "must be an RFC3339 instant")
	}
	t, isCreate, perr := transitionFor(env)
	if perr != nil {
		return 0, perr
	}

	e := s.entry(env.GroupID)
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.loadLocked(env.GroupID); err != nil {
		return 0, err
	}

	var next *models.GroupMetadata
	if isCreate {
		if e.meta != nil {
			return 0, protocol.Errf(protocol.KindDuplicateGroup, "group %s already exists", env.GroupID)
		}
		next = newGroup(env, ts)
	} else {
		if e.meta == nil {
			return 0, protocol.Errf(protocol.KindUnknownGroup, "group %s does not exist", env.GroupID)
		}
		if !ts.After(e.meta.UpdatedAt) {
			return 0, protocol.Errf(protocol.KindStaleMutation,
				"timestamp %s is not newer than group state at %s", env.Timestamp, e.meta.UpdatedAt.Format(time.RFC3339))
		}
		next = e.meta.Clone()
		if perr := t.apply(next); perr != nil {
			return 0, perr
		}
		next.UpdatedAt = ts
	}

	metaJSON, err := json.Marshal(next)
	if err != nil {
		return 0, err
	}
	seq, err := store.ApplyGroupTransition(env.GroupID, metaJSON, raw)
	if err != nil {
		return 0, err
	}
	e.meta = next
	logger.Info("group_state_applied", "group", env.GroupID, "subtype", env.Subtype, "actor", env.Actor, "seq", seq)
	return seq, nil
}

// Replay rebuilds a group's metadata from its thread log alone, applying
// every system envelope in order. The result must match the stored
// record; the consistency sweep depends on that.
func (s *Store) Replay(groupID string) (*models.GroupMetadata, error) {
	msgs, err := store.ReadMessages(store.GroupThread(groupID), 0, 0)
	if err != nil {
		return nil, err
	}
	var meta *models.GroupMetadata
	for _, raw := range msgs {
		var env models.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			return nil, err
		}
		if !env.IsSystem() {
			continue
		}
		ts, err := env.Time()
		if err != nil {
			return nil, err
		}
		if env.Subtype == models.SubGroupCreated {
			meta = newGroup(&env, ts)
			continue
		}
		if meta == nil {
			return nil, protocol.Errf(protocol.KindUnknownGroup, "log for %s does not start with group_created", groupID)
		}
		t, _, perr := transitionFor(&env)
		if perr != nil {
			return nil, perr
		}
		if perr := t.apply(meta); perr != nil {
			return nil, perr
		}
		meta.UpdatedAt = ts
	}
	if meta == nil {
		return nil, store.ErrNotFound
	}
	return meta, nil
}

func newGroup(env *models.Envelope, ts time.Time) *models.GroupMetadata {
	return &models.GroupMetadata{
		GroupID:   env.GroupID,
		GroupName: env.NewName, // optional seed name on creation
		Admins:    []string{env.Actor},
		Members:   []string{env.Actor},
		CreatedAt: ts,
		UpdatedAt: ts,
	}
}
