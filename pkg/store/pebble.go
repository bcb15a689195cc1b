// Package store persists thread logs, group metadata and user profiles
// in a single Pebble database. Thread logs are append-only with a
// per-thread monotonic sequence number; a state mutation and its log
// record commit in one synced batch, so neither exists without the other.
package store

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/cockroachdb/pebble"

	"esmpd/pkg/logger"
)

var db *pebble.DB

// ErrNotFound is returned for missing group metadata, profiles or
// sequence lookups on unknown threads.
var ErrNotFound = errors.New("store: not found")

// Per-thread sequence state. Appends to the same thread serialize here;
// unrelated threads proceed in parallel.
var threadMu sync.Mutex
var threadSeqs = map[string]*threadSeq{}

type threadSeq struct {
	mu     sync.Mutex
	last   uint64
	loaded bool
}

// Open opens (or creates) the Pebble database at path and keeps a global
// handle for the package.
func Open(path string) error {
	var err error
	logger.Info("opening_pebble_db", "path", path)
	db, err = pebble.Open(path, &pebble.Options{})
	if err != nil {
		logger.Error("pebble_open_failed", "path", path, "error", err)
		return err
	}
	return nil
}

// Close closes the opened database if present.
func Close() error {
	if db == nil {
		return nil
	}
	if err := db.Close(); err != nil {
		return err
	}
	db = nil
	threadMu.Lock()
	threadSeqs = map[string]*threadSeq{}
	threadMu.Unlock()
	logger.Info("pebble_closed")
	return nil
}

// Ready reports whether the store is opened.
func Ready() bool { return db != nil }

// GroupThread returns the thread key for a group thread.
func GroupThread(groupID string) string { return "group:" + groupID }

// DirectThread returns the thread key for a direct thread: the sorted
// participant addresses joined with '|'.
func DirectThread(participants []string) string {
	p := append([]string(nil), participants...)
	sort.Strings(p)
	return "dm:" + strings.Join(p, "|")
}

// ProfileThread returns the audit thread key for profile updates of one
// public key.
func ProfileThread(pubkey string) string { return "user:" + pubkey }

func msgKey(threadKey string, seq uint64) []byte {
	return []byte(fmt.Sprintf("thread:%s:msg:%020d", threadKey, seq))
}

func seqKey(threadKey string) []byte {
	return []byte("thread:" + threadKey + ":seq")
}

func groupMetaKey(groupID string) []byte { return []byte("groupmeta:" + groupID) }
func profileKey(pubkey string) []byte    { return []byte("profile:" + pubkey) }

func seqState(threadKey string) *threadSeq {
	threadMu.Lock()
	defer threadMu.Unlock()
	st, ok := threadSeqs[threadKey]
	if !ok {
		st = &threadSeq{}
		threadSeqs[threadKey] = st
	}
	return st
}

// loadLocked reads the persisted sequence counter; st.mu must be held.
func (st *threadSeq) loadLocked(threadKey string) error {
	if st.loaded {
		return nil
	}
	v, closer, err := db.Get(seqKey(threadKey))
	if err == nil {
		n, perr := strconv.ParseUint(string(v), 10, 64)
		closer.Close()
		if perr != nil {
			return fmt.Errorf("corrupt sequence counter for %s: %w", threadKey, perr)
		}
		st.last = n
	} else if err != pebble.ErrNotFound {
		return err
	}
	st.loaded = true
	return nil
}

// appendBatch allocates the next sequence number for threadKey, writes
// the message record plus the counter plus any extra keys in one synced
// batch, and returns the sequence number.
func appendBatch(threadKey string, data []byte, extra map[string][]byte) (uint64, error) {
	if db == nil {
		return 0, errors.New("pebble not opened; call store.Open first")
	}
	st := seqState(threadKey)
	st.mu.Lock()
	defer st.mu.Unlock()
	if err := st.loadLocked(threadKey); err != nil {
		return 0, err
	}
	seq := st.last + 1

	b := db.NewBatch()
	defer b.Close()
	if err := b.Set(msgKey(threadKey, seq), data, nil); err != nil {
		return 0, err
	}
	if err := b.Set(seqKey(threadKey), []byte(strconv.FormatUint(seq, 10)), nil); err != nil {
		return 0, err
	}
	for k, v := range extra {
		if err := b.Set([]byte(k), v, nil); err != nil {
			return 0, err
		}
	}
	if err := b.Commit(pebble.Sync); err != nil {
		logger.Error("append_failed", "thread", threadKey, "seq", seq, "error", err)
		return 0, err
	}
	st.last = seq
	return seq, nil
}

// AppendMessage appends an accepted envelope to a thread log.
func AppendMessage(threadKey string, data []byte) (uint64, error) {
	return appendBatch(threadKey, data, nil)
}

// ApplyGroupTransition writes the updated group metadata and appends the
// system envelope to the group's thread log as one atomic unit.
func ApplyGroupTransition(groupID string, meta []byte, msg []byte) (uint64, error) {
	extra := map[string][]byte{string(groupMetaKey(groupID)): meta}
	seq, err := appendBatch(GroupThread(groupID), msg, extra)
	if err != nil {
		return 0, err
	}
	logger.Info("group_transition_applied", "group", groupID, "seq", seq)
	return seq, nil
}

// ApplyProfileUpdate writes the updated profile and appends the
// profile_updated record to the owner's audit thread as one atomic unit.
func ApplyProfileUpdate(pubkey string, profile []byte, msg []byte) (uint64, error) {
	extra := map[string][]byte{string(profileKey(pubkey)): profile}
	seq, err := appendBatch(ProfileThread(pubkey), msg, extra)
	if err != nil {
		return 0, err
	}
	logger.Info("profile_update_applied", "pubkey", pubkey, "seq", seq)
	return seq, nil
}

func get(key []byte) ([]byte, error) {
	if db == nil {
		return nil, errors.New("pebble not opened; call store.Open first")
	}
	v, closer, err := db.Get(key)
	if err == pebble.ErrNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	out := append([]byte(nil), v...)
	closer.Close()
	return out, nil
}

// GetGroupMeta returns the stored metadata record for a group.
func GetGroupMeta(groupID string) ([]byte, error) { return get(groupMetaKey(groupID)) }

// GetProfile returns the stored profile record for a public key.
func GetProfile(pubkey string) ([]byte, error) { return get(profileKey(pubkey)) }

// LastSeq returns the current sequence number of a thread, 0 when the
// thread has no messages.
func LastSeq(threadKey string) (uint64, error) {
	st := seqState(threadKey)
	st.mu.Lock()
	defer st.mu.Unlock()
	if err := st.loadLocked(threadKey); err != nil {
		return 0, err
	}
	return st.last, nil
}

// ReadMessages returns the log records of a thread with sequence numbers
// in [from, to], in order. A zero `to` means "through the end".
func ReadMessages(threadKey string, from, to uint64) ([][]byte, error) {
	if db == nil {
		return nil, errors.New("pebble not opened; call store.Open first")
	}
	if from == 0 {
		from = 1
	}
	lower := msgKey(threadKey, from)
	var upper []byte
	if to == 0 {
		upper = upperBound([]byte("thread:" + threadKey + ":msg:"))
	} else {
		upper = msgKey(threadKey, to+1)
	}
	iter, err := db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out [][]byte
	for iter.First(); iter.Valid(); iter.Next() {
		out = append(out, append([]byte(nil), iter.Value()...))
	}
	return out, iter.Error()
}

// ListMessages returns up to limit most recent records of a thread, in
// order. limit <= 0 returns everything.
func ListMessages(threadKey string, limit int) ([][]byte, error) {
	msgs, err := ReadMessages(threadKey, 0, 0)
	if err != nil {
		return nil, err
	}
	if limit > 0 && limit < len(msgs) {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs, nil
}

// ListGroups returns every group id with stored metadata.
func ListGroups() ([]string, error) {
	if db == nil {
		return nil, errors.New("pebble not opened; call store.Open first")
	}
	prefix := []byte("groupmeta:")
	iter, err := db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: upperBound(prefix)})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []string
	for iter.First(); iter.Valid(); iter.Next() {
		out = append(out, strings.TrimPrefix(string(iter.Key()), "groupmeta:"))
	}
	return out, iter.Error()
}

// upperBound returns the smallest key greater than every key with the
// given prefix.
func upperBound(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}
