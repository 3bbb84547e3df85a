package commit

import (
	"errors"
	"sort"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrAlreadyPending   = errors.New("commit: already pending")
	ErrAlreadyCompleted = errors.New("commit: already completed")
	ErrCommitNotFound   = errors.New("commit: commit not found")
	ErrTooManyCommits   = errors.New("commit: too many outstanding commits")
	ErrZeroHash         = errors.New("commit: zero hash")
)

// Commit is one hiding commitment recorded ahead of its reveal.
type Commit struct {
	Hash      common.Hash
	Timestamp int64
	Completed bool
}

// Store is the per-wallet ledger of commitments. It is not safe for
// concurrent use; the owning wallet serialises access.
type Store struct {
	entries    map[common.Hash]*Commit
	maxEntries int
}

// NewStore creates an empty store. maxEntries bounds the number of retained
// commitments; zero disables the bound.
func NewStore(maxEntries int) *Store {
	return &Store{
		entries:    make(map[common.Hash]*Commit),
		maxEntries: maxEntries,
	}
}

// Restore rebuilds a store from persisted commitments.
func Restore(maxEntries int, commits []Commit) *Store {
	s := NewStore(maxEntries)
	for _, c := range commits {
		entry := c
		s.entries[c.Hash] = &entry
	}
	return s
}

// Commit records hash at now. Expired entries older than cutoff are
// garbage-collected first when the store is at capacity.
func (s *Store) Commit(hash common.Hash, now, cutoff int64) error {
	if hash == (common.Hash{}) {
		return ErrZeroHash
	}
	if existing, ok := s.entries[hash]; ok {
		if existing.Completed {
			return ErrAlreadyCompleted
		}
		return ErrAlreadyPending
	}
	if s.maxEntries > 0 && len(s.entries) >= s.maxEntries {
		s.Prune(cutoff)
		if len(s.entries) >= s.maxEntries {
			return ErrTooManyCommits
		}
	}
	s.entries[hash] = &Commit{Hash: hash, Timestamp: now}
	return nil
}

// Complete transitions hash from pending to completed. It succeeds at most
// once per hash.
func (s *Store) Complete(hash common.Hash) error {
	entry, ok := s.entries[hash]
	if !ok {
		return ErrCommitNotFound
	}
	if entry.Completed {
		return ErrAlreadyCompleted
	}
	entry.Completed = true
	return nil
}

// Get returns a copy of the commitment stored under hash.
func (s *Store) Get(hash common.Hash) (Commit, bool) {
	entry, ok := s.entries[hash]
	if !ok {
		return Commit{}, false
	}
	return *entry, true
}

// InvalidatePending drops every commitment that has not been revealed yet and
// returns how many were dropped.
func (s *Store) InvalidatePending() int {
	dropped := 0
	for hash, entry := range s.entries {
		if !entry.Completed {
			delete(s.entries, hash)
			dropped++
		}
	}
	return dropped
}

// Prune removes entries recorded before cutoff.
func (s *Store) Prune(cutoff int64) int {
	removed := 0
	for hash, entry := range s.entries {
		if entry.Timestamp < cutoff {
			delete(s.entries, hash)
			removed++
		}
	}
	return removed
}

// All returns every commitment ordered by timestamp, then hash.
func (s *Store) All() []Commit {
	out := make([]Commit, 0, len(s.entries))
	for _, entry := range s.entries {
		out = append(out, *entry)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp != out[j].Timestamp {
			return out[i].Timestamp < out[j].Timestamp
		}
		return out[i].Hash.Cmp(out[j].Hash) < 0
	})
	return out
}

// Len is the number of retained commitments.
func (s *Store) Len() int { return len(s.entries) }

// Pending counts commitments awaiting reveal.
func (s *Store) Pending() int {
	n := 0
	for _, entry := range s.entries {
		if !entry.Completed {
			n++
		}
	}
	return n
}

// Clone returns an independent copy.
func (s *Store) Clone() *Store {
	if s == nil {
		return nil
	}
	clone := NewStore(s.maxEntries)
	for hash, entry := range s.entries {
		c := *entry
		clone.entries[hash] = &c
	}
	return clone
}
