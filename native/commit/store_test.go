package commit

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestStoreCommitCompleteLifecycle(t *testing.T) {
	s := NewStore(0)
	h := common.Hash{0x01}

	if err := s.Commit(h, 100, 0); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := s.Commit(h, 101, 0); !errors.Is(err, ErrAlreadyPending) {
		t.Fatalf("expected ErrAlreadyPending, got %v", err)
	}
	if err := s.Complete(h); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if err := s.Complete(h); !errors.Is(err, ErrAlreadyCompleted) {
		t.Fatalf("expected ErrAlreadyCompleted, got %v", err)
	}
	if err := s.Commit(h, 102, 0); !errors.Is(err, ErrAlreadyCompleted) {
		t.Fatalf("recommitting a completed hash must fail, got %v", err)
	}
	if err := s.Complete(common.Hash{0x02}); !errors.Is(err, ErrCommitNotFound) {
		t.Fatalf("expected ErrCommitNotFound, got %v", err)
	}
	if err := s.Commit(common.Hash{}, 100, 0); !errors.Is(err, ErrZeroHash) {
		t.Fatalf("expected ErrZeroHash, got %v", err)
	}
}

func TestStoreInvalidatePendingKeepsCompleted(t *testing.T) {
	s := NewStore(0)
	done := common.Hash{0x0a}
	pending := common.Hash{0x0b}
	_ = s.Commit(done, 1, 0)
	_ = s.Commit(pending, 2, 0)
	_ = s.Complete(done)

	if n := s.InvalidatePending(); n != 1 {
		t.Fatalf("expected 1 invalidated commit, got %d", n)
	}
	if _, ok := s.Get(pending); ok {
		t.Fatalf("pending commit survived invalidation")
	}
	if c, ok := s.Get(done); !ok || !c.Completed {
		t.Fatalf("completed commit should be retained")
	}
}

func TestStoreCapacityPrunesExpired(t *testing.T) {
	s := NewStore(2)
	_ = s.Commit(common.Hash{0x01}, 10, 0)
	_ = s.Commit(common.Hash{0x02}, 50, 0)

	if err := s.Commit(common.Hash{0x03}, 60, 5); !errors.Is(err, ErrTooManyCommits) {
		t.Fatalf("expected ErrTooManyCommits, got %v", err)
	}
	if err := s.Commit(common.Hash{0x03}, 60, 20); err != nil {
		t.Fatalf("commit after pruning: %v", err)
	}
	if s.Len() != 2 {
		t.Fatalf("unexpected store size %d", s.Len())
	}
	all := s.All()
	if all[0].Hash != (common.Hash{0x02}) || all[1].Hash != (common.Hash{0x03}) {
		t.Fatalf("unexpected ordering: %+v", all)
	}
}

func TestStoreCloneIsIndependent(t *testing.T) {
	s := NewStore(0)
	h := common.Hash{0x07}
	_ = s.Commit(h, 1, 0)
	clone := s.Clone()
	_ = clone.Complete(h)
	if c, _ := s.Get(h); c.Completed {
		t.Fatalf("completing the clone leaked into the original")
	}
	if s.Pending() != 1 || clone.Pending() != 0 {
		t.Fatalf("unexpected pending counts %d/%d", s.Pending(), clone.Pending())
	}
	restored := Restore(0, clone.All())
	if c, ok := restored.Get(h); !ok || !c.Completed {
		t.Fatalf("restore lost commit state")
	}
}
