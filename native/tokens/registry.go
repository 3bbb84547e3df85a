package tokens

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Type identifies the token standard of a tracked asset.
type Type uint8

const (
	ERC20 Type = iota
	ERC721
	ERC1155
	NONE
)

func (t Type) String() string {
	switch t {
	case ERC20:
		return "ERC20"
	case ERC721:
		return "ERC721"
	case ERC1155:
		return "ERC1155"
	case NONE:
		return "NONE"
	default:
		return fmt.Sprintf("Type(%d)", uint8(t))
	}
}

// Valid reports whether t names a trackable standard.
func (t Type) Valid() bool {
	return t <= ERC1155
}

// ParseType resolves a standard by name, accepting the bare number too.
func ParseType(name string) (Type, error) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "ERC20", "0":
		return ERC20, nil
	case "ERC721", "1":
		return ERC721, nil
	case "ERC1155", "2":
		return ERC1155, nil
	case "NONE", "3":
		return NONE, nil
	}
	return NONE, fmt.Errorf("%w: %q", ErrInvalidType, name)
}

var (
	ErrInvalidType  = errors.New("tokens: invalid token type")
	ErrZeroContract = errors.New("tokens: contract address required")
	ErrNotTracked   = errors.New("tokens: token not tracked")
)

// Key identifies one tracked asset. Fungible tokens always carry a zero id.
type Key struct {
	Type     Type
	Contract common.Address
	TokenID  uint256.Int
}

// NewKey builds a normalised key.
func NewKey(t Type, contract common.Address, id *uint256.Int) Key {
	k := Key{Type: t, Contract: contract}
	if id != nil && t != ERC20 {
		k.TokenID.Set(id)
	}
	return k
}

// Normalize clears the id of fungible keys.
func (k Key) Normalize() Key {
	if k.Type == ERC20 {
		k.TokenID.Clear()
	}
	return k
}

// Validate checks the key can be tracked.
func (k Key) Validate() error {
	if !k.Type.Valid() {
		return fmt.Errorf("%w: %s", ErrInvalidType, k.Type)
	}
	if k.Contract == (common.Address{}) {
		return ErrZeroContract
	}
	return nil
}

func (k Key) String() string {
	if k.Type == ERC20 {
		return fmt.Sprintf("%s:%s", k.Type, k.Contract.Hex())
	}
	return fmt.Sprintf("%s:%s:%s", k.Type, k.Contract.Hex(), k.TokenID.Dec())
}

func less(a, b Key) bool {
	if a.Type != b.Type {
		return a.Type < b.Type
	}
	if c := bytes.Compare(a.Contract[:], b.Contract[:]); c != 0 {
		return c < 0
	}
	return a.TokenID.Lt(&b.TokenID)
}

// Registry is the set of assets a wallet sweeps on recovery. The zero value
// is not usable; use NewRegistry.
type Registry struct {
	keys       map[Key]struct{}
	maxTracked int
}

// NewRegistry creates a registry whose automatic tracking stops at
// maxTracked entries. Zero disables the cap.
func NewRegistry(maxTracked int) *Registry {
	return &Registry{keys: make(map[Key]struct{}), maxTracked: maxTracked}
}

// Track adds key. Explicit tracking is not subject to the cap.
func (r *Registry) Track(key Key) error {
	key = key.Normalize()
	if err := key.Validate(); err != nil {
		return err
	}
	r.keys[key] = struct{}{}
	return nil
}

// Untrack removes key.
func (r *Registry) Untrack(key Key) error {
	key = key.Normalize()
	if _, ok := r.keys[key]; !ok {
		return ErrNotTracked
	}
	delete(r.keys, key)
	return nil
}

// Override replaces the tracked set with keys.
func (r *Registry) Override(keys []Key) error {
	next := make(map[Key]struct{}, len(keys))
	for _, key := range keys {
		key = key.Normalize()
		if err := key.Validate(); err != nil {
			return err
		}
		next[key] = struct{}{}
	}
	r.keys = next
	return nil
}

// AutoTrack adds key on behalf of an inbound transfer. It reports whether the
// key is tracked afterwards and never fails: invalid keys and a full registry
// are skipped.
func (r *Registry) AutoTrack(key Key) bool {
	key = key.Normalize()
	if _, ok := r.keys[key]; ok {
		return true
	}
	if key.Validate() != nil {
		return false
	}
	if r.maxTracked > 0 && len(r.keys) >= r.maxTracked {
		return false
	}
	r.keys[key] = struct{}{}
	return true
}

// Contains reports whether key is tracked.
func (r *Registry) Contains(key Key) bool {
	_, ok := r.keys[key.Normalize()]
	return ok
}

// List returns the tracked keys in a stable order.
func (r *Registry) List() []Key {
	out := make([]Key, 0, len(r.keys))
	for key := range r.keys {
		out = append(out, key)
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out
}

func (r *Registry) Len() int { return len(r.keys) }

// MaxTracked is the automatic tracking cap.
func (r *Registry) MaxTracked() int { return r.maxTracked }

// Clone returns an independent copy.
func (r *Registry) Clone() *Registry {
	if r == nil {
		return nil
	}
	clone := NewRegistry(r.maxTracked)
	for key := range r.keys {
		clone.keys[key] = struct{}{}
	}
	return clone
}
