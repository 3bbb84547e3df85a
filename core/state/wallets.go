package state

import (
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"otpwallet/native/commit"
	"otpwallet/native/otp"
	"otpwallet/native/spending"
	"otpwallet/native/tokens"
	"otpwallet/native/wallet"
)

var (
	walletPrefix   = []byte("wallet/")
	walletIndexKey = []byte("wallet/index")
)

func walletKey(addr common.Address) []byte {
	buf := make([]byte, len(walletPrefix)+common.AddressLength)
	copy(buf, walletPrefix)
	copy(buf[len(walletPrefix):], addr[:])
	return buf
}

type coreRecord struct {
	Root          common.Hash
	Height        uint8
	Interval      uint64
	EffectiveTime uint64
	Duration      uint64
	SlotSize      uint32
}

type spendingRecord struct {
	SpentAmount          *big.Int
	LastSpendingInterval uint64
	Limit                *big.Int
	HighestSpendingLimit *big.Int
	PendingLimit         *big.Int
	LimitEffectiveTime   uint64
	SpendingInterval     uint64
}

type tokenRecord struct {
	Type     uint8
	Contract common.Address
	TokenID  *big.Int
}

type commitRecord struct {
	Hash      common.Hash
	Timestamp uint64
	Completed bool
}

type signatureRecord struct {
	Hash     common.Hash
	Sig      []byte
	ExpireAt uint64
}

type walletRecord struct {
	Address           common.Address
	Active            coreRecord
	Standby           coreRecord
	Nonce             uint64
	Spending          spendingRecord
	RecoveryAddress   common.Address
	ForwardAddress    common.Address
	Tokens            []tokenRecord
	Commits           []commitRecord
	Backlinks         []common.Address
	Signatures        []signatureRecord
	LastOperationTime uint64
	InvalidAttempts   uint32
	Disabled          bool
	CreatedAt         uint64
	UsedSlot          uint64 `rlp:"optional"`
	UsedInSlot        uint32 `rlp:"optional"`
}

func toUnsigned(v int64) uint64 {
	if v < 0 {
		return 0
	}
	return uint64(v)
}

func toSigned(v uint64) int64 {
	if v > 1<<63-1 {
		return 1<<63 - 1
	}
	return int64(v)
}

func fromBig(v *big.Int) (uint256.Int, error) {
	var out uint256.Int
	if v == nil {
		return out, nil
	}
	if v.Sign() < 0 || out.SetFromBig(v) {
		return out, fmt.Errorf("state: amount out of range: %s", v)
	}
	return out, nil
}

func newCoreRecord(c otp.Core) coreRecord {
	return coreRecord{
		Root:          c.Root,
		Height:        c.Height,
		Interval:      toUnsigned(c.Interval),
		EffectiveTime: toUnsigned(c.EffectiveTime),
		Duration:      toUnsigned(c.Duration),
		SlotSize:      c.SlotSize,
	}
}

func (r coreRecord) core() otp.Core {
	return otp.Core{
		Root:          r.Root,
		Height:        r.Height,
		Interval:      toSigned(r.Interval),
		EffectiveTime: toSigned(r.EffectiveTime),
		Duration:      toSigned(r.Duration),
		SlotSize:      r.SlotSize,
	}
}

func sortedSignatures(sigs map[common.Hash]wallet.Signature) []wallet.Signature {
	out := make([]wallet.Signature, 0, len(sigs))
	for _, sig := range sigs {
		out = append(out, sig)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Hash.Cmp(out[j].Hash) < 0 })
	return out
}

func newWalletRecord(w *wallet.Wallet) walletRecord {
	rec := walletRecord{
		Address: w.Address,
		Active:  newCoreRecord(w.Active),
		Standby: newCoreRecord(w.Standby),
		Nonce:   w.Nonce,
		Spending: spendingRecord{
			SpentAmount:          w.Spending.SpentAmount.ToBig(),
			LastSpendingInterval: w.Spending.LastSpendingInterval,
			Limit:                w.Spending.Limit.ToBig(),
			HighestSpendingLimit: w.Spending.HighestSpendingLimit.ToBig(),
			PendingLimit:         w.Spending.PendingLimit.ToBig(),
			LimitEffectiveTime:   toUnsigned(w.Spending.LimitEffectiveTime),
			SpendingInterval:     w.Spending.SpendingInterval,
		},
		RecoveryAddress:   w.RecoveryAddress,
		ForwardAddress:    w.ForwardAddress,
		Backlinks:         append([]common.Address{}, w.Backlinks...),
		LastOperationTime: toUnsigned(w.LastOperationTime),
		InvalidAttempts:   w.InvalidAttempts,
		Disabled:          w.Disabled,
		CreatedAt:         toUnsigned(w.CreatedAt),
		UsedSlot:          w.OTPUsage.Slot,
		UsedInSlot:        w.OTPUsage.Used,
	}
	if w.Tokens != nil {
		for _, key := range w.Tokens.List() {
			rec.Tokens = append(rec.Tokens, tokenRecord{Type: uint8(key.Type), Contract: key.Contract, TokenID: key.TokenID.ToBig()})
		}
	}
	if w.Commits != nil {
		for _, c := range w.Commits.All() {
			rec.Commits = append(rec.Commits, commitRecord{Hash: c.Hash, Timestamp: toUnsigned(c.Timestamp), Completed: c.Completed})
		}
	}
	for _, sig := range sortedSignatures(w.Signatures) {
		rec.Signatures = append(rec.Signatures, signatureRecord{Hash: sig.Hash, Sig: sig.Sig, ExpireAt: toUnsigned(sig.ExpireAt)})
	}
	return rec
}

func (r walletRecord) wallet() (*wallet.Wallet, error) {
	w := &wallet.Wallet{
		Address:           r.Address,
		Active:            r.Active.core(),
		Standby:           r.Standby.core(),
		Nonce:             r.Nonce,
		RecoveryAddress:   r.RecoveryAddress,
		ForwardAddress:    r.ForwardAddress,
		Backlinks:         append([]common.Address(nil), r.Backlinks...),
		Signatures:        make(map[common.Hash]wallet.Signature, len(r.Signatures)),
		LastOperationTime: toSigned(r.LastOperationTime),
		InvalidAttempts:   r.InvalidAttempts,
		Disabled:          r.Disabled,
		CreatedAt:         toSigned(r.CreatedAt),
		OTPUsage:          otp.Usage{Slot: r.UsedSlot, Used: r.UsedInSlot},
	}
	var err error
	sp := spending.State{
		LastSpendingInterval: r.Spending.LastSpendingInterval,
		LimitEffectiveTime:   toSigned(r.Spending.LimitEffectiveTime),
		SpendingInterval:     r.Spending.SpendingInterval,
	}
	if sp.SpentAmount, err = fromBig(r.Spending.SpentAmount); err != nil {
		return nil, err
	}
	if sp.Limit, err = fromBig(r.Spending.Limit); err != nil {
		return nil, err
	}
	if sp.HighestSpendingLimit, err = fromBig(r.Spending.HighestSpendingLimit); err != nil {
		return nil, err
	}
	if sp.PendingLimit, err = fromBig(r.Spending.PendingLimit); err != nil {
		return nil, err
	}
	w.Spending = sp

	keys := make([]tokens.Key, 0, len(r.Tokens))
	for _, t := range r.Tokens {
		id, err := fromBig(t.TokenID)
		if err != nil {
			return nil, err
		}
		keys = append(keys, tokens.NewKey(tokens.Type(t.Type), t.Contract, &id))
	}
	w.Tokens = tokens.NewRegistry(0)
	if err := w.Tokens.Override(keys); err != nil {
		return nil, err
	}

	commits := make([]commit.Commit, 0, len(r.Commits))
	for _, c := range r.Commits {
		commits = append(commits, commit.Commit{Hash: c.Hash, Timestamp: toSigned(c.Timestamp), Completed: c.Completed})
	}
	w.Commits = commit.Restore(0, commits)

	for _, s := range r.Signatures {
		w.Signatures[s.Hash] = wallet.Signature{Hash: s.Hash, Sig: append([]byte(nil), s.Sig...), ExpireAt: toSigned(s.ExpireAt)}
	}
	return w, nil
}

// WalletStore persists wallets through a Manager.
type WalletStore struct {
	manager *Manager
}

// NewWalletStore wraps manager.
func NewWalletStore(manager *Manager) *WalletStore {
	return &WalletStore{manager: manager}
}

// PutWallet writes w and records it in the wallet index.
func (s *WalletStore) PutWallet(w *wallet.Wallet) error {
	if w == nil {
		return fmt.Errorf("state: nil wallet")
	}
	if err := s.manager.KVPut(walletKey(w.Address), newWalletRecord(w)); err != nil {
		return err
	}
	return s.manager.KVAppend(walletIndexKey, w.Address.Bytes())
}

// GetWallet loads one wallet. The boolean reports whether it exists.
func (s *WalletStore) GetWallet(addr common.Address) (*wallet.Wallet, bool, error) {
	var rec walletRecord
	ok, err := s.manager.KVGet(walletKey(addr), &rec)
	if err != nil || !ok {
		return nil, false, err
	}
	w, err := rec.wallet()
	if err != nil {
		return nil, false, fmt.Errorf("state: decode wallet %s: %w", addr.Hex(), err)
	}
	return w, true, nil
}

// LoadWallets returns every indexed wallet.
func (s *WalletStore) LoadWallets() ([]*wallet.Wallet, error) {
	var index [][]byte
	if err := s.manager.KVGetList(walletIndexKey, &index); err != nil {
		return nil, err
	}
	out := make([]*wallet.Wallet, 0, len(index))
	for _, raw := range index {
		w, ok, err := s.GetWallet(common.BytesToAddress(raw))
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, w)
		}
	}
	return out, nil
}
