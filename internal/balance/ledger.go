// Package balance is the token ledger: per-asset balances, allowances toward the
// escrow account and all-or-nothing transfers.
package balance

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog/log"

	"twap-core/internal/order"
)

var ErrOverflow = errors.New("balance overflow")

// Compile-time check that Ledger implements order.Ledger.
var _ order.Ledger = (*Ledger)(nil)

type holdings map[common.Address]*uint256.Int

// Ledger holds balances for every asset and account. The zero asset is native coin.
type Ledger struct {
	mu         sync.RWMutex
	escrow     common.Address
	balances   map[order.Asset]holdings
	allowances map[order.Asset]holdings // owner -> allowance granted to escrow
	journal    Journal
	seq        uint64
	now        func() int64
}

// NewLedger creates an empty ledger whose escrow account is escrow. journal may be nil.
func NewLedger(escrow common.Address, journal Journal) *Ledger {
	return &Ledger{
		escrow:     escrow,
		balances:   make(map[order.Asset]holdings),
		allowances: make(map[order.Asset]holdings),
		journal:    journal,
		now:        func() int64 { return time.Now().Unix() },
	}
}

func (l *Ledger) Escrow() common.Address { return l.escrow }

// Sync blocks until every entry applied so far is stored by the journal.
func (l *Ledger) Sync(ctx context.Context) error {
	s, ok := l.journal.(Syncer)
	if !ok {
		return nil
	}
	if err := s.Sync(ctx); err != nil {
		return fmt.Errorf("sync ledger journal: %w", err)
	}
	return nil
}

// BalanceOf returns a copy of the account's balance.
func (l *Ledger) BalanceOf(_ context.Context, asset order.Asset, account common.Address) (*uint256.Int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.get(l.balances, asset, account).Clone(), nil
}

// Allowance returns what owner has approved escrow to pull.
func (l *Ledger) Allowance(_ context.Context, asset order.Asset, owner common.Address) *uint256.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.get(l.allowances, asset, owner).Clone()
}

// Holdings returns every non-zero balance of account, keyed by asset.
func (l *Ledger) Holdings(account common.Address) map[order.Asset]*uint256.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[order.Asset]*uint256.Int)
	for asset, h := range l.balances {
		if v, ok := h[account]; ok && !v.IsZero() {
			out[asset] = v.Clone()
		}
	}
	return out
}

// Assets lists every asset the ledger has seen, sorted by address.
func (l *Ledger) Assets() []order.Asset {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]order.Asset, 0, len(l.balances))
	for a := range l.balances {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Address().Cmp(out[j].Address()) < 0
	})
	return out
}

// Mint credits new units to an account (test-token faucet).
func (l *Ledger) Mint(_ context.Context, asset order.Asset, to common.Address, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return fmt.Errorf("%w: mint amount must be positive", order.ErrInvalidParameters)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.credit(asset, to, amount); err != nil {
		return err
	}
	l.appendEntry(EntryMint, asset, common.Address{}, to, amount)
	return nil
}

// Approve sets the allowance owner grants escrow for asset.
func (l *Ledger) Approve(_ context.Context, asset order.Asset, owner common.Address, amount *uint256.Int) error {
	if asset.IsNative() {
		return fmt.Errorf("%w: native asset needs no approval", order.ErrInvalidParameters)
	}
	if amount == nil {
		amount = new(uint256.Int)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.holdingsFor(l.allowances, asset)[owner] = amount.Clone()
	l.appendEntry(EntryApprove, asset, owner, l.escrow, amount)
	return nil
}

// Transfer moves amount between two accounts.
func (l *Ledger) Transfer(_ context.Context, asset order.Asset, from, to common.Address, amount *uint256.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.move(asset, from, to, amount)
}

// TransferIn pulls amount into escrow, spending allowance for non-native assets.
func (l *Ledger) TransferIn(_ context.Context, asset order.Asset, from common.Address, amount *uint256.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !asset.IsNative() {
		allowance := l.get(l.allowances, asset, from)
		if allowance.Lt(amount) {
			return fmt.Errorf("%w: %s approved %s, need %s",
				order.ErrInsufficientApproval, from.Hex(), allowance.Dec(), amount.Dec())
		}
		if err := l.move(asset, from, l.escrow, amount); err != nil {
			return err
		}
		var left uint256.Int
		left.Sub(allowance, amount)
		l.holdingsFor(l.allowances, asset)[from] = &left
		l.appendEntry(EntryApprove, asset, from, l.escrow, &left)
		return nil
	}
	return l.move(asset, from, l.escrow, amount)
}

// TransferOut pays amount from escrow.
func (l *Ledger) TransferOut(_ context.Context, asset order.Asset, to common.Address, amount *uint256.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.move(asset, l.escrow, to, amount)
}

// Replay applies journaled entries without journaling them again. Used at startup.
func (l *Ledger) Replay(entries []Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i := range entries {
		e := &entries[i]
		var err error
		switch e.Kind {
		case EntryMint:
			err = l.credit(e.Asset, e.To, &e.Amount)
		case EntryTransfer:
			err = l.debitCredit(e.Asset, e.From, e.To, &e.Amount)
		case EntryApprove:
			l.holdingsFor(l.allowances, e.Asset)[e.From] = e.Amount.Clone()
		default:
			err = fmt.Errorf("unknown entry kind %q", e.Kind)
		}
		if err != nil {
			return fmt.Errorf("replay entry %d: %w", e.Seq, err)
		}
		if e.Seq > l.seq {
			l.seq = e.Seq
		}
	}
	log.Info().Int("entries", len(entries)).Uint64("seq", l.seq).Msg("ledger replayed")
	return nil
}

func (l *Ledger) move(asset order.Asset, from, to common.Address, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return nil
	}
	if err := l.debitCredit(asset, from, to, amount); err != nil {
		return err
	}
	l.appendEntry(EntryTransfer, asset, from, to, amount)
	return nil
}

// debitCredit checks both legs before touching either, so a failure moves nothing.
func (l *Ledger) debitCredit(asset order.Asset, from, to common.Address, amount *uint256.Int) error {
	fromBal := l.get(l.balances, asset, from)
	if fromBal.Lt(amount) {
		return fmt.Errorf("%w: %s holds %s of %s, need %s",
			order.ErrInsufficientBalance, from.Hex(), fromBal.Dec(), asset, amount.Dec())
	}
	if from == to {
		return nil
	}
	var toBal uint256.Int
	if _, overflow := toBal.AddOverflow(l.get(l.balances, asset, to), amount); overflow {
		return ErrOverflow
	}
	var left uint256.Int
	left.Sub(fromBal, amount)

	h := l.holdingsFor(l.balances, asset)
	h[from] = &left
	h[to] = &toBal
	return nil
}

func (l *Ledger) credit(asset order.Asset, to common.Address, amount *uint256.Int) error {
	var next uint256.Int
	if _, overflow := next.AddOverflow(l.get(l.balances, asset, to), amount); overflow {
		return ErrOverflow
	}
	l.holdingsFor(l.balances, asset)[to] = &next
	return nil
}

func (l *Ledger) get(m map[order.Asset]holdings, asset order.Asset, account common.Address) *uint256.Int {
	if h, ok := m[asset]; ok {
		if v, ok := h[account]; ok {
			return v
		}
	}
	return new(uint256.Int)
}

func (l *Ledger) holdingsFor(m map[order.Asset]holdings, asset order.Asset) holdings {
	h, ok := m[asset]
	if !ok {
		h = make(holdings)
		m[asset] = h
	}
	return h
}

func (l *Ledger) appendEntry(kind EntryKind, asset order.Asset, from, to common.Address, amount *uint256.Int) {
	l.seq++
	if l.journal == nil {
		return
	}
	e := Entry{Seq: l.seq, Kind: kind, Asset: asset, From: from, To: to, At: l.now()}
	e.Amount.Set(amount)
	l.journal.Append(e)
}
