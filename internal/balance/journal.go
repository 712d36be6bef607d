package balance

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"twap-core/internal/order"
)

// EntryKind is the type of a ledger movement.
type EntryKind string

const (
	EntryMint     EntryKind = "MINT"
	EntryTransfer EntryKind = "TRANSFER"
	EntryApprove  EntryKind = "APPROVE"
)

// Entry is one applied ledger movement. For EntryApprove, From is the owner, To the
// spender and Amount the new allowance.
type Entry struct {
	Seq    uint64
	Kind   EntryKind
	Asset  order.Asset
	From   common.Address
	To     common.Address
	Amount uint256.Int
	At     int64
}

// Journal receives every applied entry, in Seq order.
type Journal interface {
	Append(e Entry)
}

// Syncer is implemented by journals that buffer entries before storing them.
type Syncer interface {
	Sync(ctx context.Context) error
}
