package ledger

import (
	"context"

	"github.com/shopspring/decimal"
)

// TransferResult is the confirmation of a single funds transfer.
type TransferResult struct {
	TxRef string
}

// Gateway moves value between accounts on the external ledger. The
// gateway does not guarantee idempotency; callers must not issue the
// same logical transfer twice.
type Gateway interface {
	Transfer(ctx context.Context, from, to string, amount decimal.Decimal) (TransferResult, error)
}
