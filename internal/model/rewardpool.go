package model

import "github.com/shopspring/decimal"

// RewardPool is the shared balance that per-execution bonuses and
// periodic distributions are paid from. The balance never goes
// negative; every debit corresponds to a confirmed external transfer.
type RewardPool struct {
	Balance    decimal.Decimal
	BaseReward decimal.Decimal
}
