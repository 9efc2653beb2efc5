// Package account stores credit balances and the usage ledger that debits
// them.
package account

import "time"

type Account struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Credits   int64     `json:"credits"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// UsageRecord is one debit. Reason is unique per account, so replaying a
// charge for the same reason is a no-op.
type UsageRecord struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	Credits   int64     `json:"credits"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}
