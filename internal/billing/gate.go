package billing

import (
	"context"
	"fmt"
	"log/slog"

	"kbingest/internal/errkind"
)

// BalanceService reads and debits account credit balances.
type BalanceService interface {
	GetBalance(ctx context.Context, ownerID string) (int64, error)
	Charge(ctx context.Context, ownerID string, credits int64, reason string) error
}

// Quote is the priced estimate for embedding one item's text.
type Quote struct {
	Model         string  `json:"model"`
	TokenCount    int     `json:"token_count"`
	EmbeddingCost float64 `json:"embedding_cost"`
	CreditCost    int64   `json:"credit_cost"`
}

// Gate decides whether an item may be embedded and records what it cost.
type Gate struct {
	estimator Estimator
	pricing   Pricing
	balances  BalanceService
	model     string
	audit     *AuditLogger
}

func NewGate(estimator Estimator, pricing Pricing, balances BalanceService, model string, audit *AuditLogger) (*Gate, error) {
	if err := pricing.Validate(); err != nil {
		return nil, err
	}
	return &Gate{
		estimator: estimator,
		pricing:   pricing,
		balances:  balances,
		model:     model,
		audit:     audit,
	}, nil
}

// Quote prices text with the gate's embedding model.
func (g *Gate) Quote(text string) Quote {
	tokens := g.estimator.EstimateTokens(text)
	cost := g.pricing.EmbeddingCost(tokens, g.model)
	return Quote{
		Model:         g.model,
		TokenCount:    tokens,
		EmbeddingCost: cost,
		CreditCost:    g.pricing.DollarsToCredits(cost),
	}
}

// CheckCredits reports whether ownerID can afford credits. Any failure to
// read the balance denies the request.
func (g *Gate) CheckCredits(ctx context.Context, ownerID string, credits int64) bool {
	balance, err := g.balances.GetBalance(ctx, ownerID)
	if err != nil {
		slog.ErrorContext(ctx, "balance lookup failed, denying", "owner_id", ownerID, "error", err)
		return false
	}
	return balance >= credits
}

// Authorize quotes text and checks the owner's balance against it. It
// returns errkind.ErrInsufficientCredits when the owner cannot pay.
func (g *Gate) Authorize(ctx context.Context, ownerID, itemID, text string) (Quote, error) {
	q := g.Quote(text)
	allowed := g.CheckCredits(ctx, ownerID, q.CreditCost)
	g.audit.Log(AuditEntry{
		Event:   AuditQuote,
		OwnerID: ownerID,
		ItemID:  itemID,
		Quote:   q,
		Allowed: allowed,
	})
	if !allowed {
		return q, fmt.Errorf("item %s needs %d credits: %w", itemID, q.CreditCost, errkind.ErrInsufficientCredits)
	}
	return q, nil
}

// RecordUsage debits the quoted credits.
func (g *Gate) RecordUsage(ctx context.Context, ownerID, itemID string, q Quote) error {
	if q.CreditCost <= 0 {
		return nil
	}
	if err := g.balances.Charge(ctx, ownerID, q.CreditCost, "embedding:"+itemID); err != nil {
		return errkind.Transient("record usage", err)
	}
	g.audit.Log(AuditEntry{
		Event:   AuditCharge,
		OwnerID: ownerID,
		ItemID:  itemID,
		Quote:   q,
		Allowed: true,
	})
	return nil
}
