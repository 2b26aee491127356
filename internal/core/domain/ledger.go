package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EntryDirection is the side of a double-entry posting.
type EntryDirection string

const (
	DirectionDebit  EntryDirection = "DEBIT"
	DirectionCredit EntryDirection = "CREDIT"
)

// ReferenceType ties a ledger group back to the business event that
// produced it.
type ReferenceType string

const (
	ReferenceOrder  ReferenceType = "ORDER"
	ReferencePayout ReferenceType = "PAYOUT"
	ReferenceRefund ReferenceType = "REFUND"
)

// Well-known ledger accounts. Seller payables are per-seller, see
// SellerPayableAccount.
const (
	AccountPlatformCash      = "platform_cash"
	AccountCommissionRevenue = "commission_revenue"
	AccountRefundLiability   = "refund_liability"
)

// SellerPayableAccount returns the per-seller payable account name.
func SellerPayableAccount(sellerID uuid.UUID) string {
	return "seller_payable:" + sellerID.String()
}

// LedgerEntry is one immutable debit or credit line. Entries are
// append-only: corrections are new offsetting entries, never updates.
type LedgerEntry struct {
	ID            uuid.UUID      `json:"id"`
	GroupID       uuid.UUID      `json:"group_id"`
	Account       string         `json:"account"`
	Direction     EntryDirection `json:"direction"`
	Amount        int64          `json:"amount"`
	Currency      string         `json:"currency"`
	ReferenceType ReferenceType  `json:"reference_type"`
	ReferenceID   uuid.UUID      `json:"reference_id"`
	CreatedAt     time.Time      `json:"created_at"`
}

// UnbalancedGroupError reports a ledger group whose debits and credits
// do not cancel out for some currency.
type UnbalancedGroupError struct {
	GroupID  uuid.UUID
	Currency string
	Debits   int64
	Credits  int64
}

func (e *UnbalancedGroupError) Error() string {
	return fmt.Sprintf("unbalanced ledger group %s: currency=%s debits=%d credits=%d",
		e.GroupID, e.Currency, e.Debits, e.Credits)
}

// ValidateGroup checks the double-entry invariant for one group before
// posting: every entry shares groupID, amounts are positive, and per
// currency sum(debits) == sum(credits).
func ValidateGroup(groupID uuid.UUID, entries []LedgerEntry) error {
	if len(entries) == 0 {
		return fmt.Errorf("ledger group %s has no entries", groupID)
	}
	debits := map[string]int64{}
	credits := map[string]int64{}
	for _, e := range entries {
		if e.GroupID != groupID {
			return fmt.Errorf("entry %s does not belong to group %s", e.ID, groupID)
		}
		if e.Amount <= 0 {
			return fmt.Errorf("entry %s has non-positive amount %d", e.ID, e.Amount)
		}
		switch e.Direction {
		case DirectionDebit:
			debits[e.Currency] += e.Amount
		case DirectionCredit:
			credits[e.Currency] += e.Amount
		default:
			return fmt.Errorf("entry %s has unknown direction %q", e.ID, e.Direction)
		}
	}
	for currency, d := range debits {
		if c := credits[currency]; c != d {
			return &UnbalancedGroupError{GroupID: groupID, Currency: currency, Debits: d, Credits: c}
		}
	}
	for currency, c := range credits {
		if _, ok := debits[currency]; !ok {
			return &UnbalancedGroupError{GroupID: groupID, Currency: currency, Debits: 0, Credits: c}
		}
	}
	return nil
}

// Deterministic group IDs let a crash-retried caller re-post the same
// business event and hit the idempotent no-op path instead of creating
// a second group.
var ledgerGroupNamespace = uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")

// OrderPaidGroupID derives the ledger group id for an order's payment
// posting. Stable across retries for one order.
func OrderPaidGroupID(orderID uuid.UUID) uuid.UUID {
	return uuid.NewSHA1(ledgerGroupNamespace, []byte("order-paid:"+orderID.String()))
}

// PayoutGroupID derives the ledger group id for a payout posting.
func PayoutGroupID(payoutID uuid.UUID) uuid.UUID {
	return uuid.NewSHA1(ledgerGroupNamespace, []byte("payout:"+payoutID.String()))
}

// RefundGroupID derives the ledger group id for a refund posting.
func RefundGroupID(refundID uuid.UUID) uuid.UUID {
	return uuid.NewSHA1(ledgerGroupNamespace, []byte("refund:"+refundID.String()))
}
