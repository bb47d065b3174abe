package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

type InvoiceStatus string

const (
	InvoiceDraft     InvoiceStatus = "draft"
	InvoiceFinalized InvoiceStatus = "finalized"
	InvoiceSent      InvoiceStatus = "sent"
	InvoicePaid      InvoiceStatus = "paid"
	InvoiceOverdue   InvoiceStatus = "overdue"
	InvoiceCancelled InvoiceStatus = "cancelled"
	InvoiceVoid      InvoiceStatus = "void"
	InvoiceRefunded  InvoiceStatus = "refunded"
)

// postFinalisationTransitions enumerates the only statuses a finalized
// invoice may move to.
var postFinalisationTransitions = map[InvoiceStatus]bool{
	InvoicePaid:      true,
	InvoiceCancelled: true,
	InvoiceVoid:      true,
	InvoiceRefunded:  true,
}

// CanTransition reports whether moving from the current status to next is
// allowed once an invoice has been finalized. Pre-finalisation transitions
// (draft -> finalized) are not governed by this table.
func (s InvoiceStatus) CanTransition(next InvoiceStatus) bool {
	if s != InvoiceFinalized && s != InvoiceSent && s != InvoiceOverdue {
		return true
	}
	return postFinalisationTransitions[next]
}

// Invoice is inserted draft, transitions to finalized (freezing every
// financial field and the period), then moves only through terminal
// statuses. Unique among non-cancelled rows on (OrganisationID, Month, Year).
type Invoice struct {
	ID            string
	OrganisationID string
	InvoiceNumber string
	Status        InvoiceStatus
	Subtotal      decimal.Decimal
	Tax           decimal.Decimal
	Discount      decimal.Decimal
	Total         decimal.Decimal
	Currency      string
	Month         int
	Year          int
	DueDate       time.Time
	IssuedAt      *time.Time
	PaidAt        *time.Time
	PDFURL        string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// LineItemKind distinguishes priced usage lines from the synthetic
// minimum-charge adjustment line.
type LineItemKind string

const (
	LineItemUsage           LineItemKind = "usage"
	LineItemMinimumAdjust   LineItemKind = "minimum_adjustment"
)

// InvoiceLineItem is immutable after its parent invoice finalizes. Quantity
// and UnitPrice are preserved in their original (pre-conversion) currency
// when a cross-currency conversion occurred; OriginalCurrency/OriginalTotal
// carry that provenance.
type InvoiceLineItem struct {
	ID                string
	InvoiceID         string
	LineNumber        int
	Kind              LineItemKind
	Description       string
	MetricName        string
	Unit              string
	Quantity          decimal.Decimal
	UnitPrice         decimal.Decimal
	Total             decimal.Decimal
	OriginalCurrency  string
	OriginalTotal     decimal.Decimal
}

type InvoiceRepository interface {
	// InsertDraft persists an invoice and its line items, plus an audit log
	// row, in one transaction. On a (OrganisationID, Month, Year) conflict
	// among non-cancelled rows it returns the existing invoice's ID with
	// ErrAlreadyExists so the caller can resolve it via the idempotency registry.
	InsertDraft(ctx context.Context, inv *Invoice, lines []*InvoiceLineItem, auditActor string) error
	Get(ctx context.Context, id string) (*Invoice, []*InvoiceLineItem, error)
	GetByPeriod(ctx context.Context, organisationID string, month, year int) (*Invoice, error)
	// Finalize locks financial fields and the period via the transition
	// guard, moving status from draft to finalized.
	Finalize(ctx context.Context, id string) error
	// TransitionStatus validates the move with InvoiceStatus.CanTransition
	// before writing.
	TransitionStatus(ctx context.Context, id string, next InvoiceStatus) error
	List(ctx context.Context, organisationID string, limit, offset int) ([]*Invoice, error)
	ListDueForReminder(ctx context.Context, asOf time.Time) ([]*Invoice, error)
	// SetPDFURL records where the rendered PDF landed in the object store
	// (the PDF side-effect, scheduled after finalisation). Not a financial
	// field, so it may be set after finalisation without violating the
	// immutability invariant.
	SetPDFURL(ctx context.Context, id string, url string) error
}
