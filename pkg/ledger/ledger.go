package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

const (
	TransactionType_Payment = "Payment"
	ResultSuccess           = "tesSUCCESS"
)

// Payment is a validated payment observed on the ledger, with its currency already decoded.
type Payment struct {
	Hash            string
	TransactionType string
	Account         string
	Destination     string
	Currency        string
	Issuer          string
	Amount          decimal.Decimal
	Date            time.Time
	Validated       bool
	Result          string
}

type TransferRequest struct {
	Sender       string
	SenderSecret string
	Destination  string
	Currency     string
	Issuer       string
	Amount       decimal.Decimal
}

// TransferResult is the finalized outcome of a submitted transfer.
type TransferResult struct {
	Success     bool
	Hash        string
	FailureCode string
}

type HistoryPage struct {
	Payments []*Payment
	// Scanned counts every transaction on the page, including the ones dropped from Payments.
	Scanned int
	// Oldest is the close time of the oldest transaction on the page, zero when the page is empty.
	Oldest time.Time
	// Cursor is nil once history is exhausted.
	Cursor interface{}
}

type PaymentHandler func(ctx context.Context, payment *Payment) error

// Client is the narrow view of the ledger every settlement component depends on.
type Client interface {
	// Listen streams validated payments to the given addresses until ctx is done, reconnecting as needed.
	// onReconnect runs after every re-established subscription.
	Listen(ctx context.Context, addresses []string, handler PaymentHandler, onReconnect func()) error
	SubmitTransfer(ctx context.Context, req *TransferRequest) (*TransferResult, error)
	HasTrustLine(ctx context.Context, account string, currency string, issuer string) (bool, error)
	FetchHistory(ctx context.Context, address string, cursor interface{}, limit int) (*HistoryPage, error)
	Close() error
}

// IsSuccess reports whether a payment carries the ledger's success result code.
func (p *Payment) IsSuccess() bool {
	return p.Result == "" || p.Result == ResultSuccess
}
