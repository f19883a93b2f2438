package ledgertest

import (
	"context"
	"fmt"
	"sync"

	"github.com/goldstake/stakebridge/pkg/ledger"
)

type trustLineKey struct {
	account  string
	currency string
	issuer   string
}

// FakeClient is an in-memory ledger.Client used by tests.
type FakeClient struct {
	mu sync.Mutex

	TrustLines map[trustLineKey]bool
	History    map[string][]*ledger.Payment
	Transfers  []*ledger.TransferRequest

	// TransferFunc overrides the default successful transfer.
	TransferFunc func(req *ledger.TransferRequest) (*ledger.TransferResult, error)

	Live []*ledger.Payment

	// FetchCalls counts FetchHistory calls per address.
	FetchCalls map[string]int

	transferCount int
}

func NewFakeClient() *FakeClient {
	return &FakeClient{
		TrustLines: make(map[trustLineKey]bool),
		History:    make(map[string][]*ledger.Payment),
		FetchCalls: make(map[string]int),
	}
}

func (f *FakeClient) AddTrustLine(account string, currency string, issuer string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.TrustLines[trustLineKey{account, currency, issuer}] = true
}

// AddHistory appends transactions for address, newest first. Entries whose TransactionType is not
// Payment occupy a slot in history but, like on the real client, never reach HistoryPage.Payments.
func (f *FakeClient) AddHistory(address string, payments ...*ledger.Payment) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.History[address] = append(f.History[address], payments...)
}

func (f *FakeClient) Listen(ctx context.Context, addresses []string, handler ledger.PaymentHandler, onReconnect func()) error {
	f.mu.Lock()
	live := append([]*ledger.Payment{}, f.Live...)
	f.mu.Unlock()

	for _, p := range live {
		_ = handler(ctx, p)
	}
	<-ctx.Done()
	return nil
}

func (f *FakeClient) SubmitTransfer(ctx context.Context, req *ledger.TransferRequest) (*ledger.TransferResult, error) {
	f.mu.Lock()
	f.Transfers = append(f.Transfers, req)
	f.transferCount++
	count := f.transferCount
	fn := f.TransferFunc
	f.mu.Unlock()

	if fn != nil {
		return fn(req)
	}
	return &ledger.TransferResult{
		Success: true,
		Hash:    fmt.Sprintf("OUT%061d", count),
	}, nil
}

func (f *FakeClient) HasTrustLine(ctx context.Context, account string, currency string, issuer string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.TrustLines[trustLineKey{account, currency, issuer}], nil
}

func (f *FakeClient) FetchHistory(ctx context.Context, address string, cursor interface{}, limit int) (*ledger.HistoryPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.FetchCalls[address]++

	start := 0
	if cursor != nil {
		start = cursor.(int)
	}
	all := f.History[address]
	if start >= len(all) {
		return &ledger.HistoryPage{}, nil
	}
	end := start + limit
	if end > len(all) {
		end = len(all)
	}
	page := &ledger.HistoryPage{Scanned: end - start}
	for _, p := range all[start:end] {
		if page.Oldest.IsZero() || p.Date.Before(page.Oldest) {
			page.Oldest = p.Date
		}
		if p.TransactionType == ledger.TransactionType_Payment {
			page.Payments = append(page.Payments, p)
		}
	}
	if end < len(all) {
		page.Cursor = end
	}
	return page, nil
}

func (f *FakeClient) Close() error {
	return nil
}

func (f *FakeClient) TransferCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Transfers)
}
