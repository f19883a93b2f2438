package xrpl

import (
	"encoding/json"
	"strings"

	"github.com/goldstake/stakebridge/internal/types/numbers"
	"github.com/goldstake/stakebridge/pkg/ledger"
	"github.com/pkg/errors"
)

type RPCRequest struct {
	Method string        `json:"method"`
	Params []interface{} `json:"params"`
}

type RPCResponse struct {
	Result json.RawMessage `json:"result"`
}

// resultStatus is embedded in every rippled result object.
type resultStatus struct {
	Status       string `json:"status"`
	Error        string `json:"error,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

type RPCError struct {
	Code    string
	Message string
}

func (e *RPCError) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return e.Code + ": " + e.Message
}

func IsRPCError(err error, code string) bool {
	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		return rpcErr.Code == code
	}
	return false
}

// IssuedAmount is a non-XRP amount. XRP amounts arrive as bare strings and are ignored.
type IssuedAmount struct {
	Currency string `json:"currency"`
	Issuer   string `json:"issuer"`
	Value    string `json:"value"`
}

type TransactionJson struct {
	TransactionType    string          `json:"TransactionType"`
	Account            string          `json:"Account"`
	Destination        string          `json:"Destination,omitempty"`
	Amount             json.RawMessage `json:"Amount,omitempty"`
	DeliverMax         json.RawMessage `json:"DeliverMax,omitempty"`
	LastLedgerSequence uint32          `json:"LastLedgerSequence,omitempty"`
	Date               int64           `json:"date,omitempty"`
	Hash               string          `json:"hash,omitempty"`
}

type TransactionMeta struct {
	TransactionResult string          `json:"TransactionResult"`
	DeliveredAmount   json.RawMessage `json:"delivered_amount,omitempty"`
}

// TransactionEnvelope covers both the API v1 ("tx"/"transaction") and v2 ("tx_json") shapes.
type TransactionEnvelope struct {
	Tx          *TransactionJson `json:"tx,omitempty"`
	Transaction *TransactionJson `json:"transaction,omitempty"`
	TxJson      *TransactionJson `json:"tx_json,omitempty"`
	Meta        *TransactionMeta `json:"meta,omitempty"`
	Hash        string           `json:"hash,omitempty"`
	Validated   bool             `json:"validated"`
}

func (e *TransactionEnvelope) body() *TransactionJson {
	switch {
	case e.TxJson != nil:
		return e.TxJson
	case e.Tx != nil:
		return e.Tx
	default:
		return e.Transaction
	}
}

// ToPayment converts a validated payment envelope. It returns nil for anything that is not an
// issued-currency payment.
func (e *TransactionEnvelope) ToPayment() (*ledger.Payment, error) {
	tx := e.body()
	if tx == nil || tx.TransactionType != ledger.TransactionType_Payment {
		return nil, nil
	}

	hash := e.Hash
	if hash == "" {
		hash = tx.Hash
	}

	raw := tx.DeliverMax
	result := ""
	if e.Meta != nil {
		result = e.Meta.TransactionResult
		if len(e.Meta.DeliveredAmount) > 0 {
			raw = e.Meta.DeliveredAmount
		}
	}
	if len(raw) == 0 {
		raw = tx.Amount
	}
	if len(raw) == 0 || strings.HasPrefix(strings.TrimSpace(string(raw)), `"`) {
		return nil, nil
	}

	var amount IssuedAmount
	if err := json.Unmarshal(raw, &amount); err != nil {
		return nil, errors.Wrapf(err, "failed to decode amount of %s", hash)
	}
	value, err := numbers.ParseAmount(amount.Value)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse amount of %s", hash)
	}

	return &ledger.Payment{
		Hash:            hash,
		TransactionType: tx.TransactionType,
		Account:         tx.Account,
		Destination:     tx.Destination,
		Currency:        DecodeCurrency(amount.Currency),
		Issuer:          amount.Issuer,
		Amount:          value,
		Date:            RippleTimeToTime(tx.Date),
		Validated:       e.Validated,
		Result:          result,
	}, nil
}

type AccountLine struct {
	Account  string `json:"account"`
	Currency string `json:"currency"`
	Balance  string `json:"balance"`
	Limit    string `json:"limit"`
}

type AccountLinesResult struct {
	resultStatus
	Account string          `json:"account"`
	Lines   []AccountLine   `json:"lines"`
	Marker  json.RawMessage `json:"marker,omitempty"`
}

type AccountTxResult struct {
	resultStatus
	Account      string                 `json:"account"`
	Transactions []*TransactionEnvelope `json:"transactions"`
	Marker       json.RawMessage        `json:"marker,omitempty"`
}

type LedgerCurrentResult struct {
	resultStatus
	LedgerCurrentIndex uint32 `json:"ledger_current_index"`
}

type LedgerResult struct {
	resultStatus
	LedgerIndex uint32 `json:"ledger_index"`
	Validated   bool   `json:"validated"`
}

type SubmitResult struct {
	resultStatus
	EngineResult        string           `json:"engine_result"`
	EngineResultMessage string           `json:"engine_result_message"`
	TxJson              *TransactionJson `json:"tx_json"`
	Accepted            bool             `json:"accepted"`
}

type TxResult struct {
	resultStatus
	TransactionEnvelope
	LedgerIndex uint32 `json:"ledger_index"`
}

// StreamMessage is a message received on a websocket subscription.
type StreamMessage struct {
	Type   string `json:"type"`
	Id     *int   `json:"id,omitempty"`
	Status string `json:"status,omitempty"`
	Error  string `json:"error,omitempty"`
	TransactionEnvelope
	EngineResult string `json:"engine_result,omitempty"`
}
