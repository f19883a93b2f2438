package xrpl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goldstake/stakebridge/internal/config"
	"github.com/goldstake/stakebridge/internal/types/numbers"
	"github.com/goldstake/stakebridge/pkg/ledger"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	RPCMethod_AccountLines  = "account_lines"
	RPCMethod_AccountTx     = "account_tx"
	RPCMethod_LedgerCurrent = "ledger_current"
	RPCMethod_Ledger        = "ledger"
	RPCMethod_Submit        = "submit"
	RPCMethod_Tx            = "tx"
)

const (
	FailureCode_Expired         = "tx_expired"
	FailureCode_FinalityTimeout = "finality_timeout"

	// lastLedgerOffset bounds how many ledgers a submitted transfer may wait to be included.
	lastLedgerOffset = 20
)

type XrplClientConfig struct {
	RpcUrl          string
	WsUrl           string
	RequestTimeout  time.Duration
	FinalityTimeout time.Duration
	PollInterval    time.Duration
}

func ConvertGlobalConfigToXrplConfig(cfg *config.LedgerConfig) *XrplClientConfig {
	return &XrplClientConfig{
		RpcUrl:          cfg.RpcUrl,
		WsUrl:           cfg.WsUrl,
		RequestTimeout:  cfg.RequestTimeout,
		FinalityTimeout: cfg.FinalityTimeout,
		PollInterval:    time.Second,
	}
}

type Client struct {
	Logger       *zap.Logger
	httpClient   *http.Client
	clientConfig *XrplClientConfig
	backoffs     []time.Duration
}

func NewClient(cfg *XrplClientConfig, l *zap.Logger) *Client {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if cfg.FinalityTimeout <= 0 {
		cfg.FinalityTimeout = 30 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}

	l.Sugar().Infow("Creating new XRPL client",
		zap.String("rpcUrl", cfg.RpcUrl),
		zap.String("wsUrl", cfg.WsUrl),
	)

	backoffs := make([]time.Duration, 0)
	for _, b := range []int{1, 3, 5, 10, 20, 30, 60} {
		backoffs = append(backoffs, time.Second*time.Duration(b))
	}

	return &Client{
		httpClient:   &http.Client{Timeout: cfg.RequestTimeout},
		Logger:       l,
		clientConfig: cfg,
		backoffs:     backoffs,
	}
}

func (c *Client) SetHttpClient(client *http.Client) {
	c.httpClient = client
}

func (c *Client) SetBackoffs(backoffs []time.Duration) {
	c.backoffs = backoffs
}

func (c *Client) call(ctx context.Context, rpcRequest *RPCRequest, destination interface{}) error {
	requestBody, err := json.Marshal(rpcRequest)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, c.clientConfig.RequestTimeout)
	defer cancel()

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.clientConfig.RpcUrl, bytes.NewReader(requestBody))
	if err != nil {
		return errors.Wrap(err, "failed to make request")
	}
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Accept", "application/json")

	response, err := c.httpClient.Do(request)
	if err != nil {
		return errors.Wrap(err, "request failed")
	}
	defer response.Body.Close()

	responseBody, err := io.ReadAll(response.Body)
	if err != nil {
		return errors.Wrap(err, "failed to read body")
	}
	if response.StatusCode != http.StatusOK {
		return fmt.Errorf("received http error code %+v", response.StatusCode)
	}

	rpcResponse := &RPCResponse{}
	if err := json.Unmarshal(responseBody, rpcResponse); err != nil {
		return errors.Wrap(err, "failed to unmarshal response")
	}

	status := &resultStatus{}
	if err := json.Unmarshal(rpcResponse.Result, status); err != nil {
		return errors.Wrap(err, "failed to unmarshal result status")
	}
	if status.Status == "error" || status.Error != "" {
		return &RPCError{Code: status.Error, Message: status.ErrorMessage}
	}

	if err := json.Unmarshal(rpcResponse.Result, destination); err != nil {
		return errors.Wrapf(err, "failed to unmarshal %s result", rpcRequest.Method)
	}
	return nil
}

// Call retries transport failures with backoff. It must only be used for reads: a retried submit
// could put the same payment on the ledger twice.
func (c *Client) Call(ctx context.Context, rpcRequest *RPCRequest, destination interface{}) error {
	var lastErr error
	for i, backoff := range c.backoffs {
		err := c.call(ctx, rpcRequest, destination)
		if err == nil {
			if i > 0 {
				c.Logger.Sugar().Infow("Successfully called after backoff",
					zap.Duration("backoff", backoff),
					zap.String("method", rpcRequest.Method),
				)
			}
			return nil
		}
		var rpcErr *RPCError
		if errors.As(err, &rpcErr) {
			return err
		}
		lastErr = err
		c.Logger.Sugar().Errorw("Failed to call",
			zap.Error(err),
			zap.Duration("backoff", backoff),
			zap.String("method", rpcRequest.Method),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	c.Logger.Sugar().Errorw("Exceeded retries for Call", zap.String("method", rpcRequest.Method))
	return errors.Wrap(lastErr, "exceeded retries for call")
}

func (c *Client) HasTrustLine(ctx context.Context, account string, currency string, issuer string) (bool, error) {
	var marker json.RawMessage
	for {
		params := map[string]interface{}{
			"account":      account,
			"peer":         issuer,
			"ledger_index": "validated",
		}
		if len(marker) > 0 {
			params["marker"] = marker
		}

		result := &AccountLinesResult{}
		err := c.Call(ctx, &RPCRequest{Method: RPCMethod_AccountLines, Params: []interface{}{params}}, result)
		if err != nil {
			if IsRPCError(err, "actNotFound") {
				return false, nil
			}
			return false, errors.Wrapf(err, "failed to fetch trust lines for %s", account)
		}

		for _, line := range result.Lines {
			if line.Account == issuer && DecodeCurrency(line.Currency) == currency {
				return true, nil
			}
		}
		if len(result.Marker) == 0 || string(result.Marker) == "null" {
			return false, nil
		}
		marker = result.Marker
	}
}

// FetchHistory returns one page of an account's validated payments, newest first.
func (c *Client) FetchHistory(ctx context.Context, address string, cursor interface{}, limit int) (*ledger.HistoryPage, error) {
	params := map[string]interface{}{
		"account":          address,
		"ledger_index_min": -1,
		"ledger_index_max": -1,
		"binary":           false,
		"forward":          false,
		"limit":            limit,
	}
	if cursor != nil {
		params["marker"] = cursor
	}

	result := &AccountTxResult{}
	if err := c.Call(ctx, &RPCRequest{Method: RPCMethod_AccountTx, Params: []interface{}{params}}, result); err != nil {
		return nil, errors.Wrapf(err, "failed to fetch history for %s", address)
	}

	page := &ledger.HistoryPage{
		Payments: make([]*ledger.Payment, 0, len(result.Transactions)),
		Scanned:  len(result.Transactions),
	}
	for _, envelope := range result.Transactions {
		if tx := envelope.body(); tx != nil && tx.Date > 0 {
			closed := RippleTimeToTime(tx.Date)
			if page.Oldest.IsZero() || closed.Before(page.Oldest) {
				page.Oldest = closed
			}
		}
		payment, err := envelope.ToPayment()
		if err != nil {
			c.Logger.Sugar().Warnw("Skipping undecodable transaction", zap.String("address", address), zap.Error(err))
			continue
		}
		if payment != nil {
			page.Payments = append(page.Payments, payment)
		}
	}
	if len(result.Marker) > 0 && string(result.Marker) != "null" {
		page.Cursor = result.Marker
	}
	return page, nil
}

func (c *Client) currentLedgerIndex(ctx context.Context) (uint32, error) {
	result := &LedgerCurrentResult{}
	if err := c.Call(ctx, &RPCRequest{Method: RPCMethod_LedgerCurrent, Params: []interface{}{map[string]interface{}{}}}, result); err != nil {
		return 0, err
	}
	return result.LedgerCurrentIndex, nil
}

func (c *Client) validatedLedgerIndex(ctx context.Context) (uint32, error) {
	result := &LedgerResult{}
	params := map[string]interface{}{"ledger_index": "validated"}
	if err := c.Call(ctx, &RPCRequest{Method: RPCMethod_Ledger, Params: []interface{}{params}}, result); err != nil {
		return 0, err
	}
	return result.LedgerIndex, nil
}

// SubmitTransfer signs and submits an issued-currency payment, then waits for it to be validated.
// Ledger rejections come back as an unsuccessful result; transport failures come back as errors.
func (c *Client) SubmitTransfer(ctx context.Context, req *ledger.TransferRequest) (*ledger.TransferResult, error) {
	current, err := c.currentLedgerIndex(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to fetch current ledger index")
	}
	lastLedger := current + lastLedgerOffset

	params := map[string]interface{}{
		"secret": req.SenderSecret,
		"tx_json": map[string]interface{}{
			"TransactionType": ledger.TransactionType_Payment,
			"Account":         req.Sender,
			"Destination":     req.Destination,
			"Amount": IssuedAmount{
				Currency: EncodeCurrency(req.Currency),
				Issuer:   req.Issuer,
				Value:    numbers.FormatAmount(req.Amount),
			},
			"LastLedgerSequence": lastLedger,
		},
	}

	submitted := &SubmitResult{}
	if err := c.call(ctx, &RPCRequest{Method: RPCMethod_Submit, Params: []interface{}{params}}, submitted); err != nil {
		return nil, errors.Wrap(err, "failed to submit transfer")
	}

	hash := ""
	if submitted.TxJson != nil {
		hash = submitted.TxJson.Hash
	}
	c.Logger.Sugar().Infow("Submitted transfer",
		zap.String("hash", hash),
		zap.String("destination", req.Destination),
		zap.String("currency", req.Currency),
		zap.String("amount", req.Amount.String()),
		zap.String("engineResult", submitted.EngineResult),
	)

	if isFinalRejection(submitted.EngineResult) || hash == "" {
		return &ledger.TransferResult{Success: false, Hash: hash, FailureCode: submitted.EngineResult}, nil
	}

	return c.waitForFinality(ctx, hash, lastLedger)
}

// isFinalRejection reports engine results that guarantee the transaction never reaches a ledger.
func isFinalRejection(engineResult string) bool {
	for _, prefix := range []string{"tem", "tef", "tel"} {
		if strings.HasPrefix(engineResult, prefix) {
			return true
		}
	}
	return false
}

func (c *Client) waitForFinality(ctx context.Context, hash string, lastLedger uint32) (*ledger.TransferResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.clientConfig.FinalityTimeout)
	defer cancel()

	ticker := time.NewTicker(c.clientConfig.PollInterval)
	defer ticker.Stop()

	for {
		result := &TxResult{}
		err := c.call(ctx, &RPCRequest{Method: RPCMethod_Tx, Params: []interface{}{map[string]interface{}{"transaction": hash}}}, result)
		switch {
		case err == nil && result.Validated:
			code := ""
			if result.Meta != nil {
				code = result.Meta.TransactionResult
			}
			if code == ledger.ResultSuccess {
				return &ledger.TransferResult{Success: true, Hash: hash}, nil
			}
			return &ledger.TransferResult{Success: false, Hash: hash, FailureCode: code}, nil
		case err == nil || IsRPCError(err, "txnNotFound"):
			validated, verr := c.validatedLedgerIndex(ctx)
			if verr == nil && validated > lastLedger {
				return &ledger.TransferResult{Success: false, Hash: hash, FailureCode: FailureCode_Expired}, nil
			}
		default:
			c.Logger.Sugar().Warnw("Failed to poll transfer", zap.String("hash", hash), zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return &ledger.TransferResult{Success: false, Hash: hash, FailureCode: FailureCode_FinalityTimeout}, nil
		case <-ticker.C:
		}
	}
}

func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}
