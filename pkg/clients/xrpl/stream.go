package xrpl

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goldstake/stakebridge/pkg/ledger"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const streamReadLimit = 4 << 20

type subscribeCommand struct {
	Id       int      `json:"id"`
	Command  string   `json:"command"`
	Accounts []string `json:"accounts"`
}

// Listen subscribes to validated transactions touching addresses and hands every payment to handler.
// The subscription is re-established with backoff until ctx is done; onReconnect runs after each
// successful re-subscription so callers can replay anything missed while disconnected.
func (c *Client) Listen(ctx context.Context, addresses []string, handler ledger.PaymentHandler, onReconnect func()) error {
	if c.clientConfig.WsUrl == "" {
		return fmt.Errorf("no websocket url configured")
	}

	backoffs := []int{1, 3, 5, 10, 20, 30, 60}
	attempt := 0
	connected := false

	for {
		err := c.listenOnce(ctx, addresses, handler, func() {
			if connected && onReconnect != nil {
				c.Logger.Sugar().Infow("Resubscribed to ledger stream", zap.Strings("addresses", addresses))
				onReconnect()
			}
			connected = true
			attempt = 0
		})
		if ctx.Err() != nil {
			return nil
		}

		backoff := backoffs[len(backoffs)-1]
		if attempt < len(backoffs) {
			backoff = backoffs[attempt]
		}
		attempt++

		c.Logger.Sugar().Errorw("Ledger stream disconnected",
			zap.Error(err),
			zap.Int("backoffSecs", backoff),
		)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(time.Second * time.Duration(backoff)):
		}
	}
}

func (c *Client) listenOnce(ctx context.Context, addresses []string, handler ledger.PaymentHandler, onSubscribed func()) error {
	dialCtx, cancel := context.WithTimeout(ctx, c.clientConfig.RequestTimeout)
	conn, _, err := websocket.Dial(dialCtx, c.clientConfig.WsUrl, nil)
	cancel()
	if err != nil {
		return fmt.Errorf("failed to dial %s: %w", c.clientConfig.WsUrl, err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "closing")
	conn.SetReadLimit(streamReadLimit)

	if err := wsjson.Write(ctx, conn, &subscribeCommand{Id: 1, Command: "subscribe", Accounts: addresses}); err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	for {
		msg := &StreamMessage{}
		if err := wsjson.Read(ctx, conn, msg); err != nil {
			return err
		}

		switch msg.Type {
		case "response":
			if msg.Status != "success" {
				return fmt.Errorf("subscription rejected: %s", msg.Error)
			}
			onSubscribed()
		case "transaction":
			c.dispatch(ctx, msg, handler)
		}
	}
}

func (c *Client) dispatch(ctx context.Context, msg *StreamMessage, handler ledger.PaymentHandler) {
	if !msg.Validated {
		return
	}
	if msg.Meta == nil && msg.EngineResult != "" {
		msg.Meta = &TransactionMeta{TransactionResult: msg.EngineResult}
	}
	payment, err := msg.ToPayment()
	if err != nil {
		c.Logger.Sugar().Warnw("Failed to decode streamed transaction", zap.Error(err))
		return
	}
	if payment == nil {
		return
	}
	if err := handler(ctx, payment); err != nil && !errors.Is(err, context.Canceled) {
		c.Logger.Sugar().Errorw("Failed to handle payment",
			zap.String("hash", payment.Hash),
			zap.Error(err),
		)
	}
}
