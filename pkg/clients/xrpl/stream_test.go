package xrpl

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goldstake/stakebridge/internal/logger"
	"github.com/goldstake/stakebridge/pkg/ledger"
	"github.com/stretchr/testify/assert"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

func Test_Listen(t *testing.T) {
	l, _ := logger.NewLogger(&logger.LoggerConfig{Debug: false})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "")

		cmd := &subscribeCommand{}
		if err := wsjson.Read(r.Context(), conn, cmd); err != nil {
			return
		}
		_ = wsjson.Write(r.Context(), conn, map[string]interface{}{
			"id": 1, "type": "response", "status": "success", "result": map[string]interface{}{},
		})
		_ = wsjson.Write(r.Context(), conn, map[string]interface{}{
			"type":      "transaction",
			"validated": false,
			"hash":      "UNVALIDATED",
			"tx_json": map[string]interface{}{
				"TransactionType": "Payment", "Account": "rUser", "Destination": cmd.Accounts[0],
				"DeliverMax": map[string]string{"currency": "GPC", "issuer": "rIssuer", "value": "1"},
			},
		})
		_ = wsjson.Write(r.Context(), conn, map[string]interface{}{
			"type":          "transaction",
			"validated":     true,
			"engine_result": "tesSUCCESS",
			"transaction": map[string]interface{}{
				"hash": "STREAMED", "TransactionType": "Payment", "Account": "rUser", "Destination": cmd.Accounts[0],
				"Amount": map[string]string{"currency": "GPC", "issuer": "rIssuer", "value": "5.5"},
			},
		})
		<-r.Context().Done()
	}))
	defer srv.Close()

	client := NewClient(&XrplClientConfig{
		RpcUrl:         srv.URL,
		WsUrl:          "ws" + strings.TrimPrefix(srv.URL, "http"),
		RequestTimeout: time.Second,
	}, l)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	received := make(chan *ledger.Payment, 2)
	go func() {
		_ = client.Listen(ctx, []string{"rPool"}, func(ctx context.Context, p *ledger.Payment) error {
			received <- p
			return nil
		}, nil)
	}()

	select {
	case p := <-received:
		assert.Equal(t, "STREAMED", p.Hash)
		assert.Equal(t, "rPool", p.Destination)
		assert.Equal(t, "5.5", p.Amount.String())
		assert.Equal(t, "tesSUCCESS", p.Result)
	case <-ctx.Done():
		t.Fatal("no payment received")
	}
	cancel()
}
