package alpaca

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rxtech-lab/argo-live/internal/broker"
	"github.com/rxtech-lab/argo-live/pkg/errors"
	"go.uber.org/zap"
)

const (
	streamAuthorization = "authorization"
	streamListening     = "listening"
	streamTradeUpdates  = "trade_updates"
	pingInterval        = 15 * time.Second
	readTimeout         = 45 * time.Second
)

type authRequest struct {
	Action string `json:"action"`
	Key    string `json:"key"`
	Secret string `json:"secret"`
}

type listenRequest struct {
	Action string `json:"action"`
	Data   struct {
		Streams []string `json:"streams"`
	} `json:"data"`
}

// StreamOrders connects to the trade updates stream and delivers every update
// to handler. It returns when the connection fails or ctx is done.
func (c *Client) StreamOrders(ctx context.Context, handler broker.OrderEventHandler) error {
	conn, _, err := c.dialer.DialContext(ctx, c.config.StreamURL, nil)
	if err != nil {
		return errors.Wrap(errors.ErrCodeBrokerStreamFailed, "failed to connect order stream", err)
	}

	var closeOnce sync.Once

	closeConn := func() {
		closeOnce.Do(func() { _ = conn.Close() })
	}
	defer closeConn()

	if err := c.authenticate(conn); err != nil {
		return err
	}

	done := make(chan struct{})
	defer close(done)

	var writeMu sync.Mutex

	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				closeConn()

				return
			case <-done:
				return
			case <-ticker.C:
				writeMu.Lock()
				err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.config.Timeout))
				writeMu.Unlock()

				if err != nil {
					closeConn()

					return
				}
			}
		}
	}()

	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	c.log.Info("order stream connected", zap.String("url", c.config.StreamURL))

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}

			return errors.Wrap(errors.ErrCodeBrokerStreamFailed, "order stream disconnected", err)
		}

		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))

		var msg streamMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.log.Warn("dropping undecodable order stream message", zap.Error(err))

			continue
		}

		if msg.Stream != streamTradeUpdates {
			continue
		}

		var update tradeUpdate
		if err := json.Unmarshal(msg.Data, &update); err != nil {
			c.log.Warn("dropping undecodable trade update", zap.Error(err))

			continue
		}

		handler(update.toEvent(c.now()))
	}
}

func (c *Client) authenticate(conn *websocket.Conn) error {
	deadline := time.Now().Add(c.config.Timeout)
	_ = conn.SetWriteDeadline(deadline)
	_ = conn.SetReadDeadline(deadline)

	if err := conn.WriteJSON(authRequest{Action: "auth", Key: c.config.KeyID, Secret: c.config.SecretKey}); err != nil {
		return errors.Wrap(errors.ErrCodeBrokerStreamFailed, "failed to send order stream auth", err)
	}

	var msg streamMessage
	if err := conn.ReadJSON(&msg); err != nil {
		return errors.Wrap(errors.ErrCodeBrokerStreamFailed, "failed to read order stream auth", err)
	}

	var auth authorization
	if msg.Stream != streamAuthorization || json.Unmarshal(msg.Data, &auth) != nil || auth.Status != "authorized" {
		return errors.Newf(errors.ErrCodeBrokerUnauthorized, "order stream authorization refused: %s", string(msg.Data))
	}

	listen := listenRequest{Action: "listen"}
	listen.Data.Streams = []string{streamTradeUpdates}

	if err := conn.WriteJSON(listen); err != nil {
		return errors.Wrap(errors.ErrCodeBrokerStreamFailed, "failed to listen to trade updates", err)
	}

	var ack streamMessage
	if err := conn.ReadJSON(&ack); err != nil || ack.Stream != streamListening {
		return errors.Wrap(errors.ErrCodeBrokerStreamFailed, "trade updates subscription not acknowledged", err)
	}

	_ = conn.SetWriteDeadline(time.Time{})

	return nil
}
