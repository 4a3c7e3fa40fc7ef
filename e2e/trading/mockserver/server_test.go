package mockserver

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/suite"
)

type MockServerTestSuite struct {
	suite.Suite
	server *MockBrokerServer
}

func TestMockServerSuite(t *testing.T) {
	suite.Run(t, new(MockServerTestSuite))
}

func (suite *MockServerTestSuite) SetupTest() {
	suite.server = NewMockBrokerServer(ServerConfig{
		Cash:     10000,
		Prices:   map[string]float64{"AAPL": 100, "MSFT": 200},
		FillMode: FillManually,
	})
	suite.Require().NoError(suite.server.Start(""))
}

func (suite *MockServerTestSuite) TearDownTest() {
	if suite.server != nil {
		_ = suite.server.Stop()
	}
}

func (suite *MockServerTestSuite) do(method, path string, body any) (*http.Response, map[string]any) {
	var reader *bytes.Reader

	if body != nil {
		raw, err := json.Marshal(body)
		suite.Require().NoError(err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, suite.server.BaseURL()+path, reader)
	suite.Require().NoError(err)
	req.Header.Set("APCA-API-KEY-ID", KeyID)
	req.Header.Set("APCA-API-SECRET-KEY", SecretKey)

	resp, err := http.DefaultClient.Do(req)
	suite.Require().NoError(err)

	defer resp.Body.Close()

	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)

	return resp, out
}

func (suite *MockServerTestSuite) dialStream() *websocket.Conn {
	conn, _, err := websocket.DefaultDialer.Dial(suite.server.StreamURL(), nil)
	suite.Require().NoError(err)

	suite.Require().NoError(conn.WriteJSON(map[string]string{"action": "auth", "key": KeyID, "secret": SecretKey}))

	var msg map[string]any
	suite.Require().NoError(conn.ReadJSON(&msg))
	suite.Equal("authorization", msg["stream"])

	suite.Require().NoError(conn.WriteJSON(map[string]any{"action": "listen", "data": map[string][]string{"streams": {"trade_updates"}}}))
	suite.Require().NoError(conn.ReadJSON(&msg))
	suite.Equal("listening", msg["stream"])

	suite.Eventually(func() bool { return suite.server.StreamConnections() == 1 }, time.Second, 10*time.Millisecond)

	return conn
}

func (suite *MockServerTestSuite) TestServerStartAndStop() {
	suite.NotEmpty(suite.server.Address())
	suite.True(strings.HasPrefix(suite.server.BaseURL(), "http://"))
	suite.True(strings.HasPrefix(suite.server.StreamURL(), "ws://"))
}

func (suite *MockServerTestSuite) TestRejectsBadCredentials() {
	resp, err := http.Get(suite.server.BaseURL() + "/v2/account")
	suite.Require().NoError(err)
	resp.Body.Close()

	suite.Equal(http.StatusUnauthorized, resp.StatusCode)
}

func (suite *MockServerTestSuite) TestAccount() {
	resp, body := suite.do(http.MethodGet, "/v2/account", nil)

	suite.Equal(http.StatusOK, resp.StatusCode)
	suite.Equal("10000", body["cash"])
	suite.Equal("ACTIVE", body["status"])
}

func (suite *MockServerTestSuite) TestSubmitAndFill() {
	conn := suite.dialStream()
	defer conn.Close()

	resp, body := suite.do(http.MethodPost, "/v2/orders", map[string]string{
		"symbol": "AAPL", "qty": "10", "side": "buy", "type": "market", "time_in_force": "day", "client_order_id": "c1",
	})
	suite.Require().Equal(http.StatusOK, resp.StatusCode)
	suite.Equal("new", body["status"])

	var update struct {
		Stream string `json:"stream"`
		Data   struct {
			Event string `json:"event"`
			Qty   string `json:"qty"`
		} `json:"data"`
	}

	suite.Require().NoError(conn.ReadJSON(&update))
	suite.Equal("new", update.Data.Event)

	suite.Require().NoError(suite.server.Fill("c1", 4))
	suite.Require().NoError(conn.ReadJSON(&update))
	suite.Equal("partial_fill", update.Data.Event)
	suite.Equal("4", update.Data.Qty)

	suite.Require().NoError(suite.server.Fill("c1", 0))
	suite.Require().NoError(conn.ReadJSON(&update))
	suite.Equal("fill", update.Data.Event)
	suite.Equal("6", update.Data.Qty)

	suite.Equal(10.0, suite.server.Position("AAPL").Qty)
	suite.InDelta(9000.0, suite.server.Cash(), 1e-9)
}

func (suite *MockServerTestSuite) TestDuplicateClientOrderID() {
	order := map[string]string{
		"symbol": "AAPL", "qty": "1", "side": "buy", "type": "market", "time_in_force": "day", "client_order_id": "dup",
	}

	resp, _ := suite.do(http.MethodPost, "/v2/orders", order)
	suite.Equal(http.StatusOK, resp.StatusCode)

	resp, _ = suite.do(http.MethodPost, "/v2/orders", order)
	suite.Equal(http.StatusUnprocessableEntity, resp.StatusCode)
}

func (suite *MockServerTestSuite) TestUnknownAsset() {
	resp, body := suite.do(http.MethodPost, "/v2/orders", map[string]string{
		"symbol": "ZZZZ", "qty": "1", "side": "buy", "type": "market", "time_in_force": "day", "client_order_id": "z",
	})

	suite.Equal(http.StatusUnprocessableEntity, resp.StatusCode)
	suite.Contains(body["message"], "asset")
}

func (suite *MockServerTestSuite) TestInjectedErrors() {
	reset := time.Now().Add(2 * time.Second)
	suite.server.FailNextRead(InjectedError{Status: http.StatusTooManyRequests, Message: "rate limit", Reset: reset})

	resp, _ := suite.do(http.MethodGet, "/v2/account", nil)
	suite.Equal(http.StatusTooManyRequests, resp.StatusCode)
	suite.NotEmpty(resp.Header.Get("X-Ratelimit-Reset"))

	resp, _ = suite.do(http.MethodGet, "/v2/account", nil)
	suite.Equal(http.StatusOK, resp.StatusCode)
}

func (suite *MockServerTestSuite) TestCancel() {
	suite.do(http.MethodPost, "/v2/orders", map[string]string{
		"symbol": "MSFT", "qty": "1", "side": "buy", "type": "market", "time_in_force": "day", "client_order_id": "m1",
	})

	order, ok := suite.server.OrderByClientID("m1")
	suite.Require().True(ok)

	req, err := http.NewRequest(http.MethodDelete, suite.server.BaseURL()+"/v2/orders/"+order.ID, nil)
	suite.Require().NoError(err)
	req.Header.Set("APCA-API-KEY-ID", KeyID)
	req.Header.Set("APCA-API-SECRET-KEY", SecretKey)

	resp, err := http.DefaultClient.Do(req)
	suite.Require().NoError(err)
	resp.Body.Close()

	suite.Equal(http.StatusNoContent, resp.StatusCode)

	order, _ = suite.server.OrderByClientID("m1")
	suite.Equal("canceled", order.Status)
}

func (suite *MockServerTestSuite) TestDisconnectStreams() {
	conn := suite.dialStream()
	defer conn.Close()

	suite.server.DisconnectStreams()

	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	_, _, err := conn.ReadMessage()
	suite.Error(err)
	suite.Equal(0, suite.server.StreamConnections())
}
