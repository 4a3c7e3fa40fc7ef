// Package mockserver provides a mock brokerage server for testing.
// It implements the REST endpoints and the trade updates websocket of an
// Alpaca-style trading API.
package mockserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

// Credentials accepted by the server.
const (
	KeyID     = "test-key"
	SecretKey = "test-secret"
)

// FillMode controls how submitted orders are executed.
type FillMode int

const (
	// FillImmediately fills market orders at the current price right after accepting them.
	FillImmediately FillMode = iota
	// FillManually leaves orders accepted until Fill, Cancel or DoneForDay is called.
	FillManually
)

// Order is a broker-side order.
type Order struct {
	ID             string
	ClientOrderID  string
	Symbol         string
	Side           string
	Type           string
	TimeInForce    string
	Qty            float64
	Notional       float64
	FilledQty      float64
	FilledAvgPrice float64
	Status         string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Position is a broker-side holding.
type Position struct {
	Symbol   string
	Qty      float64
	AvgPrice float64
}

// InjectedError is returned by the next matching request instead of the normal response.
type InjectedError struct {
	Status  int
	Message string
	// Reset is written to X-Ratelimit-Reset when non-zero.
	Reset time.Time
}

// ServerConfig holds configuration for the mock server.
type ServerConfig struct {
	Cash     float64
	Prices   map[string]float64
	FillMode FillMode
	// Now overrides the server clock used for /v2/clock.
	Now func() time.Time
	// Location is the exchange time zone used for calendar entries.
	Location *time.Location
}

// MockBrokerServer provides a mock brokerage for testing.
type MockBrokerServer struct {
	mu sync.RWMutex

	httpServer *http.Server
	listener   net.Listener
	upgrader   websocket.Upgrader

	cash      float64
	prices    map[string]float64
	orders    map[string]*Order
	byClient  map[string]string
	positions map[string]*Position
	fillMode  FillMode
	now       func() time.Time
	location  *time.Location
	execSeq   int

	submitErrors []InjectedError
	readErrors   []InjectedError
	submitDelay  time.Duration

	wsConnections map[*websocket.Conn]*sync.Mutex
	wsMu          sync.RWMutex
}

// NewMockBrokerServer creates a new mock broker server.
func NewMockBrokerServer(config ServerConfig) *MockBrokerServer {
	now := config.Now
	if now == nil {
		now = time.Now
	}

	loc := config.Location
	if loc == nil {
		loc = time.UTC
		if ny, err := time.LoadLocation("America/New_York"); err == nil {
			loc = ny
		}
	}

	server := &MockBrokerServer{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(_ *http.Request) bool { return true },
		},
		cash:          config.Cash,
		prices:        make(map[string]float64),
		orders:        make(map[string]*Order),
		byClient:      make(map[string]string),
		positions:     make(map[string]*Position),
		fillMode:      config.FillMode,
		now:           now,
		location:      loc,
		wsConnections: make(map[*websocket.Conn]*sync.Mutex),
	}

	for symbol, price := range config.Prices {
		server.prices[symbol] = price
	}

	return server
}

// Start starts the mock server on the given address.
// If address is empty or ":0", a random available port is used.
func (s *MockBrokerServer) Start(address string) error {
	if address == "" {
		address = "127.0.0.1:0"
	}

	listener, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("failed to create listener: %w", err)
	}

	s.listener = listener

	router := mux.NewRouter()
	api := router.PathPrefix("/v2").Subrouter()
	api.Use(s.authenticate)

	api.HandleFunc("/account", s.handleAccount).Methods(http.MethodGet)
	api.HandleFunc("/positions", s.handlePositions).Methods(http.MethodGet)
	api.HandleFunc("/orders", s.handleListOrders).Methods(http.MethodGet)
	api.HandleFunc("/orders", s.handleCreateOrder).Methods(http.MethodPost)
	api.HandleFunc("/orders:by_client_order_id", s.handleOrderByClientID).Methods(http.MethodGet)
	api.HandleFunc("/orders/{id}", s.handleGetOrder).Methods(http.MethodGet)
	api.HandleFunc("/orders/{id}", s.handleCancelOrder).Methods(http.MethodDelete)
	api.HandleFunc("/calendar", s.handleCalendar).Methods(http.MethodGet)
	api.HandleFunc("/clock", s.handleClock).Methods(http.MethodGet)

	router.HandleFunc("/stream", s.handleWebSocket)

	s.httpServer = &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.httpServer.Serve(listener); err != http.ErrServerClosed {
			fmt.Printf("HTTP server error: %v\n", err)
		}
	}()

	return nil
}

// Stop stops the mock server.
func (s *MockBrokerServer) Stop() error {
	s.DisconnectStreams()

	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		return s.httpServer.Shutdown(ctx)
	}

	return nil
}

// Address returns the address the server is listening on.
func (s *MockBrokerServer) Address() string {
	if s.listener == nil {
		return ""
	}

	return s.listener.Addr().String()
}

// BaseURL returns the base URL for the server.
func (s *MockBrokerServer) BaseURL() string {
	return "http://" + s.Address()
}

// StreamURL returns the trade updates websocket URL.
func (s *MockBrokerServer) StreamURL() string {
	return "ws://" + s.Address() + "/stream"
}

// SetPrice sets the current price for a symbol.
func (s *MockBrokerServer) SetPrice(symbol string, price float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.prices[symbol] = price
}

// SetFillMode changes how new orders are executed.
func (s *MockBrokerServer) SetFillMode(mode FillMode) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.fillMode = mode
}

// SetPosition sets a holding.
func (s *MockBrokerServer) SetPosition(symbol string, qty, avgPrice float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.positions[symbol] = &Position{Symbol: symbol, Qty: qty, AvgPrice: avgPrice}
}

// SetSubmitDelay delays every order submission response.
func (s *MockBrokerServer) SetSubmitDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.submitDelay = d
}

// FailNextSubmit makes the next order submission fail.
func (s *MockBrokerServer) FailNextSubmit(e InjectedError) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.submitErrors = append(s.submitErrors, e)
}

// FailNextRead makes the next GET request fail.
func (s *MockBrokerServer) FailNextRead(e InjectedError) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.readErrors = append(s.readErrors, e)
}

// Cash returns the account cash.
func (s *MockBrokerServer) Cash() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.cash
}

// Position returns a copy of the holding of symbol.
func (s *MockBrokerServer) Position(symbol string) Position {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if p, ok := s.positions[symbol]; ok {
		return *p
	}

	return Position{Symbol: symbol}
}

// Orders returns copies of every order, oldest first.
func (s *MockBrokerServer) Orders() []Order {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Order, 0, len(s.orders))
	for _, o := range s.orders {
		out = append(out, *o)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })

	return out
}

// OrderByClientID returns a copy of the order with the client order id.
func (s *MockBrokerServer) OrderByClientID(clientOrderID string) (Order, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byClient[clientOrderID]
	if !ok {
		return Order{}, false
	}

	return *s.orders[id], true
}

// AddOrder registers an order that exists at the broker without a submission,
// e.g. one left over from a previous process.
func (s *MockBrokerServer) AddOrder(o Order) Order {
	s.mu.Lock()
	defer s.mu.Unlock()

	if o.ID == "" {
		o.ID = uuid.NewString()
	}

	if o.CreatedAt.IsZero() {
		o.CreatedAt = s.now().UTC()
	}

	o.UpdatedAt = o.CreatedAt
	stored := o
	s.orders[o.ID] = &stored
	s.byClient[o.ClientOrderID] = o.ID

	return stored
}

// Fill executes qty of the order at the current price and streams the update.
func (s *MockBrokerServer) Fill(clientOrderID string, qty float64) error {
	s.mu.Lock()

	o, err := s.lookupLocked(clientOrderID)
	if err != nil {
		s.mu.Unlock()

		return err
	}

	update := s.fillLocked(o, qty)
	s.mu.Unlock()

	s.broadcast(update)

	return nil
}

// Cancel cancels the order and streams the update.
func (s *MockBrokerServer) Cancel(clientOrderID string) error {
	return s.finish(clientOrderID, "canceled")
}

// Expire expires the order and streams the update.
func (s *MockBrokerServer) Expire(clientOrderID string) error {
	return s.finish(clientOrderID, "expired")
}

// DoneForDay marks the order done for the day and streams the update.
func (s *MockBrokerServer) DoneForDay(clientOrderID string) error {
	return s.finish(clientOrderID, "done_for_day")
}

// Emit streams an arbitrary event for the order without changing its state.
func (s *MockBrokerServer) Emit(clientOrderID, event string, at time.Time) error {
	s.mu.RLock()
	o, err := s.lookupLocked(clientOrderID)
	if err != nil {
		s.mu.RUnlock()

		return err
	}

	update := tradeUpdate(event, o, at, "", 0, 0)
	s.mu.RUnlock()

	s.broadcast(update)

	return nil
}

func (s *MockBrokerServer) finish(clientOrderID, status string) error {
	s.mu.Lock()

	o, err := s.lookupLocked(clientOrderID)
	if err != nil {
		s.mu.Unlock()

		return err
	}

	o.Status = status
	o.UpdatedAt = s.now().UTC()
	update := tradeUpdate(status, o, o.UpdatedAt, "", 0, 0)
	s.mu.Unlock()

	s.broadcast(update)

	return nil
}

func (s *MockBrokerServer) lookupLocked(clientOrderID string) (*Order, error) {
	id, ok := s.byClient[clientOrderID]
	if !ok {
		return nil, fmt.Errorf("order %s not found", clientOrderID)
	}

	return s.orders[id], nil
}

// fillLocked applies a fill and returns the trade update to stream.
func (s *MockBrokerServer) fillLocked(o *Order, qty float64) map[string]any {
	price := s.prices[o.Symbol]

	if o.Qty == 0 && o.Notional > 0 && price > 0 {
		o.Qty = o.Notional / price
	}

	if remaining := o.Qty - o.FilledQty; qty <= 0 || qty > remaining {
		qty = remaining
	}

	total := o.FilledAvgPrice*o.FilledQty + price*qty
	o.FilledQty += qty
	o.FilledAvgPrice = total / o.FilledQty
	o.UpdatedAt = s.now().UTC()

	event := "partial_fill"
	o.Status = "partially_filled"

	if o.FilledQty >= o.Qty {
		event = "fill"
		o.Status = "filled"
	}

	pos, ok := s.positions[o.Symbol]
	if !ok {
		pos = &Position{Symbol: o.Symbol}
		s.positions[o.Symbol] = pos
	}

	if o.Side == "buy" {
		pos.AvgPrice = (pos.AvgPrice*pos.Qty + price*qty) / (pos.Qty + qty)
		pos.Qty += qty
		s.cash -= price * qty
	} else {
		pos.Qty -= qty
		s.cash += price * qty
	}

	s.execSeq++

	return tradeUpdate(event, o, o.UpdatedAt, fmt.Sprintf("exec-%d", s.execSeq), price, qty)
}

// REST API Handlers

func (s *MockBrokerServer) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("APCA-API-KEY-ID") != KeyID || r.Header.Get("APCA-API-SECRET-KEY") != SecretKey {
			writeError(w, InjectedError{Status: http.StatusUnauthorized, Message: "request is not authorized"})

			return
		}

		if r.Method == http.MethodGet {
			if e, ok := s.popError(&s.readErrors); ok {
				writeError(w, e)

				return
			}
		}

		next.ServeHTTP(w, r)
	})
}

func (s *MockBrokerServer) popError(queue *[]InjectedError) (InjectedError, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(*queue) == 0 {
		return InjectedError{}, false
	}

	e := (*queue)[0]
	*queue = (*queue)[1:]

	return e, true
}

func writeError(w http.ResponseWriter, e InjectedError) {
	if !e.Reset.IsZero() {
		w.Header().Set("X-Ratelimit-Reset", strconv.FormatInt(e.Reset.Unix(), 10))
	}

	writeJSON(w, e.Status, map[string]any{"code": e.Status * 100, "message": e.Message})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (s *MockBrokerServer) handleAccount(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"id":              "mock-account",
		"status":          "ACTIVE",
		"cash":            formatFloat(s.cash),
		"buying_power":    formatFloat(s.cash),
		"equity":          formatFloat(s.cash + s.marketValueLocked()),
		"trading_blocked": false,
	})
}

func (s *MockBrokerServer) marketValueLocked() float64 {
	total := 0.0
	for _, p := range s.positions {
		total += p.Qty * s.prices[p.Symbol]
	}

	return total
}

func (s *MockBrokerServer) handlePositions(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]map[string]any, 0, len(s.positions))

	for _, p := range s.positions {
		if p.Qty == 0 {
			continue
		}

		out = append(out, map[string]any{
			"symbol":          p.Symbol,
			"qty":             formatFloat(p.Qty),
			"avg_entry_price": formatFloat(p.AvgPrice),
			"market_value":    formatFloat(p.Qty * s.prices[p.Symbol]),
			"side":            "long",
		})
	}

	writeJSON(w, http.StatusOK, out)
}

func (s *MockBrokerServer) handleListOrders(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	out := make([]map[string]any, 0)

	for _, o := range s.Orders() {
		terminal := o.Status == "filled" || o.Status == "canceled" || o.Status == "expired" || o.Status == "rejected"
		if (status == "open" && terminal) || (status == "closed" && !terminal) {
			continue
		}

		out = append(out, orderJSON(&o))
	}

	writeJSON(w, http.StatusOK, out)
}

type createOrderRequest struct {
	Symbol        string `json:"symbol"`
	Qty           string `json:"qty"`
	Notional      string `json:"notional"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	TimeInForce   string `json:"time_in_force"`
	ClientOrderID string `json:"client_order_id"`
}

func (s *MockBrokerServer) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, InjectedError{Status: http.StatusUnprocessableEntity, Message: "invalid body"})

		return
	}

	s.mu.RLock()
	delay := s.submitDelay
	s.mu.RUnlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	if e, ok := s.popError(&s.submitErrors); ok {
		writeError(w, e)

		return
	}

	qty, _ := strconv.ParseFloat(req.Qty, 64)
	notional, _ := strconv.ParseFloat(req.Notional, 64)

	s.mu.Lock()

	if _, exists := s.byClient[req.ClientOrderID]; exists {
		s.mu.Unlock()
		writeError(w, InjectedError{Status: http.StatusUnprocessableEntity, Message: "client_order_id must be unique"})

		return
	}

	price, ok := s.prices[req.Symbol]
	if !ok {
		s.mu.Unlock()
		writeError(w, InjectedError{Status: http.StatusUnprocessableEntity, Message: "asset " + req.Symbol + " not found"})

		return
	}

	if req.Side == "buy" && qty*price+notional > s.cash {
		s.mu.Unlock()
		writeError(w, InjectedError{Status: http.StatusUnprocessableEntity, Message: "insufficient buying power"})

		return
	}

	now := s.now().UTC()
	o := &Order{
		ID:            uuid.NewString(),
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Type:          req.Type,
		TimeInForce:   req.TimeInForce,
		Qty:           qty,
		Notional:      notional,
		Status:        "new",
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	s.orders[o.ID] = o
	s.byClient[o.ClientOrderID] = o.ID

	body := orderJSON(o)
	updates := []map[string]any{tradeUpdate("new", o, now, "", 0, 0)}

	if s.fillMode == FillImmediately && o.Type == "market" {
		updates = append(updates, s.fillLocked(o, 0))
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, body)

	go func() {
		for _, u := range updates {
			s.broadcast(u)
		}
	}()
}

func (s *MockBrokerServer) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.orders[mux.Vars(r)["id"]]
	if !ok {
		writeError(w, InjectedError{Status: http.StatusNotFound, Message: "order not found"})

		return
	}

	writeJSON(w, http.StatusOK, orderJSON(o))
}

func (s *MockBrokerServer) handleOrderByClientID(w http.ResponseWriter, r *http.Request) {
	o, ok := s.OrderByClientID(r.URL.Query().Get("client_order_id"))
	if !ok {
		writeError(w, InjectedError{Status: http.StatusNotFound, Message: "order not found"})

		return
	}

	writeJSON(w, http.StatusOK, orderJSON(&o))
}

func (s *MockBrokerServer) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()

	o, ok := s.orders[mux.Vars(r)["id"]]
	if !ok {
		s.mu.Unlock()
		writeError(w, InjectedError{Status: http.StatusNotFound, Message: "order not found"})

		return
	}

	if o.Status == "filled" || o.Status == "canceled" || o.Status == "expired" || o.Status == "rejected" {
		s.mu.Unlock()
		writeError(w, InjectedError{Status: http.StatusUnprocessableEntity, Message: "order is not cancelable"})

		return
	}

	o.Status = "canceled"
	o.UpdatedAt = s.now().UTC()
	update := tradeUpdate("canceled", o, o.UpdatedAt, "", 0, 0)
	s.mu.Unlock()

	w.WriteHeader(http.StatusNoContent)

	go s.broadcast(update)
}

func (s *MockBrokerServer) handleCalendar(w http.ResponseWriter, r *http.Request) {
	start, err := time.ParseInLocation("2006-01-02", r.URL.Query().Get("start"), s.location)
	if err != nil {
		writeError(w, InjectedError{Status: http.StatusUnprocessableEntity, Message: "invalid start"})

		return
	}

	end, err := time.ParseInLocation("2006-01-02", r.URL.Query().Get("end"), s.location)
	if err != nil {
		writeError(w, InjectedError{Status: http.StatusUnprocessableEntity, Message: "invalid end"})

		return
	}

	out := make([]map[string]string, 0)

	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		if d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
			continue
		}

		out = append(out, map[string]string{"date": d.Format("2006-01-02"), "open": "09:30", "close": "16:00"})
	}

	writeJSON(w, http.StatusOK, out)
}

func (s *MockBrokerServer) handleClock(w http.ResponseWriter, _ *http.Request) {
	now := s.now().In(s.location)
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.location)
	open := day.Add(9*time.Hour + 30*time.Minute)
	closeAt := day.Add(16 * time.Hour)
	weekend := now.Weekday() == time.Saturday || now.Weekday() == time.Sunday
	isOpen := !weekend && !now.Before(open) && now.Before(closeAt)

	nextOpen := open
	for !nextOpen.After(now) || nextOpen.Weekday() == time.Saturday || nextOpen.Weekday() == time.Sunday {
		nextOpen = nextOpen.AddDate(0, 0, 1)
	}

	nextClose := closeAt
	for !nextClose.After(now) || nextClose.Weekday() == time.Saturday || nextClose.Weekday() == time.Sunday {
		nextClose = nextClose.AddDate(0, 0, 1)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"timestamp":  now.Format(time.RFC3339Nano),
		"is_open":    isOpen,
		"next_open":  nextOpen.Format(time.RFC3339),
		"next_close": nextClose.Format(time.RFC3339),
	})
}

// WebSocket Handlers

// handleWebSocket serves the trade updates stream: auth, listen, then updates.
func (s *MockBrokerServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	var auth struct {
		Action string `json:"action"`
		Key    string `json:"key"`
		Secret string `json:"secret"`
	}

	if err := conn.ReadJSON(&auth); err != nil {
		conn.Close()

		return
	}

	if auth.Key != KeyID || auth.Secret != SecretKey {
		_ = conn.WriteJSON(map[string]any{"stream": "authorization", "data": map[string]string{"status": "unauthorized", "action": "authenticate"}})
		conn.Close()

		return
	}

	_ = conn.WriteJSON(map[string]any{"stream": "authorization", "data": map[string]string{"status": "authorized", "action": "authenticate"}})

	var listen map[string]any
	if err := conn.ReadJSON(&listen); err != nil {
		conn.Close()

		return
	}

	_ = conn.WriteJSON(map[string]any{"stream": "listening", "data": map[string][]string{"streams": {"trade_updates"}}})

	s.wsMu.Lock()
	s.wsConnections[conn] = &sync.Mutex{}
	s.wsMu.Unlock()

	// keep reading so pings are answered and closes are noticed
	go func() {
		defer s.drop(conn)

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (s *MockBrokerServer) drop(conn *websocket.Conn) {
	s.wsMu.Lock()
	delete(s.wsConnections, conn)
	s.wsMu.Unlock()
	conn.Close()
}

// DisconnectStreams closes every trade updates connection.
func (s *MockBrokerServer) DisconnectStreams() {
	s.wsMu.Lock()
	conns := make([]*websocket.Conn, 0, len(s.wsConnections))

	for conn := range s.wsConnections {
		conns = append(conns, conn)
	}

	s.wsConnections = make(map[*websocket.Conn]*sync.Mutex)
	s.wsMu.Unlock()

	for _, conn := range conns {
		conn.Close()
	}
}

// StreamConnections returns the number of authenticated stream connections.
func (s *MockBrokerServer) StreamConnections() int {
	s.wsMu.RLock()
	defer s.wsMu.RUnlock()

	return len(s.wsConnections)
}

func (s *MockBrokerServer) broadcast(update map[string]any) {
	msg := map[string]any{"stream": "trade_updates", "data": update}

	s.wsMu.RLock()
	defer s.wsMu.RUnlock()

	for conn, mu := range s.wsConnections {
		mu.Lock()
		_ = conn.WriteJSON(msg)
		mu.Unlock()
	}
}

func tradeUpdate(event string, o *Order, at time.Time, executionID string, price, qty float64) map[string]any {
	update := map[string]any{
		"event":     event,
		"order":     orderJSON(o),
		"timestamp": at.UTC().Format(time.RFC3339Nano),
	}

	if executionID != "" {
		update["execution_id"] = executionID
		update["price"] = formatFloat(price)
		update["qty"] = formatFloat(qty)
	}

	return update
}

func orderJSON(o *Order) map[string]any {
	body := map[string]any{
		"id":              o.ID,
		"client_order_id": o.ClientOrderID,
		"created_at":      o.CreatedAt.Format(time.RFC3339Nano),
		"updated_at":      o.UpdatedAt.Format(time.RFC3339Nano),
		"symbol":          o.Symbol,
		"side":            o.Side,
		"type":            o.Type,
		"time_in_force":   o.TimeInForce,
		"status":          o.Status,
		"filled_qty":      formatFloat(o.FilledQty),
		"extended_hours":  false,
	}

	if o.Qty > 0 {
		body["qty"] = formatFloat(o.Qty)
	}

	if o.Notional > 0 {
		body["notional"] = formatFloat(o.Notional)
	}

	if o.FilledQty > 0 {
		body["filled_avg_price"] = formatFloat(o.FilledAvgPrice)
	}

	return body
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
