package mocks

//go:generate mockgen -destination=./mock_broker.go -package=mocks github.com/rxtech-lab/argo-live/internal/broker Broker
//go:generate mockgen -destination=./mock_websocket.go -package=mocks github.com/rxtech-lab/argo-live/internal/marketstream WebSocketService
