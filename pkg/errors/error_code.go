package errors

// ErrorCode represents a unique error code for identifying different error types.
type ErrorCode int

const (
	// General errors (1-99)
	ErrCodeUnknown  ErrorCode = 1
	ErrCodeCanceled ErrorCode = 2

	// Validation errors (100-199)
	ErrCodeInvalidParameter     ErrorCode = 100
	ErrCodeInvalidConfiguration ErrorCode = 101
	ErrCodeInvalidOrder         ErrorCode = 102
	ErrCodeMissingParameter     ErrorCode = 103
	ErrCodeInvalidVersion       ErrorCode = 104
	ErrCodeInvalidThreshold     ErrorCode = 105
	ErrCodeInvalidTimezone      ErrorCode = 106
	ErrCodeInvalidTransition    ErrorCode = 107

	// Data/Storage errors (200-299)
	ErrCodeDataNotFound    ErrorCode = 200
	ErrCodeQueryFailed     ErrorCode = 201
	ErrCodeDatabaseFailed  ErrorCode = 202
	ErrCodeExportFailed    ErrorCode = 203
	ErrCodeReplayQueueFull ErrorCode = 204

	// Indicator errors (300-399)
	ErrCodeIndicatorCalculation ErrorCode = 300
	ErrCodeUnknownColumn        ErrorCode = 301

	// Strategy errors (400-499)
	ErrCodeStrategyNotFound     ErrorCode = 400
	ErrCodeStrategyConfigError  ErrorCode = 401
	ErrCodeStrategyRuntimeError ErrorCode = 402
	ErrCodeUnsupportedStrategy  ErrorCode = 403
	ErrCodeCatalogReadFailed    ErrorCode = 404
	ErrCodeCatalogWriteFailed   ErrorCode = 405

	// Trading errors (500-599)
	ErrCodeOrderFailed       ErrorCode = 500
	ErrCodeOrderNotFound     ErrorCode = 501
	ErrCodeInsufficientCash  ErrorCode = 502
	ErrCodeOrderInFlight     ErrorCode = 503
	ErrCodeSymbolOnHold      ErrorCode = 504
	ErrCodeInvariantViolated ErrorCode = 505

	// Session/Engine errors (600-699)
	ErrCodeEngineNotInitialized ErrorCode = 600
	ErrCodeEngineInitFailed     ErrorCode = 601
	ErrCodeSessionFailed        ErrorCode = 602
	ErrCodeScheduleFailed       ErrorCode = 603
	ErrCodeStopBudgetExceeded   ErrorCode = 604

	// Market data errors (700-799)
	ErrCodeMarketDataConnectFailed ErrorCode = 700
	ErrCodeMarketDataParseFailed   ErrorCode = 701
	ErrCodeMarketDataStale         ErrorCode = 702

	// Broker errors (800-899)
	ErrCodeBrokerUnauthorized     ErrorCode = 801
	ErrCodeBrokerNotFound         ErrorCode = 802
	ErrCodeBrokerBadRequest       ErrorCode = 803
	ErrCodeBrokerRateLimited      ErrorCode = 804
	ErrCodeBrokerServerError      ErrorCode = 805
	ErrCodeBrokerAssetNotFound    ErrorCode = 806
	ErrCodeBrokerPositionNotFound ErrorCode = 807
	ErrCodeBrokerTimeout          ErrorCode = 808
	ErrCodeBrokerStreamFailed     ErrorCode = 809

	// Control errors (900-999)
	ErrCodeLockHeld       ErrorCode = 900
	ErrCodeControlFailed  ErrorCode = 901
	ErrCodeInvalidToken   ErrorCode = 902
	ErrCodeCallbackFailed ErrorCode = 903
)
