package errors

// ErrorCode represents a unique error code for identifying different error types.
type ErrorCode int

const (
	// General errors (1-99)
	ErrCodeUnknown ErrorCode = 1

	// Validation errors (100-199)
	ErrCodeInvalidParameter        ErrorCode = 100
	ErrCodeInvalidConfiguration    ErrorCode = 101
	ErrCodeInvalidOrder            ErrorCode = 105
	ErrCodeInvalidVersion          ErrorCode = 110
	ErrCodeUnknownInstrument       ErrorCode = 120
	ErrCodeUnknownPriceReference   ErrorCode = 121
	ErrCodeInvalidLotSize          ErrorCode = 122
	ErrCodeInvalidStatusTransition ErrorCode = 123
	ErrCodeInvalidBatch            ErrorCode = 124

	// Data/Feed errors (200-299)
	ErrCodeDataNotFound          ErrorCode = 200
	ErrCodeDataSourceUnavailable ErrorCode = 201
	ErrCodeQueryFailed           ErrorCode = 202
	ErrCodeOrderingViolation     ErrorCode = 210
	ErrCodeFeedStalled           ErrorCode = 211
	ErrCodeQueueClosed           ErrorCode = 212

	// Decision errors (400-499)
	ErrCodeStrategyRuntimeError ErrorCode = 402
	ErrCodeVersionMismatch      ErrorCode = 404

	// Trading errors (500-599)
	ErrCodeOrderFailed            ErrorCode = 500
	ErrCodePositionNotFound       ErrorCode = 501
	ErrCodeMarketDataMissing      ErrorCode = 502
	ErrCodeInsufficientFunds      ErrorCode = 503
	ErrCodePositionLimitExceeded  ErrorCode = 504
	ErrCodeOrderNotFound          ErrorCode = 505
	ErrCodeOrderNotCancellable    ErrorCode = 506
	ErrCodeVenueError             ErrorCode = 507
	ErrCodeLedgerCorrupted        ErrorCode = 508
	ErrCodeDuplicateOrder         ErrorCode = 509
	ErrCodeShortingNotAllowed     ErrorCode = 510
	ErrCodeCurrencyNotConvertible ErrorCode = 511

	// Run errors (600-699)
	ErrCodeRunStateNil     ErrorCode = 600
	ErrCodeRunInitFailed   ErrorCode = 601
	ErrCodeRunConfigError  ErrorCode = 602
	ErrCodeRunStopped      ErrorCode = 603
	ErrCodeRunNoDatasource ErrorCode = 608
	ErrCodeRunNoStrategy   ErrorCode = 609
	ErrCodeRunNoVenue      ErrorCode = 610

	// Callback errors (800-899)
	ErrCodeCallbackFailed ErrorCode = 800
)
