package errors

// ErrorCode represents a unique error identifier
type ErrorCode int

// Error code ranges allocation:
// 10000-10999: System & Common errors
// 12000-12999: Fixture & data errors
// 13000-13999: Run & Judge module errors

const (
	// ========== System & Common Errors (10000-10999) ==========

	// Success
	Success ErrorCode = 10000

	// Generic errors (10000-10099)
	InternalServerError ErrorCode = 10001
	InvalidParams       ErrorCode = 10002
	NotFound            ErrorCode = 10003
	TooManyRequests     ErrorCode = 10006
	ServiceUnavailable  ErrorCode = 10007
	Timeout             ErrorCode = 10008

	// Cache errors (10200-10299)
	CacheError     ErrorCode = 10200
	CacheMiss      ErrorCode = 10201
	CacheSetFailed ErrorCode = 10202

	// Validation errors (10300-10399)
	ValidationFailed   ErrorCode = 10300
	InvalidFormat      ErrorCode = 10301
	InvalidValue       ErrorCode = 10302
	RequiredFieldEmpty ErrorCode = 10303

	// ========== Fixture Errors (12000-12999) ==========

	// Test cases (12100-12199)
	FixtureNotFound     ErrorCode = 12100
	FixtureFetchFailed  ErrorCode = 12101
	TestCaseInvalid     ErrorCode = 12102
	FixtureDecodeFailed ErrorCode = 12103
	ManifestLoadFailed  ErrorCode = 12104

	// ========== Run & Judge Module Errors (13000-13999) ==========

	// Run (13000-13099)
	RunNotFound ErrorCode = 13000

	// Judge (13100-13199)
	JudgeQueueFull     ErrorCode = 13100
	JudgeSystemError   ErrorCode = 13101
	CompilationError   ErrorCode = 13102
	ProcessStartFailed ErrorCode = 13107
	WatcherBusy        ErrorCode = 13108

	// Checker (13300-13399)
	CheckerNotFound   ErrorCode = 13300
	CheckerLoadFailed ErrorCode = 13301
	CheckerFailed     ErrorCode = 13302

	// Events (13400-13499)
	EventPublishFailed ErrorCode = 13400
)

// errorMessages maps error codes to their default English messages
var errorMessages = map[ErrorCode]string{
	// System & Common
	Success:             "Success",
	InternalServerError: "Internal server error",
	InvalidParams:       "Invalid parameters",
	NotFound:            "Resource not found",
	TooManyRequests:     "Too many requests, please try again later",
	ServiceUnavailable:  "Service temporarily unavailable",
	Timeout:             "Request timeout",

	// Cache
	CacheError:     "Cache operation failed",
	CacheMiss:      "Cache miss",
	CacheSetFailed: "Failed to set cache",

	// Validation
	ValidationFailed:   "Validation failed",
	InvalidFormat:      "Invalid format",
	InvalidValue:       "Invalid value",
	RequiredFieldEmpty: "Required field is empty",

	// Fixtures
	FixtureNotFound:     "Fixture not found",
	FixtureFetchFailed:  "Failed to fetch fixture",
	TestCaseInvalid:     "Invalid test case format",
	FixtureDecodeFailed: "Failed to decode fixture",
	ManifestLoadFailed:  "Failed to load manifest",

	// Run
	RunNotFound: "Run not found",

	// Judge
	JudgeQueueFull:     "Judge queue is full, please try again later",
	JudgeSystemError:   "Judge system error",
	CompilationError:   "Compilation error",
	ProcessStartFailed: "Failed to start process",
	WatcherBusy:        "Memory watcher is already running",

	// Checker
	CheckerNotFound:   "Checker not found",
	CheckerLoadFailed: "Failed to load checker",
	CheckerFailed:     "Checker failed",

	// Events
	EventPublishFailed: "Failed to publish event",
}

// Message returns the default message for the error code
func (c ErrorCode) Message() string {
	if msg, ok := errorMessages[c]; ok {
		return msg
	}
	return "Unknown error"
}

// HTTPStatus returns the recommended HTTP status code for the error code
func (c ErrorCode) HTTPStatus() int {
	switch {
	case c == Success:
		return 200
	case c == NotFound, c == RunNotFound, c == FixtureNotFound, c == CheckerNotFound:
		return 404
	case c == TooManyRequests, c == JudgeQueueFull:
		return 429
	case c == ServiceUnavailable:
		return 503
	case c == Timeout:
		return 504
	case c >= 10300 && c < 10400: // Validation errors
		return 400
	case c == InvalidParams, c == TestCaseInvalid, c == CompilationError:
		return 400
	default:
		return 500
	}
}
