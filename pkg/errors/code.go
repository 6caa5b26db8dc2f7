package errors

import "net/http"

// ErrorCode represents a unique error identifier
type ErrorCode int

// Error code ranges allocation:
// 10000-10999: System & Common errors
// 12000-12999: Task catalog errors
// 13000-13999: Solution & Judge errors
// 14000-14999: Progress & Recommendation errors

const (
	// ========== System & Common Errors (10000-10999) ==========

	Success ErrorCode = 10000

	// Generic errors (10000-10099)
	InternalServerError ErrorCode = 10001
	InvalidParams       ErrorCode = 10002
	NotFound            ErrorCode = 10003
	Unauthorized        ErrorCode = 10004
	Forbidden           ErrorCode = 10005
	TooManyRequests     ErrorCode = 10006
	ServiceUnavailable  ErrorCode = 10007
	Timeout             ErrorCode = 10008

	// Database errors (10100-10199)
	DatabaseError       ErrorCode = 10100
	RecordNotFound      ErrorCode = 10101
	RecordAlreadyExists ErrorCode = 10102
	TransactionFailed   ErrorCode = 10103

	// Cache errors (10200-10299)
	CacheError ErrorCode = 10200

	// Validation errors (10300-10399)
	ValidationFailed ErrorCode = 10300
	InvalidFormat    ErrorCode = 10301
	InvalidValue     ErrorCode = 10302

	// Message bus errors (10400-10499)
	PublishFailed  ErrorCode = 10400
	InvalidMessage ErrorCode = 10401

	// ========== Task Catalog Errors (12000-12999) ==========

	TaskNotFound       ErrorCode = 12000
	TaskCatalogFailure ErrorCode = 12001
	TestCaseNotFound   ErrorCode = 12100

	// ========== Solution & Judge Errors (13000-13999) ==========

	// Solution (13000-13099)
	SubmissionNotFound     ErrorCode = 13000
	SubmissionCreateFailed ErrorCode = 13001
	CodeTooLarge           ErrorCode = 13002
	LanguageNotSupported   ErrorCode = 13003
	InvalidVerdict         ErrorCode = 13004

	// Judge (13100-13199)
	JudgeUnavailable ErrorCode = 13100
	JudgeSystemError ErrorCode = 13101
	JudgeBadResponse ErrorCode = 13102

	// ========== Progress Errors (14000-14999) ==========

	ProgressUpdateFailed ErrorCode = 14000
	RecommendationFailed ErrorCode = 14001
)

// errorMessages maps error codes to their default English messages
var errorMessages = map[ErrorCode]string{
	Success:             "Success",
	InternalServerError: "Internal server error",
	InvalidParams:       "Invalid parameters",
	NotFound:            "Resource not found",
	Unauthorized:        "Unauthorized access",
	Forbidden:           "Access forbidden",
	TooManyRequests:     "Too many requests, please try again later",
	ServiceUnavailable:  "Service temporarily unavailable",
	Timeout:             "Request timeout",

	DatabaseError:       "Database operation failed",
	RecordNotFound:      "Record not found in database",
	RecordAlreadyExists: "Record already exists",
	TransactionFailed:   "Database transaction failed",

	CacheError: "Cache operation failed",

	ValidationFailed: "Validation failed",
	InvalidFormat:    "Invalid format",
	InvalidValue:     "Invalid value",

	PublishFailed:  "Failed to publish message",
	InvalidMessage: "Invalid message payload",

	TaskNotFound:       "Task not found",
	TaskCatalogFailure: "Task catalog request failed",
	TestCaseNotFound:   "Test case not found",

	SubmissionNotFound:     "Submission not found",
	SubmissionCreateFailed: "Failed to create submission",
	CodeTooLarge:           "Code is too large",
	LanguageNotSupported:   "Programming language not supported",
	InvalidVerdict:         "Invalid verdict",

	JudgeUnavailable: "Execution service is temporarily unavailable",
	JudgeSystemError: "Judge system error",
	JudgeBadResponse: "Judge returned a malformed response",

	ProgressUpdateFailed: "Failed to update progress",
	RecommendationFailed: "Failed to build recommendations",
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
		return http.StatusOK
	case c == Unauthorized:
		return http.StatusUnauthorized
	case c == Forbidden:
		return http.StatusForbidden
	case c == NotFound, c == TaskNotFound, c == SubmissionNotFound, c == TestCaseNotFound:
		return http.StatusNotFound
	case c == TooManyRequests:
		return http.StatusTooManyRequests
	case c == ServiceUnavailable, c == JudgeUnavailable, c == TaskCatalogFailure:
		return http.StatusServiceUnavailable
	case c == Timeout:
		return http.StatusGatewayTimeout
	case c >= 10300 && c < 10400: // Validation errors
		return http.StatusBadRequest
	case c == InvalidParams, c == CodeTooLarge, c == LanguageNotSupported:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
