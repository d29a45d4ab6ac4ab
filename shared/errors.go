package shared

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrorCategory classifies pipeline failures. Network and parse errors are
// always absorbed by the component that raised them and become empty or
// partial results; configuration errors are the only category allowed to
// abort startup.
type ErrorCategory string

const (
	ErrorCategoryNetwork       ErrorCategory = "network"
	ErrorCategoryParse         ErrorCategory = "parse"
	ErrorCategoryConfiguration ErrorCategory = "configuration"
	ErrorCategoryTimeout       ErrorCategory = "timeout"
	ErrorCategoryDatabase      ErrorCategory = "database"
)

// ServiceError carries category and origin context alongside the message.
type ServiceError struct {
	Category    ErrorCategory `json:"category"`
	Code        string        `json:"code"`
	Message     string        `json:"message"`
	Timestamp   time.Time     `json:"timestamp"`
	ServiceName string        `json:"service_name"`
	Operation   string        `json:"operation"`
	Cause       error         `json:"-"`
}

// Error implements the error interface
func (e *ServiceError) Error() string {
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *ServiceError) Unwrap() error {
	return e.Cause
}

// NewServiceError creates a new service error
func NewServiceError(category ErrorCategory, code, message, serviceName, operation string, cause error) *ServiceError {
	return &ServiceError{
		Category:    category,
		Code:        code,
		Message:     message,
		Timestamp:   time.Now(),
		ServiceName: serviceName,
		Operation:   operation,
		Cause:       cause,
	}
}

// NewNetworkError wraps an unreachable-endpoint or timeout failure.
func NewNetworkError(serviceName, operation string, cause error) *ServiceError {
	message := "network request failed"
	if cause != nil {
		message = cause.Error()
	}
	return NewServiceError(ErrorCategoryNetwork, "NETWORK_FAILURE", message, serviceName, operation, cause)
}

// NewParseError wraps an unrecognized page or document structure.
func NewParseError(serviceName, operation, message string, cause error) *ServiceError {
	return NewServiceError(ErrorCategoryParse, "UNRECOGNIZED_STRUCTURE", message, serviceName, operation, cause)
}

// NewConfigError wraps a malformed configuration input. Fatal at startup.
func NewConfigError(operation, message string, cause error) *ServiceError {
	return NewServiceError(ErrorCategoryConfiguration, "INVALID_CONFIG", message, "Config", operation, cause)
}

// IsFatal reports whether the error must abort startup rather than degrade.
func IsFatal(err error) bool {
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr.Category == ErrorCategoryConfiguration
	}
	return false
}

// LogError logs the error with structured fields
func (e *ServiceError) LogError() {
	logrus.WithFields(logrus.Fields{
		"error_category":   e.Category,
		"error_code":       e.Code,
		"error_message":    e.Message,
		"service_name":     e.ServiceName,
		"operation":        e.Operation,
		"underlying_error": e.Cause,
	}).Error("Service error occurred")
}

// LogDegraded records an absorbed failure at warn level. Used where a
// component converts an error into an empty result instead of returning it.
func LogDegraded(serviceName, operation string, err error) {
	logrus.WithFields(logrus.Fields{
		"service_name": serviceName,
		"operation":    operation,
		"error":        err,
	}).Warn("Degrading to empty result after absorbed failure")
}

// WrapError wraps an existing error with service error context
func WrapError(err error, category ErrorCategory, code, serviceName, operation string) *ServiceError {
	if err == nil {
		return nil
	}
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		serviceErr.ServiceName = serviceName
		serviceErr.Operation = operation
		return serviceErr
	}
	return NewServiceError(category, code, err.Error(), serviceName, operation, err)
}

// IsNetworkError reports whether an error looks like a transport failure,
// including plain errors bubbled up from net/http.
func IsNetworkError(err error) bool {
	if err == nil {
		return false
	}
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr.Category == ErrorCategoryNetwork || serviceErr.Category == ErrorCategoryTimeout
	}

	errorMsg := strings.ToLower(err.Error())
	networkPatterns := []string{
		"timeout", "connection refused", "connection reset",
		"temporary failure", "service unavailable", "too many requests",
		"network", "dns", "socket", "deadline exceeded",
	}
	for _, pattern := range networkPatterns {
		if strings.Contains(errorMsg, pattern) {
			return true
		}
	}
	return false
}
