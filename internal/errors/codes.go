package errors

const (
	// System errors
	ErrInternal        ErrorCode = "internal_error"
	ErrInvalidArgument ErrorCode = "invalid_argument"
	ErrTimeout         ErrorCode = "operation_timeout"
	ErrAlreadyRunning  ErrorCode = "already_running"

	// Configuration errors
	ErrInvalidConfig    ErrorCode = "invalid_configuration"
	ErrBindFlags        ErrorCode = "bind_flags_failed"
	ErrReadConfig       ErrorCode = "read_config_failed"
	ErrInvalidInterval  ErrorCode = "invalid_interval"
	ErrInvalidThreshold ErrorCode = "invalid_threshold"
	ErrInvalidTimeout   ErrorCode = "invalid_timeout"

	// Logging errors
	ErrInvalidLogLevel ErrorCode = "invalid_log_level"

	// Telemetry errors
	ErrSourceUnavailable ErrorCode = "telemetry_source_unavailable"
	ErrParseFailed       ErrorCode = "telemetry_parse_failed"
	ErrCommandFailed     ErrorCode = "telemetry_command_failed"

	// Estimation errors
	ErrTotalUnknown ErrorCode = "battery_total_unknown"

	// Presentation errors
	ErrSinkUpdate  ErrorCode = "display_sink_update_failed"
	ErrServeStatus ErrorCode = "display_serve_failed"
)

var errorMessages = map[ErrorCode]string{
	ErrInternal:          "Internal error occurred",
	ErrInvalidArgument:   "Invalid argument provided",
	ErrTimeout:           "Operation timed out",
	ErrAlreadyRunning:    "Another instance is already running",
	ErrInvalidConfig:     "Invalid configuration",
	ErrBindFlags:         "Failed to bind flags",
	ErrReadConfig:        "Failed to read configuration",
	ErrInvalidInterval:   "Invalid interval value",
	ErrInvalidThreshold:  "Invalid fast charge threshold",
	ErrInvalidTimeout:    "Invalid command timeout",
	ErrInvalidLogLevel:   "Invalid log level",
	ErrSourceUnavailable: "Telemetry source unavailable",
	ErrParseFailed:       "Telemetry value is not numeric",
	ErrCommandFailed:     "Diagnostic command failed",
	ErrTotalUnknown:      "Battery percentage could not be determined",
	ErrSinkUpdate:        "Failed to update display sink",
	ErrServeStatus:       "Status server failed",
}

// GetErrorMessage returns the message for a given error code
func GetErrorMessage(code ErrorCode) string {
	if msg, ok := errorMessages[code]; ok {
		return msg
	}

	return string(code)
}
