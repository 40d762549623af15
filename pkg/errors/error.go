package errors

// ErrorCode represents a specific error code in the system.
type ErrorCode string

const (
	// GeneralInternalError represents a generic internal error.
	GeneralInternalError ErrorCode = "general_internal_error"
	// ConfigError represents an invalid or unparseable configuration.
	ConfigError ErrorCode = "config_error"

	// FramingError represents a fatal wire-framing violation: unknown message
	// type, declared length out of range, or payload size mismatched against
	// the message type. A framing error invalidates the connection.
	FramingError ErrorCode = "framing_error"
	// TransportError represents an unrecoverable transport failure or an
	// orderly close by the remote side.
	TransportError ErrorCode = "transport_error"
	// ReassemblyOverflowError represents a full reassembly buffer while more
	// bytes are pending. It indicates a permanently stalled applier.
	ReassemblyOverflowError ErrorCode = "reassembly_overflow_error"
	// ConnectError represents a failed connection attempt.
	ConnectError ErrorCode = "connect_error"

	// PublishError represents a failure publishing to a downstream channel.
	PublishError ErrorCode = "publish_error"
)

// Severity represents the severity level of an error.
type Severity string

const (
	// SeverityCritical indicates an error that requires immediate attention.
	SeverityCritical Severity = "critical"
	// SeverityHigh indicates an error that should be addressed promptly.
	SeverityHigh Severity = "high"
	// SeverityLow indicates an error that can be addressed at a later time.
	SeverityLow Severity = "low"
)
