// Package errors provides structured error handling for the compendium core.
package errors

import "google.golang.org/grpc/codes"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Schema and validation errors
	CodeValidationFailed Code = "VALIDATION_FAILED"
	CodeSchemaUnknown    Code = "SCHEMA_UNKNOWN"
	CodeFieldKindUnknown Code = "FIELD_KIND_UNKNOWN"

	// Compendium entry errors
	CodeNotFound      Code = "NOT_FOUND"
	CodeInvalidParent Code = "INVALID_PARENT"
	CodeDuplicateGUID Code = "DUPLICATE_GUID"
	CodeEntryRetired  Code = "ENTRY_RETIRED"

	// Concurrency errors
	CodeVersionConflict Code = "VERSION_CONFLICT"

	// Hierarchy errors
	CodeCycleDetected Code = "CYCLE_DETECTED"

	// Reference/snapshot errors
	CodeBrokenReference   Code = "BROKEN_REFERENCE"
	CodeReferenceNotFound Code = "REFERENCE_NOT_FOUND"
	CodeReferenceExists   Code = "REFERENCE_EXISTS"

	// Character errors
	CodeCharacterEmptyName Code = "CHARACTER_EMPTY_NAME"
)

// GRPCCode maps domain codes to gRPC status codes.
func (c Code) GRPCCode() codes.Code {
	switch c {
	// InvalidArgument - validation failures, bad input
	case CodeValidationFailed,
		CodeSchemaUnknown,
		CodeFieldKindUnknown,
		CodeInvalidParent,
		CodeCharacterEmptyName:
		return codes.InvalidArgument

	// FailedPrecondition - state doesn't allow operation
	case CodeEntryRetired,
		CodeBrokenReference,
		CodeReferenceExists:
		return codes.FailedPrecondition

	// Aborted - optimistic concurrency failure, caller retries with a fresh read
	case CodeVersionConflict:
		return codes.Aborted

	// NotFound - resource doesn't exist
	case CodeNotFound,
		CodeReferenceNotFound:
		return codes.NotFound

	// DataLoss - integrity violations that must never be papered over
	case CodeDuplicateGUID,
		CodeCycleDetected:
		return codes.DataLoss

	default:
		return codes.Internal
	}
}
