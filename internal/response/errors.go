package response

// Category groups error codes for transport mapping and retry policy.
type Category string

const (
	CategoryDatabase           Category = "DATABASE"
	CategoryValidation         Category = "VALIDATION"
	CategoryAuthentication     Category = "AUTHENTICATION"
	CategoryAuthorization      Category = "AUTHORIZATION"
	CategoryRateLimit          Category = "RATE_LIMIT"
	CategoryNetwork            Category = "NETWORK"
	CategoryNotFound           Category = "NOT_FOUND"
	CategoryConflict           Category = "CONFLICT"
	CategoryInternal           Category = "INTERNAL"
	CategoryTimeout            Category = "TIMEOUT"
	CategoryServiceUnavailable Category = "SERVICE_UNAVAILABLE"
	CategoryUnknown            Category = "UNKNOWN"
)

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Authentication / authorization ────────────────────────────────
	ErrAuthFailed        ErrCode = "AUTH_FAILED"
	ErrTokenRequired     ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid      ErrCode = "TOKEN_INVALID"
	ErrTokenExpired      ErrCode = "TOKEN_EXPIRED"
	ErrForbidden         ErrCode = "FORBIDDEN"
	ErrControllerOnly    ErrCode = "CONTROLLER_ACCESS_ONLY"
	ErrParticipantBanned ErrCode = "PARTICIPANT_BANNED"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation      ErrCode = "VALIDATION_ERROR"
	ErrInvalidID       ErrCode = "INVALID_ID"
	ErrInvalidPayload  ErrCode = "INVALID_PAYLOAD"
	ErrNicknameInvalid ErrCode = "NICKNAME_INVALID"
	ErrNicknameTaken   ErrCode = "NICKNAME_TAKEN"

	// ─── Session lifecycle ─────────────────────────────────────────────
	ErrSessionNotFound     ErrCode = "SESSION_NOT_FOUND"
	ErrSessionEnded        ErrCode = "SESSION_ENDED"
	ErrSessionExpired      ErrCode = "SESSION_EXPIRED"
	ErrStateConflict       ErrCode = "STATE_CONFLICT"
	ErrJoinCodeInvalid     ErrCode = "JOIN_CODE_INVALID"
	ErrParticipantNotFound ErrCode = "PARTICIPANT_NOT_FOUND"

	// ─── Answer ingest ─────────────────────────────────────────────────
	ErrDuplicateAnswer ErrCode = "DUPLICATE_ANSWER"
	ErrWrongState      ErrCode = "WRONG_STATE"
	ErrEliminated      ErrCode = "ELIMINATED"

	// ─── Rate limiting ─────────────────────────────────────────────────
	ErrRateLimitExceeded ErrCode = "RATE_LIMIT_EXCEEDED"

	// ─── Infrastructure ────────────────────────────────────────────────
	ErrStorageUnavailable ErrCode = "STORAGE_UNAVAILABLE"
	ErrDBTimeout          ErrCode = "DB_TIMEOUT"
	ErrInternal           ErrCode = "INTERNAL_ERROR"
)

// CategoryOf maps an error code to its category.
func CategoryOf(code ErrCode) Category {
	switch code {
	case ErrAuthFailed, ErrTokenRequired, ErrTokenInvalid, ErrTokenExpired:
		return CategoryAuthentication
	case ErrForbidden, ErrControllerOnly, ErrParticipantBanned, ErrEliminated:
		return CategoryAuthorization
	case ErrValidation, ErrInvalidID, ErrInvalidPayload, ErrNicknameInvalid, ErrWrongState:
		return CategoryValidation
	case ErrNicknameTaken, ErrDuplicateAnswer, ErrStateConflict:
		return CategoryConflict
	case ErrSessionNotFound, ErrParticipantNotFound, ErrJoinCodeInvalid:
		return CategoryNotFound
	case ErrSessionEnded, ErrSessionExpired:
		return CategoryConflict
	case ErrRateLimitExceeded:
		return CategoryRateLimit
	case ErrStorageUnavailable:
		return CategoryServiceUnavailable
	case ErrDBTimeout:
		return CategoryTimeout
	case ErrInternal:
		return CategoryInternal
	default:
		return CategoryUnknown
	}
}

// GetMessage returns the user-facing message for a given error code.
// Messages never expose internals; developer context travels in
// AppError.Details and is stripped in release mode.
func GetMessage(code ErrCode) string {
	switch code {
	case ErrAuthFailed:
		return "Authentication failed."
	case ErrTokenRequired:
		return "An authentication token is required."
	case ErrTokenInvalid:
		return "The authentication token is not valid."
	case ErrTokenExpired:
		return "The authentication token has expired."
	case ErrForbidden:
		return "You do not have permission to perform this action."
	case ErrControllerOnly:
		return "This channel is restricted to session controllers."
	case ErrParticipantBanned:
		return "You have been banned from this session."
	case ErrValidation:
		return "Validation failed. Please check your input."
	case ErrInvalidID:
		return "Invalid identifier format."
	case ErrInvalidPayload:
		return "The request payload is not valid."
	case ErrNicknameInvalid:
		return "Nicknames are 1-24 letters, digits and spaces."
	case ErrNicknameTaken:
		return "That nickname is already taken in this session."
	case ErrSessionNotFound:
		return "Session not found."
	case ErrSessionEnded:
		return "This session has already ended."
	case ErrSessionExpired:
		return "Your session has expired. Please rejoin."
	case ErrStateConflict:
		return "The session state changed while handling your request."
	case ErrJoinCodeInvalid:
		return "That join code does not match a live session."
	case ErrParticipantNotFound:
		return "Participant not found in this session."
	case ErrDuplicateAnswer:
		return "You have already answered this question."
	case ErrWrongState:
		return "Answers are not being accepted right now."
	case ErrEliminated:
		return "You have been eliminated and can only spectate."
	case ErrRateLimitExceeded:
		return "Too many requests. Please try again later."
	case ErrStorageUnavailable:
		return "A backing service is temporarily unavailable."
	case ErrDBTimeout:
		return "The operation timed out."
	case ErrInternal:
		return "An internal server error occurred."
	default:
		return "An unexpected error occurred."
	}
}
