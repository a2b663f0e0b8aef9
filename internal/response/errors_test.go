package response

import (
	"errors"
	"net/http"
	"testing"
)

func TestCategoryOf(t *testing.T) {
	tests := []struct {
		code ErrCode
		want Category
	}{
		{ErrTokenExpired, CategoryAuthentication},
		{ErrParticipantBanned, CategoryAuthorization},
		{ErrEliminated, CategoryAuthorization},
		{ErrWrongState, CategoryValidation},
		{ErrDuplicateAnswer, CategoryConflict},
		{ErrNicknameTaken, CategoryConflict},
		{ErrJoinCodeInvalid, CategoryNotFound},
		{ErrSessionEnded, CategoryConflict},
		{ErrRateLimitExceeded, CategoryRateLimit},
		{ErrStorageUnavailable, CategoryServiceUnavailable},
		{ErrDBTimeout, CategoryTimeout},
		{ErrInternal, CategoryInternal},
		{ErrCode("SOMETHING_ELSE"), CategoryUnknown},
	}
	for _, tt := range tests {
		if got := CategoryOf(tt.code); got != tt.want {
			t.Fatalf("CategoryOf(%s) = %s, want %s", tt.code, got, tt.want)
		}
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		code ErrCode
		want int
	}{
		{ErrValidation, http.StatusBadRequest},
		{ErrTokenInvalid, http.StatusUnauthorized},
		{ErrEliminated, http.StatusForbidden},
		{ErrJoinCodeInvalid, http.StatusNotFound},
		{ErrDuplicateAnswer, http.StatusConflict},
		{ErrSessionEnded, http.StatusConflict},
		{ErrSessionExpired, http.StatusConflict},
		{ErrRateLimitExceeded, http.StatusTooManyRequests},
		{ErrStorageUnavailable, http.StatusServiceUnavailable},
		{ErrDBTimeout, http.StatusGatewayTimeout},
		{ErrInternal, http.StatusInternalServerError},
		{ErrCode("SOMETHING_ELSE"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := HTTPStatus(tt.code); got != tt.want {
			t.Fatalf("HTTPStatus(%s) = %d, want %d", tt.code, got, tt.want)
		}
	}
}

func TestAppErrorWrapping(t *testing.T) {
	cause := errors.New("redis: connection refused")
	app := NewAppError(ErrStorageUnavailable, cause).WithDetails("session %s", "sess-1")

	if !errors.Is(app, cause) {
		t.Fatal("AppError must wrap its cause")
	}
	if app.Details != "session sess-1" {
		t.Fatalf("details = %q", app.Details)
	}
	if app.Category() != CategoryServiceUnavailable {
		t.Fatalf("category = %s", app.Category())
	}
	if app.Message() == "" || app.Message() == app.Error() {
		t.Fatal("user-facing message must not expose internals")
	}
}

func TestAsAppError(t *testing.T) {
	app := NewAppError(ErrDuplicateAnswer, nil)
	wrapped := errors.Join(errors.New("outer"), app)
	if got := AsAppError(wrapped); got.Code != ErrDuplicateAnswer {
		t.Fatalf("code = %s, want DUPLICATE_ANSWER", got.Code)
	}

	plain := errors.New("something broke")
	if got := AsAppError(plain); got.Code != ErrInternal || !errors.Is(got, plain) {
		t.Fatalf("unclassified error mapped to %s", got.Code)
	}
}

func TestEveryCodeHasAMessage(t *testing.T) {
	codes := []ErrCode{
		ErrAuthFailed, ErrTokenRequired, ErrTokenInvalid, ErrTokenExpired,
		ErrForbidden, ErrControllerOnly, ErrParticipantBanned,
		ErrValidation, ErrInvalidID, ErrInvalidPayload, ErrNicknameInvalid, ErrNicknameTaken,
		ErrSessionNotFound, ErrSessionEnded, ErrSessionExpired, ErrStateConflict,
		ErrJoinCodeInvalid, ErrParticipantNotFound,
		ErrDuplicateAnswer, ErrWrongState, ErrEliminated,
		ErrRateLimitExceeded,
		ErrStorageUnavailable, ErrDBTimeout, ErrInternal,
	}
	fallback := GetMessage(ErrCode("SOMETHING_ELSE"))
	for _, code := range codes {
		if GetMessage(code) == fallback {
			t.Fatalf("code %s falls through to the default message", code)
		}
	}
}
