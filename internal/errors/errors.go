package errors

import (
	"errors"
)

// UserError represents an error with both technical and user-friendly messages
type UserError struct {
	Err       error
	UserMsg   string
	Retryable bool
}

func (e *UserError) Error() string {
	return e.Err.Error()
}

func (e *UserError) Unwrap() error {
	return e.Err
}

// Predefined errors
var (
	ErrDepositInProgress = &UserError{
		Err:       errors.New("deposit flow already in progress"),
		UserMsg:   "У вас уже есть активная заявка на пополнение. Дождитесь её завершения или отмените.",
		Retryable: false,
	}

	ErrNoActiveRequisite = &UserError{
		Err:       errors.New("no active requisite configured"),
		UserMsg:   "Приём платежей временно недоступен. Попробуйте позже.",
		Retryable: true,
	}

	ErrUnknownBookmaker = &UserError{
		Err:       errors.New("unknown bookmaker"),
		UserMsg:   "Неизвестный букмекер. Доступны: 1xbet, melbet, mostbet, 1win, winwin.",
		Retryable: false,
	}

	ErrBadAmount = &UserError{
		Err:       errors.New("invalid amount"),
		UserMsg:   "Неверная сумма. Укажите число, например 500 или 500.50.",
		Retryable: false,
	}

	ErrNoPendingRequest = &UserError{
		Err:       errors.New("no pending request"),
		UserMsg:   "У вас нет активной заявки. Начните с команды /deposit.",
		Retryable: false,
	}

	ErrUnauthorized = &UserError{
		Err:       errors.New("unauthorized admin action"),
		UserMsg:   "Это действие доступно только администраторам.",
		Retryable: false,
	}
)

// Wrap wraps a technical error with a user message
func Wrap(err error, userMsg string, retryable bool) *UserError {
	return &UserError{
		Err:       err,
		UserMsg:   userMsg,
		Retryable: retryable,
	}
}

// GetUserMessage extracts user-friendly message from error
func GetUserMessage(err error) string {
	var userErr *UserError
	if errors.As(err, &userErr) {
		return userErr.UserMsg
	}
	// Default message for unexpected errors
	return "Произошла ошибка. Попробуйте позже."
}

// IsRetryable checks if an error can be retried
func IsRetryable(err error) bool {
	var userErr *UserError
	if errors.As(err, &userErr) {
		return userErr.Retryable
	}
	return false
}
