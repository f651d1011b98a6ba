// Package apperr описывает ошибки прикладного уровня: код, понятное
// пользователю сообщение и исходную причину.
package apperr

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rajivgeraev/barterkita-api/internal/store"
)

// Code классифицирует ошибку для транспорта и клиента
type Code string

const (
	CodeInvalidArgument  Code = "INVALID_ARGUMENT"
	CodeNotFound         Code = "NOT_FOUND"
	CodePermissionDenied Code = "PERMISSION_DENIED"
	CodeUnauthenticated  Code = "UNAUTHENTICATED"
	CodeAlreadyExists    Code = "ALREADY_EXISTS"
	CodeInternal         Code = "INTERNAL"
	CodePartialCascade   Code = "PARTIAL_CASCADE"
)

// AppError ошибка с кодом и сообщением для пользователя
type AppError struct {
	Code    Code
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error { return e.Cause }

// New создает ошибку с кодом
func New(code Code, message string) error {
	return &AppError{Code: code, Message: message}
}

// Wrap создает ошибку с кодом и причиной
func Wrap(code Code, message string, cause error) error {
	return &AppError{Code: code, Message: message, Cause: cause}
}

// Validation ошибка некорректного ввода (ValidationError)
func Validation(msg string) error {
	return New(CodeInvalidArgument, msg)
}

// NotFound ошибка отсутствующей записи (NotFoundError)
func NotFound(msg string) error {
	return New(CodeNotFound, msg)
}

// Forbidden ошибка прав доступа (AuthorizationError)
func Forbidden(msg string) error {
	return New(CodePermissionDenied, msg)
}

func Unauthenticated(msg string) error {
	return New(CodeUnauthenticated, msg)
}

func AlreadyExists(msg string) error {
	return New(CodeAlreadyExists, msg)
}

func Internal(msg string, cause error) error {
	return Wrap(CodeInternal, msg, cause)
}

// FromStore переводит ошибку хранилища в прикладную.
// store.ErrNotFound становится NotFound с сообщением notFound.
func FromStore(err error, notFound string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound):
		return Wrap(CodeNotFound, notFound, err)
	case errors.Is(err, store.ErrConflict):
		return Wrap(CodeAlreadyExists, "Запись уже существует", err)
	default:
		return Internal("Ошибка базы данных", err)
	}
}

// CodeOf возвращает код ошибки, CodeInternal для неизвестных ошибок
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var pce *PartialCascadeError
	if errors.As(err, &pce) {
		return CodePartialCascade
	}
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Code
	}
	return CodeInternal
}

// Is проверяет код ошибки
func Is(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// MessageOf возвращает сообщение, которое можно показать пользователю
func MessageOf(err error) string {
	var pce *PartialCascadeError
	if errors.As(err, &pce) {
		return pce.Error()
	}
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Message
	}
	return "Внутренняя ошибка сервера"
}

// StepError ошибка одного шага каскадного удаления
type StepError struct {
	Step string
	Err  error
}

// PartialCascadeError возникает, когда часть шагов каскада выполнена, а часть нет.
// Состояние не откатывается, повторный запуск каскада доводит его до конца.
type PartialCascadeError struct {
	Completed []string
	Failed    []StepError
}

func (e *PartialCascadeError) Error() string {
	steps := make([]string, 0, len(e.Failed))
	for _, f := range e.Failed {
		steps = append(steps, f.Step)
	}
	return fmt.Sprintf("Операция выполнена не полностью, повторите попытку (ошибки на шагах: %s)",
		strings.Join(steps, ", "))
}

// Unwrap отдает ошибки всех упавших шагов для errors.Is
func (e *PartialCascadeError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failed))
	for _, f := range e.Failed {
		errs = append(errs, f.Err)
	}
	return errs
}

// FailedSteps возвращает имена упавших шагов
func (e *PartialCascadeError) FailedSteps() []string {
	steps := make([]string, 0, len(e.Failed))
	for _, f := range e.Failed {
		steps = append(steps, f.Step)
	}
	return steps
}
