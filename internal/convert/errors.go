package convert

import (
	"errors"

	"github.com/Vovarama1992/alphasnap/internal/pdf"
)

var (
	ErrQuotaDenied         = errors.New("daily limit reached")
	ErrAuthorizationFailed = errors.New("wrong password")
	ErrUnlockUnavailable   = errors.New("unlock is not configured")
	ErrUnsupportedInput    = errors.New("unsupported input")
	ErrJobFailed           = errors.New("no page could be converted")
	ErrCancelled           = errors.New("job cancelled")
	ErrSystem              = errors.New("internal error")

	ErrPageRenderFailed     = pdf.ErrPageRenderFailed
	ErrDocumentRenderFailed = pdf.ErrDocumentRenderFailed
)

// codeOf maps a job error to its result code.
func codeOf(err error) (Status, Code) {
	switch {
	case err == nil:
		return StatusOK, CodeNone
	case errors.Is(err, ErrQuotaDenied):
		return StatusDenied, CodeQuotaDenied
	case errors.Is(err, ErrAuthorizationFailed):
		return StatusDenied, CodeAuthorizationFailed
	case errors.Is(err, ErrUnlockUnavailable):
		return StatusDenied, CodeUnlockUnavailable
	case errors.Is(err, ErrUnsupportedInput):
		return StatusFailed, CodeUnsupportedInput
	case errors.Is(err, ErrJobFailed):
		return StatusFailed, CodeJobFailed
	case errors.Is(err, ErrCancelled):
		return StatusFailed, CodeCancelled
	default:
		return StatusFailed, CodeSystemError
	}
}

// userMessage never exposes internal detail for system errors.
func userMessage(code Code, err error) string {
	switch code {
	case CodeQuotaDenied:
		return "Дневной лимит исчерпан. Введите пароль или попробуйте завтра."
	case CodeAuthorizationFailed:
		return "Неверный пароль."
	case CodeUnlockUnavailable:
		return "Разблокировка недоступна."
	case CodeUnsupportedInput:
		return err.Error()
	case CodeJobFailed:
		return "Не удалось конвертировать ни одной страницы."
	case CodeCancelled:
		return "Конвертация прервана."
	case CodeSystemError:
		return "Внутренняя ошибка сервера."
	}
	return ""
}
