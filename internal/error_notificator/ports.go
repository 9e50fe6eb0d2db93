package error_notificator

import "context"

type Notificator interface {
	// Notify сообщает о внутренней ошибке задачи. Детали уходят только на сервер и админу.
	Notify(ctx context.Context, jobID string, err error, details string) error
}
