package error_notificator

import (
	"context"
	"errors"
)

// Service fans a report out to every configured channel.
type Service struct {
	infras []Notificator
}

func NewService(infras ...Notificator) *Service {
	return &Service{infras: infras}
}

func (s *Service) Notify(ctx context.Context, jobID string, err error, details string) error {
	var errs []error
	for _, n := range s.infras {
		if nErr := n.Notify(ctx, jobID, err, details); nErr != nil {
			errs = append(errs, nErr)
		}
	}
	return errors.Join(errs...)
}
