package convert

import (
	"context"
	"time"

	"github.com/Vovarama1992/alphasnap/internal/archive"
	"github.com/Vovarama1992/alphasnap/internal/pdf"
	"github.com/Vovarama1992/alphasnap/internal/quota"
)

// Job is one conversion request as handed over by the upload layer.
type Job struct {
	Identity    string
	Credential  string // пусто, если пароль не передан
	Documents   []pdf.Source
	DPI         int // 0 значит DefaultDPI
	Transparent bool
}

type Status string

const (
	StatusOK     Status = "ok"
	StatusDenied Status = "denied"
	StatusFailed Status = "failed"
)

// Code is the stable machine-readable reason of a non-ok result.
type Code string

const (
	CodeNone                Code = ""
	CodeQuotaDenied         Code = "quota_denied"
	CodeAuthorizationFailed Code = "authorization_failed"
	CodeUnlockUnavailable   Code = "unlock_unavailable"
	CodeUnsupportedInput    Code = "unsupported_input"
	CodeJobFailed           Code = "job_failed"
	CodeCancelled           Code = "cancelled"
	CodeSystemError         Code = "system_error"
)

// Result is what the response layer serialises.
// On StatusOK exactly one of Archive or URL is set; the caller owns Archive and must Close it.
type Result struct {
	JobID   string
	Status  Status
	Code    Code
	Message string
	Quota   quota.Status

	Archive   *archive.Bundle
	URL       string
	ExpiresAt time.Time

	Pages           int // страниц в архиве
	FailedPages     int
	FailedDocuments []string
	Partial         bool
	Unlocked        bool
}

// Limits are the page, document and resolution caps of a job.
type Limits struct {
	MaxPagesPerDocument int
	MaxPagesAtHighDPI   int
	HighDPIThreshold    int
	MaxDocumentsPerJob  int
	MaxDPI              int
	DefaultDPI          int
}

// CommitPolicy decides what one quota unit stands for.
type CommitPolicy string

const (
	PerJob      CommitPolicy = "job"
	PerDocument CommitPolicy = "document"
)

type QuotaGate interface {
	CheckAndReserve(ctx context.Context, identity string, units int) (quota.Admission, error)
	Commit(ctx context.Context, res *quota.Reservation, units int) error
	Release(ctx context.Context, res *quota.Reservation) error
	Unlock(ctx context.Context, identity, credential string) error
	Status(ctx context.Context, identity string) (quota.Status, error)
}

type DocumentLoader interface {
	Load(ctx context.Context, src pdf.Source) (*pdf.Document, error)
}

type DocumentConverter interface {
	ConvertDocument(ctx context.Context, doc *pdf.Document, opts pdf.Options, sink pdf.Sink) (pdf.Report, error)
}

type Notifier interface {
	Notify(ctx context.Context, jobID string, err error, details string) error
}
