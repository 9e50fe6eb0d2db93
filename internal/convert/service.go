package convert

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Vovarama1992/alphasnap/internal/archive"
	"github.com/Vovarama1992/alphasnap/internal/pdf"
	"github.com/Vovarama1992/alphasnap/internal/quota"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

type Service struct {
	gate      QuotaGate
	loader    DocumentLoader
	pipeline  DocumentConverter
	limits    Limits
	policy    CommitPolicy
	tmpDir    string
	sem       *semaphore.Weighted
	publisher archive.Publisher
	notifier  Notifier
	log       *zap.Logger
	now       func() time.Time
	newID     func() string
}

type Option func(*Service)

func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.log = l }
}

func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithPublisher switches delivery from an inline archive to an uploaded one.
func WithPublisher(p archive.Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

func WithCommitPolicy(p CommitPolicy) Option {
	return func(s *Service) { s.policy = p }
}

// WithMaxConcurrentJobs caps how many jobs run the page loop at once.
func WithMaxConcurrentJobs(n int64) Option {
	return func(s *Service) {
		if n > 0 {
			s.sem = semaphore.NewWeighted(n)
		}
	}
}

func WithTempDir(dir string) Option {
	return func(s *Service) { s.tmpDir = dir }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(gate QuotaGate, loader DocumentLoader, pipeline DocumentConverter, limits Limits, opts ...Option) *Service {
	s := &Service{
		gate:     gate,
		loader:   loader,
		pipeline: pipeline,
		limits:   limits,
		policy:   PerJob,
		log:      zap.NewNop(),
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, o := range opts {
		o(s)
	}
	if s.limits.DefaultDPI <= 0 {
		s.limits.DefaultDPI = 150
	}
	return s
}

// Convert runs one job to completion. The returned error, if any, is also
// reflected in Result.Status and Result.Code; Result is never nil.
func (s *Service) Convert(ctx context.Context, job Job) (*Result, error) {
	jobID := s.newID()
	log := s.log.With(zap.String("job_id", jobID), zap.String("identity", job.Identity))

	res, err := s.run(ctx, jobID, job, log)
	if res == nil {
		res = &Result{}
	}
	res.JobID = jobID
	res.Status, res.Code = codeOf(err)
	if err != nil {
		res.Message = userMessage(res.Code, err)
	}

	switch res.Code {
	case CodeNone:
		log.Info("job done",
			zap.Int("pages", res.Pages),
			zap.Int("failed_pages", res.FailedPages),
			zap.Bool("partial", res.Partial),
		)
	case CodeSystemError:
		log.Error("job failed", zap.Error(err))
		if s.notifier != nil {
			if nErr := s.notifier.Notify(context.WithoutCancel(ctx), jobID, err, "identity="+job.Identity); nErr != nil {
				log.Warn("notify failed", zap.Error(nErr))
			}
		}
	default:
		log.Info("job not done", zap.String("code", string(res.Code)), zap.Error(err))
	}

	if st, stErr := s.gate.Status(context.WithoutCancel(ctx), job.Identity); stErr == nil {
		res.Quota = st
	}
	return res, err
}

func (s *Service) run(ctx context.Context, jobID string, job Job, log *zap.Logger) (*Result, error) {
	res := &Result{}

	dpi, err := s.validate(job)
	if err != nil {
		return res, err
	}

	// неверный пароль важен только если лимит исчерпан
	var authErr error
	if job.Credential != "" {
		switch err := s.gate.Unlock(ctx, job.Identity, job.Credential); {
		case err == nil:
			res.Unlocked = true
		case errors.Is(err, quota.ErrUnauthorized):
			authErr = ErrAuthorizationFailed
		case errors.Is(err, quota.ErrUnlockUnavailable):
			authErr = ErrUnlockUnavailable
		default:
			return res, fmt.Errorf("%w: unlock: %v", ErrSystem, err)
		}
	}

	units := 1
	if s.policy == PerDocument {
		units = len(job.Documents)
	}
	adm, err := s.gate.CheckAndReserve(ctx, job.Identity, units)
	if err != nil {
		return res, fmt.Errorf("%w: reserve: %v", ErrSystem, err)
	}
	if !adm.Allowed {
		if authErr != nil {
			return res, authErr
		}
		return res, fmt.Errorf("%w: %d of %d used", ErrQuotaDenied, adm.Count, adm.Limit)
	}

	// освобождаем бронь на любом пути, кроме успешного commit
	reservation := adm.Reservation
	defer func() {
		if reservation == nil {
			return
		}
		if err := s.gate.Release(context.WithoutCancel(ctx), reservation); err != nil {
			log.Warn("release reservation", zap.Error(err))
		}
	}()

	if s.sem != nil {
		if err := s.sem.Acquire(ctx, 1); err != nil {
			return res, fmt.Errorf("%w: waiting for a slot: %v", ErrCancelled, err)
		}
		defer s.sem.Release(1)
	}

	w, err := archive.Open(s.tmpDir)
	if err != nil {
		return res, fmt.Errorf("%w: open archive: %v", ErrSystem, err)
	}
	defer w.Discard()

	okDocs, err := s.process(ctx, job, dpi, w, res, log)
	if err != nil {
		return res, err
	}
	if res.Pages == 0 {
		return res, ErrJobFailed
	}

	bundle, err := w.Finalize()
	if err != nil {
		return res, fmt.Errorf("%w: %v", ErrSystem, err)
	}
	log.Info("archive ready", zap.String("size", humanize.Bytes(uint64(bundle.Size))), zap.Int("entries", len(bundle.Entries)))

	if s.publisher != nil {
		url, exp, err := s.publisher.Publish(ctx, archive.ObjectKey(jobID, s.now()), bundle)
		bundle.Close()
		if err != nil {
			return res, fmt.Errorf("%w: publish: %v", ErrSystem, err)
		}
		res.URL, res.ExpiresAt = url, exp
	} else {
		res.Archive = bundle
	}

	committed := 1
	if s.policy == PerDocument {
		committed = okDocs
	}
	if err := s.gate.Commit(context.WithoutCancel(ctx), reservation, committed); err != nil {
		// архив уже готов, отдаём его; ошибку фиксируем в логе
		log.Error("commit quota", zap.Error(err))
	}
	reservation = nil

	res.Partial = res.FailedPages > 0 || len(res.FailedDocuments) > 0
	return res, nil
}

// validate checks the job before any quota or disk is touched and returns the effective DPI.
func (s *Service) validate(job Job) (int, error) {
	if job.Identity == "" {
		return 0, fmt.Errorf("%w: empty identity", ErrSystem)
	}
	if len(job.Documents) == 0 {
		return 0, fmt.Errorf("%w: no files selected", ErrUnsupportedInput)
	}
	if limit := s.limits.MaxDocumentsPerJob; limit > 0 && len(job.Documents) > limit {
		return 0, fmt.Errorf("%w: too many files (%d, max %d)", ErrUnsupportedInput, len(job.Documents), limit)
	}

	dpi := job.DPI
	if dpi == 0 {
		dpi = s.limits.DefaultDPI
	}
	if dpi < 0 || (s.limits.MaxDPI > 0 && dpi > s.limits.MaxDPI) {
		return 0, fmt.Errorf("%w: dpi must be between 1 and %d", ErrUnsupportedInput, s.limits.MaxDPI)
	}

	for _, src := range job.Documents {
		if err := pdf.Sniff(src); err != nil {
			if errors.Is(err, pdf.ErrUnsupportedInput) || errors.Is(err, pdf.ErrNoName) {
				return 0, fmt.Errorf("%w: %v", ErrUnsupportedInput, err)
			}
			return 0, fmt.Errorf("%w: %v", ErrSystem, err)
		}
	}
	return dpi, nil
}

// maxPages applies the lower cap at high resolutions.
func (s *Service) maxPages(dpi int) int {
	limit := s.limits.MaxPagesPerDocument
	if s.limits.HighDPIThreshold > 0 && dpi >= s.limits.HighDPIThreshold && s.limits.MaxPagesAtHighDPI > 0 {
		if limit <= 0 || s.limits.MaxPagesAtHighDPI < limit {
			limit = s.limits.MaxPagesAtHighDPI
		}
	}
	return limit
}

// process converts documents in submission order into w and returns how many produced pages.
func (s *Service) process(ctx context.Context, job Job, dpi int, w *archive.Writer, res *Result, log *zap.Logger) (int, error) {
	opts := pdf.Options{DPI: dpi, Transparent: job.Transparent, MaxPages: s.maxPages(dpi)}
	used := make(map[string]bool, len(job.Documents))
	okDocs := 0

	for _, src := range job.Documents {
		if err := ctx.Err(); err != nil {
			return okDocs, fmt.Errorf("%w: %v", ErrCancelled, err)
		}

		rep, err := s.processOne(ctx, src, opts, used, w)
		res.Pages += rep.Succeeded
		res.FailedPages += len(rep.Failed)

		switch {
		case err == nil:
			okDocs++
		case ctx.Err() != nil:
			return okDocs, fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
		case errors.Is(err, pdf.ErrDocumentRenderFailed), errors.Is(err, pdf.ErrUnsupportedInput):
			log.Warn("document skipped", zap.String("document", src.Name()), zap.Error(err))
			res.FailedDocuments = append(res.FailedDocuments, src.Name())
		default:
			return okDocs, fmt.Errorf("%w: %s: %v", ErrSystem, src.Name(), err)
		}
	}
	return okDocs, nil
}

func (s *Service) processOne(ctx context.Context, src pdf.Source, opts pdf.Options, used map[string]bool, w *archive.Writer) (pdf.Report, error) {
	doc, err := s.loader.Load(ctx, src)
	if err != nil {
		return pdf.Report{Document: src.Name()}, err
	}
	defer doc.Close()

	doc.Name = uniqueBase(used, doc.Name)
	return s.pipeline.ConvertDocument(ctx, doc, opts, w)
}

// uniqueBase returns base, or base-2, base-3, ... when base is already taken in this job.
func uniqueBase(used map[string]bool, base string) string {
	name := base
	for i := 2; used[name]; i++ {
		name = fmt.Sprintf("%s-%d", base, i)
	}
	used[name] = true
	return name
}
