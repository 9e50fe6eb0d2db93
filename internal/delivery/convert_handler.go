package delivery

import (
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/Vovarama1992/alphasnap/internal/archive"
	"github.com/Vovarama1992/alphasnap/internal/convert"
	"github.com/Vovarama1992/alphasnap/internal/pdf"
	"github.com/Vovarama1992/go-utils/logger"
	"github.com/dustin/go-humanize"
)

// сколько multipart держать в памяти, остальное уходит во временные файлы
const formMemory = 32 << 20

type Converter interface {
	Convert(ctx context.Context, job convert.Job) (*convert.Result, error)
}

type ConvertHandler struct {
	svc       Converter
	maxUpload int64
	log       *logger.ZapLogger
}

func NewConvertHandler(svc Converter, maxUpload int64, log *logger.ZapLogger) *ConvertHandler {
	return &ConvertHandler{svc: svc, maxUpload: maxUpload, log: log}
}

// fileSource lets the orchestrator reopen an uploaded part as often as it needs.
type fileSource struct {
	h *multipart.FileHeader
}

func (s fileSource) Name() string { return s.h.Filename }

func (s fileSource) Open() (io.ReadCloser, error) { return s.h.Open() }

func (h *ConvertHandler) Convert(w http.ResponseWriter, r *http.Request) {
	if h.maxUpload > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	}
	if err := r.ParseMultipartForm(formMemory); err != nil {
		h.log.Log(logger.LogEntry{Level: "warn", Message: "invalid multipart", Error: err})
		msg := "Некорректная форма загрузки."
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			msg = "Файлы больше " + humanize.Bytes(uint64(h.maxUpload)) + "."
		}
		writeJSON(w, http.StatusBadRequest, errorBody{Status: convert.StatusFailed, Code: convert.CodeUnsupportedInput, Message: msg})
		return
	}
	defer r.MultipartForm.RemoveAll()

	job := convert.Job{
		Identity:   Identity(r.Context()),
		Credential: r.FormValue("password"),
	}
	for _, fh := range r.MultipartForm.File["files"] {
		job.Documents = append(job.Documents, fileSource{h: fh})
	}

	if v := r.FormValue("dpi"); v != "" {
		dpi, err := strconv.Atoi(v)
		if err != nil || dpi <= 0 {
			writeJSON(w, http.StatusBadRequest, errorBody{Status: convert.StatusFailed, Code: convert.CodeUnsupportedInput, Message: "Некорректное значение dpi."})
			return
		}
		job.DPI = dpi
	}
	job.Transparent = parseFlag(r.FormValue("transparent"))

	res, _ := h.svc.Convert(r.Context(), job)
	if res.Status != convert.StatusOK {
		body := errorBody{Status: res.Status, Code: res.Code, Message: res.Message}
		if res.Code == convert.CodeQuotaDenied || res.Code == convert.CodeAuthorizationFailed {
			view := newQuotaView(res.Quota)
			body.Quota = &view
		}
		writeJSON(w, httpStatus(res.Code), body)
		return
	}

	setResultHeaders(w, res)
	if res.Archive == nil {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":     res.Status,
			"url":        res.URL,
			"expires_at": res.ExpiresAt.Format(time.RFC3339),
			"pages":      res.Pages,
			"partial":    res.Partial,
		})
		return
	}
	defer res.Archive.Close()

	body, err := res.Archive.Reader()
	if err != nil {
		h.log.Log(logger.LogEntry{Level: "error", Message: "open archive", Error: err})
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename="`+archive.DownloadName+`"`)
	w.Header().Set("Content-Length", strconv.FormatInt(res.Archive.Size, 10))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		h.log.Log(logger.LogEntry{Level: "warn", Message: "send archive", Error: err})
	}
}

func setResultHeaders(w http.ResponseWriter, res *convert.Result) {
	w.Header().Set("X-Conversion-Status", string(res.Status))
	w.Header().Set("X-Pages-Converted", strconv.Itoa(res.Pages))
	w.Header().Set("X-Pages-Failed", strconv.Itoa(res.FailedPages))
	w.Header().Set("X-Partial", strconv.FormatBool(res.Partial))
	w.Header().Set("X-Job-Id", res.JobID)
}

func parseFlag(v string) bool {
	if v == "on" {
		return true
	}
	b, _ := strconv.ParseBool(v)
	return b
}

var _ pdf.Source = fileSource{}
