package delivery

import (
	"net/http"
	"time"

	"github.com/Vovarama1992/go-utils/httputil"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
)

func RegisterRoutes(
	r chi.Router,
	hQuota *QuotaHandler,
	hConvert *ConvertHandler,
	convertPerMinute int,
) {
	r.With(httputil.RecoverMiddleware).Get("/ping", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("pong"))
	})

	r.Route("/api", func(pr chi.Router) {
		pr.Use(
			httputil.RecoverMiddleware,
			IdentityMiddleware,
		)

		// --- лимиты ---
		pr.Get("/status", hQuota.Status)
		pr.Post("/unlock", hQuota.Unlock)

		// --- конвертация ---
		convert := pr.With()
		if convertPerMinute > 0 {
			convert = pr.With(httprate.LimitByIP(convertPerMinute, time.Minute))
		}
		convert.Post("/convert", hConvert.Convert)
	})
}
