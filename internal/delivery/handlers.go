package delivery

import (
	"net/http"
	"strconv"

	"github.com/Vovarama1992/alphasnap/internal/convert"
	"github.com/Vovarama1992/alphasnap/internal/quota"
	json "github.com/goccy/go-json"
)

type quotaView struct {
	Count        int    `json:"count"`
	Limit        int    `json:"limit"`
	Remaining    int    `json:"remaining"`
	Unlimited    bool   `json:"unlimited"`
	LimitReached bool   `json:"limit_reached"`
	Message      string `json:"message"`
}

func newQuotaView(st quota.Status) quotaView {
	v := quotaView{
		Count:        st.Count,
		Limit:        st.Limit,
		Remaining:    st.Remaining,
		Unlimited:    st.Unlimited,
		LimitReached: st.LimitReached(),
	}
	switch {
	case st.Unlimited:
		v.Message = "Безлимитный доступ."
	case v.LimitReached:
		v.Message = "Дневной лимит исчерпан."
	default:
		v.Message = "Осталось конвертаций сегодня: " + strconv.Itoa(st.Remaining)
	}
	return v
}

type errorBody struct {
	Status  convert.Status `json:"status"`
	Code    convert.Code   `json:"code"`
	Message string         `json:"message"`
	Quota   *quotaView     `json:"quota,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// httpStatus maps a result code to the response status.
func httpStatus(code convert.Code) int {
	switch code {
	case convert.CodeNone:
		return http.StatusOK
	case convert.CodeQuotaDenied:
		return http.StatusTooManyRequests
	case convert.CodeAuthorizationFailed:
		return http.StatusUnauthorized
	case convert.CodeUnlockUnavailable:
		return http.StatusServiceUnavailable
	case convert.CodeUnsupportedInput:
		return http.StatusBadRequest
	case convert.CodeJobFailed:
		return http.StatusUnprocessableEntity
	case convert.CodeCancelled:
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}
