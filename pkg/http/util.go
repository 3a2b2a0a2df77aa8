package http

import (
	"fmt"
	"net/http"
	"time"

	xutil "FinAlloc/pkg/util"
)

// ParseDateDefault parses a YYYY-MM-DD (or RFC3339/unix) query value or returns def when empty.
func ParseDateDefault(field, s string, def time.Time) (time.Time, *AppError) {
	if s == "" {
		return def, nil
	}
	t, ok := xutil.ParseTime(s)
	if !ok {
		return time.Time{}, NewAppError("ERR_DATE", field, fmt.Sprintf("%s must be a date (YYYY-MM-DD)", field), http.StatusBadRequest).
			WithParam("value", s)
	}
	return xutil.StartOfDay(t), nil
}
