package middleware

import (
	"fmt"
	"net/http"

	"github.com/getsentry/sentry-go"
)

// Sentry creates a transaction for each HTTP request and captures panics and
// 5xx responses. Pipeline spans opened by handlers become children of the
// transaction. It is a no-op pass-through when Sentry is not initialized.
func Sentry(indexName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hub := sentry.GetHubFromContext(r.Context())
			if hub == nil {
				hub = sentry.CurrentHub().Clone()
			}

			options := []sentry.SpanOption{
				sentry.WithOpName("http.server"),
				sentry.WithTransactionSource(sentry.SourceRoute),
			}
			if sentryTrace := r.Header.Get("sentry-trace"); sentryTrace != "" {
				options = append(options, sentry.ContinueFromHeaders(sentryTrace, r.Header.Get("baggage")))
			}

			transaction := sentry.StartTransaction(r.Context(), fmt.Sprintf("%s %s", r.Method, r.URL.Path), options...)
			defer transaction.Finish()

			ctx := sentry.SetHubOnContext(transaction.Context(), hub)
			r = r.WithContext(ctx)

			hub.Scope().SetContext("request", map[string]interface{}{
				"method":      r.Method,
				"path":        r.URL.Path,
				"remote_addr": r.RemoteAddr,
			})
			if indexName != "" {
				hub.Scope().SetTag("index_name", indexName)
				transaction.SetTag("index_name", indexName)
			}
			if requestID := GetRequestID(r.Context()); requestID != "" {
				hub.Scope().SetTag("request_id", requestID)
				transaction.SetTag("request_id", requestID)
			}

			defer func() {
				if err := recover(); err != nil {
					transaction.Status = sentry.SpanStatusInternalError
					hub.RecoverWithContext(r.Context(), err)
					panic(err)
				}
			}()

			rec := &responseRecorder{ResponseWriter: w}
			next.ServeHTTP(rec, r)

			status := rec.status
			if status == 0 {
				status = http.StatusOK
			}
			transaction.Status = httpStatusToSpanStatus(status)
			transaction.SetData("http.response.status_code", status)

			if status >= 500 {
				hub.CaptureMessage(fmt.Sprintf("HTTP %d: %s %s", status, r.Method, r.URL.Path))
			}
		})
	}
}

// httpStatusToSpanStatus converts HTTP status code to Sentry span status.
func httpStatusToSpanStatus(status int) sentry.SpanStatus {
	switch {
	case status >= 200 && status < 300:
		return sentry.SpanStatusOK
	case status == http.StatusBadRequest:
		return sentry.SpanStatusInvalidArgument
	case status == http.StatusNotFound:
		return sentry.SpanStatusNotFound
	case status == http.StatusRequestEntityTooLarge:
		return sentry.SpanStatusOutOfRange
	case status == http.StatusUnprocessableEntity:
		return sentry.SpanStatusFailedPrecondition
	case status == 499:
		return sentry.SpanStatusCanceled
	case status >= 400 && status < 500:
		return sentry.SpanStatusInvalidArgument
	case status == http.StatusBadGateway:
		return sentry.SpanStatusUnavailable
	case status == http.StatusServiceUnavailable:
		return sentry.SpanStatusUnavailable
	case status == http.StatusGatewayTimeout:
		return sentry.SpanStatusDeadlineExceeded
	case status >= 500:
		return sentry.SpanStatusInternalError
	default:
		return sentry.SpanStatusUnknown
	}
}
