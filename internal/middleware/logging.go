package middleware

import (
	"bufio"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// StatusObserver はレスポンスのステータスコードを受け取る。metrics.Collectorが満たす。
type StatusObserver interface {
	RecordHTTPStatus(statusCode int)
}

// quietPaths はINFOでは記録しないパス。監視からの定期アクセスで埋まらないようにする。
var quietPaths = map[string]bool{
	"/health":  true,
	"/metrics": true,
}

// statusRecorder は最初に書き込まれたステータスコードを記録する。
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (sr *statusRecorder) record(code int) {
	if !sr.written {
		sr.statusCode = code
		sr.written = true
	}
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.record(code)
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	sr.record(http.StatusOK)
	return sr.ResponseWriter.Write(b)
}

// Hijack はWebSocketのアップグレードで下位の接続を引き渡す。
func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := sr.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	sr.record(http.StatusSwitchingProtocols)
	return h.Hijack()
}

// Unwrap はhttp.ResponseControllerのために元のResponseWriterを返す。
func (sr *statusRecorder) Unwrap() http.ResponseWriter {
	return sr.ResponseWriter
}

// levelForStatus はステータスコードに応じたログレベルを返す。
func levelForStatus(path string, status int) slog.Level {
	switch {
	case status >= 500:
		return slog.LevelError
	case status >= 400:
		return slog.LevelWarn
	case quietPaths[path]:
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}

// NewLoggingMiddleware はリクエストごとに "http_request" のJSONログを出力するミドルウェアを返す。
// method, path, status, duration_ms と、認証済みならuser_idを含む。
// observersには全レスポンスのステータスコードを通知する。
func NewLoggingMiddleware(logger *slog.Logger, observers ...StatusObserver) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rec, r)

			for _, o := range observers {
				o.RecordHTTPStatus(rec.statusCode)
			}

			attrs := []slog.Attr{
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", rec.statusCode),
				slog.Float64("duration_ms", float64(time.Since(start))/float64(time.Millisecond)),
			}
			if userID, err := UserIDFromContext(r.Context()); err == nil {
				attrs = append(attrs, slog.String("user_id", userID))
			}

			logger.LogAttrs(r.Context(), levelForStatus(r.URL.Path, rec.statusCode), "http_request", attrs...)
		})
	}
}
