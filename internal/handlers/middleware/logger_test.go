package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

type logCall struct {
	level string
	msg   string
	args  []any
}

type recordingLogger struct {
	calls []logCall
}

func (l *recordingLogger) Info(msg string, v ...any) {
	l.calls = append(l.calls, logCall{level: "info", msg: msg, args: v})
}

func (l *recordingLogger) Error(msg string, v ...any) {
	l.calls = append(l.calls, logCall{level: "error", msg: msg, args: v})
}

func TestLoggerMiddleware(t *testing.T) {
	serve := func(t *testing.T, h http.HandlerFunc, path string) (*recordingLogger, *http.Response, string) {
		l := &recordingLogger{}
		srv := httptest.NewServer(LoggerMiddleware(l)(h))
		defer srv.Close()

		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err, "should make request to test server")
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err, "should read response body")
		defer resp.Body.Close() // nolint:errcheck

		return l, resp, string(body)
	}

	t.Run("log request", func(t *testing.T) {
		l, resp, body := serve(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTeapot)
			_, err := w.Write([]byte("hi"))
			require.NoError(t, err, "should write response")
		}, "/test?secret=1")

		require.Equalf(t, http.StatusTeapot, resp.StatusCode, "should return status Teapot. Resp: %s", body)
		require.Equal(t, "hi", body, "should return 'hi' in response")

		require.Len(t, l.calls, 1, "logger should be called once")
		call := l.calls[0]
		require.Equal(t, "info", call.level)
		require.Equal(t, "got HTTP request", call.msg, "logger should log 'got HTTP request'")
		require.Len(t, call.args, 10, "logger should log 10 fields")
		require.Equal(t, "method", call.args[0])
		require.Equal(t, "GET", call.args[1])
		require.Equal(t, "uri", call.args[2])
		require.Equal(t, "/test", call.args[3], "query must not be logged")
		require.Equal(t, "duration", call.args[4])
		require.NotEmpty(t, call.args[5], "duration should not be empty")
		require.Equal(t, "status", call.args[6])
		require.Equal(t, http.StatusTeapot, call.args[7])
		require.Equal(t, "size", call.args[8])
		require.Equal(t, 2, call.args[9], "size should be 2 (length of 'hi')")
	})

	t.Run("server error logged as error", func(t *testing.T) {
		l, resp, _ := serve(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}, "/boom")

		require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
		require.Len(t, l.calls, 1)
		require.Equal(t, "error", l.calls[0].level)
	})

	t.Run("implicit ok status", func(t *testing.T) {
		l, resp, _ := serve(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("ok"))
		}, "/ok")

		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.Equal(t, http.StatusOK, l.calls[0].args[7])
	})
}
