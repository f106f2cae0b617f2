package thttp

import (
	"io"
	"net/http"

	"github.com/felixge/httpsnoop"
)

// CaptureStatus wraps a http.ResponseWriter to capture the response status code.
// The status code will be written into *status.
//
// The returned ResponseWriter implements the same optional interfaces as the
// original one: http.Hijacker, http.Flusher and others.
func CaptureStatus(w http.ResponseWriter, status *int) http.ResponseWriter {
	started := func() {
		if *status == 0 {
			*status = http.StatusOK
		}
	}
	return httpsnoop.Wrap(w, httpsnoop.Hooks{
		WriteHeader: func(next httpsnoop.WriteHeaderFunc) httpsnoop.WriteHeaderFunc {
			return func(code int) {
				*status = code
				next(code)
			}
		},
		Write: func(next httpsnoop.WriteFunc) httpsnoop.WriteFunc {
			return func(b []byte) (int, error) {
				started()
				return next(b)
			}
		},
		ReadFrom: func(next httpsnoop.ReadFromFunc) httpsnoop.ReadFromFunc {
			return func(src io.Reader) (int64, error) {
				started()
				return next(src)
			}
		},
	})
}
