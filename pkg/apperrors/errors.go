// Package apperrors holds the error kinds shared by the sync stages.
//
// An UpstreamError aborts a run. A Warning is logged and the affected field is
// left unmerged. A WriteFailure is collected per person and never aborts the
// write-back sweep.
package apperrors

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// ErrNotFound is the sentinel every Warning unwraps to.
var ErrNotFound = errors.New("not found")

// UpstreamError reports a non-success status from a required call.
type UpstreamError struct {
	Op         string
	URL        string
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: %s returned %d %s", e.Op, e.URL, e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("%s: %s returned %d %s: %s", e.Op, e.URL, e.StatusCode, http.StatusText(e.StatusCode), e.Body)
}

// maxBody caps how much of an error response is kept on an UpstreamError.
const maxBody = 2048

// FromResponse builds an UpstreamError from resp, reading at most a few
// kilobytes of its body. The caller still owns and closes resp.Body.
func FromResponse(op string, resp *http.Response) *UpstreamError {
	respBytes, _ := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	u := ""
	if resp.Request != nil && resp.Request.URL != nil {
		u = RedactURL(resp.Request.URL.String())
	}
	return &UpstreamError{
		Op:         op,
		URL:        u,
		StatusCode: resp.StatusCode,
		Body:       string(respBytes),
	}
}

// RedactURL masks an apiKey query parameter and any userinfo password in raw.
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	if q.Has("apiKey") {
		q.Set("apiKey", "REDACTED")
		u.RawQuery = q.Encode()
	}
	return u.Redacted()
}

// IsUpstream reports whether err carries an UpstreamError.
func IsUpstream(err error) bool {
	var ue *UpstreamError
	return errors.As(err, &ue)
}

// Kind classifies a Warning.
type Kind string

const (
	KindDocument    Kind = "document"
	KindPhoto       Kind = "photo"
	KindAssociation Kind = "association"
	KindEmail       Kind = "email"
	KindDownload    Kind = "download"
	KindIdentity    Kind = "identity"
	KindTruncation  Kind = "truncation"
)

// Warning is a non-fatal lookup miss. Key is the uuid, page id or url the
// miss relates to.
type Warning struct {
	Kind    Kind
	Key     string
	Message string
}

// NewWarning returns a Warning for kind and key.
func NewWarning(kind Kind, key, format string, args ...any) *Warning {
	return &Warning{Kind: kind, Key: key, Message: fmt.Sprintf(format, args...)}
}

func (w *Warning) Error() string {
	return fmt.Sprintf("%s %s: %s", w.Kind, w.Key, w.Message)
}

func (w *Warning) Unwrap() error { return ErrNotFound }

// WriteFailure records a failed write-back for one person.
type WriteFailure struct {
	UUID string
	Err  error
}

func (f *WriteFailure) Error() string {
	return fmt.Sprintf("write person %s: %v", f.UUID, f.Err)
}

func (f *WriteFailure) Unwrap() error { return f.Err }
