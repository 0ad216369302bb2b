// Package classify maps HTTP outcomes onto the apierror taxonomy.
package classify

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/goliatone/go-apiaccess/pkg/apierror"
	"github.com/goliatone/go-apiaccess/pkg/retry"
)

// MaxBodyInMessage bounds how much of a failing body is copied into an error.
const MaxBodyInMessage = 2 << 10

// Result is either a success carrying a JSON payload or a failure carrying an
// access layer error. Exactly one of Payload and Err is meaningful.
type Result struct {
	Payload   json.RawMessage
	Status    int
	Attempts  int
	RequestID string
	Err       *apierror.Error
}

// Success builds a successful result.
func Success(payload json.RawMessage, status int) Result {
	return Result{Payload: payload, Status: status}
}

// Failure builds a failed result. Foreign errors are reported as response
// errors.
func Failure(err error) Result {
	if err == nil {
		err = apierror.New(apierror.KindResponse, "unknown failure")
	}
	e := apierror.As(err, apierror.KindResponse)
	return Result{Status: e.Status, Attempts: e.Attempts, Err: e}
}

// OK reports whether the result is a success.
func (r Result) OK() bool { return r.Err == nil }

// Error returns the failure, or nil on success.
func (r Result) Error() error {
	if r.Err == nil {
		return nil
	}
	return r.Err
}

// Kind returns the failure kind, or "" on success.
func (r Result) Kind() apierror.Kind {
	if r.Err == nil {
		return ""
	}
	return r.Err.Kind
}

// Classify maps a response onto a Result:
//
//	2xx         success, body must be JSON
//	401         authentication error
//	400         request error
//	otherwise   response error
func Classify(resp *retry.Response) Result {
	if resp == nil {
		return Failure(apierror.New(apierror.KindResponse, "no response received"))
	}
	var res Result
	switch status := resp.StatusCode; {
	case status >= 200 && status < 300:
		res = success(resp)
	case status == http.StatusUnauthorized:
		res = Failure(apierror.New(apierror.KindAuthentication, "request was not authorized").WithStatus(status))
	case status == http.StatusBadRequest:
		res = Failure(apierror.New(apierror.KindRequest, "bad request: %s", excerpt(resp.Body)).WithStatus(status))
	default:
		res = Failure(apierror.New(apierror.KindResponse, "unexpected status %d: %s", status, excerpt(resp.Body)).WithStatus(status))
	}
	res.Attempts = resp.Attempts
	if res.Err != nil {
		res.Err = res.Err.WithAttempts(resp.Attempts)
	}
	return res
}

func success(resp *retry.Response) Result {
	body := resp.Body
	if len(strings.TrimSpace(string(body))) == 0 {
		return Success(json.RawMessage("null"), resp.StatusCode)
	}
	if !json.Valid(body) {
		return Failure(apierror.New(apierror.KindResponse, "response body is not valid JSON").WithStatus(resp.StatusCode))
	}
	payload := make(json.RawMessage, len(body))
	copy(payload, body)
	return Success(payload, resp.StatusCode)
}

// Decode unmarshals a successful payload into T. A failed result returns its
// error; a payload that does not fit T is a response error.
func Decode[T any](r Result) (T, error) {
	var out T
	if r.Err != nil {
		return out, r.Err
	}
	if err := json.Unmarshal(r.Payload, &out); err != nil {
		var syntaxErr *json.SyntaxError
		msg := "payload does not match the expected shape"
		if errors.As(err, &syntaxErr) {
			msg = "payload is not valid JSON"
		}
		return out, apierror.Wrap(apierror.KindResponse, err, "%s", msg).WithStatus(r.Status)
	}
	return out, nil
}

func excerpt(body []byte) string {
	if len(body) <= MaxBodyInMessage {
		return strings.ToValidUTF8(string(body), "\uFFFD")
	}
	cut := body[:MaxBodyInMessage]
	// drop a rune split by the cut; other invalid bytes are replaced
	for i := len(cut) - 1; i >= 0 && i >= len(cut)-utf8.UTFMax; i-- {
		if utf8.RuneStart(cut[i]) {
			if !utf8.FullRune(cut[i:]) {
				cut = cut[:i]
			}
			break
		}
	}
	return strings.ToValidUTF8(string(cut), "\uFFFD") + "..."
}
