package httpx

import (
	"errors"
	"net/http"
)

// Error classes understood by RespondError. Wrap one with fmt.Errorf("%w: ...")
// to pick the response status; the wrapped text becomes the problem detail.
var (
	ErrNotFound     = errors.New("resource not found")
	ErrValidation   = errors.New("validation failed")
	ErrForbidden    = errors.New("forbidden")
	ErrUnauthorized = errors.New("unauthorized")
	ErrRateLimited  = errors.New("rate limited")
	ErrUnavailable  = errors.New("service unavailable")
)

type errorClass struct {
	target error
	status int
	slug   string
	// hideDetail keeps wrapped infrastructure errors out of the body.
	hideDetail bool
}

var errorClasses = []errorClass{
	{target: ErrNotFound, status: http.StatusNotFound, slug: "not-found"},
	{target: ErrValidation, status: http.StatusBadRequest, slug: "validation"},
	{target: ErrUnauthorized, status: http.StatusUnauthorized, slug: "unauthorized"},
	{target: ErrForbidden, status: http.StatusForbidden, slug: "forbidden"},
	{target: ErrRateLimited, status: http.StatusTooManyRequests, slug: "rate-limited"},
	{target: ErrUnavailable, status: http.StatusServiceUnavailable, slug: "unavailable", hideDetail: true},
}

// ProblemTypeBase prefixes the type URI of classified problems.
const ProblemTypeBase = "/problems/"

// StatusOf reports the status RespondError would send for err.
func StatusOf(err error) int {
	if c, ok := classify(err); ok {
		return c.status
	}
	return http.StatusInternalServerError
}

// RespondError writes err as problem details. Unclassified errors become a
// bare 500 so internal failures never reach the client.
func RespondError(w http.ResponseWriter, err error) {
	c, ok := classify(err)
	if !ok {
		Problem(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError), "")
		return
	}
	detail := err.Error()
	if c.hideDetail {
		detail = c.target.Error()
	}
	writeProblem(w, ProblemDetail{
		Type:   ProblemTypeBase + c.slug,
		Title:  http.StatusText(c.status),
		Status: c.status,
		Detail: detail,
	})
}

func classify(err error) (errorClass, bool) {
	if err == nil {
		return errorClass{}, false
	}
	for _, c := range errorClasses {
		if errors.Is(err, c.target) {
			return c, true
		}
	}
	return errorClass{}, false
}
