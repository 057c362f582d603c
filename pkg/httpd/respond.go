package httpd

import (
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Response describes the server's half of one HTTP exchange. Body may be
// nil for header-only responses; ContentLength must match the body.
type Response struct {
	Status        int
	Header        http.Header
	Body          io.ReadCloser
	ContentLength int64
}

// Empty returns a response with the given status and no body.
func Empty(status int) *Response {
	return &Response{
		Status: status,
		Header: make(http.Header),
	}
}

// Text returns a plain-text response with the given status.
func Text(status int, body string) *Response {
	res := Empty(status)
	res.Header.Set("Content-Type", "text/plain; charset=utf-8")
	res.Body = io.NopCloser(strings.NewReader(body))
	res.ContentLength = int64(len(body))
	return res
}

// BadRequest returns a 400 response with a human-readable reason.
func BadRequest(why string) *Response {
	return Text(http.StatusBadRequest, why)
}

// NotFound returns a 404 response naming the missing target.
func NotFound(target string) *Response {
	return Text(http.StatusNotFound, fmt.Sprintf("The resource %q was not found.", target))
}

// ServerError returns a 500 response describing the failure.
func ServerError(what string) *Response {
	return Text(http.StatusInternalServerError, fmt.Sprintf("An error occurred: %q", what))
}
