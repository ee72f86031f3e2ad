package model

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Failure is the "<code>:<message>" sentinel that route handlers exchange
// as reply errors.
type Failure struct {
	Code    int
	Message string
}

// NotFound is the reply used when no route or handler resolves a request.
var NotFound = &Failure{Code: 404, Message: "page not found"}

func (f *Failure) Error() string {
	return fmt.Sprintf("%d:%s", f.Code, f.Message)
}

// Is matches failures by code so errors.Is(err, NotFound) works on parsed values.
func (f *Failure) Is(target error) bool {
	t, ok := target.(*Failure)
	return ok && t.Code == f.Code
}

// Failuref builds a Failure with a formatted message.
func Failuref(code int, format string, args ...any) *Failure {
	return &Failure{Code: code, Message: fmt.Sprintf(format, args...)}
}

// ParseFailure decodes the wire form. Strings without a numeric code are
// reported as 500 failures carrying the whole text.
func ParseFailure(s string) *Failure {
	code, msg, ok := strings.Cut(s, ":")
	if ok {
		if n, err := strconv.Atoi(strings.TrimSpace(code)); err == nil {
			return &Failure{Code: n, Message: msg}
		}
	}
	return &Failure{Code: 500, Message: s}
}

// AsFailure converts any error to a Failure, keeping existing codes.
func AsFailure(err error) *Failure {
	if err == nil {
		return nil
	}
	var f *Failure
	if errors.As(err, &f) {
		return f
	}
	return ParseFailure(err.Error())
}
