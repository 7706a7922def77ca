package fetcher

import (
	"errors"
	"fmt"
)

// Kind classifies a fetch failure.
type Kind int

const (
	// KindIO: disk cache read or write failed.
	KindIO Kind = iota
	// KindTransport: the HTTP request never produced a response.
	KindTransport
	// KindHTTP: upstream answered with a non-2xx status.
	KindHTTP
	// KindLag: MaxLag did not clear within the retry budget.
	KindLag
	// KindMissingTitle: upstream says the page does not exist.
	KindMissingTitle
	// KindParse: the body matched none of the expected shapes.
	KindParse
)

func (k Kind) String() string {
	switch k {
	case KindIO:
		return "io"
	case KindTransport:
		return "transport"
	case KindHTTP:
		return "http"
	case KindLag:
		return "lag"
	case KindMissingTitle:
		return "missing title"
	case KindParse:
		return "parse"
	}
	return "unknown"
}

// Error is a classified fetch failure.
type Error struct {
	Kind   Kind
	Status int     // set for KindHTTP
	Lag    float64 // seconds, set for KindLag
	Body   string  // preserved raw body for KindParse
	Err    error   // underlying cause, when any
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindHTTP:
		return fmt.Sprintf("upstream status %d", e.Status)
	case KindLag:
		return fmt.Sprintf("maxlag not cleared, last lag %.3fs", e.Lag)
	case KindParse:
		return "unknown wikipedia payload"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Err)
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsMissingTitle reports whether err is an upstream missingtitle response.
func IsMissingTitle(err error) bool {
	var fe *Error
	return errors.As(err, &fe) && fe.Kind == KindMissingTitle
}
