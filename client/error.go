package client

import (
	"errors"
	"fmt"
)

// Kind classifies an [Error].
type Kind int

const (
	// KindUnknown is a response that fits no other class (1xx, 3xx, ...).
	KindUnknown Kind = iota
	// KindNetwork is a transport failure, no response was received.
	KindNetwork
	// KindHTTPClient is a 4xx response carrying a decodable [ErrorData] body.
	KindHTTPClient
	// KindUnknownErrorCode is a 5xx response, or a 4xx whose body could not be decoded.
	KindUnknownErrorCode
	// KindDecode is a body that could not be encoded, validated or decoded.
	KindDecode
	// KindMissingCredential means an authenticated call was attempted without credentials.
	KindMissingCredential
	// KindEmpty is a response that arrived without a body.
	KindEmpty
)

var (
	ErrUnknown           = errors.New("unknown error")
	ErrNetwork           = errors.New("network failure")
	ErrHTTPClient        = errors.New("client error")
	ErrUnknownErrorCode  = errors.New("unknown error code")
	ErrDecode            = errors.New("decoding failed")
	ErrMissingCredential = errors.New("missing credential")
	ErrEmpty             = errors.New("empty response")
)

// ErrBodyTooLarge wraps a [KindDecode] error for a response body that
// exceeds the read limit of [Client.Do].
var ErrBodyTooLarge = errors.New("response body too large")

var kindSentinels = map[Kind]error{
	KindUnknown:           ErrUnknown,
	KindNetwork:           ErrNetwork,
	KindHTTPClient:        ErrHTTPClient,
	KindUnknownErrorCode:  ErrUnknownErrorCode,
	KindDecode:            ErrDecode,
	KindMissingCredential: ErrMissingCredential,
	KindEmpty:             ErrEmpty,
}

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindHTTPClient:
		return "httpClient"
	case KindUnknownErrorCode:
		return "unknownErrorCode"
	case KindDecode:
		return "decode"
	case KindMissingCredential:
		return "missingCredential"
	case KindEmpty:
		return "empty"
	default:
		return "unknown"
	}
}

// ErrorData is the structured body the API returns with 4xx responses.
type ErrorData struct {
	StatusCode int    `json:"statusCode"`
	Error      string `json:"error"`
	Message    string `json:"message" validate:"required"`
}

// Error is the single error type produced at the transport and response
// boundary. Err always wraps the sentinel matching Kind, so callers can use
// errors.Is(err, client.ErrMissingCredential) and friends.
type Error struct {
	Kind       Kind
	StatusCode int
	Data       *ErrorData
	Err        error
}

// NewError constructs an *Error of the given kind. cause may be nil.
func NewError(kind Kind, statusCode int, cause error) *Error {
	sentinel, ok := kindSentinels[kind]
	if !ok {
		kind, sentinel = KindUnknown, ErrUnknown
	}

	err := sentinel
	if cause != nil {
		err = fmt.Errorf("%w: %w", sentinel, cause)
	}

	return &Error{
		Kind:       kind,
		StatusCode: statusCode,
		Err:        err,
	}
}

// newHTTPClientError builds a KindHTTPClient error from a decoded body.
func newHTTPClientError(statusCode int, data ErrorData) *Error {
	return &Error{
		Kind:       KindHTTPClient,
		StatusCode: statusCode,
		Data:       &data,
		Err:        fmt.Errorf("%w: %s", ErrHTTPClient, data.Message),
	}
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%v (status %d)", e.Err, e.StatusCode)
	}
	return e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf reports the Kind of err, or KindUnknown when err is not an *Error.
func KindOf(err error) Kind {
	if e, ok := errors.AsType[*Error](err); ok {
		return e.Kind
	}
	return KindUnknown
}
