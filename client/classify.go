package client

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Classify maps a received status code and body onto the response outcome
// table. A nil return means success; when dest is non-nil the 2xx body has
// been decoded into it. Every status code yields exactly one outcome.
//
//	500–599           KindUnknownErrorCode, body ignored
//	2xx, dest nil     success
//	2xx/4xx, no body  KindEmpty
//	2xx               decode into dest, failure is KindDecode
//	4xx               decode ErrorData, failure is KindUnknownErrorCode
//	anything else     KindUnknown
//
// Informational and redirect statuses are not errors the API reports, so
// they are KindUnknown rather than KindUnknownErrorCode; a client that
// treats every non-2xx, non-4xx status as an error code sees them as
// KindUnknownErrorCode instead.
func Classify(statusCode int, body []byte, dest any) error {
	switch {
	case statusCode >= 500 && statusCode <= 599:
		return NewError(KindUnknownErrorCode, statusCode, nil)

	case statusCode >= 200 && statusCode <= 299:
		if dest == nil {
			return nil
		}
		if len(bytes.TrimSpace(body)) == 0 {
			return NewError(KindEmpty, statusCode, nil)
		}
		if err := decode(body, dest); err != nil {
			return NewError(KindDecode, statusCode, err)
		}
		return nil

	case statusCode >= 400 && statusCode <= 499:
		if len(bytes.TrimSpace(body)) == 0 {
			return NewError(KindEmpty, statusCode, nil)
		}
		var data ErrorData
		if err := decode(body, &data); err != nil {
			return NewError(KindUnknownErrorCode, statusCode, err)
		}
		if err := Validate(data); err != nil {
			return NewError(KindUnknownErrorCode, statusCode, err)
		}
		return newHTTPClientError(statusCode, data)

	default:
		return NewError(KindUnknown, statusCode, fmt.Errorf("unexpected status code %d", statusCode))
	}
}

func decode(body []byte, dest any) error {
	d := json.NewDecoder(bytes.NewReader(body))
	if err := d.Decode(dest); err != nil {
		return fmt.Errorf("decoding body: %w", err)
	}

	return nil
}
