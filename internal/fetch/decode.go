package fetch

import (
	"io"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/crakt/gymmap/pkg/errors"
)

// ReadAll reads and closes the response body.
func ReadAll(resp *http.Response) ([]byte, error) {
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.WrapIO("read", resp.Request.URL.String(), err)
	}
	return body, nil
}

// DecodeJSON reads and closes the response body and unmarshals it into v.
func DecodeJSON(resp *http.Response, v any) error {
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.WrapIO("read", resp.Request.URL.String(), err)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return errors.NewValidationError("body", nil, "invalid JSON response: "+err.Error())
	}
	return nil
}
