package client

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/zflow/zflow/shared/apperror"
)

const maxErrorBody = 64 << 10

type errorBody struct {
	Error string `json:"error"`
	Field string `json:"field"`
}

// responseError turns a non-2xx response into an application error and closes its body
func responseError(resp *http.Response) error {
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	var body errorBody
	if err := json.Unmarshal(raw, &body); err != nil || body.Error == "" {
		body.Error = fmt.Sprintf("request failed with status %d", resp.StatusCode)
	}

	switch resp.StatusCode {
	case http.StatusBadRequest:
		return apperror.Validation(body.Field, body.Error)
	case http.StatusUnauthorized:
		return apperror.Authentication(body.Error)
	case http.StatusNotFound:
		return apperror.NotFound(body.Error)
	default:
		return apperror.Unexpected(body.Error, fmt.Errorf("status %d", resp.StatusCode))
	}
}
