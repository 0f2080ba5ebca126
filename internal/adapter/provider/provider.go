package provider

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/hive-corporation/sitescan/internal/adapter/httpclient"
	"github.com/hive-corporation/sitescan/internal/core/ports"
)

var (
	ErrMissingAPIKey    = errors.New("api key is missing")
	ErrUnexpectedStatus = errors.New("unexpected status code")
	ErrScanNotFound     = ports.ErrScanNotFound
)

// HTTPDoer is satisfied by *http.Client and *httpclient.ResilientClient.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// UnexpectedStatusError carries the status of a non-2xx answer. It matches
// ErrUnexpectedStatus with errors.Is.
type UnexpectedStatusError struct {
	Code int
}

func (e *UnexpectedStatusError) Error() string {
	return fmt.Sprintf("%s: %d", ErrUnexpectedStatus, e.Code)
}

func (e *UnexpectedStatusError) Is(target error) bool {
	return target == ErrUnexpectedStatus
}

// send executes req and folds non-2xx answers into UnexpectedStatusError, whether
// the client reported them as an error (ResilientClient) or as a response.
func send(client HTTPDoer, req *http.Request) (*http.Response, error) {
	resp, err := client.Do(req)
	if err != nil {
		var statusErr *httpclient.StatusError
		if errors.As(err, &statusErr) {
			return nil, &UnexpectedStatusError{Code: statusErr.StatusCode}
		}
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, &UnexpectedStatusError{Code: resp.StatusCode}
	}
	return resp, nil
}

func hasStatus(err error, code int) bool {
	var statusErr *UnexpectedStatusError
	return errors.As(err, &statusErr) && statusErr.Code == code
}
