package gateway

import (
	"errors"
	"fmt"
)

// ErrNoMediaURLs is returned when a completed job carries no usable URL.
var ErrNoMediaURLs = errors.New("no media URLs found")

// APIRequestError is a non-2xx or undecodable vendor response.
type APIRequestError struct {
	Op         string
	StatusCode int
	Body       string
	Err        error
}

func (e *APIRequestError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("vendor %s: status %d: %s", e.Op, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("vendor %s: %v", e.Op, e.Err)
}

func (e *APIRequestError) Unwrap() error { return e.Err }

// FileUploadError is a failure in the media upload protocol or in reading the
// local file being uploaded.
type FileUploadError struct {
	Path       string
	Step       string
	StatusCode int
	Err        error
}

func (e *FileUploadError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("upload %s: %s: status %d", e.Path, e.Step, e.StatusCode)
	}
	return fmt.Sprintf("upload %s: %s: %v", e.Path, e.Step, e.Err)
}

func (e *FileUploadError) Unwrap() error { return e.Err }
