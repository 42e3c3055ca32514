package uploader

import "errors"

// Sentinel kinds for uploader errors.
var (
	ErrInvalidUploader = errors.New("invalid uploader configuration")
	ErrUploadRejected  = errors.New("upload rejected")
	ErrUploadTransport = errors.New("upload transport error")
)
