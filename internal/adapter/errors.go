package adapter

import (
	"errors"
)

var (
	// ErrFolderOp is returned when a folder search or create fails.
	ErrFolderOp = errors.New("drive folder operation failed")

	// ErrUploadInit is returned when a resumable session cannot be opened.
	ErrUploadInit = errors.New("upload session init failed")

	// ErrUploadTransfer is returned when the content transfer fails.
	ErrUploadTransfer = errors.New("upload transfer failed")
)
