package model

import "errors"

// Error definitions for the model package.
var (
	ErrUnknownTask = errors.New("unknown task")
	ErrLoadFailed  = errors.New("model failed to load")
)
