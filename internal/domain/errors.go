package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrNotOpen       = errors.New("position not open")
	ErrStalePrice    = errors.New("price sample too old")
	ErrLowConfidence = errors.New("price confidence too wide")
	ErrContextDone   = errors.New("context cancelled")
)
