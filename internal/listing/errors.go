package listing

import "errors"

var (
	ErrNotFound         = errors.New("costume not found")
	ErrForbidden        = errors.New("costume belongs to another seller")
	ErrAlreadySold      = errors.New("costume is already sold")
	ErrTooManyImages    = errors.New("costume already has the maximum number of images")
	ErrUnsupportedImage = errors.New("unsupported image type")
	ErrHasOrderHistory  = errors.New("costume is referenced by past orders")
)
