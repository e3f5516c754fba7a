package order

import "errors"

var (
	ErrOrderNotFound           = errors.New("order not found")
	ErrForbidden               = errors.New("order belongs to another user")
	ErrItemsUnavailable        = errors.New("some costumes are no longer available")
	ErrOwnListing              = errors.New("cannot buy your own costume")
	ErrEmptyOrder              = errors.New("order must contain at least one item")
	ErrDuplicateItem           = errors.New("costume appears more than once in the order")
	ErrInvalidQuantity         = errors.New("each costume can only be bought once")
	ErrShippingRequired        = errors.New("shipping address is required")
	ErrInvalidStatusTransition = errors.New("invalid order status transition")
	ErrCheckoutInProgress      = errors.New("checkout with this idempotency key is already in progress")
	ErrPaymentFailed           = errors.New("payment could not be initiated")
	ErrOrderPaid               = errors.New("paid order cannot be cancelled")
	ErrOrderCancelled          = errors.New("order is cancelled")
	ErrIdempotencyKeyReused    = errors.New("idempotency key was used with a different request")
)
