package domain

import "errors"

// Sentinel errors shared by repositories, agent tools and services
var (
	ErrNotFound            = errors.New("resource not found")
	ErrInsufficientStock   = errors.New("insufficient stock")
	ErrEmptyCart           = errors.New("cart is empty")
	ErrCartItemNotFound    = errors.New("item not in cart")
	ErrVariantNotFound     = errors.New("variant not found")
	ErrQuotaExceeded       = errors.New("monthly AI message quota exceeded")
	ErrEmptyReply          = errors.New("AI returned an empty reply")
	ErrInvalidQuantity     = errors.New("quantity must be greater than zero")
	ErrOrderNotCancellable = errors.New("order can no longer be cancelled")

	// ErrTokenRejected is wrapped by transport adapters when the platform
	// refuses the stored access token
	ErrTokenRejected = errors.New("platform rejected access token")
)
