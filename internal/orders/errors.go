package orders

import (
	"errors"
	"fmt"
)

var (
	ErrOrderNotFound  = errors.New("order not found")
	ErrItemNotFound   = errors.New("order item not found")
	ErrForbidden      = errors.New("not allowed")
	ErrProductInUse   = errors.New("product is referenced by order items")
	ErrUnknownAction  = errors.New("unknown action")
	ErrInvalidProduct = errors.New("product name is required and price, stock must not be negative")
)

type InsufficientStockError struct {
	ProductID string
	Product   string
	Available int
	Required  int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("product %q has insufficient stock (available %d, required %d)", e.Product, e.Available, e.Required)
}

type IllegalTransitionError struct {
	From Status
	To   Status
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("illegal transition from %s to %s", e.From, e.To)
}

type IllegalEditStateError struct {
	Status Status
}

func (e *IllegalEditStateError) Error() string {
	return fmt.Sprintf("order items can only be edited while pending (current status %s)", e.Status)
}

type ProductNotFoundError struct {
	ProductID string
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product %s does not exist", e.ProductID)
}

type InvalidQuantityError struct {
	ProductID string
	Value     int
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("quantity for product %s must be greater than 0 (got %d)", e.ProductID, e.Value)
}

type DuplicateItemError struct {
	ProductID string
}

func (e *DuplicateItemError) Error() string {
	return fmt.Sprintf("product %s appears more than once in the order", e.ProductID)
}
