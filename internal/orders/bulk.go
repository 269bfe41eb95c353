package orders

import (
	"context"
	"errors"
)

type BulkFailure struct {
	OrderID string `json:"order_id"`
	Reason  string `json:"reason"`
}

// BulkResult reports a list action. Orders whose status does not allow the
// action are skipped rather than failed.
type BulkResult struct {
	Succeeded []string      `json:"succeeded"`
	Skipped   []string      `json:"skipped"`
	Failed    []BulkFailure `json:"failed"`
}

// BulkTransition applies action to each order in its own transaction, so one
// short product does not hold back the rest. Storage errors stop the run.
func (s *Service) BulkTransition(ctx context.Context, actor Actor, ids []string, action Action) (BulkResult, error) {
	if !actor.Admin {
		return BulkResult{}, ErrForbidden
	}
	if _, ok := actionTarget[action]; !ok {
		return BulkResult{}, ErrUnknownAction
	}
	return s.bulk(ids, func(id string) error {
		_, err := s.Transition(ctx, actor, id, action)
		return err
	})
}

// BulkDelete deletes each order in its own transaction, returning held stock.
func (s *Service) BulkDelete(ctx context.Context, actor Actor, ids []string) (BulkResult, error) {
	if !actor.Admin {
		return BulkResult{}, ErrForbidden
	}
	return s.bulk(ids, func(id string) error {
		return s.DeleteOrder(ctx, actor, id)
	})
}

func (s *Service) bulk(ids []string, run func(id string) error) (BulkResult, error) {
	res := BulkResult{Succeeded: []string{}, Skipped: []string{}, Failed: []BulkFailure{}}
	for _, id := range ids {
		err := run(id)
		var illegal *IllegalTransitionError
		switch {
		case err == nil:
			res.Succeeded = append(res.Succeeded, id)
		case errors.As(err, &illegal):
			res.Skipped = append(res.Skipped, id)
		case isDomainError(err):
			res.Failed = append(res.Failed, BulkFailure{OrderID: id, Reason: err.Error()})
		default:
			return res, err
		}
	}
	return res, nil
}

// isDomainError separates rejections the caller can act on from storage failures.
func isDomainError(err error) bool {
	var (
		short   *InsufficientStockError
		illegal *IllegalTransitionError
		edit    *IllegalEditStateError
		missing *ProductNotFoundError
		qty     *InvalidQuantityError
		dup     *DuplicateItemError
	)
	switch {
	case errors.As(err, &short), errors.As(err, &illegal), errors.As(err, &edit),
		errors.As(err, &missing), errors.As(err, &qty), errors.As(err, &dup):
		return true
	}
	for _, target := range []error{ErrOrderNotFound, ErrItemNotFound, ErrForbidden, ErrProductInUse, ErrUnknownAction, ErrInvalidProduct} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
