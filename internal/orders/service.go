package orders

import (
	"context"
	"errors"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"time"
)

// Service is the order core: every order mutation goes through it.
type Service struct {
	Store        Store
	Reservations *Reservations
	Publisher    Publisher
	Log          logrus.FieldLogger
	Now          func() time.Time
}

func NewService(store Store, pub Publisher, log logrus.FieldLogger) *Service {
	if pub == nil {
		pub = NopPublisher{}
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Service{
		Store:        store,
		Reservations: &Reservations{},
		Publisher:    pub,
		Log:          log,
		Now:          func() time.Time { return time.Now().UTC() },
	}
}

type CreateOrderInput struct {
	Note  string     `json:"note"`
	Items []ItemSpec `json:"items"`
}

// UpdateOrderInput edits an order. A nil Note keeps the note; nil Items keeps
// the items, an empty non-nil slice removes them all.
type UpdateOrderInput struct {
	Note  *string    `json:"note"`
	Items []ItemSpec `json:"items"`
}

// CreateOrder reserves stock for every item and stores a pending order with
// unit prices snapshotted from the locked product rows.
func (s *Service) CreateOrder(ctx context.Context, actor Actor, in CreateOrderInput) (*Order, error) {
	if actor.UserID == "" {
		return nil, ErrForbidden
	}
	for i := range in.Items {
		in.Items[i].ID = ""
	}
	if err := validateItems(in.Items); err != nil {
		return nil, err
	}

	now := s.Now()
	o := &Order{
		ID:        uuid.NewString(),
		UserID:    actor.UserID,
		Status:    StatusPending,
		Note:      in.Note,
		Items:     make([]OrderItem, 0, len(in.Items)),
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := s.Store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		locked, err := s.Reservations.Reserve(ctx, tx, specLines(in.Items))
		if err != nil {
			return err
		}
		for _, it := range in.Items {
			p := locked[it.ProductID]
			o.Items = append(o.Items, OrderItem{
				ID:          uuid.NewString(),
				OrderID:     o.ID,
				ProductID:   p.ID,
				ProductName: p.Name,
				Quantity:    it.Quantity,
				UnitPrice:   p.Price,
				CreatedAt:   now,
			})
		}
		o.RecalculateTotal()
		return tx.InsertOrder(ctx, o)
	})
	if err != nil {
		s.failed(err, logrus.Fields{"user_id": actor.UserID, "op": "create"})
		return nil, err
	}

	s.Log.WithFields(logrus.Fields{"order_id": o.ID, "user_id": o.UserID, "total": o.Total.String()}).Info("order created")
	s.publish(ctx, EventOrderCreated, o, newOrderPayload(o, linesToDeltas(o.Lines(), 1)))
	return o, nil
}

// UpdateOrderItems replaces the order's item set (and/or its note). Stock moves
// only by the net difference between the old and the new set.
func (s *Service) UpdateOrderItems(ctx context.Context, actor Actor, orderID string, in UpdateOrderInput) (*Order, error) {
	var target func(*Order) ([]ItemSpec, error)
	if in.Items != nil {
		target = func(*Order) ([]ItemSpec, error) { return in.Items, nil }
	}
	return s.edit(ctx, actor, orderID, in.Note, target)
}

// AddItem appends one line to a pending order.
func (s *Service) AddItem(ctx context.Context, actor Actor, orderID string, want ItemSpec) (*Order, error) {
	want.ID = ""
	return s.edit(ctx, actor, orderID, nil, func(o *Order) ([]ItemSpec, error) {
		return append(currentSpecs(o), want), nil
	})
}

// ChangeItem changes the quantity and/or the product of one line. An empty
// productID keeps the line's product.
func (s *Service) ChangeItem(ctx context.Context, actor Actor, orderID, itemID, productID string, quantity int) (*Order, error) {
	return s.edit(ctx, actor, orderID, nil, func(o *Order) ([]ItemSpec, error) {
		specs := currentSpecs(o)
		for i := range specs {
			if specs[i].ID != itemID {
				continue
			}
			if productID != "" {
				specs[i].ProductID = productID
			}
			specs[i].Quantity = quantity
			return specs, nil
		}
		return nil, ErrItemNotFound
	})
}

func (s *Service) RemoveItem(ctx context.Context, actor Actor, orderID, itemID string) (*Order, error) {
	return s.edit(ctx, actor, orderID, nil, func(o *Order) ([]ItemSpec, error) {
		if _, ok := o.item(itemID); !ok {
			return nil, ErrItemNotFound
		}
		specs := make([]ItemSpec, 0, len(o.Items))
		for _, sp := range currentSpecs(o) {
			if sp.ID != itemID {
				specs = append(specs, sp)
			}
		}
		return specs, nil
	})
}

func (s *Service) edit(ctx context.Context, actor Actor, orderID string, note *string, target func(*Order) ([]ItemSpec, error)) (*Order, error) {
	var (
		o      *Order
		deltas map[string]int
	)
	now := s.Now()
	err := s.Store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		if o, err = s.lockOwned(ctx, tx, actor, orderID); err != nil {
			return err
		}
		if note != nil {
			o.Note = *note
		}
		if target != nil {
			if o.Status != StatusPending {
				return &IllegalEditStateError{Status: o.Status}
			}
			specs, err := target(o)
			if err != nil {
				return err
			}
			if err := validateItems(specs); err != nil {
				return err
			}
			if err := validateItemIDs(o, specs); err != nil {
				return err
			}

			diff := DiffItems(o.Items, specs)
			deltas = diff.Deltas

			// lock every target product too, unchanged lines included, so prices and names are current
			lockSet := make(map[string]int, len(diff.Deltas)+len(specs))
			for id, n := range diff.Deltas {
				lockSet[id] = n
			}
			for _, sp := range specs {
				if _, ok := lockSet[sp.ProductID]; !ok {
					lockSet[sp.ProductID] = 0
				}
			}
			locked, err := s.Reservations.Apply(ctx, tx, lockSet)
			if err != nil {
				return err
			}
			items, err := rebuildItems(o, diff, locked, now)
			if err != nil {
				return err
			}
			o.Items = items
			if err := tx.ReplaceOrderItems(ctx, o.ID, o.Items); err != nil {
				return err
			}
		}
		o.RecalculateTotal()
		o.UpdatedAt = now
		return tx.UpdateOrder(ctx, o)
	})
	if err != nil {
		s.failed(err, logrus.Fields{"order_id": orderID, "user_id": actor.UserID, "op": "edit"})
		return nil, err
	}

	s.Log.WithFields(logrus.Fields{"order_id": o.ID, "user_id": actor.UserID, "total": o.Total.String(), "stock_moves": len(deltas)}).Info("order updated")
	s.publish(ctx, EventOrderItemsUpdated, o, newOrderPayload(o, deltas))
	return o, nil
}

// Transition applies action to the order, running the ledger effect the state
// machine prescribes. On any failure status and stock stay as they were.
func (s *Service) Transition(ctx context.Context, actor Actor, orderID string, action Action) (*Order, error) {
	if _, ok := actionTarget[action]; !ok {
		return nil, ErrUnknownAction
	}
	if action == ActionReopen && !actor.Admin {
		return nil, ErrForbidden
	}

	var (
		o      *Order
		from   Status
		deltas map[string]int
	)
	err := s.Store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		if o, err = s.lockOwned(ctx, tx, actor, orderID); err != nil {
			return err
		}
		from = o.Status
		to, effect, err := Next(from, action)
		if err != nil {
			return err
		}
		switch effect {
		case EffectReserve:
			if _, err := s.Reservations.Reserve(ctx, tx, o.Lines()); err != nil {
				return err
			}
			deltas = linesToDeltas(o.Lines(), 1)
		case EffectRelease:
			if err := s.Reservations.Release(ctx, tx, o.Lines()); err != nil {
				return err
			}
			deltas = linesToDeltas(o.Lines(), -1)
		}
		o.Status = to
		o.UpdatedAt = s.Now()
		return tx.UpdateOrder(ctx, o)
	})
	if err != nil {
		s.failed(err, logrus.Fields{"order_id": orderID, "user_id": actor.UserID, "action": action})
		return nil, err
	}

	s.Log.WithFields(logrus.Fields{"order_id": o.ID, "user_id": actor.UserID, "action": action, "from": from, "to": o.Status}).Info("order transitioned")
	p := newOrderPayload(o, deltas)
	p.PreviousStatus = from
	s.publish(ctx, EventOrderStatusChanged, o, p)
	return o, nil
}

// DeleteOrder removes the order, first returning any stock it still holds.
func (s *Service) DeleteOrder(ctx context.Context, actor Actor, orderID string) error {
	var (
		o      *Order
		deltas map[string]int
	)
	err := s.Store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		if o, err = s.lockOwned(ctx, tx, actor, orderID); err != nil {
			return err
		}
		if o.Status.HoldsStock() {
			if err := s.Reservations.Release(ctx, tx, o.Lines()); err != nil {
				return err
			}
			deltas = linesToDeltas(o.Lines(), -1)
		}
		return tx.DeleteOrder(ctx, o.ID)
	})
	if err != nil {
		s.failed(err, logrus.Fields{"order_id": orderID, "user_id": actor.UserID, "op": "delete"})
		return err
	}

	s.Log.WithFields(logrus.Fields{"order_id": o.ID, "user_id": actor.UserID, "status": o.Status}).Info("order deleted")
	s.publish(ctx, EventOrderDeleted, o, newOrderPayload(o, deltas))
	return nil
}

// AllowedTransitions is what the UI may offer for the order right now.
func (s *Service) AllowedTransitions(o *Order) []Action {
	return AllowedActions(o.Status)
}

func (s *Service) GetOrder(ctx context.Context, actor Actor, id string) (*Order, error) {
	o, err := s.Store.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.canAccess(o) {
		return nil, ErrOrderNotFound
	}
	return o, nil
}

// ListOrders returns the actor's orders, or everyone's for admins.
func (s *Service) ListOrders(ctx context.Context, actor Actor, f OrderFilter) ([]Order, error) {
	if !actor.Admin {
		f.UserID = actor.UserID
	}
	return s.Store.ListOrders(ctx, f.Normalize())
}

func (s *Service) lockOwned(ctx context.Context, tx Tx, actor Actor, id string) (*Order, error) {
	o, err := tx.LockOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.canAccess(o) {
		return nil, ErrOrderNotFound
	}
	return o, nil
}

func (s *Service) publish(ctx context.Context, eventType string, o *Order, payload OrderPayload) {
	if err := s.Publisher.Publish(ctx, eventType, o.ID, payload); err != nil {
		s.Log.WithError(err).WithFields(logrus.Fields{"order_id": o.ID, "event_type": eventType}).Error("publish event")
	}
}

func (s *Service) failed(err error, fields logrus.Fields) {
	var short *InsufficientStockError
	if errors.As(err, &short) {
		fields["product_id"] = short.ProductID
		fields["available"] = short.Available
		fields["required"] = short.Required
		s.Log.WithFields(fields).Warn("insufficient stock")
		return
	}
	s.Log.WithError(err).WithFields(fields).Debug("order operation rejected")
}

func validateItems(items []ItemSpec) error {
	seen := make(map[string]bool, len(items))
	for _, it := range items {
		if it.ProductID == "" {
			return &ProductNotFoundError{ProductID: it.ProductID}
		}
		if it.Quantity <= 0 {
			return &InvalidQuantityError{ProductID: it.ProductID, Value: it.Quantity}
		}
		if seen[it.ProductID] {
			return &DuplicateItemError{ProductID: it.ProductID}
		}
		seen[it.ProductID] = true
	}
	return nil
}

func validateItemIDs(o *Order, specs []ItemSpec) error {
	seen := make(map[string]bool, len(specs))
	for _, sp := range specs {
		if sp.ID == "" {
			continue
		}
		if _, ok := o.item(sp.ID); !ok {
			return ErrItemNotFound
		}
		if seen[sp.ID] {
			return &DuplicateItemError{ProductID: sp.ProductID}
		}
		seen[sp.ID] = true
	}
	return nil
}

func specLines(specs []ItemSpec) []Line {
	out := make([]Line, 0, len(specs))
	for _, sp := range specs {
		out = append(out, Line{ProductID: sp.ProductID, Quantity: sp.Quantity})
	}
	return out
}

func currentSpecs(o *Order) []ItemSpec {
	out := make([]ItemSpec, 0, len(o.Items))
	for _, it := range o.Items {
		out = append(out, ItemSpec{ID: it.ID, ProductID: it.ProductID, Quantity: it.Quantity})
	}
	return out
}

// rebuildItems produces the new item set in target order. Lines that keep their
// product keep their id and price snapshot; new lines and lines moved to another
// product take the locked product's current price.
func rebuildItems(o *Order, d Diff, locked map[string]Product, now time.Time) ([]OrderItem, error) {
	out := make([]OrderItem, 0, len(d.Changes))
	for _, c := range d.Changes {
		if c.Target == nil {
			continue
		}
		p, ok := locked[c.Target.ProductID]
		if !ok {
			return nil, &ProductNotFoundError{ProductID: c.Target.ProductID}
		}
		switch c.Kind {
		case ChangeAdded:
			out = append(out, OrderItem{
				ID:          uuid.NewString(),
				OrderID:     o.ID,
				ProductID:   p.ID,
				ProductName: p.Name,
				Quantity:    c.Target.Quantity,
				UnitPrice:   p.Price,
				CreatedAt:   now,
			})
		case ChangeProduct:
			it := *c.Old
			it.ProductID, it.ProductName, it.UnitPrice = p.ID, p.Name, p.Price
			it.Quantity = c.Target.Quantity
			out = append(out, it)
		default:
			it := *c.Old
			it.ProductName = p.Name
			it.Quantity = c.Target.Quantity
			out = append(out, it)
		}
	}
	return out, nil
}
