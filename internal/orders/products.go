package orders

import (
	"context"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"strings"
)

type ProductInput struct {
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
	Stock int             `json:"stock"`
}

// ProductPatch changes only the fields that are set.
type ProductPatch struct {
	Name  *string          `json:"name"`
	Price *decimal.Decimal `json:"price"`
	Stock *int             `json:"stock"`
}

func (in ProductInput) validate() error {
	if strings.TrimSpace(in.Name) == "" || in.Price.IsNegative() || in.Stock < 0 {
		return ErrInvalidProduct
	}
	return nil
}

func (s *Service) CreateProduct(ctx context.Context, actor Actor, in ProductInput) (*Product, error) {
	if !actor.Admin {
		return nil, ErrForbidden
	}
	if err := in.validate(); err != nil {
		return nil, err
	}
	now := s.Now()
	p := &Product{
		ID:        uuid.NewString(),
		Name:      strings.TrimSpace(in.Name),
		Price:     in.Price,
		Stock:     in.Stock,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.Store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		return tx.InsertProduct(ctx, p)
	}); err != nil {
		return nil, err
	}
	s.Log.WithField("product_id", p.ID).Info("product created")
	return p, nil
}

// UpdateProduct edits name and price directly; a stock change goes through the ledger.
// Existing order lines keep their price snapshot.
func (s *Service) UpdateProduct(ctx context.Context, actor Actor, id string, in ProductPatch) (*Product, error) {
	if !actor.Admin {
		return nil, ErrForbidden
	}
	var out Product
	err := s.Store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		locked, err := tx.LockProducts(ctx, []string{id})
		if err != nil {
			return err
		}
		p, ok := locked[id]
		if !ok {
			return &ProductNotFoundError{ProductID: id}
		}
		if in.Name != nil {
			p.Name = strings.TrimSpace(*in.Name)
		}
		if in.Price != nil {
			p.Price = *in.Price
		}
		check := ProductInput{Name: p.Name, Price: p.Price, Stock: p.Stock}
		if in.Stock != nil {
			check.Stock = *in.Stock
		}
		if err := check.validate(); err != nil {
			return err
		}
		p.UpdatedAt = s.Now()
		if err := tx.UpdateProduct(ctx, &p); err != nil {
			return err
		}
		if in.Stock != nil {
			counted, err := s.Reservations.Ledger.SetStock(ctx, tx, id, *in.Stock)
			if err != nil {
				return err
			}
			p.Stock = counted.Stock
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.Log.WithField("product_id", id).Info("product updated")
	return &out, nil
}

// DeleteProduct fails with ErrProductInUse while any order line references the product.
func (s *Service) DeleteProduct(ctx context.Context, actor Actor, id string) error {
	if !actor.Admin {
		return ErrForbidden
	}
	err := s.Store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		locked, err := tx.LockProducts(ctx, []string{id})
		if err != nil {
			return err
		}
		if _, ok := locked[id]; !ok {
			return &ProductNotFoundError{ProductID: id}
		}
		return tx.DeleteProduct(ctx, id)
	})
	if err != nil {
		return err
	}
	s.Log.WithField("product_id", id).Info("product deleted")
	return nil
}

func (s *Service) GetProduct(ctx context.Context, id string) (*Product, error) {
	return s.Store.GetProduct(ctx, id)
}

func (s *Service) ListProducts(ctx context.Context, f ProductFilter) ([]Product, error) {
	return s.Store.ListProducts(ctx, f.Normalize())
}

// ProductInfo summarises the filtered catalogue: the products, their count and the highest price.
func (s *Service) ProductInfo(ctx context.Context, f ProductFilter) (*ProductInfo, error) {
	ps, err := s.ListProducts(ctx, f)
	if err != nil {
		return nil, err
	}
	info := &ProductInfo{Products: ps, Count: len(ps)}
	for i := range ps {
		if info.MaxPrice == nil || ps[i].Price.GreaterThan(*info.MaxPrice) {
			price := ps[i].Price
			info.MaxPrice = &price
		}
	}
	return info, nil
}
