package cart

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

const maxLineQuantity = 999

// Service exposes the buyer's cart operations.
type Service interface {
	AddItem(ctx context.Context, buyerID, productID uuid.UUID, qty int) (*View, error)
	SetQuantity(ctx context.Context, buyerID, productID uuid.UUID, qty int) (*View, error)
	RemoveItem(ctx context.Context, buyerID, productID uuid.UUID) (*View, error)
	View(ctx context.Context, buyerID uuid.UUID) (*View, error)
}

type ServiceParams struct {
	Repo     CartRepository
	Products productReader
	TX       txRunner
	Logger   *logger.Logger
}

type service struct {
	repo     CartRepository
	products productReader
	tx       txRunner
	reader   *SnapshotReader
	logg     *logger.Logger
}

func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("cart repository required")
	}
	if params.Products == nil {
		return nil, fmt.Errorf("product reader required")
	}
	if params.TX == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	return &service{
		repo:     params.Repo,
		products: params.Products,
		tx:       params.TX,
		reader:   NewSnapshotReader(params.Repo),
		logg:     params.Logger,
	}, nil
}

// AddItem merges qty into the buyer's existing line for the product, or
// creates one. A line consumed by a concurrent checkout is recreated rather
// than silently losing the addition.
func (s *service) AddItem(ctx context.Context, buyerID, productID uuid.UUID, qty int) (*View, error) {
	if err := validateQuantity(qty); err != nil {
		return nil, err
	}
	if err := s.ensureProduct(ctx, productID); err != nil {
		return nil, err
	}

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		existing, err := repo.FindFirst(ctx, buyerID, productID)
		if err != nil {
			return err
		}
		if existing != nil {
			if existing.Quantity+qty > maxLineQuantity {
				return quantityTooLarge()
			}
			updated, err := repo.AddQuantity(ctx, existing.ID, qty)
			if err != nil || updated {
				return err
			}
		}
		return repo.Create(ctx, &models.CartLine{BuyerID: buyerID, ProductID: productID, Quantity: qty})
	})
	if err != nil {
		return nil, err
	}
	return s.View(ctx, buyerID)
}

// SetQuantity replaces the quantity for a product, collapsing duplicate rows.
// A quantity of zero or less removes the product.
func (s *service) SetQuantity(ctx context.Context, buyerID, productID uuid.UUID, qty int) (*View, error) {
	if qty <= 0 {
		return s.RemoveItem(ctx, buyerID, productID)
	}
	if err := validateQuantity(qty); err != nil {
		return nil, err
	}

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		existing, err := repo.FindFirst(ctx, buyerID, productID)
		if err != nil {
			return err
		}
		if existing == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "product not in cart")
		}
		if err := repo.DeleteOtherLines(ctx, buyerID, productID, existing.ID); err != nil {
			return err
		}
		_, err = repo.SetQuantity(ctx, existing.ID, qty)
		return err
	})
	if err != nil {
		return nil, err
	}
	return s.View(ctx, buyerID)
}

func (s *service) RemoveItem(ctx context.Context, buyerID, productID uuid.UUID) (*View, error) {
	if _, err := s.repo.DeleteByProduct(ctx, buyerID, productID); err != nil {
		return nil, err
	}
	return s.View(ctx, buyerID)
}

func (s *service) View(ctx context.Context, buyerID uuid.UUID) (*View, error) {
	snapshot, err := s.reader.Peek(ctx, buyerID)
	if err != nil {
		return nil, err
	}
	return NewView(snapshot), nil
}

func (s *service) ensureProduct(ctx context.Context, productID uuid.UUID) error {
	product, err := s.products.FindProduct(ctx, productID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "product not found")
		}
		return err
	}
	if !product.IsAvailable {
		return pkgerrors.New(pkgerrors.CodeValidation, "product is not available").
			WithDetails(map[string]any{"product_id": productID.String()})
	}
	return nil
}

func validateQuantity(qty int) error {
	if qty <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "quantity must be at least 1")
	}
	if qty > maxLineQuantity {
		return quantityTooLarge()
	}
	return nil
}

func quantityTooLarge() error {
	return pkgerrors.New(pkgerrors.CodeValidation, "quantity too large").
		WithDetails(map[string]any{"max": maxLineQuantity})
}
