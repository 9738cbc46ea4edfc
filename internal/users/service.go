package users

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/cartloom/storefront/pkg/db/models"
	"github.com/cartloom/storefront/pkg/enums"
	pkgerrors "github.com/cartloom/storefront/pkg/errors"
	"github.com/cartloom/storefront/pkg/validate"
)

// Service defines user-level operations beyond repository reads.
type Service interface {
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
	// UpsertAddress adds the address to the user's book unless an entry with
	// the same location already exists, in which case the existing entry is
	// returned untouched.
	UpsertAddress(ctx context.Context, tx *gorm.DB, userID uuid.UUID, address models.Address) (*models.Address, error)
	// RecordOrder bumps the user's lifetime order count and spend inside the
	// caller's transaction.
	RecordOrder(ctx context.Context, tx *gorm.DB, userID uuid.UUID, totalCents int) error
}

type service struct {
	repo *Repository
}

// NewService builds a users service with the required dependencies.
func NewService(repo *Repository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("users repository required")
	}
	return &service{repo: repo}, nil
}

func (s *service) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return s.repo.FindByID(ctx, id)
}

func (s *service) UpsertAddress(ctx context.Context, tx *gorm.DB, userID uuid.UUID, address models.Address) (*models.Address, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	if err := validateAddress(address); err != nil {
		return nil, err
	}

	repo := s.repo.WithTx(tx)
	existing, err := repo.ListAddresses(ctx, userID)
	if err != nil {
		return nil, err
	}
	for i := range existing {
		if existing[i].SameLocation(address) {
			return &existing[i], nil
		}
	}

	address.UserID = userID
	if !address.Kind.IsValid() {
		address.Kind = enums.AddressKindShipping
	}
	if len(existing) == 0 {
		address.IsDefault = true
	}
	return repo.CreateAddress(ctx, &address)
}

func (s *service) RecordOrder(ctx context.Context, tx *gorm.DB, userID uuid.UUID, totalCents int) error {
	if totalCents <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "order total must be positive")
	}
	return s.repo.WithTx(tx).IncrementOrderStats(ctx, userID, totalCents)
}

type addressFields struct {
	FullName   string `json:"full_name" validate:"required"`
	Line1      string `json:"line1" validate:"required"`
	City       string `json:"city" validate:"required"`
	PostalCode string `json:"postal_code" validate:"required"`
	Country    string `json:"country" validate:"required"`
}

func validateAddress(address models.Address) error {
	return validate.Struct(addressFields{
		FullName:   strings.TrimSpace(address.FullName),
		Line1:      strings.TrimSpace(address.Line1),
		City:       strings.TrimSpace(address.City),
		PostalCode: strings.TrimSpace(address.PostalCode),
		Country:    strings.TrimSpace(address.Country),
	})
}
