package escrow

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"tradeescrow/services/trade-gateway/engine"
	"tradeescrow/services/trade-gateway/listing"
	"tradeescrow/services/trade-gateway/models"
	"tradeescrow/services/trade-gateway/notify"
)

// CreateListing stores a new active listing and announces it unless hidden.
func (s *Service) CreateListing(ctx context.Context, req listing.CreateRequest) (l *models.Listing, err error) {
	defer func() { s.metrics.RecordAction("listing_create", engine.Kind(err)) }()

	l, err = s.listings.Create(ctx, s.store.DB(), req)
	if err != nil {
		return nil, err
	}
	if !l.Hidden {
		s.notifier.Emit(notify.EventListingCreated, l, "")
	}
	return l, nil
}

// CancelListing withdraws an active listing on behalf of its seller.
func (s *Service) CancelListing(ctx context.Context, id uuid.UUID, actor Actor) (l *models.Listing, err error) {
	defer func() { s.metrics.RecordAction("listing_cancel", engine.Kind(err)) }()

	l, err = s.listings.Cancel(ctx, s.store.DB(), id, actor.ID)
	if err != nil {
		return nil, err
	}
	if !l.Hidden {
		s.notifier.Emit(notify.EventListingDeleted, map[string]string{"id": l.ID.String()}, "")
	}
	return l, nil
}

// GetListing returns a listing. Hidden listings are only shown to their seller.
func (s *Service) GetListing(ctx context.Context, id uuid.UUID, actor Actor) (*models.Listing, error) {
	l, err := s.store.GetListing(ctx, id)
	if err != nil {
		return nil, err
	}
	if l.Hidden && !actor.Admin && actor.ID != l.Seller {
		return nil, fmt.Errorf("%w: listing %s", engine.ErrNotFound, id)
	}
	return l, nil
}
