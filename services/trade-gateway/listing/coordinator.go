package listing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"tradeescrow/services/trade-gateway/engine"
	"tradeescrow/services/trade-gateway/models"
)

// edges lists the listing transitions the coordinator accepts. ongoing ->
// active relists the item when a seller gives up on an undelivered trade.
var edges = map[models.ListingState]map[models.ListingState]struct{}{
	models.ListingActive: {
		models.ListingOngoing:  {},
		models.ListingCanceled: {},
	},
	models.ListingOngoing: {
		models.ListingCompleted: {},
		models.ListingCanceled:  {},
		models.ListingActive:    {},
	},
}

// ValidEdge reports whether from -> to is an accepted listing transition.
func ValidEdge(from, to models.ListingState) bool {
	_, ok := edges[from][to]
	return ok
}

// Coordinator owns listing state changes. Every write is conditioned on the
// expected prior state so two trades can never both move a listing.
type Coordinator struct {
	now func() time.Time
}

// NewCoordinator returns a Coordinator using now as its clock; nil means time.Now.
func NewCoordinator(now func() time.Time) *Coordinator {
	if now == nil {
		now = time.Now
	}
	return &Coordinator{now: now}
}

// Transition moves listing id from `from` to `to` using db, which may be a
// transaction handle so the change commits together with the trade update.
func (c *Coordinator) Transition(ctx context.Context, db *gorm.DB, id uuid.UUID, from, to models.ListingState) (*models.Listing, error) {
	if !ValidEdge(from, to) {
		return nil, fmt.Errorf("%w: %s -> %s", engine.ErrInvalidTransition, from, to)
	}
	res := db.WithContext(ctx).Model(&models.Listing{}).
		Where("id = ? AND state = ?", id, from).
		Updates(map[string]any{"state": to, "updated_at": c.now().UTC()})
	if res.Error != nil {
		return nil, res.Error
	}
	var listing models.Listing
	if err := db.WithContext(ctx).First(&listing, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: listing %s", engine.ErrNotFound, id)
		}
		return nil, err
	}
	if res.RowsAffected == 0 {
		return nil, fmt.Errorf("%w: listing %s is %s, expected %s", engine.ErrConflict, id, listing.State, from)
	}
	return &listing, nil
}
