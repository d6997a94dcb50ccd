package listing

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"tradeescrow/services/trade-gateway/engine"
	"tradeescrow/services/trade-gateway/models"
)

// MinLendWeeks is the shortest rental a lend listing may offer.
const MinLendWeeks = 2

// CreateRequest carries the seller-supplied fields of a new listing.
type CreateRequest struct {
	Seller string
	ItemID string
	Token  string
	Type   models.TradeType
	Price  int64
	Lend   *models.LendTerms
	Hidden bool
}

func (r CreateRequest) validate() error {
	switch {
	case strings.TrimSpace(r.Seller) == "":
		return fmt.Errorf("%w: seller required", engine.ErrInvalidRequest)
	case strings.TrimSpace(r.ItemID) == "":
		return fmt.Errorf("%w: item required", engine.ErrInvalidRequest)
	case strings.TrimSpace(r.Token) == "":
		return fmt.Errorf("%w: token required", engine.ErrInvalidRequest)
	case !r.Type.Valid():
		return fmt.Errorf("%w: listing type %q", engine.ErrInvalidRequest, r.Type)
	case r.Price <= 0:
		return fmt.Errorf("%w: price must be positive", engine.ErrInvalidRequest)
	}
	if r.Type == models.TradeTypeSell {
		if r.Lend != nil {
			return fmt.Errorf("%w: lend terms on a sell listing", engine.ErrInvalidRequest)
		}
		return nil
	}
	if r.Lend == nil {
		return fmt.Errorf("%w: lend terms required", engine.ErrInvalidRequest)
	}
	if r.Lend.MinWeek < MinLendWeeks || r.Lend.MaxWeek < r.Lend.MinWeek {
		return fmt.Errorf("%w: lend weeks [%d, %d]", engine.ErrInvalidRequest, r.Lend.MinWeek, r.Lend.MaxWeek)
	}
	if r.Lend.WeeklyPrice <= 0 {
		return fmt.Errorf("%w: weekly price must be positive", engine.ErrInvalidRequest)
	}
	return nil
}

// Create validates and stores a new active listing. The token must be
// registered. A seller can only have one open listing per item.
func (c *Coordinator) Create(ctx context.Context, db *gorm.DB, req CreateRequest) (*models.Listing, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	var token models.Token
	if err := db.WithContext(ctx).First(&token, "symbol = ?", req.Token).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: token %s", engine.ErrNotFound, req.Token)
		}
		return nil, err
	}
	var open int64
	err := db.WithContext(ctx).Model(&models.Listing{}).
		Where("seller = ? AND item_id = ? AND state IN ?", req.Seller, req.ItemID,
			[]models.ListingState{models.ListingActive, models.ListingOngoing}).
		Count(&open).Error
	if err != nil {
		return nil, err
	}
	if open > 0 {
		return nil, fmt.Errorf("%w: item %s already listed", engine.ErrConflict, req.ItemID)
	}

	now := c.now().UTC()
	listing := &models.Listing{
		ID:        uuid.New(),
		Seller:    req.Seller,
		ItemID:    req.ItemID,
		Token:     req.Token,
		Type:      req.Type,
		Price:     req.Price,
		Hidden:    req.Hidden,
		State:     models.ListingActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if req.Lend != nil {
		listing.Lend = *req.Lend
	}
	if err := db.WithContext(ctx).Create(listing).Error; err != nil {
		return nil, err
	}
	return listing, nil
}

// Cancel withdraws an active listing on behalf of its seller.
func (c *Coordinator) Cancel(ctx context.Context, db *gorm.DB, id uuid.UUID, seller string) (*models.Listing, error) {
	var listing models.Listing
	if err := db.WithContext(ctx).First(&listing, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: listing %s", engine.ErrNotFound, id)
		}
		return nil, err
	}
	if listing.Seller != seller {
		return nil, fmt.Errorf("%w: listing %s", engine.ErrForbidden, id)
	}
	return c.Transition(ctx, db, id, models.ListingActive, models.ListingCanceled)
}
