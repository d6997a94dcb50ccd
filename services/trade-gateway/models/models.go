package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// TradeType mirrors the listing type a trade was opened against.
type TradeType string

const (
	TradeTypeSell TradeType = "sell"
	TradeTypeLend TradeType = "lend"
)

// Valid reports whether the trade type is supported.
func (t TradeType) Valid() bool {
	return t == TradeTypeSell || t == TradeTypeLend
}

// TradeState represents a state in the escrow trade lifecycle.
type TradeState string

// All trade states.
const (
	StateCreated         TradeState = "created"
	StateDeposited       TradeState = "deposited"
	StateTradeSent       TradeState = "trade_sent"
	StatePeriodStarted   TradeState = "period_started"
	StateReturnTradeSent TradeState = "return_trade_sent"
	StateCanWithdraw     TradeState = "can_withdraw"
	StateCanRelease      TradeState = "can_release"
	StateCanReclaim      TradeState = "can_reclaim"
	StateCanSeize        TradeState = "can_seize"
	StateWithdrawn       TradeState = "withdrawn"
	StateReleased        TradeState = "released"
	StateReclaimed       TradeState = "reclaimed"
	StateSeized          TradeState = "seized"
	StateDispute1        TradeState = "dispute1"
	StateDispute2        TradeState = "dispute2"
)

// AllTradeStates lists every state, used by exhaustive table checks.
var AllTradeStates = []TradeState{
	StateCreated, StateDeposited, StateTradeSent, StatePeriodStarted, StateReturnTradeSent,
	StateCanWithdraw, StateCanRelease, StateCanReclaim, StateCanSeize,
	StateWithdrawn, StateReleased, StateReclaimed, StateSeized,
	StateDispute1, StateDispute2,
}

// Terminal reports whether no further transition can leave the state.
func (s TradeState) Terminal() bool {
	switch s {
	case StateWithdrawn, StateReleased, StateReclaimed, StateSeized:
		return true
	default:
		return false
	}
}

// Disputed reports whether the trade waits for arbitration.
func (s TradeState) Disputed() bool {
	return s == StateDispute1 || s == StateDispute2
}

// ListingState represents the lifecycle of an open offer.
type ListingState string

const (
	ListingActive    ListingState = "active"
	ListingOngoing   ListingState = "ongoing"
	ListingCompleted ListingState = "completed"
	ListingCanceled  ListingState = "canceled"
)

// Initiator values recorded in the trade audit trail.
const (
	InitiatorBuyer  = "buyer"
	InitiatorSeller = "seller"
	InitiatorAdmin  = "admin"
)

// Trade is the unit of escrow. Logs are append-only.
type Trade struct {
	ID            uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	ListingID     uuid.UUID       `gorm:"type:uuid;index;not null" json:"listingId"`
	Buyer         string          `gorm:"size:128;index;not null" json:"buyer"`
	Seller        string          `gorm:"size:128;index;not null" json:"seller"`
	Type          TradeType       `gorm:"size:8;not null" json:"type"`
	State         TradeState      `gorm:"size:32;index;not null" json:"state"`
	Deadline      time.Time       `gorm:"not null" json:"deadline"`
	Weeks         int             `json:"weeks,omitempty"`
	Rent          int64           `json:"rent,omitempty"`
	Fee           int64           `json:"fee,omitempty"`
	FeePercent    decimal.Decimal `gorm:"type:varchar(32);not null;default:'0'" json:"feePercent"`
	RentClaimable bool            `gorm:"not null;default:false" json:"rentClaimable"`
	FeeClaimable  bool            `gorm:"not null;default:false" json:"feeClaimable"`
	DepositTx     string          `gorm:"size:128" json:"depositTx,omitempty"`
	Logs          []TradeLog      `gorm:"foreignKey:TradeID" json:"logs,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// TradeLog is one audit trail entry.
type TradeLog struct {
	ID        uint       `gorm:"primaryKey;autoIncrement" json:"-"`
	TradeID   uuid.UUID  `gorm:"type:uuid;index;not null" json:"-"`
	Initiator string     `gorm:"size:16;not null" json:"initiator"`
	State     TradeState `gorm:"size:32;not null" json:"state"`
	CreatedAt time.Time  `json:"createdAt"`
}

// LendTerms holds the lending window and weekly price of a lend listing.
type LendTerms struct {
	MinWeek     int   `json:"minWeek"`
	MaxWeek     int   `json:"maxWeek"`
	WeeklyPrice int64 `json:"weeklyPrice"`
}

// Listing is an open offer. Prices are in cents of the quote currency.
type Listing struct {
	ID        uuid.UUID    `gorm:"type:uuid;primaryKey" json:"id"`
	Seller    string       `gorm:"size:128;index;not null" json:"seller"`
	ItemID    string       `gorm:"size:128;not null" json:"itemId"`
	Token     string       `gorm:"size:32;not null" json:"token"`
	Type      TradeType    `gorm:"size:8;not null" json:"type"`
	Price     int64        `gorm:"not null" json:"price"`
	Lend      LendTerms    `gorm:"embedded;embeddedPrefix:lend_" json:"lend"`
	Hidden    bool         `gorm:"not null;default:false" json:"hidden"`
	State     ListingState `gorm:"size:16;index;not null" json:"state"`
	CreatedAt time.Time    `json:"createdAt"`
	UpdatedAt time.Time    `json:"updatedAt"`
}

// Chain is the per-ledger scan cursor and endpoint configuration.
type Chain struct {
	Name            string    `gorm:"primaryKey;size:64" json:"name"`
	ChainID         int64     `gorm:"not null" json:"chainId"`
	RPCURL          string    `gorm:"size:255;not null" json:"rpcUrl"`
	Contract        string    `gorm:"size:255;not null" json:"contract"`
	LastBlockHeight uint64    `gorm:"not null" json:"lastBlockHeight"`
	ScanningSize    uint64    `gorm:"not null" json:"scanningSize"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// Token describes a payment token accepted by listings.
type Token struct {
	Symbol    string    `gorm:"primaryKey;size:32" json:"symbol"`
	Name      string    `gorm:"size:64" json:"name"`
	Chain     string    `gorm:"size:64;index;not null" json:"chain"`
	Decimals  int       `gorm:"not null" json:"decimals"`
	Contract  string    `gorm:"size:255;not null" json:"contract"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Setting is a named configuration value, e.g. the lending fee percentage.
type Setting struct {
	Key   string `gorm:"primaryKey;size:64" json:"key"`
	Value string `gorm:"size:255;not null" json:"value"`
}

// IdempotencyKey stores request idempotency metadata.
type IdempotencyKey struct {
	Key       string `gorm:"primaryKey;size:128"`
	Subject   string `gorm:"size:128"`
	Method    string `gorm:"size:8"`
	Path      string `gorm:"size:255"`
	Status    int
	Response  string `gorm:"type:text"`
	CreatedAt time.Time
}

// AutoMigrate performs all schema migrations for the service, including the
// partial unique indexes gorm tags cannot express.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&Listing{},
		&Trade{},
		&TradeLog{},
		&Chain{},
		&Token{},
		&Setting{},
		&IdempotencyKey{},
	); err != nil {
		return err
	}
	stmts := []string{
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_trades_created_buyer_listing ON trades (buyer, listing_id) WHERE state = 'created'`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_listings_open_seller_item ON listings (seller, item_id) WHERE state IN ('active', 'ongoing')`,
	}
	for _, stmt := range stmts {
		if err := db.Exec(stmt).Error; err != nil {
			return err
		}
	}
	return nil
}
