package collection

import (
	"time"

	"gorm.io/gorm"
)

const (
	// AddedScanned marks cards created by committing a scan.
	AddedScanned = "SCANNED"
	// AddedManual marks cards entered by hand.
	AddedManual = "MANUAL"

	// DefaultCondition is applied when no condition is given.
	DefaultCondition = "LP"
)

// Conditions lists the accepted card conditions, best first.
var Conditions = []string{"M", "NM", "LP", "MP", "HP", "DMG"}

// Card is one logical entry in the collection. Count holds the number of
// physical copies stacked on it.
type Card struct {
	ID              string         `gorm:"primaryKey;size:36" json:"id"`
	Name            string         `gorm:"size:255;not null;index" json:"name"`
	SetCode         string         `gorm:"size:16;index" json:"set_code"`
	SetName         string         `gorm:"size:255" json:"set_name"`
	CollectorNumber string         `gorm:"size:32" json:"collector_number"`
	IdentityKey     string         `gorm:"size:600;not null;index" json:"identity_key"`
	ScryfallID      string         `gorm:"size:36" json:"scryfall_id,omitempty"`
	Rarity          string         `gorm:"size:32" json:"rarity,omitempty"`
	ManaCost        string         `gorm:"size:64" json:"mana_cost,omitempty"`
	TypeLine        string         `gorm:"size:255" json:"type_line,omitempty"`
	OracleText      string         `json:"oracle_text,omitempty"`
	ImageURL        string         `json:"image_url,omitempty"`
	PriceUSD        *float64       `json:"price_usd,omitempty"`
	PriceEUR        *float64       `json:"price_eur,omitempty"`
	PriceTix        *float64       `json:"price_tix,omitempty"`
	Count           int            `gorm:"not null;default:1" json:"count"`
	Condition       string         `gorm:"size:8;not null;default:LP" json:"condition"`
	Notes           string         `json:"notes,omitempty"`
	AddedMethod     string         `gorm:"size:16;not null" json:"added_method"`
	ScanID          *string        `gorm:"size:36;index" json:"scan_id,omitempty"`
	ScanImageID     *string        `gorm:"size:36" json:"scan_image_id,omitempty"`
	IsExample       bool           `gorm:"not null;default:false" json:"is_example"`
	FirstSeen       time.Time      `json:"first_seen"`
	LastSeen        time.Time      `json:"last_seen"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	DeletedAt       gorm.DeletedAt `gorm:"index" json:"-"`
}

// Provenance records where a batch of copies on a card came from. The rows
// for one card form its duplicates list.
type Provenance struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	CardID       string    `gorm:"size:36;not null;index" json:"card_id"`
	ScanID       string    `gorm:"size:36;index" json:"scan_id,omitempty"`
	ScanImageID  string    `gorm:"size:36" json:"scan_image_id,omitempty"`
	ScanResultID string    `gorm:"size:36;index" json:"scan_result_id,omitempty"`
	Quantity     int       `gorm:"not null" json:"quantity"`
	AddedMethod  string    `gorm:"size:16;not null" json:"added_method"`
	AddedAt      time.Time `json:"added_at"`
}

// TableName keeps the singular table name.
func (Provenance) TableName() string { return "card_provenance" }

// ScanCommit is the ledger row written once per committed scan.
type ScanCommit struct {
	ScanID       string    `gorm:"primaryKey;size:36" json:"scan_id"`
	Copies       int       `gorm:"not null" json:"copies"`
	NewCards     int       `gorm:"not null" json:"new_cards"`
	StackedCards int       `gorm:"not null" json:"stacked_cards"`
	CommittedAt  time.Time `json:"committed_at"`
}

// Addition is one accepted scan result to fold into the collection.
type Addition struct {
	ResultID        string
	ScanImageID     string
	Name            string
	SetCode         string
	SetName         string
	CollectorNumber string
	Quantity        int
	ScryfallID      string
	Rarity          string
	ManaCost        string
	TypeLine        string
	OracleText      string
	ImageURL        string
	PriceUSD        *float64
	PriceEUR        *float64
	PriceTix        *float64
}

// Stack groups every card row sharing an identity key.
type Stack struct {
	IdentityKey     string `json:"identity_key"`
	Name            string `json:"name"`
	SetCode         string `json:"set_code"`
	SetName         string `json:"set_name"`
	CollectorNumber string `json:"collector_number"`
	StackCount      int    `json:"stack_count"`
	TotalCards      int    `json:"total_cards"`
	Duplicates      []Card `json:"duplicates"`
}

// Stats summarizes the collection.
type Stats struct {
	UniqueCards  int64   `json:"unique_cards"`
	TotalCopies  int64   `json:"total_copies"`
	ValueUSD     float64 `json:"total_value_usd"`
	ValueEUR     float64 `json:"total_value_eur"`
	OwnedCards   int64   `json:"owned_cards"`
	ExampleCards int64   `json:"example_cards"`
}
