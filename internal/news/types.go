// Package news holds the core data model shared by every component of the
// digest pipeline: ingested items, delivery history, subscribers and the
// market snapshot consumed by the crypto composer.
package news

import "time"

// Category is one of the five fixed digest sections.
type Category string

const (
	CategoryLocal         Category = "LOCAL"
	CategoryGlobal        Category = "GLOBAL"
	CategoryTech          Category = "TECH"
	CategorySports        Category = "SPORTS"
	CategoryFinanceCrypto Category = "FINANCE_CRYPTO"
)

// Categories lists the five sections in their fixed display order.
var Categories = []Category{CategoryLocal, CategoryGlobal, CategoryTech, CategorySports, CategoryFinanceCrypto}

// Item is a normalized news entry produced by the Feed Fetcher.
type Item struct {
	SourceID      string
	Category      Category
	Title         string
	URL           string
	PublishedAt   time.Time
	FetchedAt     time.Time
	TimeEstimated bool
	Fingerprint   string
	ReliabilityWt float64
	Placeholder   bool // CategoryStarved filler; never has a fingerprint, never marked sent
}

// Source is one entry in the static per-category catalogue.
type Source struct {
	ID                string   `yaml:"id"`
	Name              string   `yaml:"name"`
	Category          Category `yaml:"category"`
	URL               string   `yaml:"url"`
	ReliabilityWeight float64  `yaml:"reliability_weight"`
	Enabled           bool     `yaml:"enabled"`
}

// DeliveryRecord is one row of the Dedup Store's delivery history: a
// fingerprint already sent to a chat.
type DeliveryRecord struct {
	ChatID      string
	Fingerprint string
	Category    Category
	SentAt      time.Time
}

// Slot is one of the four fixed local-time delivery windows.
type Slot string

const (
	SlotMorning Slot = "MORNING"
	SlotNoon    Slot = "NOON"
	SlotEvening Slot = "EVENING"
	SlotNight   Slot = "NIGHT"
)

// SlotTime pairs a slot with its local trigger time.
type SlotTime struct {
	Slot Slot
	Hour int
	Min  int
}

// Slots lists the four slots together with their local trigger time, in
// the fixed order the spec defines them.
var Slots = []SlotTime{
	{SlotMorning, 8, 0},
	{SlotNoon, 13, 0},
	{SlotEvening, 19, 0},
	{SlotNight, 23, 0},
}

// Subscriber is a chat registered to receive scheduled digests.
type Subscriber struct {
	ChatID       string
	Timezone     string
	Active       bool
	CreatedAt    time.Time
	LastSlotSent map[Slot]time.Time // truncated to the subscriber's local date
}

// CoinQuote is one entry in a MarketSnapshot's gainers/losers list.
type CoinQuote struct {
	Symbol       string
	Price        float64
	PctChange1h  float64 // populated only by Quote(); zero in gainers/losers lists
	PctChange24h float64
	PctChange7d  float64 // populated only by Quote(); zero in gainers/losers lists
	PctChange30d float64 // populated only by Quote(); zero in gainers/losers lists
	Volume24h    float64
}

// IndexQuote is a non-crypto market index tracked alongside the crypto block.
type IndexQuote struct {
	Name      string
	Value     float64
	PctChange float64
}

// MarketSnapshot is a point-in-time summary of the crypto market.
type MarketSnapshot struct {
	TakenAt        time.Time
	TotalCapUSD    float64
	TotalVolumeUSD float64
	FearGreedIndex int
	Gainers        []CoinQuote
	Losers         []CoinQuote
	IndexQuotes    []IndexQuote
}

// CoinDetail is the on-demand per-symbol analysis (/btcstats).
type CoinDetail struct {
	Symbol     string
	Price      float64
	Change1h   float64
	Change24h  float64
	Change7d   float64
	Change30d  float64
	RSI14      float64
	Support    float64
	Resistance float64
	Signal     string // BUY | HOLD | WATCH | SELL
}

// WeatherSnapshot is the weather block content for one location.
type WeatherSnapshot struct {
	TempMinC  float64
	TempMaxC  float64
	Condition string
	AQI       int
	UV        float64
}

// Digest is one fully assembled delivery, split into transport-sized
// messages.
type Digest struct {
	ChatID       string
	Slot         Slot // empty for on-demand digests
	Messages     []string
	Fingerprints []string // flattened across categories, excludes placeholders
	CreatedAt    time.Time
}
