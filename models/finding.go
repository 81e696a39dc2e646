package models

// Finding kinds reported by the extractor.
const (
	KindEvent    = "EVENT"
	KindCourse   = "COURSE"
	KindWorkshop = "WORKSHOP"
	KindOffer    = "OFFER"
	KindNews     = "NEWS"
)

// Finding is one validated item pulled out of a page by the extractor.
// It is transient: only the dedup index turns it into an Event.
type Finding struct {
	Title        string `json:"title"`
	Kind         string `json:"type"`
	Summary      string `json:"summary"`
	Price        string `json:"price,omitempty"`
	PriceInfo    string `json:"price_info"`
	Location     string `json:"location"`
	Registration string `json:"registration_info,omitempty"`
	DateISO      string `json:"date_iso,omitempty"`
	DateText     string `json:"date_text"`
	IsPast       bool   `json:"is_past"`
	Link         string `json:"link"`
}

// Analysis is the validated result of one extraction call.
type Analysis struct {
	SiteCategory string    `json:"site_category"`
	FutureEvents []Finding `json:"future_events"`
	PastEvents   []Finding `json:"past_events"`
	Insights     []string  `json:"insights"`

	// Degraded is set when every attempt failed and the result is synthetic.
	Degraded bool `json:"degraded,omitempty"`
	Attempts int  `json:"attempts"`
	CacheHit bool `json:"cache_hit,omitempty"`
}

// Findings returns future then past findings in extractor order.
func (a *Analysis) Findings() []Finding {
	out := make([]Finding, 0, len(a.FutureEvents)+len(a.PastEvents))
	out = append(out, a.FutureEvents...)
	return append(out, a.PastEvents...)
}

// ExtractOptions are passed through to the extractor backend.
type ExtractOptions struct {
	Language        string
	CurrentDate     string
	SourceURL       string
	Temperature     float64
	MaxOutputTokens int
	JSON            bool
}
