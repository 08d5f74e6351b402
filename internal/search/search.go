package search

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultCustomer ResultType = "customer"
	ResultBooking  ResultType = "booking"
	ResultTrip     ResultType = "trip"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type    ResultType `json:"type"`
	ID      string     `json:"id"`
	Title   string     `json:"title"`
	Snippet string     `json:"snippet"`
	Status  string     `json:"status,omitempty"`
}

// Query describes a search request.
type Query struct {
	Text         string
	FilterType   ResultType // empty = all types
	FilterStatus string
	Limit        int
	Offset       int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push entities into a search index.
type Indexer interface {
	IndexCustomer(c CustomerRecord) error
	IndexBooking(b BookingRecord) error
	IndexTrip(t TripRecord) error
	DeleteCustomer(id string) error
	DeleteBooking(id string) error
}

// CustomerRecord is the data we index for a CRM customer.
type CustomerRecord struct {
	ID       string `json:"id"`
	FullName string `json:"fullName"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	Notes    string `json:"notes"`
}

// BookingRecord is the data we index for a booking.
type BookingRecord struct {
	ID        string `json:"id"`
	Reference string `json:"reference"`
	TourName  string `json:"tourName"`
	Status    string `json:"status"`
}

// TripRecord is the data we index for a trip proposal.
type TripRecord struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Itinerary string `json:"itinerary"`
	Phase     string `json:"phase"`
}
