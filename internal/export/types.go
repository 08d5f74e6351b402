// Package export renders trip itineraries as PDF documents for
// sending to customers.
package export

import (
	"errors"
	"time"
)

// ItineraryDocument is the data rendered into the itinerary PDF.
type ItineraryDocument struct {
	Title         string
	CustomerName  string
	PlanningPhase string
	StartDate     time.Time
	EndDate       time.Time
	DepositCents  int64
	Currency      string
	Itinerary     string
}

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
var ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
