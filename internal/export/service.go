package export

import (
	"context"
	"fmt"
	"strings"
	"time"

	"wayfarer/api/internal/store"
)

// DataStore defines the interface for data access
type DataStore interface {
	GetTripProposal(ctx context.Context, tripID string) (store.TripProposal, error)
	GetCustomer(ctx context.Context, customerID string) (store.Customer, error)
}

// Service renders trip itineraries to PDF
type Service struct {
	store DataStore
}

// NewService creates a new export service
func NewService(store DataStore) *Service {
	return &Service{store: store}
}

// ExportTripPDF renders the itinerary for a trip proposal as a PDF.
func (s *Service) ExportTripPDF(ctx context.Context, tripID string) (*Result, error) {
	trip, err := s.store.GetTripProposal(ctx, tripID)
	if err != nil {
		return nil, fmt.Errorf("get trip proposal: %w", err)
	}

	customer, err := s.store.GetCustomer(ctx, trip.CustomerID)
	if err != nil {
		return nil, fmt.Errorf("get customer: %w", err)
	}

	doc := ItineraryDocument{
		Title:         trip.Title,
		CustomerName:  customer.FullName,
		PlanningPhase: trip.PlanningPhase,
		StartDate:     trip.StartDate,
		EndDate:       trip.EndDate,
		DepositCents:  trip.DepositCents,
		Currency:      trip.Currency,
		Itinerary:     trip.Itinerary,
	}

	data := templateData{
		Doc:         doc,
		GeneratedAt: time.Now(),
	}
	// Only show the deposit line while the trip is still being sold.
	if trip.DepositStatus != "paid" && trip.DepositCents > 0 {
		data.Amount = formatAmount(trip.DepositCents, trip.Currency)
	}

	html, err := RenderItineraryHTML(data)
	if err != nil {
		return nil, fmt.Errorf("render itinerary: %w", err)
	}

	return renderPDF(html, trip.Title)
}

func formatAmount(cents int64, currency string) string {
	return fmt.Sprintf("%.2f %s", float64(cents)/100, strings.ToUpper(currency))
}
