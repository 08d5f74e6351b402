package search

import (
	"log"
)

// Service is the facade that tries Meilisearch first and falls back to PG FTS.
type Service struct {
	meili *Meili
	pgfts *PgFTS
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, pgfts *PgFTS) *Service {
	return &Service{meili: meili, pgfts: pgfts}
}

// Search tries Meilisearch if healthy, otherwise falls back to PG FTS.
func (s *Service) Search(q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		log.Printf("search: meilisearch error, falling back to pgfts: %v", err)
	}

	results, total, err := s.pgfts.Search(q)
	if err != nil {
		log.Printf("search: pgfts error: %v", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexCustomer indexes a customer (fire-and-forget to Meilisearch).
func (s *Service) IndexCustomer(c CustomerRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexCustomer(c); err != nil {
			log.Printf("search: index customer %s: %v", c.ID, err)
		}
	}()
}

// IndexBooking indexes a booking (fire-and-forget to Meilisearch).
func (s *Service) IndexBooking(b BookingRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexBooking(b); err != nil {
			log.Printf("search: index booking %s: %v", b.ID, err)
		}
	}()
}

// IndexTrip indexes a trip proposal (fire-and-forget to Meilisearch).
func (s *Service) IndexTrip(t TripRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexTrip(t); err != nil {
			log.Printf("search: index trip %s: %v", t.ID, err)
		}
	}()
}

// DeleteCustomer removes a customer from the search index (fire-and-forget).
func (s *Service) DeleteCustomer(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteCustomer(id); err != nil {
			log.Printf("search: delete customer %s: %v", id, err)
		}
	}()
}

// DeleteBooking removes a booking from the search index (fire-and-forget).
func (s *Service) DeleteBooking(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteBooking(id); err != nil {
			log.Printf("search: delete booking %s: %v", id, err)
		}
	}()
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
