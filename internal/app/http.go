package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"wayfarer/api/internal/auth"
	"wayfarer/api/internal/authpw"
	"wayfarer/api/internal/export"
	"wayfarer/api/internal/rbac"
	"wayfarer/api/internal/search"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
	webhook    http.Handler
}

// NewHTTPServer wires the service into the route table. webhook is the
// Stripe endpoint handler and may be nil when Stripe is not configured.
func NewHTTPServer(service *Service, corsOrigin string, webhook http.Handler) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin, webhook: webhook}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"database": map[string]any{"status": "ok"},
		}

		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["database"] = map[string]any{
				"status": "error",
				"error":  err.Error(),
			}
		}

		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	// Stripe calls this with its own signature scheme, never a session.
	if r.Method == http.MethodPost && r.URL.Path == "/api/stripe/webhook" {
		if s.webhook == nil {
			writeError(w, http.StatusServiceUnavailable, "STRIPE_UNAVAILABLE", "Stripe webhook not configured", nil)
			return
		}
		s.webhook.ServeHTTP(w, r)
		return
	}

	// Auth routes (no session required)
	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/signup" {
		s.handleAuthSignUp(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/signin" {
		s.handleAuthSignIn(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/verify-email" {
		s.handleAuthVerifyEmail(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/reset-password/request" {
		s.handleAuthRequestReset(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/reset-password" {
		s.handleAuthResetPassword(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/session" {
		token := bearerToken(r)
		if token == "" {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "userName": nil})
			return
		}
		session, err := s.service.SessionFromToken(r.Context(), token)
		if err != nil {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "userName": nil})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"authenticated": true, "userName": session.UserName, "userId": session.UserID, "role": session.Role})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/refresh" {
		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		session, err := s.service.Refresh(r.Context(), body.RefreshToken)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Refresh token invalid", nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"token":        session.Token,
			"refreshToken": session.RefreshToken,
			"userName":     session.UserName,
		})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/logout" {
		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		_ = decodeBody(r, &body)
		_ = s.service.Logout(r.Context(), body.RefreshToken)
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	parts := splitPath(r.URL.Path)

	// Guests browse departures and reserve seats without an account.
	if r.Method == http.MethodGet && r.URL.Path == "/api/shared-tours" {
		payload, err := s.service.ListSharedTours(r.Context())
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"tours": payload})
		return
	}

	if r.Method == http.MethodPost && len(parts) == 4 && parts[0] == "api" && parts[1] == "shared-tours" && parts[3] == "tickets" {
		var body struct {
			HolderName string `json:"holderName"`
			Email      string `json:"email"`
			Seats      int    `json:"seats"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.ReserveTicket(r.Context(), parts[2], body.HolderName, body.Email, body.Seats)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusCreated, payload)
		return
	}

	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/search" {
		if !s.service.Can(session.Role, rbac.ActionRead) {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
			return
		}
		s.handleSearch(w, r)
		return
	}

	if len(parts) >= 2 && parts[0] == "api" {
		switch parts[1] {
		case "customers":
			s.handleCustomers(w, r, session, parts)
			return
		case "bookings":
			s.handleBookings(w, r, session, parts)
			return
		case "offers":
			s.handleOffers(w, r, session, parts)
			return
		case "drivers":
			if r.Method == http.MethodGet && len(parts) == 2 {
				s.respond(w, session, rbac.ActionRead, func() (any, error) {
					payload, err := s.service.ListDrivers(r.Context())
					return map[string]any{"drivers": payload}, err
				})
				return
			}
		case "vehicles":
			s.handleVehicles(w, r, session, parts)
			return
		case "inspections":
			s.handleInspections(w, r, session, parts)
			return
		case "photos":
			if r.Method == http.MethodGet && len(parts) == 2 {
				key := strings.TrimSpace(r.URL.Query().Get("key"))
				if key == "" {
					writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "key is required", nil)
					return
				}
				s.respond(w, session, rbac.ActionRead, func() (any, error) {
					return s.service.InspectionPhotoURL(r.Context(), key)
				})
				return
			}
		case "proposals":
			s.handleProposals(w, r, session, parts)
			return
		case "trips":
			s.handleTrips(w, r, session, parts)
			return
		case "shared-tours":
			if r.Method == http.MethodPost && len(parts) == 2 {
				var body struct {
					Name       string    `json:"name"`
					DepartsAt  time.Time `json:"departsAt"`
					SeatsTotal int       `json:"seatsTotal"`
					PriceCents int64     `json:"priceCents"`
					Currency   string    `json:"currency"`
				}
				if err := decodeBody(r, &body); err != nil {
					writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
					return
				}
				s.respondCreated(w, session, rbac.ActionWrite, func() (any, error) {
					return s.service.CreateSharedTour(r.Context(), body.Name, body.DepartsAt, body.SeatsTotal, body.PriceCents, body.Currency)
				})
				return
			}
		case "guest-payments":
			if r.Method == http.MethodPost && len(parts) == 2 {
				var body struct {
					BookingID   string `json:"bookingId"`
					Email       string `json:"email"`
					Description string `json:"description"`
					AmountCents int64  `json:"amountCents"`
					Currency    string `json:"currency"`
				}
				if err := decodeBody(r, &body); err != nil {
					writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
					return
				}
				s.respondCreated(w, session, rbac.ActionWrite, func() (any, error) {
					return s.service.CreateGuestPayment(r.Context(), body.BookingID, body.Email, body.Description, body.AmountCents, body.Currency)
				})
				return
			}
		case "tips":
			if r.Method == http.MethodPost && len(parts) == 2 {
				var body struct {
					BookingID   string `json:"bookingId"`
					DriverID    string `json:"driverId"`
					AmountCents int64  `json:"amountCents"`
					Currency    string `json:"currency"`
				}
				if err := decodeBody(r, &body); err != nil {
					writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
					return
				}
				s.respondCreated(w, session, rbac.ActionWrite, func() (any, error) {
					return s.service.CreateDriverTip(r.Context(), body.BookingID, body.DriverID, body.AmountCents, body.Currency)
				})
				return
			}
		}
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

// respond runs fn after an RBAC check and writes the result as 200.
func (s *HTTPServer) respond(w http.ResponseWriter, session Session, action rbac.Action, fn func() (any, error)) {
	s.respondStatus(w, session, action, http.StatusOK, fn)
}

func (s *HTTPServer) respondCreated(w http.ResponseWriter, session Session, action rbac.Action, fn func() (any, error)) {
	s.respondStatus(w, session, action, http.StatusCreated, fn)
}

func (s *HTTPServer) respondStatus(w http.ResponseWriter, session Session, action rbac.Action, status int, fn func() (any, error)) {
	if !s.service.Can(session.Role, action) {
		writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
		return
	}
	payload, err := fn()
	if err != nil {
		errStatus, code, message, details := mapError(err)
		writeError(w, errStatus, code, message, details)
		return
	}
	writeJSON(w, status, payload)
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	filterType := strings.TrimSpace(r.URL.Query().Get("type"))
	filterStatus := strings.TrimSpace(r.URL.Query().Get("status"))
	limit := 20
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "limit must be an integer", nil)
			return
		}
		limit = parsed
	}
	offset := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("offset")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "offset must be an integer", nil)
			return
		}
		offset = parsed
	}

	response := s.service.Search(search.Query{
		Text:         q,
		FilterType:   search.ResultType(filterType),
		FilterStatus: filterStatus,
		Limit:        limit,
		Offset:       offset,
	})
	writeJSON(w, http.StatusOK, response)
}

func (s *HTTPServer) handleCustomers(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	switch {
	case r.Method == http.MethodGet && len(parts) == 2:
		s.respond(w, session, rbac.ActionRead, func() (any, error) {
			payload, err := s.service.ListCustomers(r.Context())
			return map[string]any{"customers": payload}, err
		})
	case r.Method == http.MethodGet && len(parts) == 3:
		s.respond(w, session, rbac.ActionRead, func() (any, error) {
			return s.service.GetCustomer(r.Context(), parts[2])
		})
	case r.Method == http.MethodPost && len(parts) == 2:
		var body struct {
			FullName string `json:"fullName"`
			Email    string `json:"email"`
			Phone    string `json:"phone"`
			Notes    string `json:"notes"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		s.respondCreated(w, session, rbac.ActionWrite, func() (any, error) {
			return s.service.CreateCustomer(r.Context(), body.FullName, body.Email, body.Phone, body.Notes)
		})
	case r.Method == http.MethodPut && len(parts) == 3:
		var body struct {
			FullName string `json:"fullName"`
			Phone    string `json:"phone"`
			Notes    string `json:"notes"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		s.respond(w, session, rbac.ActionWrite, func() (any, error) {
			return s.service.UpdateCustomer(r.Context(), parts[2], body.FullName, body.Phone, body.Notes)
		})
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleBookings(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	switch {
	case r.Method == http.MethodGet && len(parts) == 2:
		status := strings.TrimSpace(r.URL.Query().Get("status"))
		s.respond(w, session, rbac.ActionRead, func() (any, error) {
			payload, err := s.service.ListBookings(r.Context(), status)
			return map[string]any{"bookings": payload}, err
		})
	case r.Method == http.MethodGet && len(parts) == 3:
		s.respond(w, session, rbac.ActionRead, func() (any, error) {
			return s.service.GetBooking(r.Context(), parts[2])
		})
	case r.Method == http.MethodPost && len(parts) == 2:
		var body CreateBookingInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		s.respondCreated(w, session, rbac.ActionWrite, func() (any, error) {
			return s.service.CreateBooking(r.Context(), body)
		})
	case r.Method == http.MethodPost && len(parts) == 4 && parts[3] == "status":
		var body struct {
			Status string `json:"status"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		s.respond(w, session, rbac.ActionWrite, func() (any, error) {
			return s.service.SetBookingStatus(r.Context(), parts[2], body.Status)
		})
	case r.Method == http.MethodGet && len(parts) == 4 && parts[3] == "offers":
		s.respond(w, session, rbac.ActionDispatch, func() (any, error) {
			payload, err := s.service.ListBookingOffers(r.Context(), parts[2])
			return map[string]any{"offers": payload}, err
		})
	case r.Method == http.MethodPost && len(parts) == 4 && parts[3] == "offers":
		var body CreateOfferInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		s.respondCreated(w, session, rbac.ActionDispatch, func() (any, error) {
			return s.service.CreateOffer(r.Context(), parts[2], body)
		})
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleOffers(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	switch {
	case r.Method == http.MethodGet && len(parts) == 2:
		status := strings.TrimSpace(r.URL.Query().Get("status"))
		s.respond(w, session, rbac.ActionRespond, func() (any, error) {
			payload, err := s.service.ListMyOffers(r.Context(), session, status)
			return map[string]any{"offers": payload}, err
		})
	case r.Method == http.MethodPost && len(parts) == 4 && parts[3] == "accept":
		s.respond(w, session, rbac.ActionRespond, func() (any, error) {
			return s.service.AcceptOffer(r.Context(), session, parts[2])
		})
	case r.Method == http.MethodPost && len(parts) == 4 && parts[3] == "decline":
		s.respond(w, session, rbac.ActionRespond, func() (any, error) {
			return s.service.DeclineOffer(r.Context(), session, parts[2])
		})
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleVehicles(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	switch {
	case r.Method == http.MethodGet && len(parts) == 2:
		s.respond(w, session, rbac.ActionRead, func() (any, error) {
			payload, err := s.service.ListVehicles(r.Context())
			return map[string]any{"vehicles": payload}, err
		})
	case r.Method == http.MethodGet && len(parts) == 4 && parts[3] == "inspections":
		s.respond(w, session, rbac.ActionRead, func() (any, error) {
			payload, err := s.service.ListInspections(r.Context(), parts[2])
			return map[string]any{"inspections": payload}, err
		})
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleInspections(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	switch {
	case r.Method == http.MethodPost && len(parts) == 2:
		var body CreateInspectionInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		s.respondCreated(w, session, rbac.ActionRespond, func() (any, error) {
			return s.service.CreateInspection(r.Context(), session, body)
		})
	case r.Method == http.MethodPost && len(parts) == 4 && parts[3] == "photo-url":
		var body struct {
			Filename string `json:"filename"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		s.respond(w, session, rbac.ActionRespond, func() (any, error) {
			return s.service.InspectionPhotoUploadURL(r.Context(), parts[2], body.Filename)
		})
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleProposals(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	switch {
	case r.Method == http.MethodPost && len(parts) == 2:
		var body struct {
			CustomerID  string `json:"customerId"`
			Title       string `json:"title"`
			AmountCents int64  `json:"amountCents"`
			Currency    string `json:"currency"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		s.respondCreated(w, session, rbac.ActionWrite, func() (any, error) {
			return s.service.CreateProposal(r.Context(), body.CustomerID, body.Title, body.AmountCents, body.Currency)
		})
	case r.Method == http.MethodPost && len(parts) == 4 && parts[3] == "send":
		s.respond(w, session, rbac.ActionWrite, func() (any, error) {
			return s.service.SendProposal(r.Context(), parts[2])
		})
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleTrips(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	switch {
	case r.Method == http.MethodGet && len(parts) == 2:
		s.respond(w, session, rbac.ActionRead, func() (any, error) {
			payload, err := s.service.ListTrips(r.Context())
			return map[string]any{"trips": payload}, err
		})
	case r.Method == http.MethodGet && len(parts) == 3:
		s.respond(w, session, rbac.ActionRead, func() (any, error) {
			return s.service.GetTrip(r.Context(), parts[2])
		})
	case r.Method == http.MethodPost && len(parts) == 2:
		var body CreateTripInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		s.respondCreated(w, session, rbac.ActionWrite, func() (any, error) {
			return s.service.CreateTrip(r.Context(), body)
		})
	case r.Method == http.MethodPost && len(parts) == 4 && parts[3] == "finalize":
		s.respond(w, session, rbac.ActionWrite, func() (any, error) {
			return s.service.FinalizeTrip(r.Context(), parts[2])
		})
	case r.Method == http.MethodPut && len(parts) == 4 && parts[3] == "itinerary":
		var body struct {
			Itinerary string `json:"itinerary"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		s.respond(w, session, rbac.ActionWrite, func() (any, error) {
			return s.service.UpdateTripItinerary(r.Context(), parts[2], body.Itinerary)
		})
	case r.Method == http.MethodGet && len(parts) == 4 && parts[3] == "export.pdf":
		if !s.service.Can(session.Role, rbac.ActionRead) {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
			return
		}
		result, err := s.service.ExportTripPDF(r.Context(), parts[2])
		if err != nil {
			if errors.Is(err, export.ErrPDFDependencyMissing) {
				writeError(w, http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "PDF renderer unavailable", nil)
				return
			}
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		w.Header().Set("Content-Type", result.MimeType)
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(result.Data)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrInvalidToken) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return Session{}, false
		}
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Session lookup failed", nil)
		return Session{}, false
	}
	return session, true
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}

// Auth handlers for email/password authentication

func (s *HTTPServer) handleAuthSignUp(w http.ResponseWriter, r *http.Request) {
	authSvc := s.service.AuthPasswordService()
	if authSvc == nil {
		writeError(w, http.StatusServiceUnavailable, "AUTH_UNAVAILABLE", "Authentication service not configured", nil)
		return
	}

	var body struct {
		Email       string `json:"email"`
		Password    string `json:"password"`
		DisplayName string `json:"displayName"`
		Role        string `json:"role"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	resp, err := authSvc.SignUp(r.Context(), authpw.SignUpRequest{
		Email:       body.Email,
		Password:    body.Password,
		DisplayName: body.DisplayName,
		Role:        body.Role,
	})
	if err != nil {
		if err.Error() == "email already registered" {
			writeError(w, http.StatusConflict, "EMAIL_EXISTS", "Email already registered", nil)
			return
		}
		writeError(w, http.StatusBadRequest, "SIGNUP_FAILED", err.Error(), nil)
		return
	}

	emailConfigured := s.service.SMTPConfigured()
	if emailConfigured {
		go func() {
			verifyURL := "/verify?token=" + resp.VerificationToken
			if err := s.service.Mailer().SendVerificationEmail(body.Email, body.DisplayName, verifyURL); err != nil {
				log.Printf("verification email to %s failed: %v", body.Email, err)
			}
		}()
	}

	response := map[string]any{
		"userId":  resp.UserID,
		"message": "Please check your email to verify your account",
	}
	// Dev bypass: include verification token in response when email not configured
	if !emailConfigured {
		response["devVerificationToken"] = resp.VerificationToken
		response["message"] = "Account created. Verify your email to continue."
	}

	writeJSON(w, http.StatusCreated, response)
}

func (s *HTTPServer) handleAuthSignIn(w http.ResponseWriter, r *http.Request) {
	authSvc := s.service.AuthPasswordService()
	if authSvc == nil {
		writeError(w, http.StatusServiceUnavailable, "AUTH_UNAVAILABLE", "Authentication service not configured", nil)
		return
	}

	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	resp, err := authSvc.SignIn(r.Context(), authpw.SignInRequest{
		Email:    body.Email,
		Password: body.Password,
	})
	if err != nil {
		writeError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password", nil)
		return
	}

	if resp.RequiresVerify {
		writeError(w, http.StatusForbidden, "EMAIL_NOT_VERIFIED", "Please verify your email before signing in", nil)
		return
	}

	session, err := s.service.CreateSession(r.Context(), resp.User.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "SESSION_FAILED", "Failed to create session", nil)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"accessToken":  session.Token,
		"refreshToken": session.RefreshToken,
		"userId":       session.UserID,
		"userName":     session.UserName,
		"role":         session.Role,
		"expiresAt":    session.ExpiresAt.Unix(),
	})
}

func (s *HTTPServer) handleAuthVerifyEmail(w http.ResponseWriter, r *http.Request) {
	authSvc := s.service.AuthPasswordService()
	if authSvc == nil {
		writeError(w, http.StatusServiceUnavailable, "AUTH_UNAVAILABLE", "Authentication service not configured", nil)
		return
	}

	var body struct {
		Token string `json:"token"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	if err := authSvc.VerifyEmail(r.Context(), body.Token); err != nil {
		writeError(w, http.StatusBadRequest, "VERIFICATION_FAILED", err.Error(), nil)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Email verified successfully",
	})
}

func (s *HTTPServer) handleAuthRequestReset(w http.ResponseWriter, r *http.Request) {
	authSvc := s.service.AuthPasswordService()
	if authSvc == nil {
		writeError(w, http.StatusServiceUnavailable, "AUTH_UNAVAILABLE", "Authentication service not configured", nil)
		return
	}

	var body struct {
		Email string `json:"email"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	token, _ := authSvc.RequestPasswordReset(r.Context(), body.Email)

	emailConfigured := s.service.SMTPConfigured()
	if emailConfigured && token != "" {
		go func() {
			resetURL := "/reset-password?token=" + token
			if err := s.service.Mailer().SendPasswordResetEmail(body.Email, "", resetURL); err != nil {
				log.Printf("reset email to %s failed: %v", body.Email, err)
			}
		}()
	}

	response := map[string]any{
		"message": "If an account exists, a reset email has been sent",
	}
	// Dev bypass: include reset token in response when email not configured
	if !emailConfigured && token != "" {
		response["devResetToken"] = token
	}

	writeJSON(w, http.StatusOK, response)
}

func (s *HTTPServer) handleAuthResetPassword(w http.ResponseWriter, r *http.Request) {
	authSvc := s.service.AuthPasswordService()
	if authSvc == nil {
		writeError(w, http.StatusServiceUnavailable, "AUTH_UNAVAILABLE", "Authentication service not configured", nil)
		return
	}

	var body struct {
		Token       string `json:"token"`
		NewPassword string `json:"newPassword"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	if err := authSvc.ResetPassword(r.Context(), authpw.ResetPasswordRequest{
		Token:       body.Token,
		NewPassword: body.NewPassword,
	}); err != nil {
		writeError(w, http.StatusBadRequest, "RESET_FAILED", err.Error(), nil)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Password reset successfully",
	})
}
