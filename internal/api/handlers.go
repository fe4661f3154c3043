package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"ratehub/internal/model"
)

type quoteRequest struct {
	Shipment model.ShipmentDraft `json:"shipment"`
}

// HealthHandler reports liveness.
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ReadyHandler reports readiness.
func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// ShipmentValidateHandler handles POST /v1/shipments/validate
func (s *Server) ShipmentValidateHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req quoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	problems := validateShipment(req.Shipment)
	writeJSON(w, http.StatusOK, map[string]any{
		"eligible":    len(problems) == 0,
		"problems":    problems,
		"fingerprint": req.Shipment.Fingerprint(),
	})
}

// QuotesHandler handles POST /v1/quotes: a draft edit enters the
// debounced fetch lifecycle. Returns the current session snapshot.
func (s *Server) QuotesHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	_, tenant := s.withTenant(r)
	var req quoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	ctl := s.controllerFor(tenant)
	ctl.OnShipmentEdit(tenant, req.Shipment)
	writeJSON(w, http.StatusAccepted, ctl.Snapshot())
}

// QuoteRefreshHandler handles POST /v1/quotes/refresh: forces a new
// session regardless of fingerprint equality.
func (s *Server) QuoteRefreshHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	_, tenant := s.withTenant(r)
	var req quoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	ctl := s.controllerFor(tenant)
	ctl.Refresh(tenant, req.Shipment)
	writeJSON(w, http.StatusAccepted, ctl.Snapshot())
}

// QuoteCancelHandler handles POST /v1/quotes/cancel: the caller navigated
// away, retire the active session.
func (s *Server) QuoteCancelHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	_, tenant := s.withTenant(r)
	s.controllerFor(tenant).Cancel()
	writeJSON(w, http.StatusOK, map[string]string{"state": model.SessionIdle})
}

// ActiveQuoteHandler handles GET /v1/quotes/active
func (s *Server) ActiveQuoteHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	_, tenant := s.withTenant(r)
	writeJSON(w, http.StatusOK, s.controllerFor(tenant).Snapshot())
}

// QuoteResultsHandler handles GET /v1/quotes/results
func (s *Server) QuoteResultsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	ctx, tenant := s.withTenant(r)
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	items, err := s.Store.ListQuoteResults(ctx, tenant, limit)
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "List failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// QuoteStreamHandler handles GET /v1/quotes/stream: SSE stream of
// progressive rate updates for the tenant.
func (s *Server) QuoteStreamHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	_, tenant := s.withTenant(r)
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeProblem(w, http.StatusInternalServerError, "Streaming unsupported", "", r.URL.Path)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	// subscribe
	ch := s.Broker.Subscribe(tenant)
	defer s.Broker.Unsubscribe(tenant, ch)
	// initial heartbeat
	fmt.Fprintf(w, "event: heartbeat\n")
	fmt.Fprintf(w, "data: {\"tenantId\":\"%s\",\"ts\":\"%s\"}\n\n", tenant, time.Now().Format(time.RFC3339))
	flusher.Flush()
	// stream loop
	notify := r.Context().Done()
	for {
		select {
		case <-notify:
			return
		case evt := <-ch:
			b, _ := json.Marshal(evt.Data)
			fmt.Fprintf(w, "event: %s\n", evt.Type)
			fmt.Fprintf(w, "data: %s\n\n", string(b))
			flusher.Flush()
		case <-time.After(15 * time.Second):
			fmt.Fprintf(w, "event: heartbeat\n")
			fmt.Fprintf(w, "data: {\"tenantId\":\"%s\",\"ts\":\"%s\"}\n\n", tenant, time.Now().Format(time.RFC3339))
			flusher.Flush()
		}
	}
}

// CarriersHandler handles GET/PUT /v1/carriers: the tenant's carrier
// catalog view and enabled set.
func (s *Server) CarriersHandler(w http.ResponseWriter, r *http.Request) {
	ctx, tenant := s.withTenant(r)
	switch r.Method {
	case http.MethodGet:
		enabled, err := s.Store.GetCompanyCarrierConfig(ctx, tenant)
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "Config load failed", err.Error(), r.URL.Path)
			return
		}
		type carrierView struct {
			model.CarrierDescriptor
			Enabled bool `json:"enabled"`
		}
		out := make([]carrierView, 0, len(s.Catalog.Entries))
		for _, e := range s.Catalog.Entries {
			desc := e.Descriptor()
			on := false
			for _, key := range enabled {
				if desc.Matches(key) {
					on = true
					break
				}
			}
			out = append(out, carrierView{CarrierDescriptor: desc, Enabled: on})
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": out})
	case http.MethodPut:
		var body struct {
			Carriers []string `json:"carriers"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
		for _, key := range body.Carriers {
			if _, ok := s.Catalog.Find(key); !ok {
				writeProblem(w, http.StatusBadRequest, "Unknown carrier", key, r.URL.Path)
				return
			}
		}
		if err := s.Store.SaveCompanyCarrierConfig(ctx, tenant, body.Carriers); err != nil {
			writeProblem(w, http.StatusInternalServerError, "Save failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"carriers": body.Carriers})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// MarkupRulesHandler handles GET/PUT /v1/markup-rules
func (s *Server) MarkupRulesHandler(w http.ResponseWriter, r *http.Request) {
	ctx, tenant := s.withTenant(r)
	switch r.Method {
	case http.MethodGet:
		rules, err := s.Store.GetMarkupRules(ctx, tenant)
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "Rules load failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": rules})
	case http.MethodPut:
		var body struct {
			Rules []model.MarkupRule `json:"rules"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
		if err := s.Store.SaveMarkupRules(ctx, tenant, body.Rules); err != nil {
			writeProblem(w, http.StatusInternalServerError, "Save failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": body.Rules})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// SubscriptionsHandler handles GET/POST /v1/subscriptions
func (s *Server) SubscriptionsHandler(w http.ResponseWriter, r *http.Request) {
	ctx, tenant := s.withTenant(r)
	switch r.Method {
	case http.MethodGet:
		items, err := s.Store.ListSubscriptions(ctx, tenant)
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "List failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
	case http.MethodPost:
		var req model.SubscriptionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
		req.TenantID = tenant
		if req.URL == "" || len(req.Events) == 0 {
			writeProblem(w, http.StatusBadRequest, "Invalid subscription", "url and events required", r.URL.Path)
			return
		}
		sub, err := s.Store.CreateSubscription(ctx, req)
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "Create failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusCreated, sub)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// SubscriptionByIDHandler handles DELETE /v1/subscriptions/{id}
func (s *Server) SubscriptionByIDHandler(w http.ResponseWriter, r *http.Request) {
	ctx, tenant := s.withTenant(r)
	id := strings.TrimPrefix(r.URL.Path, "/v1/subscriptions/")
	if id == "" {
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
		return
	}
	if r.Method != http.MethodDelete {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if err := s.Store.DeleteSubscription(ctx, tenant, id); err != nil {
		writeProblem(w, http.StatusNotFound, "Not Found", err.Error(), r.URL.Path)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CarrierStatsHandler handles GET /v1/admin/carrier-stats?carrier=key
func (s *Server) CarrierStatsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	ctx, _ := s.withTenant(r)
	key := r.URL.Query().Get("carrier")
	if key == "" {
		writeProblem(w, http.StatusBadRequest, "carrier required", "", r.URL.Path)
		return
	}
	since := time.Now().Add(-24 * time.Hour)
	if v := r.URL.Query().Get("sinceHours"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			since = time.Now().Add(-time.Duration(n) * time.Hour)
		}
	}
	stats, err := s.Store.CarrierLatencyStats(ctx, key, since)
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "Stats failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
