package carriers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"ratehub/internal/model"
	"ratehub/internal/rateflow"
)

// HTTPProvider speaks the generic rate-endpoint wire shape: POST the
// shipment draft, receive {"rates": [...]}. Carrier-specific adapters sit
// behind the same endpoint contract.
type HTTPProvider struct {
	Key    string
	URL    string
	Client *http.Client
}

func NewHTTPProvider(key, url string) *HTTPProvider {
	return &HTTPProvider{Key: key, URL: url, Client: &http.Client{Timeout: 60 * time.Second}}
}

type rateResponse struct {
	Rates []json.RawMessage `json:"rates"`
}

// GetRates fetches quotes. Malformed entries are skipped and reported as
// an error while the valid subset is still returned (partial acceptance).
func (p *HTTPProvider) GetRates(ctx context.Context, shipment model.ShipmentDraft) ([]model.RawRate, error) {
	body, err := json.Marshal(shipment)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.URL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := p.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("rate endpoint returned %d", resp.StatusCode)
	}
	var rr rateResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		return nil, p.invalidResponse(fmt.Errorf("decode rate response: %w", err))
	}
	var rates []model.RawRate
	malformed := 0
	for _, raw := range rr.Rates {
		var r model.RawRate
		if err := json.Unmarshal(raw, &r); err != nil || r.Carrier == "" {
			malformed++
			continue
		}
		rates = append(rates, r)
	}
	if malformed > 0 {
		return rates, p.invalidResponse(fmt.Errorf("%d of %d rate entries malformed", malformed, len(rr.Rates)))
	}
	return rates, nil
}

// invalidResponse tags a schema violation so the dispatcher never burns a
// cold-start retry on a deterministic malformed body.
func (p *HTTPProvider) invalidResponse(err error) error {
	return &rateflow.CarrierError{Carrier: p.Key, Kind: rateflow.KindInvalidResponse, Err: err}
}

// Ping issues the lightweight priming call used by warmup.
func (p *HTTPProvider) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL+"/ping", nil)
	if err != nil {
		return err
	}
	resp, err := p.Client.Do(req)
	if err != nil {
		return err
	}
	_ = resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("ping returned %d", resp.StatusCode)
	}
	return nil
}

// Registry holds one provider per carrier key.
type Registry struct {
	providers map[string]*HTTPProvider
}

func NewRegistry(catalog *Catalog) *Registry {
	r := &Registry{providers: map[string]*HTTPProvider{}}
	for _, e := range catalog.Entries {
		if e.Endpoint != "" {
			r.providers[e.Key] = NewHTTPProvider(e.Key, e.Endpoint)
		}
	}
	return r
}

func (r *Registry) Get(key string) *HTTPProvider {
	return r.providers[key]
}
