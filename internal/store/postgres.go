package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"ratehub/internal/model"
)

type Postgres struct {
	db *sql.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &Postgres{db: db}, nil
}

func (p *Postgres) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// MigrateDir applies *.sql files from dir in lexical order (dev helper).
func (p *Postgres) MigrateDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)
	for _, f := range files {
		sqlBytes, err := os.ReadFile(f)
		if err != nil {
			return err
		}
		if _, err := p.db.Exec(string(sqlBytes)); err != nil {
			return fmt.Errorf("migrate %s: %w", f, err)
		}
	}
	return nil
}

func (p *Postgres) GetCompanyCarrierConfig(ctx context.Context, tenantID string) ([]string, error) {
	row := p.db.QueryRowContext(ctx, `SELECT carriers FROM company_carrier_config WHERE tenant_id=$1`, tenantID)
	var js []byte
	if err := row.Scan(&js); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	var keys []string
	if err := json.Unmarshal(js, &keys); err != nil {
		return nil, err
	}
	return keys, nil
}

func (p *Postgres) SaveCompanyCarrierConfig(ctx context.Context, tenantID string, carrierKeys []string) error {
	js, _ := json.Marshal(carrierKeys)
	_, err := p.db.ExecContext(ctx, `INSERT INTO company_carrier_config (tenant_id, carriers, updated_at) VALUES ($1,$2,now())
        ON CONFLICT (tenant_id) DO UPDATE SET carriers=$2, updated_at=now()`, tenantID, js)
	return err
}

func (p *Postgres) GetMarkupRules(ctx context.Context, tenantID string) ([]model.MarkupRule, error) {
	row := p.db.QueryRowContext(ctx, `SELECT rules FROM markup_rules WHERE tenant_id=$1`, tenantID)
	var js []byte
	if err := row.Scan(&js); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	var rules []model.MarkupRule
	if err := json.Unmarshal(js, &rules); err != nil {
		return nil, err
	}
	return rules, nil
}

func (p *Postgres) SaveMarkupRules(ctx context.Context, tenantID string, rules []model.MarkupRule) error {
	js, _ := json.Marshal(rules)
	_, err := p.db.ExecContext(ctx, `INSERT INTO markup_rules (tenant_id, rules, updated_at) VALUES ($1,$2,now())
        ON CONFLICT (tenant_id) DO UPDATE SET rules=$2, updated_at=now()`, tenantID, js)
	return err
}

func (p *Postgres) SaveQuoteResult(ctx context.Context, res model.FinalResult) error {
	id := res.SessionID
	if id == "" {
		id = uuid.New().String()
	}
	rates, _ := json.Marshal(res.Rates)
	completed, _ := json.Marshal(res.CompletedCarriers)
	failed, _ := json.Marshal(res.FailedCarriers)
	_, err := p.db.ExecContext(ctx, `INSERT INTO quote_results (id, tenant_id, fingerprint, state, rates, completed, failed, error, elapsed_ms, settled_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,now())
        ON CONFLICT (id) DO UPDATE SET state=$4, rates=$5, completed=$6, failed=$7, error=$8, elapsed_ms=$9, settled_at=now()`,
		id, res.TenantID, res.Fingerprint, res.State, rates, completed, failed, nullIfEmpty(res.Error), res.ElapsedMs)
	return err
}

func (p *Postgres) ListQuoteResults(ctx context.Context, tenantID string, limit int) ([]model.FinalResult, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := p.db.QueryContext(ctx, `SELECT id::text, fingerprint, state, rates, completed, failed, COALESCE(error,''), elapsed_ms, settled_at
        FROM quote_results WHERE tenant_id=$1 ORDER BY settled_at DESC LIMIT $2`, tenantID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.FinalResult{}
	for rows.Next() {
		var r model.FinalResult
		var rates, completed, failed []byte
		var settledAt time.Time
		if err := rows.Scan(&r.SessionID, &r.Fingerprint, &r.State, &rates, &completed, &failed, &r.Error, &r.ElapsedMs, &settledAt); err != nil {
			return nil, err
		}
		r.TenantID = tenantID
		r.SettledAt = settledAt.UTC().Format(time.RFC3339)
		_ = json.Unmarshal(rates, &r.Rates)
		_ = json.Unmarshal(completed, &r.CompletedCarriers)
		_ = json.Unmarshal(failed, &r.FailedCarriers)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *Postgres) RecordCarrierLatency(ctx context.Context, carrierKey, status string, latencyMs int) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO carrier_latency (id, carrier_key, status, latency_ms, recorded_at) VALUES ($1,$2,$3,$4,now())`,
		uuid.New().String(), carrierKey, status, latencyMs)
	return err
}

func (p *Postgres) CarrierLatencyStats(ctx context.Context, carrierKey string, since time.Time) (map[string]any, error) {
	row := p.db.QueryRowContext(ctx, `SELECT COUNT(*), COUNT(*) FILTER (WHERE status='failed'), COALESCE(AVG(latency_ms),0)::int, COALESCE(MAX(latency_ms),0)
        FROM carrier_latency WHERE carrier_key=$1 AND recorded_at >= $2`, carrierKey, since)
	var count, failed, avg, max int
	if err := row.Scan(&count, &failed, &avg, &max); err != nil {
		return nil, err
	}
	out := map[string]any{"carrier": carrierKey, "count": count, "failed": failed, "maxMs": max}
	if count > 0 {
		out["avgMs"] = avg
	}
	return out, nil
}

func (p *Postgres) CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error) {
	id := uuid.New().String()
	ev, _ := json.Marshal(req.Events)
	_, err := p.db.ExecContext(ctx, `INSERT INTO subscriptions (id, tenant_id, url, events, secret) VALUES ($1,$2,$3,$4,$5)`, id, req.TenantID, req.URL, ev, req.Secret)
	if err != nil {
		return model.Subscription{}, err
	}
	return model.Subscription{ID: id, TenantID: req.TenantID, URL: req.URL, Events: req.Events, Secret: req.Secret}, nil
}

func (p *Postgres) GetSubscriptionsForEvent(ctx context.Context, tenantID, eventType string) ([]model.Subscription, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id::text, url, secret, events FROM subscriptions WHERE tenant_id=$1 AND (events @> $2::jsonb OR events @> '["*"]'::jsonb)`,
		tenantID, fmt.Sprintf("[%q]", eventType))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Subscription{}
	for rows.Next() {
		var s model.Subscription
		var events []byte
		if err := rows.Scan(&s.ID, &s.URL, &s.Secret, &events); err != nil {
			return nil, err
		}
		s.TenantID = tenantID
		_ = json.Unmarshal(events, &s.Events)
		out = append(out, s)
	}
	return out, rows.Err()
}

func (p *Postgres) ListSubscriptions(ctx context.Context, tenantID string) ([]model.Subscription, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id::text, url, secret, events FROM subscriptions WHERE tenant_id=$1 ORDER BY id`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Subscription{}
	for rows.Next() {
		var s model.Subscription
		var events []byte
		if err := rows.Scan(&s.ID, &s.URL, &s.Secret, &events); err != nil {
			return nil, err
		}
		s.TenantID = tenantID
		_ = json.Unmarshal(events, &s.Events)
		out = append(out, s)
	}
	return out, rows.Err()
}

func (p *Postgres) DeleteSubscription(ctx context.Context, tenantID, id string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE tenant_id=$1 AND id=$2`, tenantID, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) EnqueueWebhook(ctx context.Context, tenantID, subscriptionID, eventType, url, secret string, payload []byte) (string, error) {
	id := uuid.New().String()
	_, err := p.db.ExecContext(ctx, `INSERT INTO webhook_deliveries (id, tenant_id, subscription_id, event_type, url, secret, payload, status, attempts, next_attempt_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,'pending',0,now())`, id, tenantID, nullIfEmpty(subscriptionID), eventType, url, nullIfEmpty(secret), payload)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (p *Postgres) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id::text, tenant_id::text, COALESCE(subscription_id::text,''), event_type, url, COALESCE(secret,''), payload, status, attempts
        FROM webhook_deliveries WHERE status IN ('pending','retry') AND next_attempt_at <= now() ORDER BY next_attempt_at ASC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []WebhookDelivery{}
	for rows.Next() {
		var d WebhookDelivery
		if err := rows.Scan(&d.ID, &d.TenantID, &d.SubscriptionID, &d.EventType, &d.URL, &d.Secret, &d.Payload, &d.Status, &d.Attempts); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (p *Postgres) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
	if !success {
		if nextAttemptAt == nil {
			t := time.Now().Add(1 * time.Minute)
			nextAttemptAt = &t
		}
		_, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET attempts=attempts+1, status='retry', last_error=$2, next_attempt_at=$3, updated_at=now(), response_code=$4, latency_ms=$5 WHERE id=$1`,
			id, nullIfEmpty(lastError), *nextAttemptAt, responseCode, latencyMs)
		return err
	}
	_, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET attempts=attempts+1, status='delivered', delivered_at=now(), updated_at=now(), response_code=$2, latency_ms=$3 WHERE id=$1`, id, responseCode, latencyMs)
	return err
}

func (p *Postgres) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
	_, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET status='failed', last_error=$2, updated_at=now(), response_code=$3, latency_ms=$4 WHERE id=$1`,
		id, nullIfEmpty(lastError), responseCode, latencyMs)
	return err
}

// Helpers
func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
