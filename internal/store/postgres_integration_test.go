//go:build postgres_integration

package store

import (
	"context"
	"os"
	"testing"

	"ratehub/internal/model"
)

func TestPostgresConnectivityAndMigrate(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set; skipping integration test")
	}
	p, err := NewPostgres(dsn)
	if err != nil {
		t.Fatalf("NewPostgres: %v", err)
	}
	ctx := context.Background()
	if err := p.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if err := p.MigrateDir("../../db/migrations"); err != nil {
		t.Fatalf("MigrateDir: %v", err)
	}
	if err := p.SaveCompanyCarrierConfig(ctx, "t_itest", []string{"swiftparcel"}); err != nil {
		t.Fatalf("SaveCompanyCarrierConfig: %v", err)
	}
	keys, err := p.GetCompanyCarrierConfig(ctx, "t_itest")
	if err != nil || len(keys) != 1 {
		t.Fatalf("GetCompanyCarrierConfig: %v %v", keys, err)
	}
	if err := p.SaveQuoteResult(ctx, model.FinalResult{TenantID: "t_itest", State: model.SessionSucceeded}); err != nil {
		t.Fatalf("SaveQuoteResult: %v", err)
	}
	if _, err := p.ListQuoteResults(ctx, "t_itest", 1); err != nil {
		t.Fatalf("ListQuoteResults: %v", err)
	}
}
