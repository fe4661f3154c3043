package api

import (
	"encoding/json"
	"net/http"
	"os"
	"time"

	"ratehub/internal/buildinfo"
)

func (s *Server) DebugJSON(w http.ResponseWriter, r *http.Request) {
	info := map[string]any{
		"build": buildinfo.Info(),
		"time":  time.Now().UTC().Format(time.RFC3339),
		"config": map[string]any{
			"PORT":                   os.Getenv("PORT"),
			"RATE_DEBOUNCE_MS":       os.Getenv("RATE_DEBOUNCE_MS"),
			"CARRIER_TIMEOUT_MS":     os.Getenv("CARRIER_TIMEOUT_MS"),
			"CARRIER_COLD_TIMEOUT_MS": os.Getenv("CARRIER_COLD_TIMEOUT_MS"),
			"COLD_GRACE_MS":          os.Getenv("COLD_GRACE_MS"),
			"WARMUP_GRACE_MS":        os.Getenv("WARMUP_GRACE_MS"),
			"WEBHOOK_MAX_ATTEMPTS":   os.Getenv("WEBHOOK_MAX_ATTEMPTS"),
			"HAS_CARRIER_CATALOG":    os.Getenv("CARRIER_CATALOG") != "",
			"HAS_DATABASE_URL":       os.Getenv("DATABASE_URL") != "",
			"HAS_REDIS_URL":          os.Getenv("REDIS_URL") != "",
		},
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(info)
}
