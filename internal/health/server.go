package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

const checkTimeout = 3 * time.Second

// Check probes one dependency; nil means healthy.
type Check func(ctx context.Context) error

// Checker holds the store and node probes. A nil probe is left out of the report.
type Checker struct {
	DBPing  Check
	RPCPing Check
}

// Report is the /healthz body.
type Report struct {
	Status string `json:"status"`
	DB     string `json:"db,omitempty"`
	RPC    string `json:"rpc,omitempty"`
}

// Healthy reports whether every configured check passed.
func (r Report) Healthy() bool {
	return r.Status == "ok"
}

// Run executes the configured checks under one shared deadline.
func (c Checker) Run(ctx context.Context) Report {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	rep := Report{Status: "ok"}
	rep.DB = probe(ctx, c.DBPing, &rep)
	rep.RPC = probe(ctx, c.RPCPing, &rep)
	return rep
}

func probe(ctx context.Context, check Check, rep *Report) string {
	if check == nil {
		return ""
	}
	if err := check(ctx); err != nil {
		rep.Status = "unavailable"
		return "fail"
	}
	return "ok"
}

// Handler serves the report: 200 when healthy, 503 otherwise.
func Handler(checker Checker) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rep := checker.Run(r.Context())
		code := http.StatusOK
		if !rep.Healthy() {
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(rep)
	})
}
