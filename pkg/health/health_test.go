// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestChecker_Aggregation(t *testing.T) {
	tests := []struct {
		name    string
		results []error
		want    Status
	}{
		{"no checks", nil, StatusHealthy},
		{"all pass", []error{nil, nil}, StatusHealthy},
		{"some fail", []error{nil, errors.New("terminated")}, StatusDegraded},
		{"all fail", []error{errors.New("a"), errors.New("b")}, StatusUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewChecker(0)
			for i, res := range tt.results {
				res := res
				c.Register(string(rune('a'+i)), func(context.Context) error { return res })
			}

			status, checks := c.Health(context.Background())
			if status != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, status)
			}
			if len(checks) != len(tt.results) {
				t.Errorf("Expected %d checks, got %d", len(tt.results), len(checks))
			}
		})
	}
}

func TestChecker_CachesResults(t *testing.T) {
	c := NewChecker(0)
	calls := 0
	c.Register("loop", func(context.Context) error {
		calls++
		return nil
	})

	c.Health(context.Background())
	c.Health(context.Background())

	if calls != 1 {
		t.Errorf("Expected 1 call within TTL, got %d", calls)
	}
}

func TestHandlers(t *testing.T) {
	c := NewChecker(0)
	c.Register("ok", func(context.Context) error { return nil })
	c.Register("down", func(context.Context) error { return errors.New("terminated") })

	srv := httptest.NewServer(c.Mux())
	defer srv.Close()

	tests := []struct {
		path string
		code int
	}{
		{"/health", http.StatusOK},
		{"/ready", http.StatusServiceUnavailable},
		{"/live", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resp, err := http.Get(srv.URL + tt.path)
			if err != nil {
				t.Fatalf("Request failed: %v", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != tt.code {
				t.Errorf("Expected %d, got %d", tt.code, resp.StatusCode)
			}
		})
	}

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	var report Report
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		t.Fatalf("Failed to decode report: %v", err)
	}
	if report.Status != StatusDegraded {
		t.Errorf("Expected degraded, got %s", report.Status)
	}
	if len(report.Checks) != 2 || report.Checks[0].Name != "down" {
		t.Errorf("Expected sorted checks, got %+v", report.Checks)
	}
}
