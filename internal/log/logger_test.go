package log

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"INFO", slog.LevelInfo, false},
		{"", slog.LevelInfo, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"loud", slog.LevelInfo, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Fatalf("ParseLevel(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestJSONHandlerCarriesComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Handler: NewHandler(&buf, slog.LevelInfo, "json"), Component: ComponentBudget})

	logger.InfoContext(context.Background(), "Spend added", FieldSpendID, int64(4))

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("expected JSON line, got %q: %v", buf.String(), err)
	}
	if rec[FieldComponent] != ComponentBudget {
		t.Fatalf("component = %v", rec[FieldComponent])
	}
	if rec[FieldSpendID] != float64(4) {
		t.Fatalf("spend_id = %v", rec[FieldSpendID])
	}
}

func TestHandlerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Handler: NewHandler(&buf, slog.LevelWarn, "text"), Component: ComponentApp})
	logger.Info("hidden")
	logger.Warn("shown")
	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), "shown") {
		t.Fatalf("unexpected output %q", buf.String())
	}
}

func TestFieldsBuilder(t *testing.T) {
	f := NewFields().
		WithSpend(1, 2, 300, "coffee").
		WithError(errors.New("boom")).
		WithError(nil)
	if f[FieldAccountID] != int64(2) || f[FieldLabel] != "coffee" || f[FieldError] != "boom" {
		t.Fatalf("unexpected fields %v", f)
	}
	if len(f.ToSlice()) != 2*len(f) {
		t.Fatalf("ToSlice length mismatch")
	}
}

func TestFromContextFallsBack(t *testing.T) {
	if FromContext(context.Background()) == nil {
		t.Fatal("expected default logger")
	}

	logger := New(Config{Handler: NewHandler(&bytes.Buffer{}, slog.LevelInfo, "text"), Component: ComponentHTTP})
	if got := FromContext(NewContext(context.Background(), logger)); got != logger {
		t.Fatalf("NewContext did not attach logger")
	}
}

func TestStructuredLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Handler: NewHandler(&buf, slog.LevelDebug, "json")})
	sl := NewStructuredLogger(logger)
	r := httptest.NewRequest(http.MethodGet, "/api/summary?x=1", nil)

	tests := []struct {
		name      string
		log       func()
		wantLevel string
		wantKey   string
		wantValue any
	}{
		{"start", func() { sl.LogHTTPStart(context.Background(), r, "10.0.0.1") }, "DEBUG", FieldQuery, "x=1"},
		{"ok", func() { sl.LogHTTPEnd(context.Background(), r, 200, 3, "10.0.0.1") }, "INFO", FieldSuccess, true},
		{"client error", func() { sl.LogHTTPEnd(context.Background(), r, 404, 3, "10.0.0.1") }, "WARN", FieldStatusCode, float64(404)},
		{"server error", func() { sl.LogHTTPEnd(context.Background(), r, 503, 3, "10.0.0.1") }, "ERROR", FieldSuccess, false},
		{"rejected", func() { sl.LogRejected(context.Background(), r, "10.0.0.1", ComponentRateLimit, "rate_limited") }, "WARN", FieldReason, "rate_limited"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf.Reset()
			tt.log()
			var rec map[string]any
			if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
				t.Fatalf("expected JSON line, got %q: %v", buf.String(), err)
			}
			if rec["level"] != tt.wantLevel {
				t.Errorf("level = %v, want %v", rec["level"], tt.wantLevel)
			}
			if rec[tt.wantKey] != tt.wantValue {
				t.Errorf("%s = %v, want %v", tt.wantKey, rec[tt.wantKey], tt.wantValue)
			}
		})
	}
}
