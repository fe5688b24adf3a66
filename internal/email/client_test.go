package email

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/goodtune/kidswatch/internal/policy"
	"github.com/goodtune/kidswatch/internal/storage"
	"github.com/goodtune/kidswatch/internal/storage/bolt"
	"github.com/rs/zerolog"
)

var validConfig = storage.EmailConfig{
	ServiceID:  "service_abc123",
	TemplateID: "template_xyz789",
	PublicKey:  "pk_0123456789",
}

func openTestStore(t *testing.T) *bolt.Store {
	t.Helper()

	store, err := bolt.Open(filepath.Join(t.TempDir(), "kidswatch.bolt"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

type capturedRequest struct {
	method      string
	contentType string
	body        sendRequest
}

func newRelay(t *testing.T, status int, reply string) (*httptest.Server, chan capturedRequest) {
	t.Helper()

	requests := make(chan capturedRequest, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body sendRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		requests <- capturedRequest{method: r.Method, contentType: r.Header.Get("Content-Type"), body: body}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(reply))
	}))
	t.Cleanup(srv.Close)
	return srv, requests
}

func TestSendReport(t *testing.T) {
	store := openTestStore(t)
	if err := store.Settings().PutEmailConfig(context.Background(), validConfig); err != nil {
		t.Fatalf("put email config: %v", err)
	}

	relay, requests := newRelay(t, http.StatusOK, "OK")
	client := NewClient(store.Settings(), Config{Endpoint: relay.URL}, zerolog.Nop())

	report := storage.ReportRecord{
		Date:             "2024-03-01",
		TotalTimeMinutes: 30,
		Sites:            []storage.SiteSummary{{Domain: "b", TimeMinutes: 20, Visits: 1}, {Domain: "a", TimeMinutes: 10, Visits: 2}},
	}
	report.TopSites = report.Sites

	if err := client.SendReport(context.Background(), report, "parent@example.com"); err != nil {
		t.Fatalf("SendReport failed: %v", err)
	}

	req := <-requests
	if req.method != http.MethodPost || req.contentType != "application/json" {
		t.Errorf("unexpected request %s %s", req.method, req.contentType)
	}
	if req.body.ServiceID != validConfig.ServiceID || req.body.TemplateID != validConfig.TemplateID || req.body.UserID != validConfig.PublicKey {
		t.Errorf("unexpected identifiers %+v", req.body)
	}

	params := req.body.TemplateParams
	if params["to_email"] != "parent@example.com" || params["to_name"] != "Parent" {
		t.Errorf("unexpected recipient params %v", params)
	}
	if params["subject"] != "KidsWatch Daily Report - 2024-03-01" {
		t.Errorf("unexpected subject %v", params["subject"])
	}
	if params["total_time"] != "30 minutes" {
		t.Errorf("unexpected total_time %v", params["total_time"])
	}
	// JSON numbers decode as float64
	if params["sites_count"] != float64(2) {
		t.Errorf("unexpected sites_count %v", params["sites_count"])
	}
	if params["top_sites"] != "1. b - 20 minutes (1 visits)\n2. a - 10 minutes (2 visits)" {
		t.Errorf("unexpected top_sites %q", params["top_sites"])
	}
}

func TestSendReport_NotConfigured(t *testing.T) {
	store := openTestStore(t)
	client := NewClient(store.Settings(), Config{Endpoint: "http://127.0.0.1:1"}, zerolog.Nop())

	err := client.SendReport(context.Background(), storage.ReportRecord{Date: "2024-03-01"}, "parent@example.com")
	if !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
	if !IsConfigError(err) {
		t.Error("expected ErrNotConfigured to be a configuration error")
	}
}

func TestSendReport_FallbackConfig(t *testing.T) {
	store := openTestStore(t)
	relay, requests := newRelay(t, http.StatusOK, "OK")
	client := NewClient(store.Settings(), Config{Endpoint: relay.URL, Fallback: validConfig}, zerolog.Nop())

	if err := client.SendReport(context.Background(), storage.ReportRecord{Date: "2024-03-01"}, "p@example.com"); err != nil {
		t.Fatalf("SendReport failed: %v", err)
	}
	if req := <-requests; req.body.ServiceID != validConfig.ServiceID {
		t.Errorf("expected fallback service id, got %q", req.body.ServiceID)
	}
}

func TestSendReport_APIError(t *testing.T) {
	store := openTestStore(t)
	if err := store.Settings().PutEmailConfig(context.Background(), validConfig); err != nil {
		t.Fatalf("put email config: %v", err)
	}

	relay, _ := newRelay(t, http.StatusBadRequest, `{"message":"The public key is invalid"}`)
	client := NewClient(store.Settings(), Config{Endpoint: relay.URL}, zerolog.Nop())

	err := client.SendReport(context.Background(), storage.ReportRecord{Date: "2024-03-01"}, "p@example.com")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", apiErr.StatusCode)
	}
	if err.Error() != "EmailJS API error: 400 - The public key is invalid" {
		t.Errorf("unexpected message %q", err.Error())
	}
	if IsConfigError(err) {
		t.Error("API errors are not configuration errors")
	}
}

func TestSendReport_Timeout(t *testing.T) {
	store := openTestStore(t)
	if err := store.Settings().PutEmailConfig(context.Background(), validConfig); err != nil {
		t.Fatalf("put email config: %v", err)
	}

	release := make(chan struct{})
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer slow.Close()
	defer close(release)

	client := NewClient(store.Settings(), Config{Endpoint: slow.URL, Timeout: 50 * time.Millisecond}, zerolog.Nop())

	err := client.SendReport(context.Background(), storage.ReportRecord{Date: "2024-03-01"}, "p@example.com")
	if err == nil {
		t.Fatal("expected timeout error")
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) || IsConfigError(err) {
		t.Errorf("expected transport error, got %v", err)
	}
}

func TestSendTest(t *testing.T) {
	store := openTestStore(t)
	if err := store.Settings().PutEmailConfig(context.Background(), validConfig); err != nil {
		t.Fatalf("put email config: %v", err)
	}

	relay, requests := newRelay(t, http.StatusOK, "OK")
	client := NewClient(store.Settings(), Config{Endpoint: relay.URL}, zerolog.Nop())
	client.SetClock(&policy.TestClock{CurrentTime: time.Date(2024, 5, 6, 12, 0, 0, 0, time.Local)})

	if err := client.SendTest(context.Background(), "parent@example.com"); err != nil {
		t.Fatalf("SendTest failed: %v", err)
	}

	params := (<-requests).body.TemplateParams
	if params["report_date"] != "2024-05-06" {
		t.Errorf("expected today's date, got %v", params["report_date"])
	}
	if params["total_time"] != "45 minutes" {
		t.Errorf("expected sample total, got %v", params["total_time"])
	}
	if !strings.Contains(params["top_sites"].(string), "1. khanacademy.org - 20 minutes (3 visits)") {
		t.Errorf("unexpected top_sites %q", params["top_sites"])
	}
}

func TestSendTest_InvalidConfig(t *testing.T) {
	store := openTestStore(t)
	bad := storage.EmailConfig{ServiceID: "svc-1", TemplateID: "template_ok", PublicKey: "short"}
	if err := store.Settings().PutEmailConfig(context.Background(), bad); err != nil {
		t.Fatalf("put email config: %v", err)
	}

	relay, requests := newRelay(t, http.StatusOK, "OK")
	client := NewClient(store.Settings(), Config{Endpoint: relay.URL}, zerolog.Nop())

	err := client.SendTest(context.Background(), "parent@example.com")
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected *ConfigError, got %v", err)
	}
	if len(cfgErr.Problems) != 2 {
		t.Errorf("expected 2 problems, got %v", cfgErr.Problems)
	}
	select {
	case <-requests:
		t.Error("expected no request for invalid configuration")
	default:
	}
}
