package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goodtune/kidswatch/internal/email"
	"github.com/goodtune/kidswatch/internal/policy"
	"github.com/goodtune/kidswatch/internal/storage"
	"github.com/goodtune/kidswatch/internal/usage"
	"github.com/gorilla/mux"
)

const testEmailTimeout = 30 * time.Second

type tabActivatedRequest struct {
	TabID int    `json:"tabId"`
	URL   string `json:"url"`
}

type tabUpdatedRequest struct {
	TabID  int    `json:"tabId"`
	URL    string `json:"url"`
	Status string `json:"status"`
	Active bool   `json:"active"`
}

type windowFocusRequest struct {
	WindowID  int        `json:"windowId"`
	ActiveTab *usage.Tab `json:"activeTab,omitempty"`
}

// StatusResponse is returned by the status endpoint.
type StatusResponse struct {
	IsEnabled            bool           `json:"isEnabled"`
	Session              *usage.Session `json:"session"`
	ElapsedMS            int64          `json:"elapsedMs"`
	TimeoutArmed         bool           `json:"timeoutArmed"`
	ExtensionConnections int            `json:"extensionConnections"`
}

// ValidationResponse is returned by the email configuration check.
type ValidationResponse struct {
	IsValid         bool     `json:"isValid"`
	Errors          []string `json:"errors"`
	ServiceID       string   `json:"serviceId,omitempty"`
	TemplateID      string   `json:"templateId,omitempty"`
	PublicKeyLength int      `json:"publicKeyLength"`
}

type testEmailRequest struct {
	ParentEmail string `json:"parentEmail"`
}

// TestEmailResponse is returned by the test email endpoint.
type TestEmailResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

const (
	defaultReportLimit = 7
	maxReportLimit     = 366
)

// ReportSummary is one line of the recent reports listing.
type ReportSummary struct {
	Date             string               `json:"date"`
	TotalTimeMinutes int64                `json:"totalTimeMinutes"`
	SiteCount        int                  `json:"siteCount"`
	EmailStatus      string               `json:"emailStatus"`
	TopSite          *storage.SiteSummary `json:"topSite,omitempty"`
}

func summarize(record storage.ReportRecord) ReportSummary {
	summary := ReportSummary{
		Date:             record.Date,
		TotalTimeMinutes: record.TotalTimeMinutes,
		SiteCount:        len(record.Sites),
		EmailStatus:      record.Delivery(),
	}
	if len(record.TopSites) > 0 {
		top := record.TopSites[0]
		summary.TopSite = &top
	}
	return summary
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleTabActivated(w http.ResponseWriter, r *http.Request) {
	var req tabActivatedRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	s.submit(w, usage.TabActivated(usage.Tab{ID: req.TabID, URL: req.URL}))
}

func (s *Server) handleTabUpdated(w http.ResponseWriter, r *http.Request) {
	var req tabUpdatedRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	s.submit(w, usage.TabUpdated(usage.Tab{ID: req.TabID, URL: req.URL}, req.Status, req.Active))
}

func (s *Server) handleWindowFocus(w http.ResponseWriter, r *http.Request) {
	var req windowFocusRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	s.submit(w, usage.WindowFocusChanged(req.WindowID, req.ActiveTab))
}

func (s *Server) submit(w http.ResponseWriter, ev usage.Event) {
	if err := s.tracker.Submit(ev); err != nil {
		if errors.Is(err, usage.ErrQueueFull) || errors.Is(err, usage.ErrStopped) {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		s.logger.Error().Err(err).Str("event", string(ev.Type)).Msg("Failed to submit event")
		writeError(w, http.StatusInternalServerError, "Failed to submit event")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]bool{"accepted": true})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	settings, err := s.settings(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to load settings")
		writeError(w, http.StatusInternalServerError, "Failed to load settings")
		return
	}

	snapshot := s.tracker.Snapshot()
	writeJSON(w, http.StatusOK, StatusResponse{
		IsEnabled:            settings.IsEnabled,
		Session:              snapshot.Session,
		ElapsedMS:            snapshot.ElapsedMS,
		TimeoutArmed:         snapshot.TimeoutArmed,
		ExtensionConnections: s.hub.Count(),
	})
}

// settings returns the stored settings, or the configured defaults when
// none have been saved yet.
func (s *Server) settings(ctx context.Context) (storage.Settings, error) {
	stored, err := s.store.Settings().Get(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		return s.config.Defaults, nil
	}
	if err != nil {
		return storage.Settings{}, err
	}
	return *stored, nil
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.settings(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to load settings")
		writeError(w, http.StatusInternalServerError, "Failed to load settings")
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	var settings storage.Settings
	if err := decodeJSON(r, &settings); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if settings.TimeoutMinutes < 1 {
		writeError(w, http.StatusBadRequest, "timeoutMinutes must be at least 1")
		return
	}
	settings.Allowlist = policy.NormalizeAllowlist(settings.Allowlist)
	settings.ParentEmail = strings.TrimSpace(settings.ParentEmail)

	if err := s.store.Settings().Put(r.Context(), settings); err != nil {
		s.logger.Error().Err(err).Msg("Failed to save settings")
		writeError(w, http.StatusInternalServerError, "Failed to save settings")
		return
	}

	s.logger.Info().
		Int("timeout_minutes", settings.TimeoutMinutes).
		Int("allowlist_entries", len(settings.Allowlist)).
		Bool("enabled", settings.IsEnabled).
		Msg("Settings updated")

	writeJSON(w, http.StatusOK, settings)
}

func (s *Server) handleStatsToday(w http.ResponseWriter, r *http.Request) {
	today := storage.DateOf(s.now())
	record, err := s.reports.Preview(r.Context(), today)
	if err != nil {
		s.logger.Error().Err(err).Str("date", today).Msg("Failed to load usage")
		writeError(w, http.StatusInternalServerError, "Failed to load usage")
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleGetReport(w http.ResponseWriter, r *http.Request) {
	date := mux.Vars(r)["date"]
	if _, err := time.Parse(storage.DateLayout, date); err != nil {
		writeError(w, http.StatusBadRequest, "Date must be formatted as YYYY-MM-DD")
		return
	}

	record, err := s.store.Reports().Get(r.Context(), date)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "No report for "+date)
			return
		}
		s.logger.Error().Err(err).Str("date", date).Msg("Failed to load report")
		writeError(w, http.StatusInternalServerError, "Failed to load report")
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleListReports(w http.ResponseWriter, r *http.Request) {
	limit := defaultReportLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxReportLimit {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and "+strconv.Itoa(maxReportLimit))
			return
		}
		limit = n
	}

	records, err := s.store.Reports().List(r.Context(), limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to list reports")
		writeError(w, http.StatusInternalServerError, "Failed to list reports")
		return
	}

	summaries := make([]ReportSummary, 0, len(records))
	for _, record := range records {
		summaries = append(summaries, summarize(record))
	}
	writeJSON(w, http.StatusOK, summaries)
}

func (s *Server) handlePutEmailConfig(w http.ResponseWriter, r *http.Request) {
	var cfg storage.EmailConfig
	if err := decodeJSON(r, &cfg); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	cfg.ServiceID = strings.TrimSpace(cfg.ServiceID)
	cfg.TemplateID = strings.TrimSpace(cfg.TemplateID)
	cfg.PublicKey = strings.TrimSpace(cfg.PublicKey)

	if err := s.store.Settings().PutEmailConfig(r.Context(), cfg); err != nil {
		s.logger.Error().Err(err).Msg("Failed to save email configuration")
		writeError(w, http.StatusInternalServerError, "Failed to save email configuration")
		return
	}

	s.logger.Info().Str("service_id", cfg.ServiceID).Msg("Email configuration updated")
	writeJSON(w, http.StatusOK, validation(&cfg))
}

func (s *Server) handleDeleteEmailConfig(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Settings().DeleteEmailConfig(r.Context()); err != nil {
		s.logger.Error().Err(err).Msg("Failed to delete email configuration")
		writeError(w, http.StatusInternalServerError, "Failed to delete email configuration")
		return
	}
	s.logger.Info().Msg("Email configuration cleared")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleValidateEmailConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.email.ResolveConfig(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to load email configuration")
		writeError(w, http.StatusInternalServerError, "Failed to load email configuration")
		return
	}
	writeJSON(w, http.StatusOK, validation(cfg))
}

func validation(cfg *storage.EmailConfig) ValidationResponse {
	resp := ValidationResponse{IsValid: true, Errors: []string{}}
	if cfg != nil {
		resp.ServiceID = cfg.ServiceID
		resp.TemplateID = cfg.TemplateID
		resp.PublicKeyLength = len(cfg.PublicKey)
	}

	var configErr *email.ConfigError
	if err := email.ValidateConfig(cfg); errors.As(err, &configErr) {
		resp.IsValid = false
		resp.Errors = configErr.Problems
	}
	return resp
}

func (s *Server) handleTestEmail(w http.ResponseWriter, r *http.Request) {
	var req testEmailRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	recipient := strings.TrimSpace(req.ParentEmail)
	if recipient == "" {
		settings, err := s.settings(r.Context())
		if err != nil {
			s.logger.Error().Err(err).Msg("Failed to load settings")
			writeError(w, http.StatusInternalServerError, "Failed to load settings")
			return
		}
		recipient = settings.ParentEmail
	}
	if recipient == "" {
		writeJSON(w, http.StatusBadRequest, TestEmailResponse{
			Error: "Please enter parent email first and save settings.",
		})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), testEmailTimeout)
	defer cancel()

	if err := s.email.SendTest(ctx, recipient); err != nil {
		s.logger.Warn().Err(err).Str("recipient", recipient).Msg("Test email failed")
		writeJSON(w, http.StatusOK, TestEmailResponse{Error: err.Error()})
		return
	}

	s.logger.Info().Str("recipient", recipient).Msg("Test email sent")
	writeJSON(w, http.StatusOK, TestEmailResponse{
		Success: true,
		Message: "Test email sent successfully",
	})
}
