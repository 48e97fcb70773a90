package handlers

import (
	"net/http"
	"net/url"
	"strconv"
)

// SettingsData holds data for the settings template
type SettingsData struct {
	Title             string
	ActiveNav         string
	CSRFToken         string
	BaseURL           string
	RetentionDays     int
	RetentionEditable bool
	PollInterval      string
	DBPath            string
	Port              int
	AllowedPaths      []string
	Error             string
	Success           string
}

// Settings handles GET /settings
func (h *Handler) Settings(w http.ResponseWriter, r *http.Request) {
	data := SettingsData{
		Title:             "Settings",
		ActiveNav:         "settings",
		CSRFToken:         h.getOrCreateCSRFToken(w, r),
		BaseURL:           h.cfg.BaseURL,
		RetentionDays:     h.RetentionDays(),
		RetentionEditable: !h.cfg.RetentionDaysFromEnv,
		PollInterval:      h.cfg.PollInterval.String(),
		DBPath:            h.cfg.DBPath,
		Port:              h.cfg.Port,
		AllowedPaths:      h.cfg.AllowedPaths,
		Error:             r.URL.Query().Get("error"),
		Success:           r.URL.Query().Get("success"),
	}

	h.render(w, "settings.html", data)
}

// UpdateSettings handles POST /settings
func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	if !h.requireCSRF(w, r) {
		return
	}

	if h.cfg.RetentionDaysFromEnv {
		http.Redirect(w, r, "/settings?error="+url.QueryEscape("Retention is set by CVSUBMIT_RETENTION_DAYS"), http.StatusSeeOther)
		return
	}

	days, err := strconv.Atoi(r.FormValue("retention_days"))
	if err != nil || days < 1 || days > 3650 {
		http.Redirect(w, r, "/settings?error="+url.QueryEscape("Retention must be between 1 and 3650 days"), http.StatusSeeOther)
		return
	}

	if err := h.db.SetSetting("retention_days", strconv.Itoa(days)); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	http.Redirect(w, r, "/settings?success="+url.QueryEscape("Settings saved"), http.StatusSeeOther)
}

// RetentionDays returns the effective history retention: the environment
// wins, then the stored setting, then the config default.
func (h *Handler) RetentionDays() int {
	if h.cfg.RetentionDaysFromEnv {
		return h.cfg.RetentionDays
	}
	if v, err := h.db.GetSetting("retention_days"); err == nil {
		if days, err := strconv.Atoi(v); err == nil && days > 0 {
			return days
		}
	}
	return h.cfg.RetentionDays
}
