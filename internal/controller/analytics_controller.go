package controller

import (
	"bytes"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/unclebandit/supportmail-backend/internal/service"
)

const analyticsPageSize = 20

type AnalyticsController struct {
	CampaignService  *service.CampaignService
	AnalyticsService *service.AnalyticsService
	Log              *logrus.Logger
}

func (c *AnalyticsController) ListAnalytics(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))

	campaigns, pagination, err := c.CampaignService.ListCampaigns(r.Context(), page, analyticsPageSize)
	if err != nil {
		WriteError(w, c.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"data":       campaigns,
		"pagination": pagination,
	})
}

func (c *AnalyticsController) ExportMode(w http.ResponseWriter, r *http.Request) {
	sync, err := c.AnalyticsService.IsSync(r.Context())
	if err != nil {
		WriteError(w, c.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"sync": sync})
}

// Export answers with the CSV directly, or with {"status": 0} once the
// report has been queued for email delivery.
func (c *AnalyticsController) Export(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	deferred, err := c.AnalyticsService.Export(r.Context(), UserFromContext(r.Context()).ID, &buf)
	if err != nil {
		WriteError(w, c.Log, err)
		return
	}
	if deferred {
		writeJSON(w, http.StatusAccepted, map[string]int{"status": 0})
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+service.AnalyticsFilename+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

type TemplateController struct {
	Templates *service.TemplateService
	Log       *logrus.Logger
}

func (c *TemplateController) ListTemplates(w http.ResponseWriter, r *http.Request) {
	templates, err := c.Templates.List(r.Context())
	if err != nil {
		WriteError(w, c.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, templates)
}

func (c *TemplateController) GetTemplate(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid template id", http.StatusBadRequest)
		return
	}
	t, err := c.Templates.Get(r.Context(), id)
	if err != nil {
		WriteError(w, c.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}
