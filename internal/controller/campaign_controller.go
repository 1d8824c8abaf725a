// internal/controller/campaign_controller.go
package controller

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/unclebandit/supportmail-backend/internal/service"
)

type CampaignController struct {
	CampaignService *service.CampaignService
	Log             *logrus.Logger
}

func decodeInput(r *http.Request) (service.FilterInput, error) {
	var in service.FilterInput
	err := json.NewDecoder(r.Body).Decode(&in)
	return in, err
}

func (c *CampaignController) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	in, err := decodeInput(r)
	if err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	campaign, err := c.CampaignService.Create(r.Context(), UserFromContext(r.Context()), in)
	if err != nil {
		WriteError(w, c.Log, err)
		return
	}
	writeJSON(w, http.StatusCreated, campaign)
}

func (c *CampaignController) PreviewCampaign(w http.ResponseWriter, r *http.Request) {
	in, err := decodeInput(r)
	if err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	preview, err := c.CampaignService.Preview(r.Context(), UserFromContext(r.Context()), in)
	if err != nil {
		WriteError(w, c.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, preview)
}

func (c *CampaignController) ConfirmCampaign(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid campaign id", http.StatusBadRequest)
		return
	}

	result, err := c.CampaignService.Confirm(r.Context(), id, UserFromContext(r.Context()).ID)
	if err != nil {
		WriteError(w, c.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (c *CampaignController) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))

	campaigns, pagination, err := c.CampaignService.ListCampaigns(r.Context(), page, pageSize)
	if err != nil {
		WriteError(w, c.Log, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"data":       campaigns,
		"pagination": pagination,
	})
}

func (c *CampaignController) GetCampaignDetails(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid campaign id", http.StatusBadRequest)
		return
	}

	details, err := c.CampaignService.GetCampaignDetailsWithStats(r.Context(), id)
	if err != nil {
		WriteError(w, c.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, details)
}
