// Package api exposes campaign control over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/nadmax/nexrun/internal/campaign"
	"github.com/nadmax/nexrun/internal/dashboard"
	"github.com/nadmax/nexrun/internal/httputil"
	"github.com/nadmax/nexrun/internal/logger"
	"github.com/nadmax/nexrun/internal/middleware"
	"github.com/nadmax/nexrun/internal/repository"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// StatusStore reads campaign status written by other processes and forwards
// stop requests to them.
type StatusStore interface {
	GetStatus(ctx context.Context, id string) (*campaign.Status, error)
	ListStatuses(ctx context.Context) ([]campaign.Status, error)
	RequestStop(ctx context.Context, id string) error
	DeleteStatus(ctx context.Context, id string) error
}

type API struct {
	ctx       context.Context
	campaigns *campaign.Registry
	store     StatusStore
	history   repository.CampaignRepository
	mux       *http.ServeMux
}

type CampaignRequest struct {
	Target      string         `json:"target"`
	TargetCount int            `json:"target_count"`
	BatchSize   int            `json:"batch_size"`
	BaseDelay   float64        `json:"base_delay"`
	Payload     map[string]any `json:"payload"`
}

func (r CampaignRequest) Config() campaign.Config {
	return campaign.Config{
		Target:      r.Target,
		TargetCount: r.TargetCount,
		BatchSize:   r.BatchSize,
		BaseDelay:   time.Duration(r.BaseDelay * float64(time.Second)),
		Payload:     r.Payload,
	}
}

// NewAPI builds the router. Campaigns launched through it run under ctx,
// not the request context. store and history may be nil.
func NewAPI(ctx context.Context, reg *campaign.Registry, store StatusStore, history repository.CampaignRepository) *API {
	api := &API{
		ctx:       ctx,
		campaigns: reg,
		store:     store,
		history:   history,
		mux:       http.NewServeMux(),
	}

	api.setupRoutes()
	return api
}

func (a *API) setupRoutes() {
	a.mux.HandleFunc("/api/campaigns", a.handleCampaigns)
	a.mux.HandleFunc("/api/campaigns/", a.handleCampaignByID)

	dash := dashboard.NewDashboard(a.campaigns, a.history)
	a.mux.HandleFunc("/api/dashboard/stats", dash.GetStats)
	a.mux.HandleFunc("/api/history", dash.GetHistory)
	a.mux.HandleFunc("/api/history/", dash.GetRunBatches)

	a.mux.Handle("/metrics", promhttp.Handler())
}

func (a *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	middleware.MetricsMiddleware(a.mux).ServeHTTP(w, r)
}

func (a *API) handleCampaigns(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.createCampaign(w, r)
	case http.MethodGet:
		a.listCampaigns(w, r)
	default:
		httputil.WriteJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (a *API) createCampaign(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		httputil.WriteJSONError(w, "Failed to read request body", http.StatusBadRequest)
		return
	}

	defer func() {
		if err := r.Body.Close(); err != nil {
			logger.WithComponent("api").Warn().Err(err).Msg("Failed to close request body.")
		}
	}()

	var req CampaignRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httputil.WriteJSONError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	ctl, err := a.campaigns.Launch(a.ctx, req.Config())
	switch {
	case errors.Is(err, campaign.ErrInvalidConfig):
		httputil.WriteJSONError(w, err.Error(), http.StatusBadRequest)
		return
	case errors.Is(err, campaign.ErrExists):
		httputil.WriteJSONError(w, err.Error(), http.StatusConflict)
		return
	case errors.Is(err, campaign.ErrClosed):
		httputil.WriteJSONError(w, err.Error(), http.StatusServiceUnavailable)
		return
	case err != nil:
		httputil.WriteJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, ctl.Status())
}

func (a *API) listCampaigns(w http.ResponseWriter, r *http.Request) {
	statuses := a.campaigns.List()

	if a.store != nil {
		remote, err := a.store.ListStatuses(r.Context())
		if err != nil {
			logger.WithComponent("api").Warn().Err(err).Msg("Failed to list stored statuses.")
		}

		local := make(map[string]bool, len(statuses))
		for _, s := range statuses {
			local[s.ID] = true
		}
		for _, s := range remote {
			if !local[s.ID] {
				statuses = append(statuses, s)
			}
		}
		sort.SliceStable(statuses, func(i, j int) bool {
			return statuses[i].StartedAt.Before(statuses[j].StartedAt)
		})
	}

	httputil.WriteJSON(w, http.StatusOK, statuses)
}

func (a *API) handleCampaignByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/campaigns/"), "/")
	if rest == "" {
		httputil.WriteJSONError(w, "Campaign ID is required", http.StatusBadRequest)
		return
	}

	id, action, _ := strings.Cut(rest, "/")
	switch {
	case action == "" && r.Method == http.MethodGet:
		a.getCampaign(w, r, id)
	case action == "" && r.Method == http.MethodDelete:
		a.removeCampaign(w, r, id)
	case action == "stop" && r.Method == http.MethodPost:
		a.stopCampaign(w, r, id)
	case action == "" || action == "stop":
		httputil.WriteJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
	default:
		httputil.WriteJSONError(w, "Not found", http.StatusNotFound)
	}
}

func (a *API) getCampaign(w http.ResponseWriter, r *http.Request, id string) {
	if ctl, err := a.campaigns.Get(id); err == nil {
		httputil.WriteJSON(w, http.StatusOK, ctl.Status())
		return
	}

	if a.store != nil {
		st, err := a.store.GetStatus(r.Context(), id)
		if err == nil {
			httputil.WriteJSON(w, http.StatusOK, st)
			return
		}
		if !errors.Is(err, campaign.ErrNotFound) {
			httputil.WriteJSONError(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}

	httputil.WriteJSONError(w, "Campaign not found", http.StatusNotFound)
}

func (a *API) stopCampaign(w http.ResponseWriter, r *http.Request, id string) {
	err := a.campaigns.Stop(id)
	if err == nil {
		httputil.WriteJSON(w, http.StatusAccepted, map[string]string{"id": id, "status": "stopping"})
		return
	}

	// Not ours; the owning process picks the request up at its next batch
	// boundary.
	if errors.Is(err, campaign.ErrNotFound) && a.store != nil {
		err = a.store.RequestStop(r.Context(), id)
		if err == nil {
			httputil.WriteJSON(w, http.StatusAccepted, map[string]string{"id": id, "status": "stop_requested"})
			return
		}
	}

	switch {
	case errors.Is(err, campaign.ErrNotFound):
		httputil.WriteJSONError(w, "Campaign not found", http.StatusNotFound)
	case errors.Is(err, campaign.ErrFinished):
		httputil.WriteJSONError(w, err.Error(), http.StatusConflict)
	default:
		httputil.WriteJSONError(w, err.Error(), http.StatusInternalServerError)
	}
}

// removeCampaign forgets a finished campaign, both locally and in the
// status store.
func (a *API) removeCampaign(w http.ResponseWriter, r *http.Request, id string) {
	err := a.campaigns.Remove(id)
	if err == nil || errors.Is(err, campaign.ErrNotFound) {
		err = a.removeStoredStatus(r.Context(), id, err == nil)
	}

	switch {
	case errors.Is(err, campaign.ErrNotFound):
		httputil.WriteJSONError(w, "Campaign not found", http.StatusNotFound)
	case errors.Is(err, campaign.ErrRunning):
		httputil.WriteJSONError(w, err.Error(), http.StatusConflict)
	case err != nil:
		httputil.WriteJSONError(w, err.Error(), http.StatusInternalServerError)
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

// removeStoredStatus deletes the stored status of id. removedLocally tells
// whether the registry already held and dropped it; otherwise the stored
// status must exist and be terminal.
func (a *API) removeStoredStatus(ctx context.Context, id string, removedLocally bool) error {
	if a.store == nil {
		if removedLocally {
			return nil
		}
		return fmt.Errorf("%w: %s", campaign.ErrNotFound, id)
	}

	if !removedLocally {
		st, err := a.store.GetStatus(ctx, id)
		if err != nil {
			return err
		}
		if !st.State.Terminal() {
			return fmt.Errorf("%w: %s", campaign.ErrRunning, id)
		}
	}

	if err := a.store.DeleteStatus(ctx, id); err != nil {
		return fmt.Errorf("failed to delete stored status: %w", err)
	}
	return nil
}
