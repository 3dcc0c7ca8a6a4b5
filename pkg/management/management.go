/*
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package management serves the introspection and control surface under
// /_ldk and /_mock. These paths bypass the service middleware entirely, so
// chaos and auth can never lock an operator out.
package management

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/lws-dev/lws/pkg/chaos"
	"github.com/lws-dev/lws/pkg/iam"
	"github.com/lws-dev/lws/pkg/mock"
	"github.com/lws-dev/lws/pkg/providers"
)

// ServiceStatus is one provider's health entry.
type ServiceStatus struct {
	Name    string `json:"name"`
	Port    int    `json:"port"`
	Healthy bool   `json:"healthy"`
}

// Fleet is the orchestrator surface the management plane enumerates.
type Fleet interface {
	Status() []ServiceStatus
	Resources() map[string][]providers.Resource
	Reset()
}

// Handler routes the management endpoints.
type Handler struct {
	fleet Fleet
	chaos *chaos.Registry
	mocks *mock.Registry
	auth  *iam.Store
	log   *zap.SugaredLogger

	router chi.Router
}

func NewHandler(log *zap.SugaredLogger, fleet Fleet, chaosReg *chaos.Registry, mocks *mock.Registry, auth *iam.Store) *Handler {
	h := &Handler{
		fleet: fleet,
		chaos: chaosReg,
		mocks: mocks,
		auth:  auth,
		log:   log.Named("management"),
	}
	router := chi.NewRouter()
	router.Get("/_ldk/status", h.getStatus)
	router.Get("/_ldk/resources", h.getResources)
	router.Get("/_ldk/chaos", h.getChaos)
	router.Post("/_ldk/chaos", h.postChaos)
	router.Get("/_ldk/iam-auth", h.getAuth)
	router.Post("/_ldk/iam-auth", h.postAuth)
	router.Post("/_ldk/iam-auth/identities", h.postIdentity)
	router.Post("/_ldk/reset", h.postReset)
	router.Post("/_mock", h.postMock)
	router.Delete("/_mock", h.deleteMocks)
	router.Handle("/metrics", promhttp.Handler())
	h.router = router
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func (h *Handler) getStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"services": h.fleet.Status()})
}

func (h *Handler) getResources(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.fleet.Resources())
}

func (h *Handler) getChaos(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.chaos.All())
}

// postChaos applies per-service patches: {"dynamodb": {"enabled": true, ...}}.
func (h *Handler) postChaos(w http.ResponseWriter, r *http.Request) {
	var patches map[string]chaos.Patch
	if err := json.NewDecoder(r.Body).Decode(&patches); err != nil {
		writeError(w, http.StatusBadRequest, "unparseable chaos patch: "+err.Error())
		return
	}
	applied := map[string]*chaos.Config{}
	for service, patch := range patches {
		cfg, err := h.chaos.Apply(service, patch)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		applied[service] = cfg
		h.log.Infow("chaos config updated", "service", service, "enabled", cfg.Enabled)
	}
	writeJSON(w, http.StatusOK, applied)
}

func (h *Handler) getAuth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"settings":   h.auth.Settings(),
		"identities": h.auth.Identities(),
	})
}

func (h *Handler) postAuth(w http.ResponseWriter, r *http.Request) {
	var settings iam.Settings
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		writeError(w, http.StatusBadRequest, "unparseable settings: "+err.Error())
		return
	}
	switch settings.Mode {
	case iam.ModeDisabled, iam.ModeAudit, iam.ModeEnforce:
	default:
		writeError(w, http.StatusBadRequest, "mode must be disabled, audit or enforce")
		return
	}
	h.auth.SetSettings(settings)
	h.log.Infow("auth settings updated", "mode", settings.Mode)
	writeJSON(w, http.StatusOK, settings)
}

func (h *Handler) postIdentity(w http.ResponseWriter, r *http.Request) {
	var identity iam.Identity
	if err := json.NewDecoder(r.Body).Decode(&identity); err != nil {
		writeError(w, http.StatusBadRequest, "unparseable identity: "+err.Error())
		return
	}
	if identity.Name == "" {
		writeError(w, http.StatusBadRequest, "identity name is required")
		return
	}
	h.auth.RegisterIdentity(identity)
	h.log.Infow("identity registered", "name", identity.Name)
	writeJSON(w, http.StatusCreated, identity)
}

func (h *Handler) postReset(w http.ResponseWriter, _ *http.Request) {
	h.fleet.Reset()
	h.log.Infow("fleet reset")
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// postMock registers mock rules: {"service": "dynamodb", "rules": [...]}.
func (h *Handler) postMock(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Service string      `json:"service"`
		Rules   []mock.Rule `json:"rules"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "unparseable mock rules: "+err.Error())
		return
	}
	if input.Service == "" || len(input.Rules) == 0 {
		writeError(w, http.StatusBadRequest, "service and rules are required")
		return
	}
	if err := h.mocks.Register(input.Service, input.Rules...); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]int{"registered": len(input.Rules)})
}

func (h *Handler) deleteMocks(w http.ResponseWriter, r *http.Request) {
	service := r.URL.Query().Get("service")
	if service == "" {
		writeError(w, http.StatusBadRequest, "service query parameter is required")
		return
	}
	h.mocks.Clear(service)
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}
