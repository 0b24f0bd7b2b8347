package handlers

import (
	"encoding/json"
	"net/http"
	"runtime"

	"github.com/fulmenhq/gofulmen/crucible"
)

// BuildInfo identifies the running binary. Empty fields read "unknown".
type BuildInfo struct {
	Name      string
	Version   string
	Commit    string
	BuildDate string
}

// VersionResponse is the body of GET /version.
type VersionResponse struct {
	Name      string            `json:"name"`
	Version   string            `json:"version"`
	Commit    string            `json:"git_commit"`
	BuildDate string            `json:"build_date"`
	Go        string            `json:"go_version"`
	Platform  string            `json:"platform"`
	Gofulmen  string            `json:"gofulmen"`
	Crucible  string            `json:"crucible"`
	Services  []ServiceVersion  `json:"services"`
	Skipped   map[string]string `json:"skipped,omitempty"`
}

// ServiceVersion names a ready generation service and its pool size.
type ServiceVersion struct {
	ID          string `json:"id"`
	Credentials int    `json:"credentials"`
}

// VersionHandler reports build details and the generation services the
// registry built. Secrets never appear; only credential counts do.
type VersionHandler struct {
	build  BuildInfo
	source StatsSource
}

// NewVersionHandler creates a handler for build. source may be nil.
func NewVersionHandler(build BuildInfo, source StatsSource) *VersionHandler {
	return &VersionHandler{build: build, source: source}
}

func orUnknown(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}

func (h *VersionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	deps := crucible.GetVersion()
	resp := VersionResponse{
		Name:      orUnknown(h.build.Name),
		Version:   orUnknown(h.build.Version),
		Commit:    orUnknown(h.build.Commit),
		BuildDate: orUnknown(h.build.BuildDate),
		Go:        runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
		Gofulmen:  deps.Gofulmen,
		Crucible:  deps.Crucible,
		Services:  []ServiceVersion{},
	}
	if h.source != nil {
		for _, s := range h.source.Stats() {
			resp.Services = append(resp.Services, ServiceVersion{ID: s.Service, Credentials: s.Total})
		}
		resp.Skipped = h.source.Skipped()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}
