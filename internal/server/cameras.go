package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/HerbHall/camlink/internal/inventory"
	"github.com/HerbHall/camlink/internal/services"
	"github.com/HerbHall/camlink/pkg/camera"
)

func (s *Server) registerCameraRoutes() {
	s.mux.HandleFunc("GET /api/v1/cameras", s.handleListCameras)
	s.mux.HandleFunc("POST /api/v1/cameras", s.handleCreateCamera)
	s.mux.HandleFunc("GET /api/v1/cameras/{id}", s.handleGetCamera)
	s.mux.HandleFunc("PUT /api/v1/cameras/{id}", s.handleUpdateCamera)
	s.mux.HandleFunc("DELETE /api/v1/cameras/{id}", s.handleDeleteCamera)

	s.mux.HandleFunc("POST /api/v1/cameras/{id}/connect", s.handleConnect)
	s.mux.HandleFunc("POST /api/v1/cameras/{id}/disconnect", s.handleDisconnect)
	s.mux.HandleFunc("POST /api/v1/cameras/{id}/test", s.handleTest)
	s.mux.HandleFunc("GET /api/v1/cameras/{id}/status", s.handleStatus)
	s.mux.HandleFunc("GET /api/v1/cameras/{id}/stream", s.handleStream)
	s.mux.HandleFunc("PUT /api/v1/cameras/{id}/quality", s.handleQuality)
	s.mux.HandleFunc("GET /api/v1/cameras/{id}/snapshot", s.handleSnapshot)
	s.mux.HandleFunc("GET /api/v1/cameras/{id}/capabilities", s.handleCapabilities)
	s.mux.HandleFunc("GET /api/v1/cameras/{id}/attempts", s.handleAttempts)

	s.mux.HandleFunc("GET /api/v1/inventory", s.handleExportInventory)
}

// cameraResponse is the API form of a stored camera. The password is
// never returned.
type cameraResponse struct {
	ID             string            `json:"id"`
	Name           string            `json:"name"`
	IPAddress      string            `json:"ip_address"`
	Port           int               `json:"port"`
	Type           string            `json:"type"`
	Username       string            `json:"username,omitempty"`
	HasCredentials bool              `json:"has_credentials"`
	Config         map[string]string `json:"config,omitempty"`
	ActiveStrategy string            `json:"active_strategy,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

func (s *Server) toResponse(c *services.Camera) cameraResponse {
	resp := cameraResponse{
		ID:             c.ID,
		Name:           c.Name,
		IPAddress:      c.IPAddress,
		Port:           c.Port,
		Type:           c.Type,
		Username:       c.Username,
		HasCredentials: c.Username != "" || c.Password != "",
		Config:         c.Config,
		CreatedAt:      c.CreatedAt,
		UpdatedAt:      c.UpdatedAt,
	}
	if dev, err := c.Device(); err == nil {
		resp.ActiveStrategy, _ = s.deps.Orchestrator.Active(dev)
	}
	return resp
}

// device loads the camera named by the {id} path value. It writes the
// problem response and returns false when that fails.
func (s *Server) device(w http.ResponseWriter, r *http.Request) (camera.Device, bool) {
	c, err := s.deps.Cameras.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteError(w, err, r.URL.Path)
		return camera.Device{}, false
	}
	dev, err := c.Device()
	if err != nil {
		WriteError(w, err, r.URL.Path)
		return camera.Device{}, false
	}
	return dev, true
}

func queryInt(r *http.Request, key string) int {
	n, _ := strconv.Atoi(r.URL.Query().Get(key))
	return n
}

func (s *Server) handleListCameras(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	res, err := s.deps.Cameras.List(r.Context(),
		services.CameraFilter{Type: q.Get("type"), Search: q.Get("search")},
		services.ListOptions{
			Limit:     queryInt(r, "limit"),
			Offset:    queryInt(r, "offset"),
			SortBy:    q.Get("sort"),
			SortOrder: q.Get("order"),
		})
	if err != nil {
		WriteError(w, err, r.URL.Path)
		return
	}
	items := make([]cameraResponse, 0, len(res.Items))
	for i := range res.Items {
		items = append(items, s.toResponse(&res.Items[i]))
	}
	writeJSON(w, http.StatusOK, services.ListResult[cameraResponse]{Items: items, Total: res.Total})
}

func decodeSpec(w http.ResponseWriter, r *http.Request) (camera.DeviceSpec, bool) {
	var spec camera.DeviceSpec
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&spec); err != nil {
		BadRequest(w, "invalid camera body: "+err.Error(), r.URL.Path)
		return spec, false
	}
	return spec, true
}

func (s *Server) handleCreateCamera(w http.ResponseWriter, r *http.Request) {
	spec, ok := decodeSpec(w, r)
	if !ok {
		return
	}
	c, err := s.deps.Cameras.Create(r.Context(), spec)
	if err != nil {
		WriteError(w, err, r.URL.Path)
		return
	}
	s.logger.Info("camera created", zap.String("id", c.ID), zap.String("name", c.Name))
	w.Header().Set("Location", "/api/v1/cameras/"+c.ID)
	writeJSON(w, http.StatusCreated, s.toResponse(c))
}

func (s *Server) handleGetCamera(w http.ResponseWriter, r *http.Request) {
	c, err := s.deps.Cameras.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteError(w, err, r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, s.toResponse(c))
}

// handleUpdateCamera replaces the descriptor. An omitted password keeps
// the stored one. The old descriptor is disconnected first so cached
// sessions never outlive it.
func (s *Server) handleUpdateCamera(w http.ResponseWriter, r *http.Request) {
	old, err := s.deps.Cameras.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteError(w, err, r.URL.Path)
		return
	}
	spec, ok := decodeSpec(w, r)
	if !ok {
		return
	}
	spec.ID = old.ID
	if spec.Password == "" && spec.Username == old.Username {
		spec.Password = old.Password
	}

	if dev, err := old.Device(); err == nil {
		_ = s.deps.Orchestrator.Disconnect(r.Context(), dev)
	}
	c, err := s.deps.Cameras.Update(r.Context(), spec)
	if err != nil {
		WriteError(w, err, r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, s.toResponse(c))
}

func (s *Server) handleDeleteCamera(w http.ResponseWriter, r *http.Request) {
	c, err := s.deps.Cameras.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteError(w, err, r.URL.Path)
		return
	}
	if dev, err := c.Device(); err == nil {
		_ = s.deps.Orchestrator.Disconnect(r.Context(), dev)
	}
	if err := s.deps.Cameras.Delete(r.Context(), c.ID); err != nil {
		WriteError(w, err, r.URL.Path)
		return
	}
	s.logger.Info("camera deleted", zap.String("id", c.ID), zap.String("name", c.Name))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	dev, ok := s.device(w, r)
	if !ok {
		return
	}
	out, err := s.deps.Orchestrator.Connect(r.Context(), dev)
	if err != nil {
		p := ProblemFor(err, r.URL.Path)
		if out != nil && len(out.Attempts) > 0 {
			p.Attempts = out.Attempts
		}
		WriteProblem(w, p)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	dev, ok := s.device(w, r)
	if !ok {
		return
	}
	if err := s.deps.Orchestrator.Disconnect(r.Context(), dev); err != nil {
		WriteError(w, err, r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"disconnected": true})
}

func (s *Server) handleTest(w http.ResponseWriter, r *http.Request) {
	dev, ok := s.device(w, r)
	if !ok {
		return
	}
	name, err := s.deps.Orchestrator.TestConnection(r.Context(), dev)
	if err != nil {
		WriteError(w, err, r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reachable": true, "strategy": name})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	dev, ok := s.device(w, r)
	if !ok {
		return
	}
	status, err := s.deps.Orchestrator.Status(r.Context(), dev)
	if err != nil {
		WriteError(w, err, r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	dev, ok := s.device(w, r)
	if !ok {
		return
	}
	quality, err := camera.ParseQuality(r.URL.Query().Get("quality"))
	if err != nil {
		WriteError(w, err, r.URL.Path)
		return
	}
	u, name, err := s.deps.Orchestrator.StreamURL(r.Context(), dev, quality)
	if err != nil {
		WriteError(w, err, r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"stream_url": u,
		"quality":    quality,
		"strategy":   name,
	})
}

func (s *Server) handleQuality(w http.ResponseWriter, r *http.Request) {
	dev, ok := s.device(w, r)
	if !ok {
		return
	}
	var body struct {
		Quality string `json:"quality"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&body); err != nil {
		BadRequest(w, "invalid body: "+err.Error(), r.URL.Path)
		return
	}
	quality, err := camera.ParseQuality(body.Quality)
	if err == nil {
		err = s.deps.Orchestrator.SetQuality(r.Context(), dev, quality)
	}
	if err != nil {
		WriteError(w, err, r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"quality": quality})
}

// handleSnapshot returns the image bytes. Capture failures are reported as
// 404 with the failure code so clients can fall back to a placeholder.
func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	dev, ok := s.device(w, r)
	if !ok {
		return
	}
	data, name, err := s.deps.Orchestrator.CaptureSnapshot(r.Context(), dev)
	if err != nil {
		p := ProblemFor(err, r.URL.Path)
		p.Type, p.Title, p.Status = ProblemTypeNotFound, "Not Found", http.StatusNotFound
		p.Detail = "no snapshot available: " + p.Detail
		WriteProblem(w, p)
		return
	}
	w.Header().Set("Content-Type", "image/"+camera.DetectImage(data))
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-CamLink-Strategy", name)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	_, _ = w.Write(data)
}

func (s *Server) handleCapabilities(w http.ResponseWriter, r *http.Request) {
	dev, ok := s.device(w, r)
	if !ok {
		return
	}
	caps, name, err := s.deps.Orchestrator.Capabilities(r.Context(), dev)
	if err != nil {
		WriteError(w, err, r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"capabilities": caps, "strategy": name})
}

func (s *Server) handleAttempts(w http.ResponseWriter, r *http.Request) {
	if s.deps.Attempts == nil {
		NotFound(w, "attempt history is disabled", r.URL.Path)
		return
	}
	id := r.PathValue("id")
	if _, err := s.deps.Cameras.Get(r.Context(), id); err != nil {
		WriteError(w, err, r.URL.Path)
		return
	}
	attempts, err := s.deps.Attempts.ListByCamera(r.Context(), id, queryInt(r, "limit"))
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			attempts = nil
		} else {
			WriteError(w, err, r.URL.Path)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"attempts": attempts})
}

// handleExportInventory returns the stored cameras without passwords as a
// YAML (default) or CSV inventory.
func (s *Server) handleExportInventory(w http.ResponseWriter, r *http.Request) {
	specs, err := inventory.Export(r.Context(), s.deps.Cameras, false)
	if err != nil {
		WriteError(w, err, r.URL.Path)
		return
	}
	switch format := r.URL.Query().Get("format"); format {
	case "", "yaml":
		data, err := inventory.MarshalYAML(specs)
		if err != nil {
			WriteError(w, err, r.URL.Path)
			return
		}
		w.Header().Set("Content-Type", "application/yaml")
		w.Header().Set("Content-Disposition", `attachment; filename="cameras.yaml"`)
		_, _ = w.Write(data)
	case "csv":
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", `attachment; filename="cameras.csv"`)
		if err := inventory.WriteCSV(w, specs); err != nil {
			s.logger.Warn("inventory export failed", zap.Error(err))
		}
	default:
		BadRequest(w, "unknown format "+strconv.Quote(format), r.URL.Path)
	}
}
