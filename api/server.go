// Package api exposes the sn0w HTTP surface: the frontend message endpoint
// feeding the relay, the logger reload trigger, and a status report.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/richinsley/comfy2go/client"

	"sn0w/characters"
	"sn0w/comfy"
	"sn0w/config"
	"sn0w/helpers"
	"sn0w/image"
	"sn0w/logger"
	"sn0w/lora"
	"sn0w/prompt"
	"sn0w/relay"
	"sn0w/settings"
)

const apiPrefix = "/api/sn0w"

// loggingLevelKey is the comfy settings entry holding the severity
// allow-list the frontend edits.
const loggingLevelKey = "sn0w.LoggingLevel"

var defaultLoggingLevels = []string{"INFORMATIONAL", "WARNING"}

// Setting keys for the frontend favourites lists.
const (
	favouriteCharactersKey = "sn0w.FavouriteCharacters"
	favouriteLorasKey      = "sn0w.FavouriteLoras"
)

// Server wires the relay and settings reader to the HTTP endpoints.
type Server struct {
	holder   *relay.Holder
	cfg      *config.Reader
	comfyCfg settings.ComfyUiConfig
	started  time.Time
	mux      *http.ServeMux
	chars    *characters.Store
	finder   *lora.Finder
	runner   *comfy.Runner

	comfyClient *client.ComfyClient
}

func NewServer(holder *relay.Holder, cfg *config.Reader, comfyCfg settings.ComfyUiConfig, chars *characters.Store, finder *lora.Finder, runner *comfy.Runner) *Server {
	s := &Server{
		holder:   holder,
		cfg:      cfg,
		comfyCfg: comfyCfg,
		started:  time.Now(),
		mux:      http.NewServeMux(),
		chars:    chars,
		finder:   finder,
		runner:   runner,
	}
	s.mux.HandleFunc("POST "+apiPrefix+"/message", s.handleMessage)
	s.mux.HandleFunc("POST "+apiPrefix+"/reload_settings", s.handleReloadSettings)
	s.mux.HandleFunc("POST "+apiPrefix+"/generate", s.handleGenerate)
	s.mux.HandleFunc("GET "+apiPrefix+"/status", s.handleStatus)
	s.mux.HandleFunc("GET "+apiPrefix+"/characters", s.handleCharacters)
	s.mux.HandleFunc("GET "+apiPrefix+"/loras", s.handleLoras)
	s.mux.HandleFunc("GET "+apiPrefix+"/workflows", s.handleWorkflows)
	s.mux.HandleFunc("GET "+apiPrefix+"/prompt_history", s.handlePromptHistory)
	return s
}

// Handler returns the routed handler with request-id logging applied.
func (s *Server) Handler() http.Handler {
	return s.withRequestID(s.mux)
}

// ListenAndServe blocks serving the API on addr.
func (s *Server) ListenAndServe(addr string) error {
	logger.Info("API listening", "addr", addr)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return srv.ListenAndServe()
}

func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.New().String()
		w.Header().Set("X-Request-Id", id)
		logger.Debug("API request", "request_id", id, "method", r.Method, "path", r.URL.Path)
		next.ServeHTTP(w, r)
	})
}

type messageBody struct {
	NodeID  json.RawMessage `json:"node_id"`
	Outputs string          `json:"outputs"`
}

// normalizeID accepts a node id as either a JSON string or number and
// returns its string form, the key the relay stores under.
func normalizeID(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", fmt.Errorf("missing node_id")
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String(), nil
	}
	return "", fmt.Errorf("node_id must be a string or number")
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var body messageBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid message body: %w", err))
		return
	}
	id, err := normalizeID(body.NodeID)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	s.holder.Add(id, body.Outputs)
	writeAck(w)
}

type generateBody struct {
	comfy.TestRequest
	Character         string  `json:"character"`
	CharacterStrength float64 `json:"character_strength"`
	CharacterPrompt   bool    `json:"character_prompt"`
	Xl                bool    `json:"xl"`
	RandomCharacter   bool    `json:"random_character"`
}

type generateResponse struct {
	Status string   `json:"status"`
	Files  []string `json:"files"`
	Images int      `json:"images"`
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	if s.runner == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("no workflow runner configured"))
		return
	}

	var body generateBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid generate body: %w", err))
		return
	}
	if body.Workflow == "" {
		writeError(w, http.StatusBadRequest, errors.New("missing workflow"))
		return
	}
	if !comfy.WorkflowExists(s.comfyCfg.WorkflowDir, body.Workflow) {
		writeError(w, http.StatusBadRequest, fmt.Errorf("unknown workflow: %s", body.Workflow))
		return
	}

	var (
		files []string
		batch *image.Batch
		err   error
	)
	if body.Character != "" || body.RandomCharacter {
		strength := body.CharacterStrength
		if strength == 0 {
			strength = 1
		}
		batch, files, err = s.runner.GenerateCharacter(r.Context(), body.TestRequest,
			body.Character, strength, body.CharacterPrompt, body.Xl, body.RandomCharacter)
	} else {
		batch, files, err = s.runner.TestLoras(r.Context(), body.TestRequest)
	}
	if err != nil {
		if errors.Is(err, relay.ErrCancelled) {
			writeError(w, http.StatusConflict, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(generateResponse{
		Status: "ok",
		Files:  files,
		Images: batch.Count,
	})
}

// handleCharacters serves the character dropdown: "None" first, then the
// catalog in display order with favourites on top.
func (s *Server) handleCharacters(w http.ResponseWriter, _ *http.Request) {
	names := []string{"None"}
	if s.chars != nil {
		names = s.chars.Names()
	}
	writeJSON(w, append(names[:1], s.cfg.FavouritesOnTop(favouriteCharactersKey, names[1:])...))
}

// handleLoras serves the lora dropdown for ?type=xl, ?type=15 or all, with
// favourites on top.
func (s *Server) handleLoras(w http.ResponseWriter, r *http.Request) {
	files := []string{}
	if s.finder != nil {
		kind := lora.KindAll
		switch r.URL.Query().Get("type") {
		case "xl":
			kind = lora.KindXl
		case "15":
			kind = lora.KindSd15
		}
		files = s.finder.List(kind)
	}
	writeJSON(w, append([]string{"None"}, s.cfg.FavouritesOnTop(favouriteLorasKey, files)...))
}

func (s *Server) handleWorkflows(w http.ResponseWriter, _ *http.Request) {
	flows := comfy.GetWorkflowsSlice(s.comfyCfg.WorkflowDir)
	if flows == nil {
		flows = []string{}
	}
	writeJSON(w, flows)
}

func (s *Server) handlePromptHistory(w http.ResponseWriter, _ *http.Request) {
	history := prompt.History()
	if history == nil {
		history = []prompt.HistoryEntry{}
	}
	writeJSON(w, history)
}

func (s *Server) handleReloadSettings(w http.ResponseWriter, _ *http.Request) {
	levels := s.cfg.GetStringList(loggingLevelKey, defaultLoggingLevels)
	logger.Reload(levels...)
	writeAck(w)
}

type deviceStatus struct {
	Name      string `json:"name"`
	Type      string `json:"type"`
	VramTotal int64  `json:"vram_total"`
	VramFree  int64  `json:"vram_free"`
}

type statusResponse struct {
	Uptime          string         `json:"uptime"`
	PendingMessages int            `json:"pending_messages"`
	LogLevel        string         `json:"log_level"`
	ComfyDevices    []deviceStatus `json:"comfy_devices,omitempty"`
	ComfyError      string         `json:"comfy_error,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := statusResponse{
		Uptime:          helpers.DurationHumanReadable(time.Since(s.started)),
		PendingMessages: s.holder.Pending(),
		LogLevel:        logger.Level().String(),
	}

	devices, err := s.systemDevices()
	if err != nil {
		logger.Warn("Could not fetch ComfyUI system stats", "error", err)
		resp.ComfyError = err.Error()
	} else {
		resp.ComfyDevices = devices
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logger.Error("Failed to encode status response", "error", err)
	}
}

func (s *Server) systemDevices() ([]deviceStatus, error) {
	if s.comfyClient == nil {
		c := client.NewComfyClient(helpers.StripScheme(s.comfyCfg.Url), s.comfyCfg.Port, nil)
		if !c.IsInitialized() {
			if err := c.Init(); err != nil {
				return nil, fmt.Errorf("error initializing client: %w", err)
			}
		}
		s.comfyClient = c
	}

	stats, err := s.comfyClient.GetSystemStats()
	if err != nil {
		return nil, err
	}
	devices := make([]deviceStatus, 0, len(stats.Devices))
	for _, dev := range stats.Devices {
		devices = append(devices, deviceStatus{
			Name:      dev.Name,
			Type:      dev.Type,
			VramTotal: dev.VRAM_Total,
			VramFree:  dev.VRAM_Free,
		})
	}
	return devices, nil
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Failed to encode response", "error", err)
	}
}

func writeAck(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprint(w, `{"status":"ok"}`)
}

func writeError(w http.ResponseWriter, code int, err error) {
	logger.Error("API request failed", "error", err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"status": "error", "error": err.Error()})
}
