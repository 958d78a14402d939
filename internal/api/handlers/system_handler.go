package handlers

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/markdave123-py/diagnovet/internal/config"
	"github.com/markdave123-py/diagnovet/internal/core/apperr"
	"github.com/markdave123-py/diagnovet/internal/core/ingestion_engine"
	"github.com/markdave123-py/diagnovet/internal/core/llm"
)

const (
	configured    = "✅ Configurada"
	notConfigured = "❌ No configurada"
)

// LLMInspector is the diagnostic view of the active extraction strategy.
type LLMInspector interface {
	TestConnection(ctx context.Context) llm.ConnectionStatus
	AvailableModels() []string
	Provider() string
	Model() string
}

type QueueInspector interface {
	QueueStats() ingestion_engine.QueueStats
}

type SystemHandler struct {
	cfg     *config.Config
	llm     LLMInspector
	queue   QueueInspector
	rs      *Responder
	started time.Time
}

func NewSystemHandler(cfg *config.Config, inspector LLMInspector, queue QueueInspector, rs *Responder) *SystemHandler {
	return &SystemHandler{cfg: cfg, llm: inspector, queue: queue, rs: rs, started: time.Now()}
}

type healthBody struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

func (h *SystemHandler) Health(w http.ResponseWriter, r *http.Request) {
	h.rs.Raw(w, http.StatusOK, healthBody{
		Success:   true,
		Message:   "diagnoVET API está funcionando correctamente",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

type storageView struct {
	AccessKey string `json:"accessKey"`
	SecretKey string `json:"secretKey"`
	Bucket    string `json:"bucket"`
	Region    string `json:"region"`
	Endpoint  string `json:"endpoint,omitempty"`
}

type configView struct {
	LLMProvider      string      `json:"llmProvider"`
	ActiveProvider   string      `json:"activeProvider"`
	ActiveModel      string      `json:"activeModel"`
	OpenRouterAPIKey string      `json:"openRouterApiKey"`
	OpenRouterModel  string      `json:"openRouterModel"`
	GeminiAPIKey     string      `json:"geminiApiKey"`
	DatabaseURL      string      `json:"databaseUrl"`
	Storage          storageView `json:"storage"`
	Auth             string      `json:"auth"`
	Environment      string      `json:"environment"`
	APIPort          string      `json:"apiPort"`
}

func flag(v string) string {
	if v == "" {
		return notConfigured
	}
	return configured
}

// Config reports which settings are present without revealing their values.
func (h *SystemHandler) Config(w http.ResponseWriter, r *http.Request) {
	c := h.cfg
	h.rs.OK(w, configView{
		LLMProvider:      c.LLM.Provider,
		ActiveProvider:   h.llm.Provider(),
		ActiveModel:      h.llm.Model(),
		OpenRouterAPIKey: flag(c.LLM.OpenRouterAPIKey),
		OpenRouterModel:  c.LLM.OpenRouterModel,
		GeminiAPIKey:     flag(c.LLM.GeminiAPIKey),
		DatabaseURL:      flag(c.DatabaseURL),
		Storage: storageView{
			AccessKey: flag(c.Storage.AccessKey),
			SecretKey: flag(c.Storage.SecretKey),
			Bucket:    c.Storage.Bucket,
			Region:    c.Storage.Region,
			Endpoint:  c.Storage.Endpoint,
		},
		Auth:        flag(c.JWTSecret),
		Environment: c.Env,
		APIPort:     c.Port,
	}, "Configuración del servidor")
}

type llmTestView struct {
	Provider string               `json:"provider"`
	Model    string               `json:"model"`
	Status   string               `json:"status"`
	Details  llm.ConnectionStatus `json:"details"`
}

type llmTestFailure struct {
	Success bool        `json:"success"`
	Error   string      `json:"error"`
	Type    apperr.Kind `json:"type"`
	Data    llmTestView `json:"data"`
}

func (h *SystemHandler) TestLLM(w http.ResponseWriter, r *http.Request) {
	st := h.llm.TestConnection(r.Context())
	view := llmTestView{Provider: h.llm.Provider(), Model: h.llm.Model(), Details: st}
	if st.Success {
		view.Status = "connected"
		h.rs.OK(w, view, "Conexión con "+view.Provider+" exitosa")
		return
	}
	view.Status = "disconnected"
	msg := st.Error
	if msg == "" {
		msg = "Error al conectar con " + view.Provider
	}
	h.rs.Raw(w, apperr.KindExternalAPI.HTTPStatus(), llmTestFailure{
		Success: false,
		Error:   msg,
		Type:    apperr.KindExternalAPI,
		Data:    view,
	})
}

type modelsView struct {
	Provider string   `json:"provider"`
	Model    string   `json:"model"`
	Models   []string `json:"models"`
}

func (h *SystemHandler) AvailableModels(w http.ResponseWriter, r *http.Request) {
	models := h.llm.AvailableModels()
	if models == nil {
		models = []string{}
	}
	h.rs.OK(w, modelsView{Provider: h.llm.Provider(), Model: h.llm.Model(), Models: models}, "Modelos disponibles")
}

type memoryView struct {
	Alloc      uint64 `json:"alloc"`
	TotalAlloc uint64 `json:"totalAlloc"`
	Sys        uint64 `json:"sys"`
	HeapInuse  uint64 `json:"heapInuse"`
	NumGC      uint32 `json:"numGC"`
}

type infoView struct {
	GoVersion     string     `json:"goVersion"`
	Platform      string     `json:"platform"`
	Arch          string     `json:"arch"`
	UptimeSeconds float64    `json:"uptime"`
	Goroutines    int        `json:"goroutines"`
	Memory        memoryView `json:"memory"`
	Environment   string     `json:"environment"`
	Timestamp     string     `json:"timestamp"`
}

func (h *SystemHandler) Info(w http.ResponseWriter, r *http.Request) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	h.rs.OK(w, infoView{
		GoVersion:     runtime.Version(),
		Platform:      runtime.GOOS,
		Arch:          runtime.GOARCH,
		UptimeSeconds: time.Since(h.started).Seconds(),
		Goroutines:    runtime.NumGoroutine(),
		Memory: memoryView{
			Alloc:      ms.Alloc,
			TotalAlloc: ms.TotalAlloc,
			Sys:        ms.Sys,
			HeapInuse:  ms.HeapInuse,
			NumGC:      ms.NumGC,
		},
		Environment: h.cfg.Env,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
	}, "Información del sistema")
}

func (h *SystemHandler) Queue(w http.ResponseWriter, r *http.Request) {
	h.rs.OK(w, h.queue.QueueStats(), "")
}
