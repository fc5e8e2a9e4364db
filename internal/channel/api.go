package channel

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mmassist/internal/assistant"
	"mmassist/internal/domain"
	"mmassist/internal/lang"
	"mmassist/internal/metrics"
)

const (
	maxUploadSize = 50 << 20
	apiSessionID  = "api"
)

// API implements domain.Channel as a JSON HTTP surface over the assistant.
// Replies are written synchronously, so Send is a no-op.
type API struct {
	host         string
	port         int
	allowedHosts []string
	tlsCert      string
	tlsKey       string
	version      string

	assistant *assistant.Assistant
	engine    *gin.Engine
	server    *http.Server
	logger    *zap.SugaredLogger
}

type APIConfig struct {
	Host         string
	Port         int
	AllowedHosts []string // empty = any Host header
	TLSCert      string
	TLSKey       string
	Version      string
	Assistant    *assistant.Assistant
	Logger       *zap.SugaredLogger
}

func NewAPI(cfg APIConfig) *API {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8501
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}
	a := &API{
		host:         cfg.Host,
		port:         cfg.Port,
		allowedHosts: cfg.AllowedHosts,
		tlsCert:      cfg.TLSCert,
		tlsKey:       cfg.TLSKey,
		version:      cfg.Version,
		assistant:    cfg.Assistant,
		logger:       cfg.Logger,
	}
	a.engine = a.routes()
	return a
}

func (a *API) Name() string { return "api" }

// Handler exposes the router, mainly for tests.
func (a *API) Handler() http.Handler { return a.engine }

func (a *API) routes() *gin.Engine {
	r := gin.New()
	r.Use(a.requestLogger(), gin.Recovery(), a.hostGuard())
	r.MaxMultipartMemory = 8 << 20

	r.GET("/status", a.handleStatus)
	r.GET("/metrics", gin.WrapF(metrics.Collector.Handler()))

	api := r.Group("/api")
	{
		api.POST("/chat", a.handleChat)
		api.POST("/audio", a.handleAudio)
		api.POST("/documents", a.handleDocument)
		api.GET("/knowledge/stats", a.handleKnowledgeStats)
		api.GET("/images", a.handleImages)
		api.GET("/analytics", a.handleAnalytics)
		api.GET("/languages", a.handleLanguages)
		api.GET("/sessions", a.handleListSessions)
		api.GET("/sessions/:id", a.handleGetSession)
		api.DELETE("/sessions/:id", a.handleClearSession)
	}
	return r
}

// Start serves HTTP, or HTTPS when a certificate is configured, until ctx is
// cancelled.
func (a *API) Start(ctx context.Context, _ domain.MessageBus) error {
	addr := net.JoinHostPort(a.host, fmt.Sprint(a.port))
	a.server = &http.Server{
		Addr:              addr,
		Handler:           a.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		a.server.Shutdown(shutdownCtx)
	}()

	var err error
	if a.tlsCert != "" && a.tlsKey != "" {
		a.logger.Infow("api started", "addr", "https://"+addr)
		err = a.server.ListenAndServeTLS(a.tlsCert, a.tlsKey)
	} else {
		a.logger.Infow("api started", "addr", "http://"+addr)
		err = a.server.ListenAndServe()
	}
	if err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (a *API) Stop() error {
	if a.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return a.server.Shutdown(ctx)
}

func (a *API) Send(context.Context, domain.OutboundMessage) error { return nil }

func (a *API) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		a.logger.Infow("http request",
			"status", c.Writer.Status(),
			"latency", time.Since(start).String(),
			"client_ip", c.ClientIP(),
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
		)
	}
}

// hostGuard rejects requests whose Host header is not in the allow list.
// Loopback hosts always pass so health checks work on the box itself.
func (a *API) hostGuard() gin.HandlerFunc {
	allowed := make(map[string]bool, len(a.allowedHosts))
	for _, h := range a.allowedHosts {
		allowed[strings.ToLower(strings.TrimSpace(h))] = true
	}
	return func(c *gin.Context) {
		if len(allowed) == 0 {
			c.Next()
			return
		}
		host := strings.ToLower(c.Request.Host)
		if h, _, err := net.SplitHostPort(host); err == nil {
			host = h
		}
		if allowed[host] || host == "localhost" || host == "127.0.0.1" || host == "::1" {
			c.Next()
			return
		}
		a.logger.Warnw("rejected host", "host", c.Request.Host, "client_ip", c.ClientIP())
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "host not allowed"})
	}
}

type chatRequest struct {
	Session  string             `json:"session"`
	Text     string             `json:"text" binding:"required"`
	Language string             `json:"language"`
	Toggles  *assistant.Toggles `json:"toggles"`
}

type chatResponse struct {
	assistant.Response
	Text string `json:"text"`
}

func sessionOrDefault(s string) string {
	if s = strings.TrimSpace(s); s == "" {
		return apiSessionID
	}
	return s
}

// request builds an assistant request from the session's settings, then
// applies the per-call overrides. Overrides do not change the session.
// Unknown language names pass through and translate to English.
func (a *API) request(session, text, language string, toggles *assistant.Toggles) assistant.Request {
	req := a.assistant.Sessions().Request(session, text)
	if language = strings.TrimSpace(language); language != "" {
		if l, ok := lang.Lookup(language); ok {
			req.Language = l.Name
		} else {
			a.logger.Debugw("unknown language, translating to English", "session", session, "language", language)
			req.Language = language
		}
	}
	if toggles != nil {
		req.Toggles = *toggles
	}
	return req
}

func (a *API) handleChat(c *gin.Context) {
	var body chatRequest
	if err := c.ShouldBindJSON(&body); err != nil || strings.TrimSpace(body.Text) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "text is required"})
		return
	}
	session := assistant.SessionKey(a.Name(), sessionOrDefault(body.Session))
	req := a.request(session, body.Text, body.Language, body.Toggles)
	resp := a.assistant.Process(c.Request.Context(), req)
	c.JSON(http.StatusOK, chatResponse{Response: resp, Text: resp.Text()})
}

func (a *API) handleAudio(c *gin.Context) {
	header, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}
	if header.Size > maxUploadSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
		return
	}

	tmp, err := os.CreateTemp("", "upload-*"+strings.ToLower(filepath.Ext(header.Filename)))
	if err != nil {
		a.logger.Errorw("create temp audio", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	path := tmp.Name()
	tmp.Close()
	defer os.Remove(path)

	if err := c.SaveUploadedFile(header, path); err != nil {
		a.logger.Errorw("save uploaded audio", "file", header.Filename, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	session := assistant.SessionKey(a.Name(), sessionOrDefault(c.PostForm("session")))
	req := a.request(session, "", c.PostForm("language"), nil)
	resp := a.assistant.ProcessAudio(c.Request.Context(), req, path)
	c.JSON(http.StatusOK, chatResponse{Response: resp, Text: resp.Text()})
}

func (a *API) handleDocument(c *gin.Context) {
	header, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}
	if header.Size > maxUploadSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
		return
	}
	f, err := header.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot read upload"})
		return
	}
	defer f.Close()

	res := a.assistant.IngestDocument(c.Request.Context(), header.Filename, f)
	report, ok := res.Get()
	if !ok {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":  res.Notice(),
			"kind":   res.Kind(),
			"reason": res.Reason(),
		})
		return
	}
	c.JSON(http.StatusOK, report)
}

func (a *API) handleKnowledgeStats(c *gin.Context) {
	c.JSON(http.StatusOK, a.assistant.KnowledgeStats())
}

func (a *API) handleImages(c *gin.Context) {
	images := a.assistant.Gallery()
	if images == nil {
		images = []domain.ImageRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"images": images})
}

func (a *API) handleAnalytics(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"analytics":   a.assistant.Analytics(),
		"performance": a.assistant.Performance(),
	})
}

func (a *API) handleLanguages(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"languages": lang.Supported})
}

func (a *API) handleListSessions(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	convs, err := a.assistant.Conversations(c.Request.Context(), limit)
	if err != nil {
		a.logger.Errorw("list sessions", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if convs == nil {
		convs = []domain.Conversation{}
	}
	c.JSON(http.StatusOK, gin.H{"sessions": convs})
}

func (a *API) handleGetSession(c *gin.Context) {
	session := assistant.SessionKey(a.Name(), c.Param("id"))
	history, err := a.assistant.History(c.Request.Context(), session, 0)
	if err != nil {
		a.logger.Errorw("load history", "session", session, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if history == nil {
		history = []domain.MessageRecord{}
	}
	c.JSON(http.StatusOK, gin.H{
		"settings": a.assistant.Sessions().Get(session),
		"history":  history,
	})
}

func (a *API) handleClearSession(c *gin.Context) {
	session := assistant.SessionKey(a.Name(), c.Param("id"))
	if err := a.assistant.ClearSession(c.Request.Context(), session); err != nil {
		a.logger.Errorw("clear session", "session", session, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "session cleared"})
}

func (a *API) handleStatus(c *gin.Context) {
	stats := a.assistant.KnowledgeStats()
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"version":   a.version,
		"time":      time.Now().Format(time.RFC3339),
		"uptime":    metrics.Collector.Uptime().Round(time.Second).String(),
		"documents": stats.Documents,
		"chunks":    stats.Chunks,
	})
}
