package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v5"

	"github.com/samcharles93/hearth/internal/assistant"
	"github.com/samcharles93/hearth/internal/chat"
	"github.com/samcharles93/hearth/internal/grammar"
	"github.com/samcharles93/hearth/internal/inference"
	"github.com/samcharles93/hearth/internal/logger"
	"github.com/samcharles93/hearth/internal/version"
)

const HeaderRequestID = "X-Request-Id"

type Config struct {
	Chat *chat.Orchestrator
	// Assistant defaults to one driving Chat.
	Assistant *assistant.Assistant
	Store     *CompletionStore
	Defaults  inference.Defaults
	// Turn is the prompt shape used when a turn request leaves a field unset.
	Turn chat.TurnConfig
	Log  logger.Logger
}

type Server struct {
	chat     *chat.Orchestrator
	assist   *assistant.Assistant
	store    *CompletionStore
	defaults inference.Defaults
	turn     chat.TurnConfig
	log      logger.Logger
	clock    func() time.Time
}

func NewServer(cfg Config) *Server {
	log := logger.Component(cfg.Log, "api")
	if cfg.Store == nil {
		cfg.Store = NewCompletionStore(0)
	}
	if cfg.Assistant == nil && cfg.Chat != nil {
		cfg.Assistant = assistant.New(cfg.Chat, cfg.Log)
	}
	return &Server{
		chat:     cfg.Chat,
		assist:   cfg.Assistant,
		store:    cfg.Store,
		defaults: cfg.Defaults,
		turn:     cfg.Turn,
		log:      log,
		clock:    time.Now,
	}
}

func (s *Server) Register(e *echo.Echo) {
	e.Use(s.requestContext)

	e.GET("/v1/chat/messages", s.handleMessages)
	e.POST("/v1/chat/turns", s.handleTurn)
	e.POST("/v1/chat/stop", s.handleStop)
	e.POST("/v1/chat/reset", s.handleReset)

	e.POST("/v1/completions", s.handleCompletion)
	e.GET("/v1/completions/:id", s.handleGetCompletion)
	e.DELETE("/v1/completions/:id", s.handleDeleteCompletion)

	e.POST("/v1/constrained", s.handleConstrained)
	e.GET("/v1/grammars", s.handleListGrammars)

	e.POST("/v1/assist/vehicle", s.handleVehicle)
	e.POST("/v1/assist/emotion", s.handleEmotion)

	e.GET("/v1/version", s.handleVersion)
}

// requestContext tags every request with an id and a logger carrying it.
func (s *Server) requestContext(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c *echo.Context) error {
		req := c.Request()
		id := req.Header.Get(HeaderRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		res := c.Response()
		res.Header().Set(HeaderRequestID, id)
		res.Header().Set("Server", version.UserAgent())
		log := s.log.With("request_id", id)
		c.SetRequest(req.WithContext(logger.WithContext(req.Context(), log)))
		return next(c)
	}
}

func (s *Server) handleListGrammars(c *echo.Context) error {
	return c.JSON(http.StatusOK, GrammarListResponse{Object: "list", Data: grammar.BuiltinNames()})
}

func (s *Server) handleVersion(c *echo.Context) error {
	return c.JSON(http.StatusOK, version.Resolve())
}
