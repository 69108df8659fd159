package statushttp

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"chorus/internal/engine"
	"chorus/internal/exclusion"
	"chorus/internal/ledger"
	"chorus/internal/logger"
	"chorus/internal/signal"
	"chorus/internal/store/journal"
)

// maxIntakeBody caps a posted estimate payload.
const maxIntakeBody = 1 << 16

// Server exposes the status API: recent decisions, the performance ledger,
// the exclusion list, current regimes, and the signal intake endpoint.
type Server struct {
	addr   string
	router *gin.Engine
}

// ServerConfig describes the status server dependencies.
type ServerConfig struct {
	Addr       string
	Engine     *engine.Engine
	Ledger     *ledger.Ledger
	Exclusions *exclusion.List
	Journal    *journal.Journal
	Intake     *signal.Intake
}

func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Engine == nil {
		return nil, errors.New("status http server requires the engine")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":9992"
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api/status")
	api.GET("/decisions", decisionsHandler(cfg.Journal))
	api.GET("/ledger", ledgerHandler(cfg.Ledger))
	api.GET("/exclusions", exclusionsHandler(cfg.Exclusions))
	api.GET("/regimes", regimesHandler(cfg.Engine))

	if cfg.Intake != nil {
		router.POST("/api/signals/:symbol", intakeHandler(cfg.Intake))
	}

	return &Server{addr: cfg.Addr, router: router}, nil
}

// intakeHandler accepts an external producer's estimate payload. The body is
// schema-validated; a rejected payload is a 400, never a stored zero value.
func intakeHandler(in *signal.Intake) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxIntakeBody))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		est, err := in.Submit(c.Param("symbol"), raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"accepted": est})
	}
}

func decisionsHandler(jnl *journal.Journal) gin.HandlerFunc {
	return func(c *gin.Context) {
		if jnl == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "journal disabled"})
			return
		}
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
		offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
		entries, err := jnl.ListRecent(c.Request.Context(), journal.Query{
			Symbol: c.Query("symbol"),
			Limit:  limit,
			Offset: offset,
		})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"decisions": entries})
	}
}

func ledgerHandler(led *ledger.Ledger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if led == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "ledger disabled"})
			return
		}
		records := led.All()
		if sym := strings.ToUpper(strings.TrimSpace(c.Query("symbol"))); sym != "" {
			filtered := records[:0]
			for _, rec := range records {
				if rec.Symbol == sym {
					filtered = append(filtered, rec)
				}
			}
			records = filtered
		}
		c.JSON(http.StatusOK, gin.H{"records": records})
	}
}

func exclusionsHandler(list *exclusion.List) gin.HandlerFunc {
	return func(c *gin.Context) {
		if list == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "exclusion list disabled"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"entries": list.Entries()})
	}
}

func regimesHandler(eng *engine.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		out := gin.H{}
		for _, sym := range eng.Symbols() {
			if snap, ok := eng.CurrentRegime(sym); ok {
				out[sym] = snap
			}
		}
		c.JSON(http.StatusOK, gin.H{"regimes": out})
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		method := c.Request.Method
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery
		client := c.ClientIP()
		c.Next()
		dur := time.Since(start)
		status := c.Writer.Status()
		fullPath := path
		if query != "" {
			fullPath = path + "?" + query
		}
		logger.Debugf("HTTP %s %s status=%d ip=%s dur=%s", method, fullPath, status, client, dur)
	}
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	if s == nil {
		return ""
	}
	return s.addr
}

// Start serves until the context is cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	srv := &http.Server{Addr: s.addr, Handler: s.router}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
