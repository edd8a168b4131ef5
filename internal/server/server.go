package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	v1 "ratebook/internal/api/v1"
	"ratebook/internal/config"
	"ratebook/internal/importer"
	"ratebook/internal/store"
	"ratebook/internal/store/postgres"
	"ratebook/internal/vocab"
)

// Server HTTP服务器
type Server struct {
	router *gin.Engine
	store  store.Repository
	v1     *v1.Handler
	http   *http.Server
}

// OpenStore 按配置的驱动打开存储
func OpenStore(ctx context.Context, cfg *config.AppConfig) (store.Repository, error) {
	switch cfg.Data.Driver {
	case "postgres":
		st, err := postgres.New(ctx, cfg.Data.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres store: %w", err)
		}
		return st, nil
	case "sqlite", "":
		dataDir, err := config.EnsureDataDir(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to prepare data dir: %w", err)
		}
		st, err := store.New(config.SQLitePath(cfg, dataDir))
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unsupported data driver %q", cfg.Data.Driver)
	}
}

// LoadVocabulary 加载识别词表；未配置路径时使用内置词表
func LoadVocabulary(cfg *config.AppConfig) (*vocab.Vocabulary, error) {
	if cfg.Parser.VocabularyPath == "" {
		return vocab.Default(), nil
	}
	v, err := vocab.Load(cfg.Parser.VocabularyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load vocabulary %s: %w", cfg.Parser.VocabularyPath, err)
	}
	return v, nil
}

// NewCoordinator 按配置组装导入协调器
func NewCoordinator(cfg *config.AppConfig, st importer.BatchStore) (*importer.Coordinator, error) {
	v, err := LoadVocabulary(cfg)
	if err != nil {
		return nil, err
	}
	return importer.NewCoordinator(st, v, cfg.ParserSettings(), cfg.ImportSettings()), nil
}

// NewServer 创建服务器
func NewServer(ctx context.Context, cfg *config.AppConfig) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if !cfg.Server.DevMode {
		gin.SetMode(gin.ReleaseMode)
	}

	st, err := OpenStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	coordinator, err := NewCoordinator(cfg, st)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	s := &Server{
		router: gin.Default(),
		store:  st,
		v1:     v1.NewHandler(st, coordinator, cfg.Server.MaxUploadMB),
	}
	s.setupRoutes()

	log.Info().Str("driver", st.Driver()).Msg("server initialized")
	return s, nil
}

// setupRoutes 设置路由
func (s *Server) setupRoutes() {
	// CORS
	s.router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization, Accept")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	})

	s.router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := s.router.Group("/api")
	{
		s.v1.RegisterRoutes(api)
	}
}

// Handler 返回路由（用于测试）
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run 启动服务器，阻塞直到 Shutdown
func (s *Server) Run(addr string) error {
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown 停止接收请求并关闭存储
func (s *Server) Shutdown(ctx context.Context) error {
	var errs []error
	if s.http != nil {
		if err := s.http.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop http server: %w", err))
		}
	}
	if err := s.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close store: %w", err))
	}
	return errors.Join(errs...)
}

// GetStore 获取存储（用于测试）
func (s *Server) GetStore() store.Repository {
	return s.store
}
