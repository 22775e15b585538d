package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"SwapAgent-Chain/internal/agent"
	"SwapAgent-Chain/internal/observability/metrics"
	"SwapAgent-Chain/internal/task"
	"SwapAgent-Chain/pkg/logger"
)

// OwnerHeader 携带上游会话层确定的调用者身份。
const OwnerHeader = "X-Owner-ID"

// AgentService 是接口层使用的智能体管理能力。
type AgentService interface {
	CreateAgent(ctx context.Context, req agent.CreateRequest) (*agent.Agent, error)
	GetOwned(ctx context.Context, owner, id string) (*agent.Agent, error)
	List(ctx context.Context, owner string) ([]*agent.Agent, error)
	SetStatus(ctx context.Context, id string, status agent.Status) (*agent.Agent, error)
	Delete(ctx context.Context, id string) error
	RefreshBalance(ctx context.Context, id string) (*agent.Agent, error)
}

// Runner 同步执行一次运行。
type Runner interface {
	Execute(ctx context.Context, agentID string) agent.RunResult
}

// Submitter 把运行请求投递到队列。
type Submitter interface {
	Submit(ctx context.Context, agentID string) error
}

// History 提供任务历史查询。
type History interface {
	ListTasks(ctx context.Context, agentID string, opts ...task.ListOption) ([]*task.Record, error)
	ClearTasks(ctx context.Context, agentID string) error
	Stats(ctx context.Context, agentID string) (task.Stats, error)
}

// Server 负责暴露 REST 接口，供上游会话层驱动智能体。
type Server struct {
	addr            string
	agents          AgentService
	runner          Runner
	submitter       Submitter
	history         History
	metrics         *metrics.Collector
	shutdownTimeout time.Duration
	engine          *gin.Engine
	logger          *slog.Logger
}

// Option 定义可选配置。
type Option func(*Server)

// WithSubmitter 启用异步运行接口。
func WithSubmitter(submitter Submitter) Option {
	return func(s *Server) {
		s.submitter = submitter
	}
}

// WithMetrics 启用请求指标与 /metrics。
func WithMetrics(collector *metrics.Collector) Option {
	return func(s *Server) {
		s.metrics = collector
	}
}

// WithShutdownTimeout 设置优雅关闭的等待时间。
func WithShutdownTimeout(timeout time.Duration) Option {
	return func(s *Server) {
		if timeout > 0 {
			s.shutdownTimeout = timeout
		}
	}
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, agents AgentService, runner Runner, history History, opts ...Option) *Server {
	s := &Server{
		addr:            addr,
		agents:          agents,
		runner:          runner,
		history:         history,
		shutdownTimeout: 5 * time.Second,
		logger:          logger.Named("api"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.engine = s.routes()
	return s
}

// Handler 返回完整的路由，便于测试或挂载到其他服务器。
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.observe())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if s.metrics != nil {
		r.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	v1 := r.Group("/api/v1", requireOwner())
	v1.POST("/agents", s.handleCreateAgent)
	v1.GET("/agents", s.handleListAgents)

	owned := v1.Group("/agents/:id", s.loadAgent())
	owned.GET("", s.handleGetAgent)
	owned.DELETE("", s.handleDeleteAgent)
	owned.PATCH("/status", s.handleSetStatus)
	owned.POST("/balance", s.handleRefreshBalance)
	owned.POST("/execute", s.handleExecute)
	owned.POST("/runs", s.handleEnqueue)
	owned.GET("/tasks", s.handleListTasks)
	owned.DELETE("/tasks", s.handleClearTasks)
	owned.GET("/stats", s.handleStats)
	return r
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("API 服务启动", slog.String("addr", s.addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// observe 记录请求日志与指标。
func (s *Server) observe() gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		elapsed := time.Since(started)
		s.metrics.ObserveHTTPRequest(route, c.Request.Method, c.Writer.Status(), elapsed)
		s.logger.Debug("HTTP 请求",
			slog.String("method", c.Request.Method),
			slog.String("route", route),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("elapsed", elapsed))
	}
}
