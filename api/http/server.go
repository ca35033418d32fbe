// Package http 以 gin 提供集合的 HTTP 接口
package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"golang.org/x/time/rate"

	"github.com/forever-free1/TideRepo/collection"
	"github.com/forever-free1/TideRepo/metrics"
	"github.com/forever-free1/TideRepo/raft"
	"github.com/forever-free1/TideRepo/watch"
)

const (
	// SenderHeader 携带调用者地址
	SenderHeader    = "X-Sender"
	requestIDHeader = "X-Request-ID"
	requestIDKey    = "request_id"
)

// Backend 是 HTTP 层依赖的集合操作
// 单机模式下是 *collection.Collection，复制模式下是 *raft.Node
type Backend interface {
	Create(ctx context.Context, call collection.Call, req collection.CreateRequest) (string, error)
	UpdateIndices(ctx context.Context, call collection.Call, addr string, assignments []collection.Assignment) (*collection.Entry, error)
	Delete(ctx context.Context, call collection.Call, addrs []string) ([]collection.DeleteResult, error)
	EnableACL(ctx context.Context, call collection.Call) error
	SetAllowedCodeIDs(ctx context.Context, call collection.Call, ids []uint64) error
	RenameIndex(ctx context.Context, call collection.Call, id collection.IndexID, name string) error
	ExecuteBatch(ctx context.Context, call collection.Call, req collection.ExecuteRequest) ([]collection.DispatchResult, error)

	Count(ctx context.Context) uint64
	Read(ctx context.Context, req collection.ReadRequest) (*collection.Page, error)
	Select(ctx context.Context, fields []string, since *collection.Since) ([]collection.Row, error)
	Values(ctx context.Context, addr string) (map[collection.IndexID]collection.Value, error)
	Describe(ctx context.Context, fields []string) (*collection.Info, error)
}

var (
	_ Backend = (*collection.Collection)(nil)
	_ Backend = (*raft.Node)(nil)
)

// Options 是 HTTP 服务的配置
type Options struct {
	// RateLimit 是每秒允许的变更请求数，0 表示不限
	RateLimit float64
	Burst     int
	Logger    hclog.Logger
	Metrics   *metrics.Metrics
	// Clock 为调用盖时间戳，默认 time.Now
	Clock func() time.Time
	// Heartbeat 是 watch 连接的心跳间隔
	Heartbeat time.Duration
}

// Option 是配置函数
type Option func(*Options)

// WithRateLimit 限制变更请求的速率
func WithRateLimit(perSecond float64, burst int) Option {
	return func(o *Options) {
		o.RateLimit = perSecond
		o.Burst = burst
	}
}

// WithLogger 设置日志
func WithLogger(logger hclog.Logger) Option {
	return func(o *Options) {
		o.Logger = logger
	}
}

// WithMetrics 开启请求指标和 /metrics
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Options) {
		o.Metrics = m
	}
}

// WithClock 替换时钟
func WithClock(clock func() time.Time) Option {
	return func(o *Options) {
		o.Clock = clock
	}
}

// WithHeartbeat 设置 watch 心跳间隔
func WithHeartbeat(d time.Duration) Option {
	return func(o *Options) {
		o.Heartbeat = d
	}
}

// Server HTTP 服务器
type Server struct {
	addr    string
	engine  *gin.Engine
	handler *Handler
	httpSrv *http.Server
}

// NewServer 创建新的 Server
//
// 参数：
//   - addr: 监听地址
//   - backend: 处理请求的集合或 Raft 节点
//   - hub: 事件通知中心，可以为 nil
//   - opts: 可选配置
//
// 返回：
//   - *Server: 尚未开始监听的 Server，调用 Start 启动
func NewServer(addr string, backend Backend, hub *watch.WatchHub, opts ...Option) *Server {
	options := Options{
		Logger:    hclog.NewNullLogger(),
		Clock:     time.Now,
		Heartbeat: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(&options)
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), requestID(), accessLog(options.Logger, options.Metrics))

	handler := NewHandler(backend, hub, &options)
	handler.RegisterRoutes(engine)
	if options.Metrics != nil {
		engine.GET("/metrics", gin.WrapH(options.Metrics.Handler()))
	}

	return &Server{
		addr:    addr,
		engine:  engine,
		handler: handler,
		httpSrv: &http.Server{Addr: addr, Handler: engine, ReadHeaderTimeout: 10 * time.Second},
	}
}

// Start 启动服务器，Shutdown 之后返回 nil
func (s *Server) Start() error {
	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown 优雅关闭服务器
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

// ServeHTTP 实现 http.Handler 接口
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.engine.ServeHTTP(w, r)
}

// requestID 透传或生成请求 ID
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

// accessLog 记录每个请求的结果和耗时
func accessLog(logger hclog.Logger, m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		op := c.FullPath()
		if op == "" {
			op = "unmatched"
		}
		elapsed := time.Since(start)
		if m != nil {
			m.ObserveRequest(op, c.Writer.Status(), elapsed)
		}
		logger.Debug("request",
			"method", c.Request.Method,
			"path", op,
			"status", c.Writer.Status(),
			"elapsed", elapsed,
			"request_id", c.GetString(requestIDKey),
		)
	}
}

// rateLimit 超过速率时返回 429
func rateLimit(limiter *rate.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter != nil && !limiter.Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":      "rate limit exceeded",
				"request_id": c.GetString(requestIDKey),
			})
			return
		}
		c.Next()
	}
}
