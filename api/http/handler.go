package http

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/forever-free1/TideRepo/collection"
	"github.com/forever-free1/TideRepo/watch"
)

var errStreaming = errors.New("streaming not supported")

// watchBuffer 是每个 SSE 连接的事件缓冲
const watchBuffer = 1000

// Handler HTTP 请求处理器
type Handler struct {
	backend  Backend
	watchHub *watch.WatchHub
	opts     *Options
	limiter  *rate.Limiter
}

// NewHandler 创建新的 Handler
//
// 参数：
//   - backend: 集合本身或 Raft 节点
//   - watchHub: 事件通知中心，为 nil 时不提供 /v1/watch
//   - opts: 服务选项，写接口的限流和指标由它决定
//
// 返回：
//   - *Handler: Handler 实例
func NewHandler(backend Backend, watchHub *watch.WatchHub, opts *Options) *Handler {
	h := &Handler{
		backend:  backend,
		watchHub: watchHub,
		opts:     opts,
	}
	if opts.RateLimit > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		h.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}
	return h
}

// RegisterRoutes 注册所有路由
//
// 参数：
//   - engine: Gin 引擎
func (h *Handler) RegisterRoutes(engine *gin.Engine) {
	engine.GET("/health", h.HealthCheck)

	v1 := engine.Group("/v1")
	{
		// 变更操作受速率限制
		w := v1.Group("", rateLimit(h.limiter))
		{
			w.POST("/entries", h.Create)
			w.PUT("/entries/:address/indices", h.UpdateIndices)
			w.DELETE("/entries", h.Delete)
			w.POST("/acl/enable", h.EnableACL)
			w.PUT("/code-ids", h.SetCodeIDs)
			w.PUT("/indices/:index/name", h.RenameIndex)
			w.POST("/execute", h.Execute)
		}

		v1.GET("/count", h.Count)
		v1.POST("/read", h.Read)
		v1.POST("/select", h.Select)
		v1.GET("/entries/:address/values", h.Values)
		v1.GET("/info", h.Info)

		if h.watchHub != nil {
			v1.GET("/watch", h.Watch)
		}
	}
}

// call 由请求头构造调用环境，时间由本节点的时钟给出
func (h *Handler) call(c *gin.Context) collection.Call {
	return collection.Call{
		Sender: c.GetHeader(SenderHeader),
		Time:   uint64(h.opts.Clock().UnixNano()),
	}
}

// bind 解析 JSON 请求体，失败时写出 400
func bind(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		fail(c, fmt.Errorf("invalid request: %v: %w", err, errBadRequest))
		return false
	}
	return true
}

// HealthCheck 健康检查
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().Unix(),
	})
}

// Create 创建子合约并登记
// POST /v1/entries
func (h *Handler) Create(c *gin.Context) {
	var req createRequest
	if !bind(c, &req) {
		return
	}
	assignments, err := parseAssignments(req.Indices)
	if err != nil {
		fail(c, err)
		return
	}

	addr, err := h.backend.Create(c.Request.Context(), h.call(c), collection.CreateRequest{
		CodeID:  req.CodeID,
		Msg:     req.Msg,
		Label:   req.Label,
		Admin:   req.Admin,
		Indices: assignments,
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"address": addr})
}

// UpdateIndices 修改条目的用户槽位
// PUT /v1/entries/:address/indices
func (h *Handler) UpdateIndices(c *gin.Context) {
	var req updateRequest
	if !bind(c, &req) {
		return
	}
	assignments, err := parseAssignments(req.Indices)
	if err != nil {
		fail(c, err)
		return
	}

	entry, err := h.backend.UpdateIndices(c.Request.Context(), h.call(c), c.Param("address"), assignments)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, newEntryView(entry))
}

// Delete 批量删除条目，单个地址的失败在结果里返回
// DELETE /v1/entries
func (h *Handler) Delete(c *gin.Context) {
	var req deleteRequest
	if !bind(c, &req) {
		return
	}

	results, err := h.backend.Delete(c.Request.Context(), h.call(c), req.IDs)
	if err != nil {
		fail(c, err)
		return
	}
	views := make([]deleteResultView, 0, len(results))
	for _, r := range results {
		views = append(views, deleteResultView{Address: r.Address, Error: errorString(r.Err)})
	}
	c.JSON(http.StatusOK, gin.H{"results": views})
}

// EnableACL 打开访问控制
// POST /v1/acl/enable
func (h *Handler) EnableACL(c *gin.Context) {
	if err := h.backend.EnableACL(c.Request.Context(), h.call(c)); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"acl_enabled": true})
}

// SetCodeIDs 替换允许的 code id 集合
// PUT /v1/code-ids
func (h *Handler) SetCodeIDs(c *gin.Context) {
	var req codeIDsRequest
	if !bind(c, &req) {
		return
	}
	if err := h.backend.SetAllowedCodeIDs(c.Request.Context(), h.call(c), req.CodeIDs); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "ok"})
}

// RenameIndex 修改槽位的显示名
// PUT /v1/indices/:index/name
func (h *Handler) RenameIndex(c *gin.Context) {
	var req renameRequest
	if !bind(c, &req) {
		return
	}
	id, err := collection.ParseIndexID(c.Param("index"))
	if err != nil {
		fail(c, err)
		return
	}
	if err := h.backend.RenameIndex(c.Request.Context(), h.call(c), id, req.Name); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "ok"})
}

// Execute 向索引匹配的每个子合约转发消息
// POST /v1/execute
func (h *Handler) Execute(c *gin.Context) {
	var req executeRequest
	if !bind(c, &req) {
		return
	}
	filter, err := req.parse()
	if err != nil {
		fail(c, err)
		return
	}

	results, err := h.backend.ExecuteBatch(c.Request.Context(), h.call(c), collection.ExecuteRequest{
		Filter: filter,
		Msg:    req.Msg,
	})
	if err != nil {
		fail(c, err)
		return
	}

	views := make([]dispatchView, 0, len(results))
	var failed int
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
		views = append(views, dispatchView{
			Address:  r.Address,
			Response: string(r.Response),
			Error:    errorString(r.Err),
		})
	}
	if h.opts.Metrics != nil {
		h.opts.Metrics.ObserveDispatch(len(results)-failed, failed)
	}
	c.JSON(http.StatusOK, gin.H{"results": views})
}

// Count 返回条目总数
// GET /v1/count
func (h *Handler) Count(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"count": h.backend.Count(c.Request.Context())})
}

// Read 按索引分页读取
// POST /v1/read
func (h *Handler) Read(c *gin.Context) {
	var req readRequest
	if !bind(c, &req) {
		return
	}
	filter, err := req.parse()
	if err != nil {
		fail(c, err)
		return
	}

	rr := collection.ReadRequest{Filter: filter, Limit: defaultReadLimit, Meta: req.Meta}
	if req.Limit != nil {
		rr.Limit = *req.Limit
	}
	if req.State != nil {
		rr.State = &collection.StateQuery{Fields: req.State.Fields, Wallet: req.State.Wallet}
	}
	if req.Cursor != "" {
		cursor, err := collection.ParseCursor(filter.Index.Kind.ValueType(), req.Cursor)
		if err != nil {
			fail(c, err)
			return
		}
		rr.Cursor = &cursor
	}

	page, err := h.backend.Read(c.Request.Context(), rr)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, newPageView(page))
}

// Select 投影全部条目的字段
// POST /v1/select
func (h *Handler) Select(c *gin.Context) {
	var req selectRequest
	if !bind(c, &req) {
		return
	}
	since, err := req.Since.parse()
	if err != nil {
		fail(c, err)
		return
	}

	rows, err := h.backend.Select(c.Request.Context(), req.Fields, since)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rows": rows})
}

// Values 返回条目全部槽位的值
// GET /v1/entries/:address/values
func (h *Handler) Values(c *gin.Context) {
	values, err := h.backend.Values(c.Request.Context(), c.Param("address"))
	if err != nil {
		fail(c, err)
		return
	}
	out := make(map[string]string, len(values))
	for id, v := range values {
		out[id.String()] = v.String()
	}
	c.JSON(http.StatusOK, gin.H{"values": out})
}

// Info 返回集合描述
// GET /v1/info?fields=count,admin
func (h *Handler) Info(c *gin.Context) {
	var fields []string
	if raw := c.Query("fields"); raw != "" {
		fields = strings.Split(raw, ",")
	}
	info, err := h.backend.Describe(c.Request.Context(), fields)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, newInfoView(info))
}

// ==================== Watch (SSE) ====================

// Watch 以 Server-Sent Events 推送条目变更
// GET /v1/watch?prefix=xxx&types=created,deleted
func (h *Handler) Watch(c *gin.Context) {
	prefix := c.DefaultQuery("prefix", "")
	var types []collection.ChangeType
	if raw := c.Query("types"); raw != "" {
		for _, t := range strings.Split(raw, ",") {
			switch ct := collection.ChangeType(t); ct {
			case collection.ChangeCreated, collection.ChangeUpdated, collection.ChangeDeleted:
				types = append(types, ct)
			default:
				fail(c, fmt.Errorf("未知的事件类型 %q: %w", t, errBadRequest))
				return
			}
		}
	}

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		fail(c, errStreaming)
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	watcher := h.watchHub.Watch(prefix, watchBuffer, types...)
	defer h.watchHub.Unregister(watcher)

	clientGone := c.Request.Context().Done()
	ticker := time.NewTicker(h.opts.Heartbeat)
	defer ticker.Stop()

	c.Status(http.StatusOK)
	fmt.Fprintf(c.Writer, ": connected\n\n")
	flusher.Flush()

	for {
		select {
		case <-clientGone:
			return

		case event, ok := <-watcher.Ch:
			// hub 关闭时通道被关闭
			if !ok {
				return
			}
			data, err := watch.EventToJSON(event)
			if err != nil {
				continue
			}
			fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", event.Type, data)
			flusher.Flush()

		case <-ticker.C:
			fmt.Fprintf(c.Writer, ": heartbeat\n\n")
			flusher.Flush()
		}
	}
}
