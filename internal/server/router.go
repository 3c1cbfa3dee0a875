// Package server exposes the Supervisor Loop's Command Surface over HTTP,
// grounded on the teacher's internal/server/router.go gin.Router shape,
// generalised from the teacher's register/start/stop/status verb set to
// this daemon's fuller command set and with the log endpoints upgraded to
// a gorilla/websocket stream (spec §6's "WebSocket log stream").
package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/askucher/pmc/internal/authgate"
	"github.com/askucher/pmc/internal/metricsexp"
	"github.com/askucher/pmc/internal/procspec"
	"github.com/askucher/pmc/internal/supervisor"
)

// Router adapts HTTP requests onto supervisor.Loop commands.
type Router struct {
	loop *supervisor.Loop
	gate *authgate.Gate
	exp  *metricsexp.Exporter
}

// New builds a Router. gate may be nil, equivalent to an always-open gate.
// exp may be nil, in which case no /metrics route is registered.
func New(loop *supervisor.Loop, gate *authgate.Gate, exp *metricsexp.Exporter) *Router {
	if gate == nil {
		gate = authgate.New("")
	}
	return &Router{loop: loop, gate: gate, exp: exp}
}

// Handler returns the http.Handler to mount, matching spec §6's endpoint
// list: GET/POST /processes, per-id stop/restart/flush, log tail/stream,
// health, save/restore, plus metrics when an Exporter was supplied.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	g.GET("/health", r.handleHealth)
	if r.exp != nil {
		g.GET("/metrics", gin.WrapH(r.exp.Handler()))
	}

	api := g.Group("")
	api.Use(r.gate.GinMiddleware())
	api.GET("/processes", r.handleList)
	api.POST("/processes", r.handleStart)
	api.GET("/processes/:id", r.handleDetails)
	api.DELETE("/processes/:id", r.handleRemove)
	api.POST("/processes/:id/stop", r.handleStop)
	api.POST("/processes/:id/restart", r.handleRestart)
	api.POST("/processes/:id/flush", r.handleFlush)
	api.GET("/processes/:id/logs", r.handleLogsTail)
	api.GET("/processes/:id/logs/stream", r.handleLogsStream)
	api.POST("/save", r.handleSave)
	api.POST("/restore", r.handleRestore)

	return g
}

// errorBody is the nested "error" object of the wire envelope spec §7
// mandates: {"error":{"kind":"...","message":"..."}}.
type errorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type errorResp struct {
	Error errorBody `json:"error"`
}

func newErrorResp(kind, message string) errorResp {
	return errorResp{Error: errorBody{Kind: kind, Message: message}}
}

// writeResult maps a supervisor.Result onto an HTTP response, translating
// *supervisor.Error into the matching status code (spec §7's error
// taxonomy) and the nested error envelope spec §7 defines.
func writeResult(c *gin.Context, res interface{}, cmdErr *supervisor.Error) {
	if cmdErr != nil {
		c.JSON(statusFor(cmdErr.Kind), newErrorResp(string(cmdErr.Kind), cmdErr.Message))
		return
	}
	c.JSON(http.StatusOK, res)
}

func statusFor(kind supervisor.ErrorKind) int {
	switch kind {
	case supervisor.ErrNotFound:
		return http.StatusNotFound
	case supervisor.ErrAlreadyExists, supervisor.ErrConflict:
		return http.StatusConflict
	case supervisor.ErrInvalidSpec:
		return http.StatusBadRequest
	case supervisor.ErrUnauthorized:
		return http.StatusUnauthorized
	case supervisor.ErrDaemonUnavailable:
		return http.StatusServiceUnavailable
	case supervisor.ErrTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (r *Router) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (r *Router) handleList(c *gin.Context) {
	res := r.loop.Submit(c.Request.Context(), &supervisor.Command{Kind: supervisor.KindList})
	writeResult(c, res.Views, res.Err)
}

func (r *Router) handleStart(c *gin.Context) {
	var spec procspec.Spec
	if err := c.ShouldBindJSON(&spec); err != nil {
		c.JSON(http.StatusBadRequest, newErrorResp(string(supervisor.ErrInvalidSpec), err.Error()))
		return
	}
	res := r.loop.Submit(c.Request.Context(), &supervisor.Command{Kind: supervisor.KindStart, Spec: spec})
	writeResult(c, res.View, res.Err)
}

func (r *Router) handleDetails(c *gin.Context) {
	res := r.loop.Submit(c.Request.Context(), &supervisor.Command{Kind: supervisor.KindDetails, Target: c.Param("id")})
	writeResult(c, res.View, res.Err)
}

func (r *Router) handleRemove(c *gin.Context) {
	res := r.loop.Submit(c.Request.Context(), &supervisor.Command{Kind: supervisor.KindRemove, Target: c.Param("id")})
	writeResult(c, res.View, res.Err)
}

func (r *Router) handleStop(c *gin.Context) {
	res := r.loop.Submit(c.Request.Context(), &supervisor.Command{Kind: supervisor.KindStop, Target: c.Param("id")})
	writeResult(c, res.View, res.Err)
}

func (r *Router) handleRestart(c *gin.Context) {
	details := r.loop.Submit(c.Request.Context(), &supervisor.Command{Kind: supervisor.KindDetails, Target: c.Param("id")})
	if details.Err != nil {
		writeResult(c, nil, details.Err)
		return
	}
	specRes := r.loop.Submit(c.Request.Context(), &supervisor.Command{Kind: supervisor.KindEnv, Target: c.Param("id")})
	if specRes.Err != nil {
		writeResult(c, nil, specRes.Err)
		return
	}
	res := r.loop.Submit(c.Request.Context(), &supervisor.Command{Kind: supervisor.KindStart, Spec: *specRes.Spec})
	writeResult(c, res.View, res.Err)
}

func (r *Router) handleFlush(c *gin.Context) {
	res := r.loop.Submit(c.Request.Context(), &supervisor.Command{Kind: supervisor.KindFlush, Target: c.Param("id")})
	writeResult(c, gin.H{"flushed": true}, res.Err)
}

func (r *Router) handleLogsTail(c *gin.Context) {
	if websocket.IsWebSocketUpgrade(c.Request) {
		r.handleLogsStream(c)
		return
	}
	n := 100
	if q := c.Query("lines"); q != "" {
		if parsed, err := strconv.Atoi(q); err == nil && parsed > 0 {
			n = parsed
		}
	}
	res := r.loop.Submit(c.Request.Context(), &supervisor.Command{Kind: supervisor.KindLogsTail, Target: c.Param("id"), Lines: n})
	writeResult(c, res.Lines, res.Err)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// handleLogsStream upgrades to a WebSocket and forwards every logsink.Line
// from the subscription as a JSON text frame until the client disconnects
// or the Loop's stream is cancelled.
func (r *Router) handleLogsStream(c *gin.Context) {
	res := r.loop.Submit(c.Request.Context(), &supervisor.Command{Kind: supervisor.KindLogsStream, Target: c.Param("id")})
	if res.Err != nil {
		writeResult(c, nil, res.Err)
		return
	}
	defer res.Cancel()

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	go drainClientCloses(ctx, conn, cancel)

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-res.StreamCh:
			if !ok {
				return
			}
			if err := conn.WriteJSON(line); err != nil {
				return
			}
		}
	}
}

// drainClientCloses reads (and discards) client frames so the connection's
// close/ping control frames are processed, cancelling ctx once the client
// goes away.
func drainClientCloses(ctx context.Context, conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

func (r *Router) handleSave(c *gin.Context) {
	res := r.loop.Submit(c.Request.Context(), &supervisor.Command{Kind: supervisor.KindSave})
	writeResult(c, gin.H{"saved": true}, res.Err)
}

func (r *Router) handleRestore(c *gin.Context) {
	res := r.loop.Submit(c.Request.Context(), &supervisor.Command{Kind: supervisor.KindRestore})
	writeResult(c, gin.H{"errors": res.PerRecord}, res.Err)
}

// NewHTTPServer builds a standalone http.Server around the Router,
// matching the teacher's timeout defaults.
func NewHTTPServer(addr string, loop *supervisor.Loop, gate *authgate.Gate, exp *metricsexp.Exporter) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           New(loop, gate, exp).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}
