package server

import (
	"net/http"
	"os"
	"time"

	"clipshare/internal/config"
	"clipshare/internal/metrics"
	"clipshare/internal/mw"
	"clipshare/internal/service"
	"clipshare/internal/store"
	"clipshare/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// SetupRouter 统一初始化 Gin 中间件、REST API、WebSocket 端点以及静态资源。
func SetupRouter(cfg config.Config, st *store.Store, hub *ws.Hub) *gin.Engine {
	r := gin.New()
	// 房间 id 是任意字符串，允许其中出现转义后的 '/'。
	r.UseRawPath = true
	r.UnescapePathValues = true
	r.Use(gin.Recovery())
	r.Use(metrics.GinMiddleware())
	r.Use(mw.CORS(cfg.Env))

	// 控制单个 IP+路由的速率，静态资源不受影响。
	limit := mw.RateLimit(rate.Every(time.Second/20), 40)

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	h := NewHandler(service.NewRoomService(st, hub))
	api := r.Group("/api/v1", limit)
	api.GET("/rooms", h.ListRooms)
	api.GET("/rooms/:id", h.GetRoom)
	api.GET("/rooms/:id/messages", h.ListMessages)
	api.DELETE("/rooms/:id/messages", h.ClearMessages)

	r.GET("/ws", limit, ws.Serve(ws.NewDispatcher(hub, st), cfg))

	if fi, err := os.Stat(cfg.StaticDir); err == nil && fi.IsDir() {
		files := http.FileServer(http.Dir(cfg.StaticDir))
		r.NoRoute(func(c *gin.Context) {
			if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
				c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
				return
			}
			files.ServeHTTP(c.Writer, c.Request)
		})
	} else {
		log.Warn().Str("dir", cfg.StaticDir).Msg("static directory not found, serving API only")
	}
	return r
}
