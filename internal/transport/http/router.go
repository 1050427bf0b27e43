package http

import (
	"github.com/gin-gonic/gin"
	"github.com/modularcrm/syncqueue/internal/config"
	"github.com/modularcrm/syncqueue/internal/repo"
	"github.com/modularcrm/syncqueue/internal/sync"
	"go.uber.org/zap"
)

func NewRouter(h *sync.Handler, rp repo.RepositoryInterface, rl config.RateLimitConfig, log *zap.SugaredLogger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggingMiddleware(log))
	r.Use(RateLimitMiddleware(rl.RPS, rl.Burst))
	RegisterHandlers(r, h, rp)
	return r
}
