package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/modularcrm/syncqueue/internal/model"
	"github.com/modularcrm/syncqueue/internal/repo"
	"github.com/modularcrm/syncqueue/internal/sync"
	"gorm.io/gorm"
)

func RegisterHandlers(r *gin.Engine, h *sync.Handler, rp repo.RepositoryInterface) {
	r.POST("/sync/apply", applySyncHandler(h))

	v1 := r.Group("/v1")
	{
		v1.GET("/messages", listMessagesHandler(rp))
		v1.GET("/messages/:id", getMessageHandler(rp))
		v1.POST("/messages/:id/requeue", requeueMessageHandler(rp))
	}

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}

// applySyncHandler accepts a batch of sync actions. Every action is
// applied independently; the response is 200 when all succeed, 207 when
// some fail, 400 for a malformed or empty batch.
func applySyncHandler(h *sync.Handler) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req sync.Request
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if len(req.Actions) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "actions must not be empty"})
			return
		}

		results := h.Apply(c, req)
		status := http.StatusOK
		for _, res := range results {
			if !res.Success {
				status = http.StatusMultiStatus
				break
			}
		}
		c.JSON(status, gin.H{"results": results})
	}
}

func listMessagesHandler(rp repo.RepositoryInterface) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
		status := model.MessageStatus(c.Query("status"))
		queue := c.Query("queue")
		msgs, err := rp.ListMessages(c, status, queue, limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, msgs)
	}
}

func getMessageHandler(rp repo.RepositoryInterface) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseUint(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid message id"})
			return
		}
		msg, err := rp.GetMessage(c, id)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "message not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, msg)
	}
}

// requeueMessageHandler is the operator reset for stuck PROCESSING rows
// and for dead letters that should get another run.
func requeueMessageHandler(rp repo.RepositoryInterface) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseUint(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid message id"})
			return
		}
		if err := rp.RequeueMessage(c, id); err != nil {
			if errors.Is(err, repo.ErrNotRequeueable) {
				c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		// Wake the processor; the fallback poll covers a lost signal.
		_ = rp.NotifyEnqueued(c, "")
		c.JSON(http.StatusOK, gin.H{"status": "requeued"})
	}
}
