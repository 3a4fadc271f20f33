// Package server exposes the pipeline over HTTP.
package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/chaos-io/rembg/pipeline"
	"github.com/chaos-io/rembg/util"
)

// BuildInfo is reported by /health and /version.
type BuildInfo struct {
	Version   string `json:"version"`
	BuildTime string `json:"build_time"`
	GitCommit string `json:"git_commit"`
}

// New builds the router. gin's mode is set by the caller.
func New(h *Handler, info BuildInfo) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(Logger("/health"))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"version": info.Version,
		})
	})
	r.GET("/version", func(c *gin.Context) {
		c.JSON(http.StatusOK, info)
	})

	api := r.Group("/api/v1")
	{
		api.POST("/remove-background", h.RemoveBackground)
		api.GET("/stats", h.Stats)
	}
	return r
}

// StartStatsReporter logs pipeline counters on the cron schedule spec. An
// empty spec disables reporting and returns nil.
func StartStatsReporter(spec string, p *pipeline.Pipeline) (*cron.Cron, error) {
	if spec == "" {
		return nil, nil
	}
	c := cron.New()
	if _, err := c.AddFunc(spec, func() {
		st := p.Stats()
		util.Logger.Info("pipeline stats",
			zap.Int64("submitted", st.Submitted),
			zap.Int64("succeeded", st.Succeeded),
			zap.Int64("failed", st.Failed),
			zap.Int64("timed_out", st.TimedOut),
			zap.Int64("dropped", st.Dropped),
			zap.Int("queue_len", st.QueueLen))
	}); err != nil {
		return nil, err
	}
	c.Start()
	return c, nil
}
