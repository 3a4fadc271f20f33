package server

import (
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/chaos-io/rembg/cache"
	"github.com/chaos-io/rembg/composite"
	"github.com/chaos-io/rembg/errcode"
	"github.com/chaos-io/rembg/pipeline"
	"github.com/chaos-io/rembg/util"
)

const (
	headerRequestID = "X-Request-Id"
	headerCache     = "X-Cache"
)

// ResultCache is satisfied by *cache.ResultCache.
type ResultCache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, png []byte) error
}

type ErrorResponse struct {
	Success bool   `json:"success"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type RemoveResponse struct {
	Success   bool   `json:"success"`
	RequestID string `json:"request_id,omitempty"`
	Cached    bool   `json:"cached,omitempty"`
	Image     string `json:"image"`
}

type Handler struct {
	pipeline *pipeline.Pipeline
	cache    ResultCache
}

// NewHandler wires the HTTP surface to p. rc may be nil.
func NewHandler(p *pipeline.Pipeline, rc ResultCache) *Handler {
	return &Handler{pipeline: p, cache: rc}
}

// RemoveBackground 处理图片去背景
func (h *Handler) RemoveBackground(c *gin.Context) {
	opts, base64Out, err := parseOptions(c)
	if err != nil {
		abort(c, err)
		return
	}

	file, err := c.FormFile("image")
	if err != nil {
		abort(c, errcode.Wrap(errcode.InvalidImage, err, "missing multipart field image"))
		return
	}
	f, err := file.Open()
	if err != nil {
		abort(c, errcode.Wrap(errcode.InvalidImage, err, "open upload"))
		return
	}
	data, err := io.ReadAll(f)
	_ = f.Close()
	if err != nil {
		abort(c, errcode.Wrap(errcode.InvalidImage, err, "read upload"))
		return
	}

	ctx := c.Request.Context()
	key := cache.Key(data, opts)
	if h.cache != nil {
		png, err := h.cache.Get(ctx, key)
		if err != nil {
			util.Logger.Warn("failed to get cache", zap.Error(err))
		}
		if png != nil {
			c.Header(headerCache, "hit")
			respond(c, png, "", true, base64Out)
			return
		}
	}

	png, res, err := h.pipeline.RemoveBackgroundBytes(ctx, data, opts)
	if err != nil {
		abort(c, err)
		return
	}
	c.Header(headerRequestID, res.RequestID)

	if h.cache != nil {
		if err := h.cache.Set(ctx, key, png); err != nil {
			util.Logger.Warn("failed to set cache", zap.Error(err))
		}
	}
	respond(c, png, res.RequestID, false, base64Out)
}

func respond(c *gin.Context, png []byte, id string, cached, base64Out bool) {
	if base64Out {
		c.JSON(http.StatusOK, RemoveResponse{
			Success:   true,
			RequestID: id,
			Cached:    cached,
			Image:     base64.StdEncoding.EncodeToString(png),
		})
		return
	}
	c.Data(http.StatusOK, "image/png", png)
}

func parseOptions(c *gin.Context) (pipeline.Options, bool, error) {
	opts := pipeline.DefaultOptions()

	bg, err := composite.ParseBackground(c.PostForm("background"))
	if err != nil {
		return opts, false, err
	}
	opts.Background = bg

	if v := c.PostForm("feather_radius"); v != "" {
		r, err := strconv.Atoi(v)
		if err != nil {
			return opts, false, errcode.Wrap(errcode.InvalidOptions, err, "feather_radius %q", v)
		}
		opts.FeatherRadius = r
	}
	if v := c.PostForm("soft_alpha"); v != "" {
		soft, err := strconv.ParseBool(v)
		if err != nil {
			return opts, false, errcode.Wrap(errcode.InvalidOptions, err, "soft_alpha %q", v)
		}
		opts.SoftAlpha = soft
	}

	switch format := strings.ToLower(c.DefaultPostForm("format", "png")); format {
	case "png":
		return opts, false, nil
	case "base64":
		return opts, true, nil
	default:
		return opts, false, errcode.New(errcode.InvalidOptions, "unknown format %q", format)
	}
}

func abort(c *gin.Context, err error) {
	e := errcode.As(err)
	status := errcode.HTTPStatus(e.Code)
	if status >= http.StatusInternalServerError {
		util.Logger.Error("failed to remove background", zap.String("code", string(e.Code)), zap.Error(e))
	}
	// the wrapped cause may carry server paths; clients only get the message
	msg := e.Message
	if msg == "" {
		msg = string(e.Code)
	}
	c.AbortWithStatusJSON(status, ErrorResponse{
		Success: false,
		Code:    string(e.Code),
		Message: msg,
	})
}

// Stats 返回流水线计数
func (h *Handler) Stats(c *gin.Context) {
	c.JSON(http.StatusOK, h.pipeline.Stats())
}
