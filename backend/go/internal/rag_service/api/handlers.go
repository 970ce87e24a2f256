package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"

	"ragcompare/backend/go/internal/apperr"
	"ragcompare/backend/go/internal/rag_service/service"
	"ragcompare/backend/go/pkg/logger"
)

// multipartOverhead 是 multipart 请求中除文件内容外允许的额外字节数。
const multipartOverhead = 64 << 10

// Handler 封装了所有 API endpoint 的处理函数。
type Handler struct {
	service   *service.Service
	maxUpload int64
	log       *logger.Logger
}

// NewHandler 创建一个新的 Handler 实例。maxUpload <= 0 表示不限制上传大小。
func NewHandler(s *service.Service, maxUpload int64, log *logger.Logger) *Handler {
	return &Handler{service: s, maxUpload: maxUpload, log: log}
}

func errorBody(kind, message string) gin.H {
	return gin.H{"error": message, "kind": kind}
}

// fail 按错误类型写入状态码和 JSON 错误体，并记录日志。
func (h *Handler) fail(c *gin.Context, err error) {
	info := apperr.Info(err)
	entry := h.log.WithField("session_id", c.Param("id")).WithError(info)
	if info.StatusCode >= http.StatusInternalServerError {
		entry.Error("request failed")
	} else {
		entry.Warn("request rejected")
	}
	c.AbortWithStatusJSON(info.StatusCode, errorBody(info.Type, info.Message))
}

// AskRequest 定义了提问请求的 JSON 结构。
type AskRequest struct {
	Query  string `json:"query" binding:"required"`
	Stream bool   `json:"stream"`
}

// CompareRequest 定义了模型对比请求的 JSON 结构。models 为空时对比全部配置。
type CompareRequest struct {
	Query  string   `json:"query" binding:"required"`
	Models []string `json:"models"`
}

// Health 报告各组件的健康状况。
func (h *Handler) Health(c *gin.Context) {
	components, ok := h.service.Health(c.Request.Context())
	status, code := "ok", http.StatusOK
	if !ok {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{"status": status, "components": components, "sessions": h.service.SessionCount()})
}

// ListModels 返回可参与对比的模型配置。
func (h *Handler) ListModels(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"models": h.service.Models()})
}

// CreateSession 创建会话并返回问候语。
func (h *Handler) CreateSession(c *gin.Context) {
	c.JSON(http.StatusCreated, h.service.CreateSession(authenticated(c), subject(c)))
}

// GetSession 返回会话信息。
func (h *Handler) GetSession(c *gin.Context) {
	info, err := h.service.Session(c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

// EndSession 结束会话并删除其索引。
func (h *Handler) EndSession(c *gin.Context) {
	if err := h.service.EndSession(c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// UploadDocument 接收 multipart 字段 file 中的文档并为会话建立索引。
// 类型优先取表单字段 mime，其次是文件部分的 Content-Type，都没有时按内容识别。
func (h *Handler) UploadDocument(c *gin.Context) {
	if h.maxUpload > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUpload+multipartOverhead)
	}
	fh, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.tooLarge(c)
			return
		}
		h.fail(c, apperr.Wrap(apperr.KindInput, err, "multipart field \"file\""))
		return
	}
	if h.maxUpload > 0 && fh.Size > h.maxUpload {
		h.tooLarge(c)
		return
	}

	f, err := fh.Open()
	if err != nil {
		h.fail(c, apperr.Wrap(apperr.KindInput, err, "open upload"))
		return
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		h.fail(c, apperr.Wrap(apperr.KindInput, err, "read upload"))
		return
	}

	contentType := c.PostForm("mime")
	if contentType == "" {
		contentType = fh.Header.Get("Content-Type")
	}
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = mimetype.Detect(data).String()
	}

	res, err := h.service.Upload(c.Request.Context(), c.Param("id"), fh.Filename, data, contentType)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

func (h *Handler) tooLarge(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, errorBody(string(apperr.KindInput), "document exceeds the upload limit"))
}

// Ask 回答一个问题。stream 为 true 时以 SSE 返回片段。
func (h *Handler) Ask(c *gin.Context) {
	var req AskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, apperr.Wrap(apperr.KindInput, err, "ask request"))
		return
	}
	if req.Stream {
		h.askStream(c, req.Query)
		return
	}
	ans, err := h.service.Ask(c.Request.Context(), c.Param("id"), req.Query)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, ans)
}

// askStream 依次发送 fragment 事件，成功时以 done 结束，失败时以 error 结束。
// 客户端断开时流被关闭，本轮对话不写入记忆。
func (h *Handler) askStream(c *gin.Context, query string) {
	ctx := c.Request.Context()
	stream, err := h.service.AskStream(ctx, c.Param("id"), query)
	if err != nil {
		h.fail(c, err)
		return
	}
	defer stream.Close()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)

	for frag, err := range stream.All() {
		if err != nil {
			if ctx.Err() != nil {
				h.log.WithField("session_id", c.Param("id")).Info("client disconnected during stream")
				return
			}
			info := apperr.Info(err)
			c.SSEvent("error", errorBody(info.Type, info.Message))
			c.Writer.Flush()
			return
		}
		c.SSEvent("fragment", gin.H{"text": frag})
		c.Writer.Flush()
	}
	if !stream.Completed() {
		return
	}
	c.SSEvent("done", gin.H{"answer": stream.Text(), "sources": stream.Sources()})
	c.Writer.Flush()
}

// History 返回会话的对话记录。
func (h *Handler) History(c *gin.Context) {
	turns, err := h.service.History(c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"history": turns})
}

// ResetHistory 清空会话的对话记录。
func (h *Handler) ResetHistory(c *gin.Context) {
	if err := h.service.Reset(c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Compare 把问题分发给多个模型配置，每个配置一个结果。
func (h *Handler) Compare(c *gin.Context) {
	var req CompareRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, apperr.Wrap(apperr.KindInput, err, "compare request"))
		return
	}
	results, err := h.service.Compare(c.Request.Context(), c.Param("id"), req.Query, req.Models)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}
