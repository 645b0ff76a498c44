package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"nexora-chat/internal/app"
	"nexora-chat/internal/rag"
	"nexora-chat/internal/transport/http/middleware"
	"nexora-chat/internal/transport/http/response"
)

const (
	noKnowledgeBaseMessage = "No knowledge base found. Please contact admin."
	multipartOverhead      = 1 << 20
)

type KnowledgeHandler struct {
	knowledge    *app.KnowledgeService
	maxBytes     int64
	defaultAsync bool
}

type AskRequest struct {
	Question string `json:"question" binding:"required,max=4000"`
	Store    string `json:"store" binding:"max=128"`
	TopK     int    `json:"top_k" binding:"min=0,max=50"`
}

func NewKnowledgeHandler(knowledge *app.KnowledgeService, maxBytes int64, defaultAsync bool) *KnowledgeHandler {
	return &KnowledgeHandler{
		knowledge:    knowledge,
		maxBytes:     maxBytes,
		defaultAsync: defaultAsync,
	}
}

func (h *KnowledgeHandler) Upload(c *gin.Context) {
	userID, _ := middleware.UserID(c)
	if h.maxBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBytes+multipartOverhead)
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.Error(c, http.StatusRequestEntityTooLarge, response.CodeFileTooLarge, app.ErrFileTooLarge.Error())
			return
		}
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "no file provided")
		return
	}
	if fileHeader.Filename == "" {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "no file selected")
		return
	}

	async := h.defaultAsync
	if raw := c.PostForm("async"); raw != "" {
		async, err = strconv.ParseBool(raw)
		if err != nil {
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "async must be a boolean")
			return
		}
	}

	file, err := fileHeader.Open()
	if err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "read uploaded file failed")
		return
	}
	defer file.Close()

	result, err := h.knowledge.Upload(c.Request.Context(), app.UploadInput{
		Filename:      fileHeader.Filename,
		Content:       file,
		Store:         c.PostForm("store"),
		Async:         async,
		UploaderID:    userID,
		UploaderEmail: c.GetString(middleware.ContextEmailKey),
	})
	if err != nil {
		writeKnowledgeError(c, err, "upload failed")
		return
	}

	if result.Queued {
		c.JSON(http.StatusAccepted, response.APIResponse{Code: response.CodeOK, Message: "queued", Data: result})
		return
	}
	response.OK(c, result)
}

func (h *KnowledgeHandler) ListDocuments(c *gin.Context) {
	docs, err := h.knowledge.ListDocuments()
	if err != nil {
		writeKnowledgeError(c, err, "list documents failed")
		return
	}
	response.OK(c, docs)
}

func (h *KnowledgeHandler) JobStatus(c *gin.Context) {
	status, err := h.knowledge.JobStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeKnowledgeError(c, err, "fetch job status failed")
		return
	}
	response.OK(c, status)
}

func (h *KnowledgeHandler) Ask(c *gin.Context) {
	var req AskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "question is required")
		return
	}

	result, err := h.knowledge.Ask(c.Request.Context(), app.AskInput{
		Question: req.Question,
		Store:    req.Store,
		TopK:     req.TopK,
	})
	if err != nil {
		writeKnowledgeError(c, err, "ask failed")
		return
	}

	passages := result.Passages
	if passages == nil {
		passages = []rag.Passage{}
	}
	response.OK(c, gin.H{
		"answer":   result.Answer.Text,
		"grounded": result.Answer.Grounded,
		"passages": passages,
	})
}

// writeKnowledgeError maps service and pipeline errors onto the response
// envelope. fallback is used for anything unclassified.
func writeKnowledgeError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, rag.ErrIndexNotFound):
		response.Error(c, http.StatusNotFound, response.CodeKnowledgeBaseNotFound, noKnowledgeBaseMessage)
	case errors.Is(err, rag.ErrIndexCorrupt):
		_ = c.Error(err)
		response.Error(c, http.StatusInternalServerError, response.CodeIndexCorrupt, "knowledge base is unreadable, it must be rebuilt")
	case errors.Is(err, rag.ErrEmbeddingUnavailable):
		_ = c.Error(err)
		response.Error(c, http.StatusServiceUnavailable, response.CodeEmbeddingUnavailable, "embedding service unavailable, try again later")
	case errors.Is(err, rag.ErrSynthesis):
		_ = c.Error(err)
		response.Error(c, http.StatusBadGateway, response.CodeSynthesis, "answer generation failed, try again later")
	case errors.Is(err, app.ErrUnsupportedFile):
		response.Error(c, http.StatusBadRequest, response.CodeUnsupportedFile, err.Error())
	case errors.Is(err, app.ErrFileTooLarge):
		response.Error(c, http.StatusRequestEntityTooLarge, response.CodeFileTooLarge, err.Error())
	case errors.Is(err, app.ErrAsyncUnavailable):
		response.Error(c, http.StatusServiceUnavailable, response.CodeAsyncUnavailable, err.Error())
	case errors.Is(err, app.ErrJobNotFound):
		response.Error(c, http.StatusNotFound, response.CodeJobNotFound, err.Error())
	case errors.Is(err, app.ErrInvalidInput), errors.Is(err, rag.ErrInvalidParameters):
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		_ = c.Error(err)
		response.Error(c, http.StatusGatewayTimeout, response.CodeInternalServer, "request timed out")
	default:
		_ = c.Error(err)
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, fallback)
	}
}
