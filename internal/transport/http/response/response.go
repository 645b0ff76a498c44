package response

import "github.com/gin-gonic/gin"

const (
	CodeOK                    = 0
	CodeBadRequest            = 40000
	CodeEmailExists           = 40002
	CodeInvalidRole           = 40003
	CodeUnsupportedFile       = 40004
	CodeUnauthorized          = 40100
	CodeInvalidCredentials    = 40101
	CodeForbidden             = 40300
	CodeNotFound              = 40400
	CodeKnowledgeBaseNotFound = 40402
	CodeJobNotFound           = 40403
	CodeFileTooLarge          = 41300
	CodeInternalServer        = 50000
	CodeIndexCorrupt          = 50001
	CodeSynthesis             = 50201
	CodeEmbeddingUnavailable  = 50301
	CodeAsyncUnavailable      = 50302
)

type APIResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func OK(c *gin.Context, data any) {
	c.JSON(200, APIResponse{
		Code:    CodeOK,
		Message: "ok",
		Data:    data,
	})
}

func Error(c *gin.Context, httpStatus, code int, message string) {
	c.JSON(httpStatus, APIResponse{
		Code:    code,
		Message: message,
	})
}
