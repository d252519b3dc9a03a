package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	CodeSuccess      = 0
	CodeParamError   = 400
	CodeUnauthorized = 401
	CodeForbidden    = 403
	CodeNotFound     = 404
	CodeServerError  = 500
)

// 业务错误码，客户端据此决定是否重试
const (
	CodeInsufficientFunds    = 1001
	CodeBusy                 = 1002 // 可重试
	CodeAlreadyProcessed     = 1003
	CodeVerificationMismatch = 1004
	CodeGatewayUnavailable   = 1005 // 可重试
	CodeRateLimited          = 1006
	CodeInvalidState         = 1007
	CodeExpired              = 1008
)

type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    CodeSuccess,
		Message: "success",
		Data:    data,
	})
}

func Error(c *gin.Context, code int, message string) {
	c.JSON(httpStatus(code), Response{
		Code:    code,
		Message: message,
	})
}

func ParamError(c *gin.Context, message string) {
	Error(c, CodeParamError, message)
}

func ServerError(c *gin.Context, message string) {
	Error(c, CodeServerError, message)
}

func httpStatus(code int) int {
	switch code {
	case CodeParamError:
		return http.StatusBadRequest
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeServerError:
		return http.StatusInternalServerError
	case CodeBusy, CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeGatewayUnavailable:
		return http.StatusServiceUnavailable
	case CodeInvalidState:
		return http.StatusConflict
	default:
		// 其余业务错误走 200 + code，与前端约定一致
		return http.StatusOK
	}
}
