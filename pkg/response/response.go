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

// 业务错误码
// 每一类可分支处理的失败都有独立错误码，调用方不需要解析 message
const (
	CodeOrderNotFound       = 1001
	CodeOrderStatusInvalid  = 1002
	CodeInsufficientBalance = 1003
	CodeAccountNotFound     = 1004
	CodeAmountInvalid       = 1005
	CodeAmountMismatch      = 1006
	CodeGatewayDisabled     = 1007
	CodeGatewayNotSupported = 1008
	CodePaymentCreateFailed = 1009
	CodeRateLimited         = 1010
	CodeTaskNotFound        = 1011
	CodeUpstreamError       = 1012
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
	c.JSON(http.StatusOK, Response{
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

func BusinessError(c *gin.Context, code int, message string) {
	Error(c, code, message)
}
