package httptransport

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"mailroute/backend/internal/domain"
)

// Response 统一响应结构
type Response struct {
	Code int         `json:"code"`           // 业务状态码
	Msg  string      `json:"msg"`            // 中文提示信息
	Data interface{} `json:"data,omitempty"` // 数据载荷
}

// 业务状态码定义
const (
	CodeSuccess   = 200
	CodeCreated   = 201
	CodeNoContent = 204

	CodeBadRequest          = 400
	CodeNotFound            = 404
	CodeConflict            = 409 // 匹配键冲突
	CodePayloadTooLarge     = 413 // 导入文件超限
	CodeUnprocessableEntity = 422 // 路由校验失败或附加目标无效

	CodeInternalError = 500
)

// validationPayload 422 响应的数据：完整消息与按字段的错误
type validationPayload struct {
	Errors []string            `json:"errors"`
	Fields []domain.FieldError `json:"fields"`
}

// Success 成功响应（200）
func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{Code: CodeSuccess, Msg: "成功", Data: data})
}

// Created 创建成功响应（201）
func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Response{Code: CodeCreated, Msg: "创建成功", Data: data})
}

// Saved 保存路由：新建返回 201，更新返回 200
func Saved(c *gin.Context, created bool, data interface{}) {
	if created {
		Created(c, data)
		return
	}
	c.JSON(http.StatusOK, Response{Code: CodeSuccess, Msg: "保存成功", Data: data})
}

// NoContent 删除成功（204）
func NoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

// BadRequest 请求参数错误（400）
func BadRequest(c *gin.Context, msg string) {
	Error(c, CodeBadRequest, msg)
}

// NotFound 资源不存在（404）
func NotFound(c *gin.Context, msg string) {
	Error(c, CodeNotFound, msg)
}

// Conflict 路由匹配键冲突（409）
func Conflict(c *gin.Context, msg string) {
	Error(c, CodeConflict, msg)
}

// PayloadTooLarge 导入文件超过请求体限制（413）
func PayloadTooLarge(c *gin.Context, msg string) {
	Error(c, CodePayloadTooLarge, msg)
}

// ValidationFailed 校验失败（422），数据中带字段错误
func ValidationFailed(c *gin.Context, msg string, errs domain.ValidationErrors) {
	c.JSON(http.StatusUnprocessableEntity, Response{
		Code: CodeUnprocessableEntity,
		Msg:  msg,
		Data: validationPayload{
			Errors: errs.FullMessages(),
			Fields: errs,
		},
	})
}

// InternalError 服务器内部错误（500）
func InternalError(c *gin.Context, msg string) {
	Error(c, CodeInternalError, msg)
}

// Error 通用错误响应，业务码与 HTTP 状态码一致
func Error(c *gin.Context, httpCode int, msg string) {
	c.JSON(httpCode, Response{Code: httpCode, Msg: msg})
}
