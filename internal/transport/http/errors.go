package httptransport

import (
	"errors"

	"github.com/gin-gonic/gin"

	"mailroute/backend/internal/domain"
	"mailroute/backend/internal/service"
	"mailroute/backend/internal/storage"
)

// 错误消息映射表（业务错误 -> 中文消息）
var errorMessages = map[error]string{
	storage.ErrRouteNotFound:        "路由不存在",
	storage.ErrServerNotFound:       "邮件服务器不存在",
	storage.ErrDomainNotFound:       "域名不存在",
	storage.ErrEndpointNotFound:     "投递目标不存在",
	storage.ErrMessageNotFound:      "邮件不存在",
	storage.ErrDuplicateMatchKey:    "同名路由已存在",
	service.ErrNoHTTPEndpoint:       "服务器没有可用的 HTTP 投递目标",
	service.ErrMissingAddressColumn: "导入文件缺少 email address 列",
	service.ErrTokenExhausted:       "无法生成唯一的路由令牌",
}

// 错误 -> 响应函数
var errorResponders = map[error]func(*gin.Context, string){
	storage.ErrRouteNotFound:        NotFound,
	storage.ErrServerNotFound:       NotFound,
	storage.ErrDomainNotFound:       NotFound,
	storage.ErrEndpointNotFound:     NotFound,
	storage.ErrMessageNotFound:      NotFound,
	storage.ErrDuplicateMatchKey:    Conflict,
	service.ErrNoHTTPEndpoint:       BadRequest,
	service.ErrMissingAddressColumn: BadRequest,
}

// GetErrorMessage 获取错误的中文消息
func GetErrorMessage(err error) string {
	for target, msg := range errorMessages {
		if errors.Is(err, target) {
			return msg
		}
	}
	return err.Error()
}

// 通用错误消息
const (
	MsgInvalidRequest    = "请求参数格式错误"
	MsgInvalidJSON       = "JSON格式错误"
	MsgRequestBodyEmpty  = "请求体不能为空"
	MsgValidationFailed  = "路由校验失败"
	MsgRecordInvalid     = "附加投递目标无效，路由未修改"
	MsgImportFileMissing = "缺少导入文件"
	MsgImportTooLarge    = "导入文件超过大小限制"
	MsgNotFound          = "接口不存在"

	MsgRouteListFailed   = "获取路由列表失败"
	MsgRouteGetFailed    = "获取路由详情失败"
	MsgRouteSaveFailed   = "保存路由失败"
	MsgRouteDeleteFailed = "删除路由失败"
	MsgRouteImportFailed = "导入路由失败"

	MsgMessageCreateFailed  = "创建邮件失败"
	MsgDeliveryRecordFailed = "记录投递结果失败"
	MsgDeliveryListFailed   = "获取投递记录失败"

	MsgInternalError = "服务器内部错误，请稍后重试"
)

// respondError 将服务层错误映射为统一响应，未识别的错误返回 500 和 fallback
func respondError(c *gin.Context, err error, fallback string) {
	var recordInvalid *domain.RecordInvalidError
	if errors.As(err, &recordInvalid) {
		ValidationFailed(c, MsgRecordInvalid, recordInvalid.Errors)
		return
	}

	var verrs domain.ValidationErrors
	if errors.As(err, &verrs) {
		ValidationFailed(c, MsgValidationFailed, verrs)
		return
	}

	if errors.Is(err, domain.ErrInvalidReference) {
		BadRequest(c, err.Error())
		return
	}

	for target, respond := range errorResponders {
		if errors.Is(err, target) {
			respond(c, GetErrorMessage(err))
			return
		}
	}

	_ = c.Error(err)
	InternalError(c, fallback)
}
