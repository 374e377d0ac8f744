package httptransport

import (
	"encoding/base64"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mailroute/backend/internal/domain"
	"mailroute/backend/internal/service"
	"mailroute/backend/internal/storage"
)

// MessageHandler 入站邮件扇出与投递记录接口，供 SMTP 接收端和投递工作进程调用
type MessageHandler struct {
	routes     *service.RouteService
	dispatcher *service.Dispatcher
	deliveries *service.DeliveryProcessor
	logger     *zap.Logger
}

// NewMessageHandler 创建邮件处理器
func NewMessageHandler(routes *service.RouteService, dispatcher *service.Dispatcher, deliveries *service.DeliveryProcessor, logger *zap.Logger) *MessageHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MessageHandler{
		routes:     routes,
		dispatcher: dispatcher,
		deliveries: deliveries,
		logger:     logger,
	}
}

// inboundMessageRequest 入站邮件
type inboundMessageRequest struct {
	RcptTo     string `json:"rcptTo" binding:"required"`
	MailFrom   string `json:"mailFrom"`
	Subject    string `json:"subject"`
	MessageID  string `json:"messageId"`
	SpamStatus string `json:"spamStatus"`
	Tag        string `json:"tag"`
	Raw        string `json:"raw"` // base64 编码的原始邮件
}

// inboundMessageResponse 扇出结果
type inboundMessageResponse struct {
	RouteID  string            `json:"routeId"`
	Messages []*domain.Message `json:"messages"`
}

// recordDeliveryRequest 投递结果
type recordDeliveryRequest struct {
	Status      domain.DeliveryStatus `json:"status"`
	Details     string                `json:"details"`
	Output      string                `json:"output"`
	SentWithSSL bool                  `json:"sentWithSsl"`
	Time        *float64              `json:"time"`
	LogID       string                `json:"logId"`
	Extra       map[string]any        `json:"extra"`
}

// createMessages godoc
// @Summary 按收件地址匹配路由并创建邮件
// @Tags Messages
// @Accept json
// @Produce json
// @Param serverId path string true "服务器ID"
// @Success 201 {object} Response{data=inboundMessageResponse}
// @Failure 404 {object} Response
// @Router /api/v1/servers/{serverId}/messages [post]
func (h *MessageHandler) createMessages(c *gin.Context) {
	var req inboundMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}
	raw, err := base64.StdEncoding.DecodeString(req.Raw)
	if err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	serverID := c.Param("serverId")
	ctx := c.Request.Context()
	route, err := h.routes.LookupAddress(ctx, strings.TrimSpace(req.RcptTo))
	if err == nil && route.ServerID != serverID {
		err = storage.ErrRouteNotFound
	}
	if err != nil {
		respondError(c, err, MsgMessageCreateFailed)
		return
	}

	messages, err := h.dispatcher.CreateMessages(ctx, route, func(m *domain.Message) {
		m.MailFrom = req.MailFrom
		m.Subject = req.Subject
		m.MessageID = req.MessageID
		m.SpamStatus = req.SpamStatus
		m.Tag = req.Tag
		m.Raw = raw
	})
	if err != nil {
		h.logger.Error("Failed to create messages",
			zap.String("server_id", serverID),
			zap.String("route_id", route.ID),
			zap.Int("persisted", len(messages)),
			zap.Error(err),
		)
		respondError(c, err, MsgMessageCreateFailed)
		return
	}

	Created(c, inboundMessageResponse{RouteID: route.ID, Messages: messages})
}

// recordDelivery godoc
// @Summary 记录一次投递结果
// @Tags Messages
// @Accept json
// @Produce json
// @Param serverId path string true "服务器ID"
// @Param messageId path string true "邮件ID"
// @Success 201 {object} Response{data=domain.Delivery}
// @Failure 404 {object} Response
// @Router /api/v1/servers/{serverId}/messages/{messageId}/deliveries [post]
func (h *MessageHandler) recordDelivery(c *gin.Context) {
	var req recordDeliveryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidJSON)
		return
	}

	delivery, err := h.deliveries.RecordByID(c.Request.Context(), c.Param("serverId"), c.Param("messageId"), domain.DeliveryAttributes{
		Status:      req.Status,
		Details:     req.Details,
		Output:      req.Output,
		SentWithSSL: req.SentWithSSL,
		Time:        req.Time,
		LogID:       req.LogID,
		Extra:       req.Extra,
	})
	if err != nil {
		respondError(c, err, MsgDeliveryRecordFailed)
		return
	}
	Created(c, delivery)
}

// listDeliveries godoc
// @Summary 列出邮件的投递记录
// @Tags Messages
// @Produce json
// @Param serverId path string true "服务器ID"
// @Param messageId path string true "邮件ID"
// @Success 200 {object} Response{data=[]domain.Delivery}
// @Failure 404 {object} Response
// @Router /api/v1/servers/{serverId}/messages/{messageId}/deliveries [get]
func (h *MessageHandler) listDeliveries(c *gin.Context) {
	deliveries, err := h.deliveries.Deliveries(c.Request.Context(), c.Param("serverId"), c.Param("messageId"))
	if err != nil {
		respondError(c, err, MsgDeliveryListFailed)
		return
	}
	if deliveries == nil {
		deliveries = []domain.Delivery{}
	}
	Success(c, deliveries)
}
