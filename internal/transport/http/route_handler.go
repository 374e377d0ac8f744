package httptransport

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mailroute/backend/internal/service"
)

// RouteHandler 路由表接口
type RouteHandler struct {
	routes   *service.RouteService
	importer *service.RouteImporter
	logger   *zap.Logger
}

// NewRouteHandler 创建路由处理器
func NewRouteHandler(routes *service.RouteService, importer *service.RouteImporter, logger *zap.Logger) *RouteHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RouteHandler{routes: routes, importer: importer, logger: logger}
}

// saveRouteResponse 保存路由的响应
type saveRouteResponse struct {
	Route     *service.RouteView       `json:"route"`
	Reconcile *service.ReconcileResult `json:"reconcile,omitempty"`
}

// listRoutes godoc
// @Summary 列出路由
// @Tags Routes
// @Produce json
// @Param serverId path string true "服务器ID"
// @Success 200 {object} Response{data=[]service.RouteView}
// @Failure 404 {object} Response
// @Router /api/v1/servers/{serverId}/routes [get]
func (h *RouteHandler) listRoutes(c *gin.Context) {
	routes, err := h.routes.List(c.Request.Context(), c.Param("serverId"))
	if err != nil {
		respondError(c, err, MsgRouteListFailed)
		return
	}
	Success(c, routes)
}

// getRoute godoc
// @Summary 获取路由
// @Tags Routes
// @Produce json
// @Param serverId path string true "服务器ID"
// @Param id path string true "路由ID"
// @Success 200 {object} Response{data=service.RouteView}
// @Failure 404 {object} Response
// @Router /api/v1/servers/{serverId}/routes/{id} [get]
func (h *RouteHandler) getRoute(c *gin.Context) {
	route, err := h.routes.Get(c.Request.Context(), c.Param("serverId"), c.Param("id"))
	if err != nil {
		respondError(c, err, MsgRouteGetFailed)
		return
	}
	Success(c, route)
}

// createRoute godoc
// @Summary 创建路由
// @Tags Routes
// @Accept json
// @Produce json
// @Param serverId path string true "服务器ID"
// @Param route body service.SaveRouteInput true "路由"
// @Success 201 {object} Response{data=saveRouteResponse}
// @Failure 400 {object} Response
// @Failure 422 {object} Response
// @Router /api/v1/servers/{serverId}/routes [post]
func (h *RouteHandler) createRoute(c *gin.Context) {
	h.saveRoute(c, "")
}

// updateRoute godoc
// @Summary 更新路由
// @Tags Routes
// @Accept json
// @Produce json
// @Param serverId path string true "服务器ID"
// @Param id path string true "路由ID"
// @Param route body service.SaveRouteInput true "路由"
// @Success 200 {object} Response{data=saveRouteResponse}
// @Failure 404 {object} Response
// @Failure 422 {object} Response
// @Router /api/v1/servers/{serverId}/routes/{id} [put]
func (h *RouteHandler) updateRoute(c *gin.Context) {
	h.saveRoute(c, c.Param("id"))
}

func (h *RouteHandler) saveRoute(c *gin.Context, id string) {
	var input service.SaveRouteInput
	if err := c.ShouldBindJSON(&input); err != nil {
		if errors.Is(err, io.EOF) {
			BadRequest(c, MsgRequestBodyEmpty)
			return
		}
		BadRequest(c, MsgInvalidJSON)
		return
	}
	input.ID = id
	input.ServerID = c.Param("serverId")

	ctx := c.Request.Context()
	result, err := h.routes.Save(ctx, input)
	if err != nil {
		respondError(c, err, MsgRouteSaveFailed)
		return
	}

	view, err := h.routes.Get(ctx, input.ServerID, result.Route.ID)
	if err != nil {
		respondError(c, err, MsgRouteGetFailed)
		return
	}

	Saved(c, id == "", saveRouteResponse{Route: view, Reconcile: result.Reconcile})
}

// deleteRoute godoc
// @Summary 删除路由
// @Tags Routes
// @Param serverId path string true "服务器ID"
// @Param id path string true "路由ID"
// @Success 204
// @Failure 404 {object} Response
// @Router /api/v1/servers/{serverId}/routes/{id} [delete]
func (h *RouteHandler) deleteRoute(c *gin.Context) {
	if err := h.routes.Delete(c.Request.Context(), c.Param("serverId"), c.Param("id")); err != nil {
		respondError(c, err, MsgRouteDeleteFailed)
		return
	}
	NoContent(c)
}

// importRoutes godoc
// @Summary 从 CSV 导入路由
// @Description 接受 multipart 表单字段 file，或 text/csv 请求体
// @Tags Routes
// @Accept multipart/form-data,text/csv
// @Produce json
// @Param serverId path string true "服务器ID"
// @Success 200 {object} Response{data=service.ImportResult}
// @Failure 400 {object} Response
// @Router /api/v1/servers/{serverId}/routes/import [post]
func (h *RouteHandler) importRoutes(c *gin.Context) {
	var body io.Reader
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		file, err := c.FormFile("file")
		if err != nil {
			BadRequest(c, MsgImportFileMissing)
			return
		}
		f, err := file.Open()
		if err != nil {
			BadRequest(c, MsgImportFileMissing)
			return
		}
		defer f.Close()
		body = f
	} else {
		if c.Request.ContentLength == 0 {
			BadRequest(c, MsgRequestBodyEmpty)
			return
		}
		body = c.Request.Body
	}

	result, err := h.importer.Import(c.Request.Context(), c.Param("serverId"), body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			PayloadTooLarge(c, MsgImportTooLarge)
			return
		}
		respondError(c, err, MsgRouteImportFailed)
		return
	}

	h.logger.Info("Routes imported",
		zap.String("server_id", c.Param("serverId")),
		zap.Int("imported", result.Imported),
		zap.Int("skipped", result.Skipped),
		zap.Int("failed", result.Failed),
	)
	Success(c, result)
}
