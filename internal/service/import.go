package service

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"mailroute/backend/internal/domain"
	"mailroute/backend/internal/monitoring"
	"mailroute/backend/internal/storage"
)

// 导入文件的列名（不区分大小写）
const (
	ImportColumnAddress   = "email address"
	ImportColumnForwardTo = "forward to"
)

var (
	// ErrNoHTTPEndpoint 服务器没有可用作主目标的 HTTP 目标
	ErrNoHTTPEndpoint = errors.New("no HTTP endpoint found")
	// ErrMissingAddressColumn 导入文件缺少地址列
	ErrMissingAddressColumn = errors.New("missing 'email address' column")
)

// ImportRowError 单行导入失败的原因
type ImportRowError struct {
	Line    int    `json:"line"`
	Address string `json:"address"`
	Reason  string `json:"reason"`
}

// ImportResult 导入结果
type ImportResult struct {
	Imported int              `json:"imported"`
	Skipped  int              `json:"skipped"`
	Failed   int              `json:"failed"`
	Errors   []ImportRowError `json:"errors,omitempty"`
}

// RouteImporter 从 CSV 批量创建路由。
//
// 每行创建一条指向服务器第一个 HTTP 目标的路由；
// "Forward to" 列匹配到服务器的地址目标时作为附加目标。
type RouteImporter struct {
	routes  *RouteService
	dir     storage.Directory
	logger  *zap.Logger
	metrics *monitoring.Metrics
}

// NewRouteImporter 创建导入器
func NewRouteImporter(routes *RouteService, dir storage.Directory, logger *zap.Logger, metrics *monitoring.Metrics) *RouteImporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RouteImporter{routes: routes, dir: dir, logger: logger, metrics: metrics}
}

// Import 逐行导入，单行失败不影响其他行
func (im *RouteImporter) Import(ctx context.Context, serverID string, r io.Reader) (*ImportResult, error) {
	server, err := im.dir.GetServer(ctx, serverID)
	if err != nil {
		return nil, err
	}

	httpEndpoints, err := im.dir.ListEndpoints(ctx, server.ID, domain.EndpointKindHTTP)
	if err != nil {
		return nil, err
	}
	if len(httpEndpoints) == 0 {
		return nil, ErrNoHTTPEndpoint
	}
	primary := domain.FormatEndpoint(httpEndpoints[0])

	addresses, err := im.addressIndex(ctx, server.ID)
	if err != nil {
		return nil, err
	}

	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return &ImportResult{}, nil
		}
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	addrCol, fwdCol := -1, -1
	for i, name := range header {
		switch strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))) {
		case ImportColumnAddress:
			addrCol = i
		case ImportColumnForwardTo:
			fwdCol = i
		}
	}
	if addrCol < 0 {
		return nil, ErrMissingAddressColumn
	}

	result := &ImportResult{}
	line := 1
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return result, fmt.Errorf("read csv line %d: %w", line, err)
		}

		address := strings.TrimSpace(field(record, addrCol))
		name, domainName, ok := domain.SplitAddress(address)
		if !ok {
			im.skip(result, line, address, "invalid email address")
			continue
		}

		d, err := im.dir.FindDomainForServer(ctx, server, domainName)
		if err != nil {
			if !errors.Is(err, storage.ErrDomainNotFound) {
				return result, err
			}
			im.fail(result, line, address, "domain not found")
			continue
		}

		additional := []string{}
		if fwd := strings.TrimSpace(field(record, fwdCol)); fwd != "" && strings.Contains(fwd, "@") {
			if ref, ok := addresses[strings.ToLower(fwd)]; ok {
				additional = append(additional, ref)
			} else {
				im.logger.Warn("No address endpoint for forward address",
					zap.Int("line", line),
					zap.String("forward_to", fwd),
				)
			}
		}

		domainID := d.ID
		_, err = im.routes.Save(ctx, SaveRouteInput{
			ServerID:            server.ID,
			Name:                name,
			DomainID:            &domainID,
			SpamMode:            domain.SpamModeMark,
			Endpoint:            primary,
			AdditionalEndpoints: additional,
		})
		if err != nil {
			if isClientError(err) {
				im.fail(result, line, address, err.Error())
				continue
			}
			return result, err
		}
		result.Imported++
		im.metrics.RecordImportRow("imported")
	}

	im.logger.Info("Routes imported",
		zap.String("server_id", server.ID),
		zap.Int("imported", result.Imported),
		zap.Int("skipped", result.Skipped),
		zap.Int("failed", result.Failed),
	)
	return result, nil
}

// addressIndex 地址（小写）-> 地址目标引用
func (im *RouteImporter) addressIndex(ctx context.Context, serverID string) (map[string]string, error) {
	list, err := im.dir.ListEndpoints(ctx, serverID, domain.EndpointKindAddress)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(list))
	for _, ep := range list {
		addr, ok := ep.(*domain.AddressEndpoint)
		if !ok {
			continue
		}
		key := strings.ToLower(addr.Address)
		if _, exists := out[key]; !exists {
			out[key] = domain.FormatEndpoint(addr)
		}
	}
	return out, nil
}

func (im *RouteImporter) skip(result *ImportResult, line int, address, reason string) {
	result.Skipped++
	result.Errors = append(result.Errors, ImportRowError{Line: line, Address: address, Reason: reason})
	im.metrics.RecordImportRow("skipped")
	im.logger.Warn("Skipping import row", zap.Int("line", line), zap.String("address", address), zap.String("reason", reason))
}

func (im *RouteImporter) fail(result *ImportResult, line int, address, reason string) {
	result.Failed++
	result.Errors = append(result.Errors, ImportRowError{Line: line, Address: address, Reason: reason})
	im.metrics.RecordImportRow("failed")
	im.logger.Warn("Failed to import route", zap.Int("line", line), zap.String("address", address), zap.String("reason", reason))
}

func field(record []string, idx int) string {
	if idx < 0 || idx >= len(record) {
		return ""
	}
	return record[idx]
}

// isClientError 判断错误是否源于输入本身
func isClientError(err error) bool {
	return errors.Is(err, domain.ErrValidationFailed) || errors.Is(err, domain.ErrInvalidReference)
}
