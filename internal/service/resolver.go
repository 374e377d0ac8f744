package service

import (
	"context"
	"errors"
	"fmt"

	"mailroute/backend/internal/domain"
	"mailroute/backend/internal/storage"
)

// endpointLookup 按 id 查找某一类投递目标
type endpointLookup func(ctx context.Context, id string) (domain.Endpoint, error)

// EndpointResolver 将投递目标引用解析为具体目标。
//
// 解析不做服务器范围限制，归属由调用方另行检查。
type EndpointResolver struct {
	lookups map[domain.EndpointKind]endpointLookup
}

// NewEndpointResolver 创建解析器
func NewEndpointResolver(dir storage.Directory) *EndpointResolver {
	return &EndpointResolver{
		lookups: map[domain.EndpointKind]endpointLookup{
			domain.EndpointKindSMTP: func(ctx context.Context, id string) (domain.Endpoint, error) {
				ep, err := dir.GetSMTPEndpoint(ctx, id)
				if err != nil {
					return nil, err
				}
				return ep, nil
			},
			domain.EndpointKindHTTP: func(ctx context.Context, id string) (domain.Endpoint, error) {
				ep, err := dir.GetHTTPEndpoint(ctx, id)
				if err != nil {
					return nil, err
				}
				return ep, nil
			},
			domain.EndpointKindAddress: func(ctx context.Context, id string) (domain.Endpoint, error) {
				ep, err := dir.GetAddressEndpoint(ctx, id)
				if err != nil {
					return nil, err
				}
				return ep, nil
			},
		},
	}
}

// Resolve 解析引用，目标不存在时返回 (nil, nil)
func (r *EndpointResolver) Resolve(ctx context.Context, ref domain.EndpointRef) (domain.Endpoint, error) {
	lookup, ok := r.lookups[ref.Kind]
	if !ok {
		return nil, &domain.InvalidReferenceError{Value: ref.String(), Kind: string(ref.Kind)}
	}
	if ref.ID == "" {
		return nil, nil
	}

	ep, err := lookup(ctx, ref.ID)
	if err != nil {
		if errors.Is(err, storage.ErrEndpointNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("resolve %s: %w", ref, err)
	}
	return ep, nil
}

// ResolveString 解析 "<Kind>#<id>" 字符串
func (r *EndpointResolver) ResolveString(ctx context.Context, value string) (domain.Endpoint, error) {
	ref, err := domain.ParseEndpointRef(value)
	if err != nil {
		return nil, err
	}
	return r.Resolve(ctx, ref)
}
