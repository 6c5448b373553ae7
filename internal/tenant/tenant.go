package tenant

import (
	"context"

	"gorm.io/gorm"
)

// 站点（租户）上下文
//
// 站点ID 通过 context 显式传递，不使用包级可变状态。
// 回调、后台清理这类没有请求上下文的入口，先用 Unscoped 查询定位记录，
// 再用 WithSite 把记录自身的 site_id 绑定到派生 context 中，
// 该绑定只在本次工作单元内有效。

type siteKey struct{}

// WithSite 返回携带站点ID的派生 context
func WithSite(ctx context.Context, siteID int64) context.Context {
	return context.WithValue(ctx, siteKey{}, siteID)
}

// SiteFrom 取出 context 中的站点ID
func SiteFrom(ctx context.Context) (int64, bool) {
	siteID, ok := ctx.Value(siteKey{}).(int64)
	return siteID, ok
}

// Scope 站点过滤条件，仓储层对受租户隔离的表统一应用
// context 中没有站点ID时不加过滤（等价于跨站点查询，仅限后台路径使用）
func Scope(ctx context.Context) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		if siteID, ok := SiteFrom(ctx); ok {
			return db.Where("site_id = ?", siteID)
		}
		return db
	}
}
