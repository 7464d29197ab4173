package domain

import "context"

// Аутентифицированный вызывающий (кладётся в контекст HTTP-запроса)
type Principal struct {
	ID     OwnerID
	Login  string
	Tenant TenantID
	Admin  bool
}

type ctxKey int

const principalCtxKey ctxKey = 1

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalCtxKey, p)
}

func PrincipalFromCtx(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalCtxKey).(Principal)
	return p, ok
}
