// Package middleware содержит HTTP middleware оркестратора заказов.
package middleware

import (
	"context"
	"net/http"

	"github.com/mmeshcher/restopos-system/internal/identity"
)

type contextKey string

const principalKey contextKey = "principal"

// Resolver описывает проверку токена у эндпоинта идентификации.
type Resolver interface {
	Resolve(ctx context.Context, tenant, token string) (*identity.Principal, error)
}

// AuthMiddleware выполняет аутентификацию запросов по bearer-токену
// через эндпоинт идентификации сайта.
type AuthMiddleware struct {
	resolver Resolver
	site     string
}

// NewAuthMiddleware создаёт middleware аутентификации для указанного сайта.
func NewAuthMiddleware(resolver Resolver, site string) *AuthMiddleware {
	return &AuthMiddleware{resolver: resolver, site: site}
}

// Middleware проверяет заголовок Authorization и добавляет принципала
// в контекст запроса. Синтаксически некорректный токен отклоняется
// до обращения к эндпоинту идентификации.
func (a *AuthMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := identity.TokenFromHeader(r.Header.Get("Authorization"))
		if err != nil {
			http.Error(w, authFailureMessage(err), http.StatusUnauthorized)
			return
		}

		p, err := a.resolver.Resolve(r.Context(), a.site, token)
		if err != nil {
			http.Error(w, authFailureMessage(err), http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), principalKey, p)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func authFailureMessage(err error) string {
	switch {
	case err == identity.ErrMissingToken:
		return "Authentication required. Provide an auth token or Authorization header."
	case err == identity.ErrMalformedToken:
		return "Invalid token format. Expected: 'Bearer <token>'"
	default:
		return "Unauthorized: " + err.Error()
	}
}

// GetPrincipalFromContext извлекает принципала из контекста запроса.
func GetPrincipalFromContext(ctx context.Context) (*identity.Principal, bool) {
	p, ok := ctx.Value(principalKey).(*identity.Principal)
	return p, ok
}
