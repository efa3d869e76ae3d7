package middleware

import (
	"net/http"
	"strings"

	errors "github.com/credmart/credmart/internal"
	"github.com/credmart/credmart/internal/auth"
	"github.com/credmart/credmart/internal/transport"
	"github.com/credmart/credmart/pkg/logger"
)

// RequireAuth validates the bearer token and places the operator identity in
// the request context.
func RequireAuth(authService auth.ServiceAPI) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, appErr := claimsFromRequest(r, authService)
			if appErr != nil {
				writeAuthError(w, appErr)
				return
			}

			ctx := errors.ContextWithOperator(r.Context(), errors.Operator{
				UserID:  claims.UserID,
				Email:   claims.Email,
				IsAdmin: claims.IsAdmin,
			})
			ctx = logger.With(ctx, "user_id", claims.UserID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// OptionalAuth attaches the operator when a valid token is present but lets
// anonymous requests straight through. Guest checkout depends on it.
func OptionalAuth(authService auth.ServiceAPI) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, appErr := claimsFromRequest(r, authService)
			if appErr != nil {
				next.ServeHTTP(w, r)
				return
			}

			ctx := errors.ContextWithOperator(r.Context(), errors.Operator{
				UserID:  claims.UserID,
				Email:   claims.Email,
				IsAdmin: claims.IsAdmin,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAdmin gates the operator endpoints. It must run after RequireAuth.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		operator, ok := errors.OperatorFromContext(r.Context())
		if !ok {
			writeAuthError(w, errors.NewUnauthorizedError("authentication required", errors.ErrCodeInvalidToken))
			return
		}
		if !operator.IsAdmin {
			writeAuthError(w, errors.ErrAdminRequired)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func claimsFromRequest(r *http.Request, authService auth.ServiceAPI) (*auth.Claims, *errors.AppError) {
	header := r.Header.Get("Authorization")
	if header == "" || !strings.HasPrefix(header, "Bearer ") {
		return nil, errors.NewUnauthorizedError("authentication required", errors.ErrCodeInvalidToken)
	}

	claims, err := authService.ValidateAccessToken(strings.TrimPrefix(header, "Bearer "))
	if err != nil {
		if appErr, ok := errors.IsAppError(err); ok {
			return nil, appErr
		}
		return nil, errors.ErrInvalidToken
	}
	return claims, nil
}

func writeAuthError(w http.ResponseWriter, appErr *errors.AppError) {
	h := transport.NewBaseHandler(nil)
	h.HandleError(w, appErr)
}
