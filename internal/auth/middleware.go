package auth

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/moogar0880/problems"
	"gorm.io/gorm"
)

type contextKey struct{}

// WithAuthContext returns a copy of ctx carrying ac.
func WithAuthContext(ctx context.Context, ac *AuthContext) context.Context {
	return context.WithValue(ctx, contextKey{}, ac)
}

// GetAuthContext returns the acting user of a request, or nil when the
// request carried no usable bearer token.
func GetAuthContext(ctx context.Context) *AuthContext {
	ac, _ := ctx.Value(contextKey{}).(*AuthContext)
	return ac
}

// identify resolves the bearer token of r to a lab user. Tokens naming a user
// who was never provisioned still identify them, so audit rows always say
// who acted.
func identify(r *http.Request, authService *AuthService, tokens *TokenExtractor) (*AuthContext, error) {
	userID, err := tokens.ExtractUserIDFromHeader(r.Header.Get("Authorization"))
	if err != nil {
		return nil, err
	}

	user, err := authService.GetLabUser(r.Context(), userID)
	switch {
	case err == nil:
	case errors.Is(err, gorm.ErrRecordNotFound):
		slog.InfoContext(r.Context(), "lab user not provisioned, using bare identity", "userID", userID)
		user = &LabUser{UserID: userID}
	default:
		return nil, err
	}
	return &AuthContext{LabUser: user}, nil
}

// Middleware attaches the acting lab user to the request context. Requests
// without a usable token pass through anonymously.
func Middleware(authService *AuthService, tokens *TokenExtractor) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ac, err := identify(r, authService, tokens)
			switch {
			case err == nil:
				r = r.WithContext(WithAuthContext(r.Context(), ac))
			case errors.Is(err, ErrMissingToken):
			case errors.Is(err, ErrMalformedToken):
				slog.WarnContext(r.Context(), "ignoring malformed authorization header", "path", r.URL.Path)
			default:
				slog.ErrorContext(r.Context(), "failed to load lab user", "error", err)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAuth is Middleware that rejects anonymous requests with a 401 problem.
func RequireAuth(authService *AuthService, tokens *TokenExtractor) func(http.Handler) http.Handler {
	identified := Middleware(authService, tokens)

	return func(next http.Handler) http.Handler {
		return identified(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if GetAuthContext(r.Context()) == nil {
				slog.WarnContext(r.Context(), "rejecting anonymous write", "method", r.Method, "path", r.URL.Path)
				writeUnauthorized(w, r)
				return
			}
			next.ServeHTTP(w, r)
		}))
	}
}

func writeUnauthorized(w http.ResponseWriter, r *http.Request) {
	problem := problems.NewStatusProblem(http.StatusUnauthorized).
		WithInstance(r.URL.Path).
		WithType("unauthorized").
		WithDetail("a bearer token naming the acting lab user is required")
	w.Header().Set("Content-Type", problems.ProblemMediaType)
	w.WriteHeader(http.StatusUnauthorized)
	if err := json.NewEncoder(w).Encode(problem); err != nil {
		slog.ErrorContext(r.Context(), "failed to encode problem", "error", err)
	}
}
