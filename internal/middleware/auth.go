package middleware

import (
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"finitefield.org/fashion-web/internal/auth"
	"finitefield.org/fashion-web/internal/platform/requestctx"
)

const debugTokenPrefix = "debug:"

// Auth signs the session in from an "Authorization: Bearer <token>" header. Tokens are verified as
// Firebase ID tokens when verifier is set. With allowDebug, "debug:<uid>" signs in without
// verification for local runs. Requests without a bearer keep whatever user the session carries.
func Auth(verifier auth.TokenVerifier, allowDebug bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			token = strings.TrimSpace(token)
			if !ok || token == "" {
				next.ServeHTTP(w, r)
				return
			}

			var user *auth.User
			if uid, isDebug := strings.CutPrefix(token, debugTokenPrefix); allowDebug && isDebug {
				uid = strings.TrimSpace(uid)
				if uid == "" {
					next.ServeHTTP(w, r)
					return
				}
				user = &auth.User{ID: uid, Token: debugTokenPrefix + uid}
			} else {
				if verifier == nil {
					next.ServeHTTP(w, r)
					return
				}
				verified, err := auth.VerifyCustomer(r.Context(), verifier, token)
				if err != nil {
					requestctx.Logger(r.Context()).Info("auth: id token rejected", zap.Error(err))
					code := "invalid_token"
					if errors.Is(err, auth.ErrTokenExpired) {
						code = "token_expired"
					}
					writeError(w, r, http.StatusUnauthorized, code, "sign in again to continue")
					return
				}
				user = verified
			}

			s := GetSession(r)
			if s.UserID != user.ID || s.Token != user.Token || s.Email != user.Email {
				s.SignIn(*user)
			}
			next.ServeHTTP(w, r.WithContext(auth.WithUser(r.Context(), s.User())))
		})
	}
}
