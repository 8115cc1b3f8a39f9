// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/weekplanner/internal/model"
)

// SessionCookieName はセッションIDを保持するCookie名。
const SessionCookieName = "session_id"

type sessionContextKey struct{}

// sessionInfo はセッションミドルウェアがコンテキストに載せる認証情報。
type sessionInfo struct {
	sessionID string
	userID    string
}

var (
	errNoUserID    = errors.New("user ID not found in context")
	errNoSessionID = errors.New("session ID not found in context")
)

// SessionFinder はセッションの検索に必要なインターフェース。
// 期限切れまたは存在しないセッションには (nil, nil) を返す。
type SessionFinder interface {
	FindByID(ctx context.Context, id string) (*model.Session, error)
}

// NewSessionMiddleware はセッションCookieを検証し、セッションIDとユーザーIDを
// リクエストコンテキストに注入するミドルウェアを返す。
// Cookieがない、セッションが無効、または検索に失敗した場合は401を返す。
func NewSessionMiddleware(sessionFinder SessionFinder) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			session, err := resolveSession(r, sessionFinder)
			if err != nil {
				slog.Error("failed to find session", slog.String("error", err.Error()))
			}
			if session == nil {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			ctx := ContextWithSession(r.Context(), session.ID, session.UserID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func resolveSession(r *http.Request, finder SessionFinder) (*model.Session, error) {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil || cookie.Value == "" {
		return nil, nil
	}
	return finder.FindByID(r.Context(), cookie.Value)
}

func infoFromContext(ctx context.Context) sessionInfo {
	info, _ := ctx.Value(sessionContextKey{}).(sessionInfo)
	return info
}

// UserIDFromContext はセッションミドルウェアが注入したユーザーIDを返す。
func UserIDFromContext(ctx context.Context) (string, error) {
	if id := infoFromContext(ctx).userID; id != "" {
		return id, nil
	}
	return "", errNoUserID
}

// SessionIDFromContext はセッションミドルウェアが注入したセッションIDを返す。
func SessionIDFromContext(ctx context.Context) (string, error) {
	if id := infoFromContext(ctx).sessionID; id != "" {
		return id, nil
	}
	return "", errNoSessionID
}

// ContextWithUserID はユーザーIDのみを持つコンテキストを返す。テスト用。
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	info := infoFromContext(ctx)
	info.userID = userID
	return context.WithValue(ctx, sessionContextKey{}, info)
}

// ContextWithSession はセッションIDとユーザーIDをコンテキストに注入する。
func ContextWithSession(ctx context.Context, sessionID, userID string) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, sessionInfo{sessionID: sessionID, userID: userID})
}
