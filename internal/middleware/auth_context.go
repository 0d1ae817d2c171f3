package middleware

import (
	"context"

	"github.com/technosupport/ts-alarms/internal/tokens"
)

type contextKey string

const (
	ViewerContextKey contextKey = "viewer_claims"
)

// GetViewer retrieves the viewer claims from the context
func GetViewer(ctx context.Context) (*tokens.Claims, bool) {
	val, ok := ctx.Value(ViewerContextKey).(*tokens.Claims)
	return val, ok
}

// WithViewer attaches the viewer claims to the context
func WithViewer(ctx context.Context, c *tokens.Claims) context.Context {
	return context.WithValue(ctx, ViewerContextKey, c)
}
