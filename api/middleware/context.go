package middleware

import (
	"context"

	"github.com/google/uuid"

	"github.com/cardmint/cardmint-backend/pkg/enums"
)

type contextKey string

const (
	ctxOperatorID contextKey = "operator_id"
	ctxRole       contextKey = "operator_role"
	ctxAgentName  contextKey = "agent_name"
)

func OperatorIDFromContext(ctx context.Context) uuid.UUID {
	if ctx == nil {
		return uuid.Nil
	}
	if v, ok := ctx.Value(ctxOperatorID).(uuid.UUID); ok {
		return v
	}
	return uuid.Nil
}

func RoleFromContext(ctx context.Context) enums.OperatorRole {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxRole).(enums.OperatorRole); ok {
		return v
	}
	return ""
}

func AgentNameFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxAgentName).(string); ok {
		return v
	}
	return ""
}

func WithOperator(ctx context.Context, operatorID uuid.UUID, role enums.OperatorRole) context.Context {
	ctx = context.WithValue(ctx, ctxOperatorID, operatorID)
	return context.WithValue(ctx, ctxRole, role)
}

func WithAgentName(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, ctxAgentName, name)
}
