package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/cardmint/cardmint-backend/api/responses"
	"github.com/cardmint/cardmint-backend/pkg/db/models"
	pkgerrors "github.com/cardmint/cardmint-backend/pkg/errors"
	"github.com/cardmint/cardmint-backend/pkg/logger"
)

const (
	agentNameHeader  = "X-Agent-Name"
	agentTokenHeader = "X-Agent-Token"
)

type agentAuthenticator interface {
	AuthenticateAgent(ctx context.Context, name, token string) (*models.PrintAgent, error)
}

// AgentAuth authenticates desktop print agents by name and token headers.
func AgentAuth(svc agentAuthenticator, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if svc == nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "agent auth unavailable"))
				return
			}
			name := strings.TrimSpace(r.Header.Get(agentNameHeader))
			token := strings.TrimSpace(r.Header.Get(agentTokenHeader))

			agent, err := svc.AuthenticateAgent(r.Context(), name, token)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}

			ctx := WithAgentName(r.Context(), agent.Name)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
