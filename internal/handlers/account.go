package handlers

import (
	"net/http"

	"github.com/nkiryanov/devhub/internal/handlers/accountctx"
	"github.com/nkiryanov/devhub/internal/handlers/render"
	"github.com/nkiryanov/devhub/internal/logger"
	"github.com/nkiryanov/devhub/internal/models"
)

func handleMe(authService authService, logger logger.Logger) http.Handler {
	type response struct {
		Account        models.Account `json:"account"`
		ActiveSessions int            `json:"activeSessions"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		accountID, ok := accountctx.FromContext(r.Context())
		if !ok {
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		account, err := authService.GetAccount(r.Context(), accountID)
		if err != nil {
			render.AppError(w, r, err, logger)
			return
		}

		sessions, err := authService.ActiveSessions(r.Context(), accountID)
		if err != nil {
			render.AppError(w, r, err, logger)
			return
		}

		render.JSON(w, response{Account: account, ActiveSessions: sessions})
	})
}
