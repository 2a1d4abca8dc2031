package handlers

import (
	"net/http"

	"github.com/nkiryanov/devhub/internal/handlers/render"
	"github.com/nkiryanov/devhub/internal/logger"
	"github.com/nkiryanov/devhub/internal/models"
	"github.com/nkiryanov/devhub/internal/service/auth"
)

type sessionResponse struct {
	AccessToken  string          `json:"accessToken"`
	RefreshToken string          `json:"refreshToken"`
	Account      *models.Account `json:"account,omitempty"`
}

func newSessionResponse(pair models.TokenPair, account *models.Account) sessionResponse {
	return sessionResponse{
		AccessToken:  pair.Access.Value,
		RefreshToken: pair.Refresh.Value,
		Account:      account,
	}
}

func handleRegister(authService authService, logger logger.Logger) http.Handler {
	type request struct {
		Username     string `json:"username" validate:"required,min=2,max=50"`
		Email        string `json:"email" validate:"required,email"`
		Password     string `json:"password" validate:"required"`
		SkillLevel   string `json:"skillLevel" validate:"omitempty,oneof=Beginner Intermediate Advanced"`
		ProfileImage string `json:"profileImage" validate:"omitempty,url"`
		// Older clients send snake_case name
		ProfileImg string `json:"profile_img" validate:"omitempty,url"`
	}
	type response struct {
		Message string         `json:"message"`
		Account models.Account `json:"account"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		profileImage := data.ProfileImage
		if profileImage == "" {
			profileImage = data.ProfileImg
		}

		account, err := authService.Register(r.Context(), auth.RegisterParams{
			Username:     data.Username,
			Email:        data.Email,
			Password:     data.Password,
			SkillLevel:   data.SkillLevel,
			ProfileImage: profileImage,
		})
		if err != nil {
			render.AppError(w, r, err, logger)
			return
		}

		render.JSONWithStatus(w, response{Message: "User registered successfully", Account: account}, http.StatusCreated)
	})
}

func handleLogin(authService authService, logger logger.Logger) http.Handler {
	type request struct {
		Email    string `json:"email" validate:"required"`
		Password string `json:"password" validate:"required"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		account, pair, err := authService.Login(r.Context(), data.Email, data.Password)
		if err != nil {
			render.AppError(w, r, err, logger)
			return
		}

		render.JSON(w, newSessionResponse(pair, &account))
	})
}

func handleRefresh(authService authService, logger logger.Logger) http.Handler {
	type request struct {
		RefreshToken string `json:"refreshToken" validate:"required"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		pair, err := authService.Refresh(r.Context(), data.RefreshToken)
		if err != nil {
			render.AppError(w, r, err, logger)
			return
		}

		render.JSON(w, newSessionResponse(pair, nil))
	})
}

func handleLogout(authService authService, logger logger.Logger) http.Handler {
	type request struct {
		RefreshToken string `json:"refreshToken" validate:"required"`
	}
	type response struct {
		Message string `json:"message"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		if err := authService.Logout(r.Context(), data.RefreshToken); err != nil {
			render.AppError(w, r, err, logger)
			return
		}

		render.JSON(w, response{Message: "Logged out successfully"})
	})
}

func handleGoogleLogin(authService authService, logger logger.Logger) http.Handler {
	type request struct {
		Credential string `json:"credential" validate:"required"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !authService.ExternalLoginEnabled() {
			render.ServiceError(w, "External login is not configured", http.StatusNotFound)
			return
		}

		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		account, pair, err := authService.LoginExternal(r.Context(), data.Credential)
		if err != nil {
			render.AppError(w, r, err, logger)
			return
		}

		render.JSON(w, newSessionResponse(pair, &account))
	})
}
