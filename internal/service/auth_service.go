package service

import (
	"context"

	"chatroom/internal/domain"
	"chatroom/internal/dto"
)

type AuthService interface {
	Register(ctx context.Context, r dto.RegisterRequest, ip, ua string) (*dto.TokenResponse, error)
	Login(ctx context.Context, r dto.LoginRequest, ip, ua string) (*dto.TokenResponse, error)
	Logout(ctx context.Context, rawToken string) error
	LogoutAll(ctx context.Context, userID domain.UserID) (int64, error)
}
