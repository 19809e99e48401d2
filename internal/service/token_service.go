package service

import (
	"context"

	"chatroom/internal/domain"
	"chatroom/internal/dto"
)

// TokenService issues credentials and acts as the revocation gate in front
// of every privileged operation.
type TokenService interface {
	Issue(ctx context.Context, account *domain.Account, ip, ua string) (*dto.TokenResponse, error)
	// Admit resolves a raw bearer token to its principal. It fails with
	// domain.ErrMalformedCredential, domain.ErrRevokedCredential or
	// domain.ErrStoreUnavailable and never writes.
	Admit(ctx context.Context, raw string) (*domain.Principal, error)
	RevokeOne(ctx context.Context, raw string) error
	RevokeAll(ctx context.Context, userID domain.UserID) (int64, error)
	Sweep(ctx context.Context) (dto.SweepResult, error)
	ActiveCredentials(ctx context.Context, p *domain.Principal) ([]dto.SessionInfo, error)
	PublicJWK() map[string]any
}
