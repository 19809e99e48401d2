package impl

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"chatroom/internal/domain"
	"chatroom/internal/dto"
	"chatroom/internal/observability/metrics"
	"chatroom/internal/observability/middleware"
	"chatroom/internal/service"
	"chatroom/internal/store"

	"github.com/google/uuid"
)

const defaultStoreTimeout = 5 * time.Second

type AuthServiceImpl struct {
	Store           dataStore
	PasswordService service.PasswordService
	TService        service.TokenService
	// StoreTimeout bounds each account store call; zero means five seconds.
	StoreTimeout time.Duration
}

func NewAuthServiceImpl(st *store.Store, passwordService service.PasswordService, tokenService service.TokenService) *AuthServiceImpl {
	return &AuthServiceImpl{
		Store:           newGormStoreAdapter(st),
		PasswordService: passwordService,
		TService:        tokenService,
		StoreTimeout:    defaultStoreTimeout,
	}
}

func (a *AuthServiceImpl) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	d := a.StoreTimeout
	if d <= 0 {
		d = defaultStoreTimeout
	}
	return context.WithTimeout(ctx, d)
}

// bounded runs one store call under the store timeout. A call that outlives
// it is reported as domain.ErrStoreUnavailable.
func (a *AuthServiceImpl) bounded(ctx context.Context, fn func(ctx context.Context) error) error {
	sctx, cancel := a.storeCtx(ctx)
	defer cancel()
	err := fn(sctx)
	if err != nil && sctx.Err() != nil && !errors.Is(err, domain.ErrStoreUnavailable) {
		return fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}
	return err
}

func (a *AuthServiceImpl) Register(ctx context.Context, r dto.RegisterRequest, ip, ua string) (*dto.TokenResponse, error) {
	result := "success"
	defer func() {
		metrics.AuthRegistrationsTotal.WithLabelValues(result).Inc()
	}()

	username := strings.TrimSpace(r.Username)
	if username == "" || r.Password == "" {
		result = "invalid"
		return nil, ErrEmptyCredential
	}
	if n := utf8.RuneCountInString(username); n < minUsernameLen || n > maxUsernameLen {
		result = "invalid"
		return nil, ErrUsernameLength
	}
	if len(r.Password) < minPasswordLen {
		result = "invalid"
		return nil, ErrPasswordLength
	}

	hash, salt, paramsJSON, algo, ver, err := a.PasswordService.Hash(r.Password)
	if err != nil {
		result = "failure"
		return nil, err
	}

	now := time.Now().UTC()
	account := &domain.Account{
		ID:             uuid.New(),
		Username:       username,
		PasswordAlgo:   algo,
		PasswordHash:   hash,
		PasswordSalt:   salt,
		PasswordParams: paramsJSON,
		PasswordVer:    ver,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	err = a.bounded(ctx, func(ctx context.Context) error {
		return a.Store.WithTx(ctx, func(tx storeTx) error {
			return tx.Accounts().Create(ctx, account)
		})
	})
	if err != nil {
		result = "failure"
		return nil, err
	}

	slog.Info("registered account",
		"user_id", account.ID,
		"username", account.Username,
		"request_id", middleware.RequestIDFromContext(ctx),
		"trace_id", middleware.TraceIDFromContext(ctx),
	)

	tokens, err := a.TService.Issue(ctx, account, ip, ua)
	if err != nil {
		result = "failure"
		return nil, err
	}
	return tokens, nil
}

// Login checks the password and issues a fresh credential. Unknown usernames
// and wrong passwords both yield domain.ErrInvalidCredentials.
func (a *AuthServiceImpl) Login(ctx context.Context, r dto.LoginRequest, ip, ua string) (*dto.TokenResponse, error) {
	result := "success"
	defer func() {
		metrics.AuthLoginsTotal.WithLabelValues(result).Inc()
	}()

	username := strings.TrimSpace(r.Username)
	if username == "" || r.Password == "" {
		result = "invalid"
		return nil, ErrEmptyCredential
	}

	var account *domain.Account
	err := a.bounded(ctx, func(ctx context.Context) error {
		var err error
		account, err = a.Store.Accounts().GetByUsername(ctx, username)
		return err
	})
	if err != nil {
		result = "failure"
		return nil, err
	}
	if account == nil {
		result = "rejected"
		return nil, domain.ErrInvalidCredentials
	}

	rehashNeeded, ok := a.PasswordService.Verify(r.Password, account)
	if !ok {
		result = "rejected"
		return nil, domain.ErrInvalidCredentials
	}

	if rehashNeeded {
		hash, salt, paramsJSON, algo, ver, err := a.PasswordService.Hash(r.Password)
		if err == nil {
			account.PasswordAlgo = algo
			account.PasswordHash = hash
			account.PasswordSalt = salt
			account.PasswordParams = paramsJSON
			account.PasswordVer = ver
			err = a.bounded(ctx, func(ctx context.Context) error {
				return a.Store.Accounts().UpdatePassword(ctx, account)
			})
		}
		if err != nil {
			slog.Warn("password rehash failed", "user_id", account.ID, "error", err)
		}
	}

	tokens, err := a.TService.Issue(ctx, account, ip, ua)
	if err != nil {
		result = "failure"
		return nil, err
	}
	return tokens, nil
}

func (a *AuthServiceImpl) Logout(ctx context.Context, rawToken string) error {
	return a.TService.RevokeOne(ctx, rawToken)
}

func (a *AuthServiceImpl) LogoutAll(ctx context.Context, userID domain.UserID) (int64, error) {
	return a.TService.RevokeAll(ctx, userID)
}
