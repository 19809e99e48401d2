package impl

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"chatroom/internal/domain"
	"chatroom/internal/dto"
	"chatroom/internal/jwtsigner"
	"chatroom/internal/netutil"
	"chatroom/internal/observability/metrics"
	"chatroom/internal/observability/middleware"
	"chatroom/internal/store"

	"github.com/google/uuid"
)

type TokenConfig struct {
	AccessTTL time.Duration
	// SingleDeviceLogin revokes every earlier live credential of a user when a
	// new one is issued.
	SingleDeviceLogin bool
	// StoreTimeout bounds every credential store call, including the gate.
	StoreTimeout time.Duration
}

type TokenServiceImpl struct {
	cfg    TokenConfig
	signer *jwtsigner.Signer
	Store  dataStore
	now    func() time.Time
}

func NewTokenServiceImpl(cfg TokenConfig, signer *jwtsigner.Signer, st *store.Store) *TokenServiceImpl {
	return newTokenService(cfg, signer, newGormStoreAdapter(st))
}

func newTokenService(cfg TokenConfig, signer *jwtsigner.Signer, ds dataStore) *TokenServiceImpl {
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = 24 * time.Hour
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 5 * time.Second
	}
	return &TokenServiceImpl{cfg: cfg, signer: signer, Store: ds, now: func() time.Time { return time.Now().UTC() }}
}

// hashToken is the lookup key for a raw token; raw tokens are never stored.
func hashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func (t *TokenServiceImpl) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, t.cfg.StoreTimeout)
}

// Issue signs a new token for account and persists its credential row. Under
// single-device-login the revocation of earlier rows and the insert commit
// together.
func (t *TokenServiceImpl) Issue(ctx context.Context, account *domain.Account, ip, ua string) (*dto.TokenResponse, error) {
	result := "success"
	defer func() {
		metrics.TokensIssuedTotal.WithLabelValues("issue", result).Inc()
	}()

	credID := uuid.New()
	raw, exp, err := t.signer.Sign(account.ID.String(), account.Username, credID.String(), t.cfg.AccessTTL)
	if err != nil {
		result = "failure"
		return nil, fmt.Errorf("sign token: %w", err)
	}

	now := t.now()
	var revoked int64
	ctx, cancel := t.storeCtx(ctx)
	defer cancel()
	err = t.Store.WithTx(ctx, func(tx storeTx) error {
		// Concurrent issues for one user queue here, so each one sees the
		// rows committed by the previous.
		found, err := tx.Accounts().LockForUpdate(ctx, account.ID)
		if err != nil {
			return err
		}
		if !found {
			return domain.ErrInvalidCredentials
		}
		if t.cfg.SingleDeviceLogin {
			n, err := tx.Credentials().RevokeAllForUser(ctx, account.ID, now)
			if err != nil {
				return err
			}
			revoked = n
		}
		return tx.Credentials().Create(ctx, &domain.Credential{
			ID:         credID,
			UserID:     account.ID,
			TokenHash:  hashToken(raw),
			DeviceInfo: netutil.DeviceInfo(ua),
			IPAddress:  normalizeIP(ip),
			ExpiresAt:  exp,
		})
	})
	if err != nil {
		result = "failure"
		return nil, err
	}
	if revoked > 0 {
		metrics.CredentialsRevokedTotal.WithLabelValues("supersede").Add(float64(revoked))
	}

	slog.Info("issued token",
		"user_id", account.ID,
		"credential_id", credID,
		"revoked", revoked,
		"request_id", middleware.RequestIDFromContext(ctx),
		"trace_id", middleware.TraceIDFromContext(ctx),
	)

	return &dto.TokenResponse{
		AccessToken: raw,
		TokenType:   "Bearer",
		ExpiresAt:   exp,
		ExpiresIn:   int64(t.cfg.AccessTTL.Seconds()),
		UserID:      account.ID.String(),
		Username:    account.Username,
		Revoked:     revoked,
	}, nil
}

func (t *TokenServiceImpl) Admit(ctx context.Context, raw string) (*domain.Principal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, domain.ErrMalformedCredential
	}
	claims, err := t.signer.Verify(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedCredential, err)
	}
	subject, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("%w: bad subject", domain.ErrMalformedCredential)
	}

	sctx, cancel := t.storeCtx(ctx)
	defer cancel()
	cred, err := t.Store.Credentials().FindLiveByHash(sctx, hashToken(raw), t.now())
	if err != nil {
		return nil, err
	}
	if cred == nil || cred.Account == nil || cred.UserID != subject {
		return nil, domain.ErrRevokedCredential
	}
	return &domain.Principal{
		UserID:       subject,
		Username:     cred.Account.Username,
		CredentialID: cred.ID,
		ExpiresAt:    cred.ExpiresAt,
	}, nil
}

// RevokeOne kills the credential behind raw. Revoking an already dead
// credential is a no-op; a token the store never saw is rejected.
func (t *TokenServiceImpl) RevokeOne(ctx context.Context, raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return domain.ErrMalformedCredential
	}
	hash := hashToken(raw)
	sctx, cancel := t.storeCtx(ctx)
	defer cancel()
	n, err := t.Store.Credentials().RevokeByHash(sctx, hash, t.now())
	if err != nil {
		return err
	}
	if n == 0 {
		cred, err := t.Store.Credentials().FindByHash(sctx, hash)
		if err != nil {
			return err
		}
		if cred == nil {
			return domain.ErrRevokedCredential
		}
		return nil
	}
	metrics.CredentialsRevokedTotal.WithLabelValues("logout").Add(float64(n))
	slog.Info("revoked token", "request_id", middleware.RequestIDFromContext(ctx))
	return nil
}

func (t *TokenServiceImpl) RevokeAll(ctx context.Context, userID domain.UserID) (int64, error) {
	sctx, cancel := t.storeCtx(ctx)
	defer cancel()
	n, err := t.Store.Credentials().RevokeAllForUser(sctx, userID, t.now())
	if err != nil {
		return 0, err
	}
	metrics.CredentialsRevokedTotal.WithLabelValues("logout_all").Add(float64(n))
	slog.Info("revoked all tokens", "user_id", userID, "revoked", n, "request_id", middleware.RequestIDFromContext(ctx))
	return n, nil
}

// Sweep marks expired live credentials dead, then purges rows that are both
// expired and dead.
func (t *TokenServiceImpl) Sweep(ctx context.Context) (dto.SweepResult, error) {
	now := t.now()
	var res dto.SweepResult
	ctx, cancel := t.storeCtx(ctx)
	defer cancel()
	expired, err := t.Store.Credentials().ExpireStale(ctx, now)
	if err != nil {
		return res, err
	}
	res.Expired = expired
	metrics.CredentialSweepsTotal.WithLabelValues("expired").Add(float64(expired))

	purged, err := t.Store.Credentials().PurgeDead(ctx, now)
	if err != nil {
		return res, err
	}
	res.Purged = purged
	metrics.CredentialSweepsTotal.WithLabelValues("purged").Add(float64(purged))
	return res, nil
}

func (t *TokenServiceImpl) ActiveCredentials(ctx context.Context, p *domain.Principal) ([]dto.SessionInfo, error) {
	ctx, cancel := t.storeCtx(ctx)
	defer cancel()
	creds, err := t.Store.Credentials().ListForUser(ctx, p.UserID, true, t.now())
	if err != nil {
		return nil, err
	}
	out := make([]dto.SessionInfo, 0, len(creds))
	for _, c := range creds {
		out = append(out, dto.SessionInfo{
			ID:         c.ID.String(),
			DeviceInfo: c.DeviceInfo,
			IPAddress:  c.IPAddress,
			CreatedAt:  c.CreatedAt,
			ExpiresAt:  c.ExpiresAt,
			Current:    c.ID == p.CredentialID,
		})
	}
	return out, nil
}

func (t *TokenServiceImpl) PublicJWK() map[string]any { return t.signer.PublicJWK() }

func normalizeIP(ip string) string {
	if normalized, ok := netutil.NormalizeIP(ip); ok {
		return normalized
	}
	return strings.TrimSpace(ip)
}
