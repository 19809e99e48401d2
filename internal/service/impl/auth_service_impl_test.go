package impl

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"chatroom/internal/domain"
	"chatroom/internal/dto"
	"chatroom/internal/service"
)

type stubPasswordService struct {
	hashFunc   func(password string) (hash, salt, paramsJSON []byte, algo string, ver int, err error)
	verifyFunc func(password string, cred service.PasswordCredential) (rehashNeeded bool, ok bool)

	hashCalls   []string
	verifyCalls []string
}

func (s *stubPasswordService) Hash(password string) (hash, salt, paramsJSON []byte, algo string, ver int, err error) {
	s.hashCalls = append(s.hashCalls, password)
	if s.hashFunc != nil {
		return s.hashFunc(password)
	}
	return []byte("hash:" + password), []byte("salt"), []byte("{}"), "stub", 1, nil
}

func (s *stubPasswordService) Verify(password string, cred service.PasswordCredential) (rehashNeeded bool, ok bool) {
	s.verifyCalls = append(s.verifyCalls, password)
	if s.verifyFunc != nil {
		return s.verifyFunc(password, cred)
	}
	return false, string(cred.GetHash()) == "hash:"+password
}

type stubTokenService struct {
	service.TokenService

	issueErr   error
	issueCalls []struct {
		account *domain.Account
		ip, ua  string
	}
	revokedRaw []string
}

func (s *stubTokenService) Issue(ctx context.Context, account *domain.Account, ip, ua string) (*dto.TokenResponse, error) {
	s.issueCalls = append(s.issueCalls, struct {
		account *domain.Account
		ip, ua  string
	}{account, ip, ua})
	if s.issueErr != nil {
		return nil, s.issueErr
	}
	return &dto.TokenResponse{AccessToken: "token-" + account.Username, UserID: account.ID.String(), Username: account.Username}, nil
}

func (s *stubTokenService) RevokeOne(ctx context.Context, raw string) error {
	s.revokedRaw = append(s.revokedRaw, raw)
	return nil
}

type memoryStore struct {
	mu         sync.Mutex
	accounts   map[domain.UserID]*domain.Account
	byUsername map[string]domain.UserID
	updates    int
	failWith   error
	// hang makes lookups wait for their context to end.
	hang bool
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		accounts:   make(map[domain.UserID]*domain.Account),
		byUsername: make(map[string]domain.UserID),
	}
}

func (m *memoryStore) WithTx(ctx context.Context, fn func(tx storeTx) error) error {
	m.mu.Lock()
	accounts := make(map[domain.UserID]*domain.Account, len(m.accounts))
	for id, a := range m.accounts {
		cp := *a
		accounts[id] = &cp
	}
	names := make(map[string]domain.UserID, len(m.byUsername))
	for k, v := range m.byUsername {
		names[k] = v
	}
	m.mu.Unlock()

	if err := fn(m); err != nil {
		m.mu.Lock()
		m.accounts, m.byUsername = accounts, names
		m.mu.Unlock()
		return err
	}
	return nil
}

func (m *memoryStore) Accounts() accountStore       { return memoryAccounts{m} }
func (m *memoryStore) Credentials() credentialStore { return nil }

type memoryAccounts struct{ m *memoryStore }

func (a memoryAccounts) Create(ctx context.Context, acc *domain.Account) error {
	a.m.mu.Lock()
	defer a.m.mu.Unlock()
	if a.m.failWith != nil {
		return a.m.failWith
	}
	if _, ok := a.m.byUsername[acc.Username]; ok {
		return domain.ErrUsernameTaken
	}
	cp := *acc
	a.m.accounts[acc.ID] = &cp
	a.m.byUsername[acc.Username] = acc.ID
	return nil
}

func (a memoryAccounts) GetByUsername(ctx context.Context, username string) (*domain.Account, error) {
	if a.m.hang {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	a.m.mu.Lock()
	defer a.m.mu.Unlock()
	if a.m.failWith != nil {
		return nil, a.m.failWith
	}
	id, ok := a.m.byUsername[username]
	if !ok {
		return nil, nil
	}
	cp := *a.m.accounts[id]
	return &cp, nil
}

func (a memoryAccounts) GetByID(ctx context.Context, id domain.UserID) (*domain.Account, error) {
	a.m.mu.Lock()
	defer a.m.mu.Unlock()
	acc, ok := a.m.accounts[id]
	if !ok {
		return nil, nil
	}
	cp := *acc
	return &cp, nil
}

func (a memoryAccounts) LockForUpdate(ctx context.Context, id domain.UserID) (bool, error) {
	a.m.mu.Lock()
	defer a.m.mu.Unlock()
	_, ok := a.m.accounts[id]
	return ok, nil
}

func (a memoryAccounts) UpdatePassword(ctx context.Context, acc *domain.Account) error {
	a.m.mu.Lock()
	defer a.m.mu.Unlock()
	a.m.updates++
	cp := *acc
	a.m.accounts[acc.ID] = &cp
	return nil
}

func newAuthUnderTest() (*AuthServiceImpl, *memoryStore, *stubPasswordService, *stubTokenService) {
	st := newMemoryStore()
	pw := &stubPasswordService{}
	tok := &stubTokenService{}
	return &AuthServiceImpl{Store: st, PasswordService: pw, TService: tok}, st, pw, tok
}

func TestRegisterCreatesAccountAndIssuesToken(t *testing.T) {
	svc, st, pw, tok := newAuthUnderTest()

	res, err := svc.Register(context.Background(), dto.RegisterRequest{Username: "  alice ", Password: "password1"}, "10.0.0.1", "ua")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if res.AccessToken != "token-alice" {
		t.Fatalf("unexpected token response: %+v", res)
	}
	if len(pw.hashCalls) != 1 || pw.hashCalls[0] != "password1" {
		t.Fatalf("expected one hash call, got %v", pw.hashCalls)
	}
	if len(tok.issueCalls) != 1 || tok.issueCalls[0].ip != "10.0.0.1" {
		t.Fatalf("expected one issue call, got %+v", tok.issueCalls)
	}
	if _, ok := st.byUsername["alice"]; !ok {
		t.Fatalf("expected trimmed username to be stored")
	}
}

func TestRegisterValidation(t *testing.T) {
	cases := []struct {
		name string
		req  dto.RegisterRequest
		want error
	}{
		{"empty", dto.RegisterRequest{}, ErrEmptyCredential},
		{"short username", dto.RegisterRequest{Username: "al", Password: "password1"}, ErrUsernameLength},
		{"long username", dto.RegisterRequest{Username: strings.Repeat("a", 51), Password: "password1"}, ErrUsernameLength},
		{"short password", dto.RegisterRequest{Username: "alice", Password: "short"}, ErrPasswordLength},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc, _, _, tok := newAuthUnderTest()
			_, err := svc.Register(context.Background(), tc.req, "", "")
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if !errors.Is(err, domain.ErrInvalidInput) {
				t.Fatalf("validation errors must wrap ErrInvalidInput, got %v", err)
			}
			if len(tok.issueCalls) != 0 {
				t.Fatalf("no token may be issued on invalid input")
			}
		})
	}
}

func TestRegisterDuplicateUsername(t *testing.T) {
	svc, _, _, tok := newAuthUnderTest()
	ctx := context.Background()
	if _, err := svc.Register(ctx, dto.RegisterRequest{Username: "alice", Password: "password1"}, "", ""); err != nil {
		t.Fatalf("first register: %v", err)
	}
	_, err := svc.Register(ctx, dto.RegisterRequest{Username: "alice", Password: "password2"}, "", "")
	if !errors.Is(err, domain.ErrUsernameTaken) {
		t.Fatalf("expected ErrUsernameTaken, got %v", err)
	}
	if len(tok.issueCalls) != 1 {
		t.Fatalf("expected a single issuance, got %d", len(tok.issueCalls))
	}
}

func TestLoginRejectsUnknownAndWrongPassword(t *testing.T) {
	svc, _, _, tok := newAuthUnderTest()
	ctx := context.Background()
	if _, err := svc.Register(ctx, dto.RegisterRequest{Username: "alice", Password: "password1"}, "", ""); err != nil {
		t.Fatalf("register: %v", err)
	}

	if _, err := svc.Login(ctx, dto.LoginRequest{Username: "bob", Password: "password1"}, "", ""); !errors.Is(err, domain.ErrInvalidCredentials) {
		t.Fatalf("unknown user: expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := svc.Login(ctx, dto.LoginRequest{Username: "alice", Password: "nope-nope"}, "", ""); !errors.Is(err, domain.ErrInvalidCredentials) {
		t.Fatalf("wrong password: expected ErrInvalidCredentials, got %v", err)
	}
	if len(tok.issueCalls) != 1 {
		t.Fatalf("failed logins must not issue tokens, got %d issuances", len(tok.issueCalls))
	}

	res, err := svc.Login(ctx, dto.LoginRequest{Username: "alice", Password: "password1"}, "10.0.0.2", "device2")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if res.Username != "alice" || tok.issueCalls[1].ua != "device2" {
		t.Fatalf("unexpected login result %+v / %+v", res, tok.issueCalls[1])
	}
}

func TestLoginRehashesWhenPolicyChanged(t *testing.T) {
	svc, st, pw, _ := newAuthUnderTest()
	ctx := context.Background()
	if _, err := svc.Register(ctx, dto.RegisterRequest{Username: "alice", Password: "password1"}, "", ""); err != nil {
		t.Fatalf("register: %v", err)
	}
	pw.verifyFunc = func(password string, cred service.PasswordCredential) (bool, bool) { return true, true }

	if _, err := svc.Login(ctx, dto.LoginRequest{Username: "alice", Password: "password1"}, "", ""); err != nil {
		t.Fatalf("login: %v", err)
	}
	if st.updates != 1 {
		t.Fatalf("expected password rehash to be persisted, got %d updates", st.updates)
	}
}

func TestRegisterStoreFailureRollsBack(t *testing.T) {
	svc, st, _, tok := newAuthUnderTest()
	st.failWith = domain.ErrStoreUnavailable

	_, err := svc.Register(context.Background(), dto.RegisterRequest{Username: "alice", Password: "password1"}, "", "")
	if !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	if len(st.accounts) != 0 || len(tok.issueCalls) != 0 {
		t.Fatalf("nothing may persist on failure")
	}
}

func TestLogoutDelegatesToTokenService(t *testing.T) {
	svc, _, _, tok := newAuthUnderTest()
	if err := svc.Logout(context.Background(), "raw-token"); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if len(tok.revokedRaw) != 1 || tok.revokedRaw[0] != "raw-token" {
		t.Fatalf("expected RevokeOne(raw-token), got %v", tok.revokedRaw)
	}
}

func TestLoginBoundedByStoreTimeout(t *testing.T) {
	svc, st, _, tok := newAuthUnderTest()
	svc.StoreTimeout = 50 * time.Millisecond
	st.hang = true

	done := make(chan error, 1)
	go func() {
		_, err := svc.Login(context.Background(), dto.LoginRequest{Username: "alice", Password: "password1"}, "", "")
		done <- err
	}()
	select {
	case err := <-done:
		if !errors.Is(err, domain.ErrStoreUnavailable) {
			t.Fatalf("expected ErrStoreUnavailable, got %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("login still blocked on a hung store")
	}
	if len(tok.issueCalls) != 0 {
		t.Fatalf("no credential may be issued, got %d", len(tok.issueCalls))
	}
}
