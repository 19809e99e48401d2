package impl

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/json"

	"chatroom/internal/service"

	"golang.org/x/crypto/argon2"
)

const algoArgon2id = "argon2id"

// Argon2Params is stored next to each hash so verification uses the cost it
// was created with.
type Argon2Params struct {
	Time    uint32 `json:"t"`
	Memory  uint32 `json:"m"` // KiB
	Threads uint8  `json:"p"`
	KeyLen  uint32 `json:"k"`
	SaltLen uint32 `json:"s"`
}

func DefaultArgon2Params() Argon2Params {
	return Argon2Params{Time: 3, Memory: 64 * 1024, Threads: 1, KeyLen: 32, SaltLen: 16}
}

type PasswordServiceImpl struct {
	version int
	policy  Argon2Params
}

func NewPasswordServiceArgon2id() *PasswordServiceImpl {
	return NewPasswordServiceWithPolicy(DefaultArgon2Params(), 1)
}

// NewPasswordServiceWithPolicy is used by tests and by operators who bump the
// cost; a version change makes the next successful login rehash.
func NewPasswordServiceWithPolicy(p Argon2Params, version int) *PasswordServiceImpl {
	return &PasswordServiceImpl{version: version, policy: p}
}

func (p *PasswordServiceImpl) Hash(password string) (hash, salt, paramsJSON []byte, algo string, ver int, err error) {
	if password == "" {
		return nil, nil, nil, "", 0, ErrEmptyPassword
	}
	salt = make([]byte, p.policy.SaltLen)
	if _, err = rand.Read(salt); err != nil {
		return nil, nil, nil, "", 0, err
	}
	paramsJSON, err = json.Marshal(p.policy)
	if err != nil {
		return nil, nil, nil, "", 0, err
	}
	hash = derive(password, salt, p.policy)
	return hash, salt, paramsJSON, algoArgon2id, p.version, nil
}

func (p *PasswordServiceImpl) Verify(password string, cred service.PasswordCredential) (rehashNeeded bool, ok bool) {
	if cred.GetAlgo() != algoArgon2id {
		return false, false
	}
	var stored Argon2Params
	if err := json.Unmarshal(cred.GetParamsJSON(), &stored); err != nil {
		return false, false
	}
	ok = subtle.ConstantTimeCompare(derive(password, cred.GetSalt(), stored), cred.GetHash()) == 1
	if !ok {
		return false, false
	}
	return cred.GetPasswordVer() != p.version || stored != p.policy, true
}

func derive(password string, salt []byte, p Argon2Params) []byte {
	return argon2.IDKey([]byte(password), salt, p.Time, p.Memory, p.Threads, p.KeyLen)
}
