package impl

import "testing"

func cheapPolicy() Argon2Params {
	return Argon2Params{Time: 1, Memory: 8 * 1024, Threads: 1, KeyLen: 32, SaltLen: 16}
}

type storedPassword struct {
	algo   string
	hash   []byte
	salt   []byte
	params []byte
	ver    int
}

func (s storedPassword) GetAlgo() string       { return s.algo }
func (s storedPassword) GetHash() []byte       { return s.hash }
func (s storedPassword) GetSalt() []byte       { return s.salt }
func (s storedPassword) GetParamsJSON() []byte { return s.params }
func (s storedPassword) GetPasswordVer() int   { return s.ver }

func TestPasswordHashAndVerify(t *testing.T) {
	p := NewPasswordServiceWithPolicy(cheapPolicy(), 1)
	hash, salt, params, algo, ver, err := p.Hash("correct horse")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	cred := storedPassword{algo: algo, hash: hash, salt: salt, params: params, ver: ver}

	if rehash, ok := p.Verify("correct horse", cred); !ok || rehash {
		t.Fatalf("expected ok without rehash, got ok=%v rehash=%v", ok, rehash)
	}
	if _, ok := p.Verify("wrong horse", cred); ok {
		t.Fatal("wrong password must not verify")
	}
}

func TestPasswordRehashOnPolicyChange(t *testing.T) {
	old := NewPasswordServiceWithPolicy(cheapPolicy(), 1)
	hash, salt, params, algo, ver, err := old.Hash("correct horse")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	cred := storedPassword{algo: algo, hash: hash, salt: salt, params: params, ver: ver}

	bumped := NewPasswordServiceWithPolicy(cheapPolicy(), 2)
	rehash, ok := bumped.Verify("correct horse", cred)
	if !ok || !rehash {
		t.Fatalf("expected ok with rehash, got ok=%v rehash=%v", ok, rehash)
	}
}

func TestPasswordRejectsEmptyAndForeignAlgo(t *testing.T) {
	p := NewPasswordServiceWithPolicy(cheapPolicy(), 1)
	if _, _, _, _, _, err := p.Hash(""); err != ErrEmptyPassword {
		t.Fatalf("expected ErrEmptyPassword, got %v", err)
	}
	if _, ok := p.Verify("x", storedPassword{algo: "bcrypt"}); ok {
		t.Fatal("foreign algorithm must not verify")
	}
}
