package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestJWTManager_GenerateAndVerify(t *testing.T) {
	m := NewJWTManager("test-secret", 5*time.Minute)

	token, exp, err := m.GenerateToken(42, "alice")
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}
	if time.Until(exp) <= 0 {
		t.Fatalf("expiry should be in the future: %v", exp)
	}

	claims, err := m.VerifyToken(token)
	if err != nil {
		t.Fatalf("VerifyToken failed: %v", err)
	}
	if claims.User.ID != 42 || claims.User.Name != "alice" {
		t.Fatalf("claims mismatch: %+v", claims.User)
	}

	uid, err := m.Authenticate(token)
	if err != nil || uid != 42 {
		t.Fatalf("Authenticate = %d, %v", uid, err)
	}
}

func TestJWTManager_Rejects(t *testing.T) {
	m := NewJWTManager("test-secret", 5*time.Minute)

	other := NewJWTManager("other-secret", 5*time.Minute)
	forged, _, err := other.GenerateToken(1, "mallory")
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}
	if _, err := m.VerifyToken(forged); err == nil {
		t.Fatal("token signed with another secret must be rejected")
	}

	expired := NewJWTManager("test-secret", -time.Minute)
	old, _, err := expired.GenerateToken(1, "alice")
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}
	if _, err := m.VerifyToken(old); err == nil {
		t.Fatal("expired token must be rejected")
	}

	none := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{User: UserClaim{ID: 1}})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("SignedString(none) failed: %v", err)
	}
	if _, err := m.VerifyToken(unsigned); err == nil {
		t.Fatal("alg=none must be rejected")
	}

	anon, _, err := m.GenerateToken(0, "")
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}
	if _, err := m.Authenticate(anon); err == nil {
		t.Fatal("token without a user id must not authenticate")
	}
}

func TestJWTManager_Rotation(t *testing.T) {
	// create a manager with two keys and active kid "k2"
	keys := map[string]string{"k1": "secret-one", "k2": "secret-two"}
	m := NewJWTManagerFromKeys(keys, "k2", 5*time.Minute)

	// token created with active kid (k2)
	tkn2, _, err := m.GenerateToken(7, "rot")
	if err != nil {
		t.Fatalf("GenerateToken (k2) failed: %v", err)
	}
	if _, err := m.VerifyToken(tkn2); err != nil {
		t.Fatalf("VerifyToken (k2) failed: %v", err)
	}

	// a token issued while k1 was active still verifies
	mOld := NewJWTManagerFromKeys(keys, "k1", 5*time.Minute)
	tkn1, _, err := mOld.GenerateToken(7, "rot")
	if err != nil {
		t.Fatalf("GenerateToken (k1) failed: %v", err)
	}
	if _, err := m.VerifyToken(tkn1); err != nil {
		t.Fatalf("VerifyToken (old k1) failed: %v", err)
	}

	// once k1 is retired its tokens stop verifying
	retired := NewJWTManagerFromKeys(map[string]string{"k2": "secret-two"}, "k2", 5*time.Minute)
	if _, err := retired.VerifyToken(tkn1); err == nil {
		t.Fatal("token signed with a retired key must be rejected")
	}
}

func TestJWTManager_MissingActiveKey(t *testing.T) {
	m := NewJWTManagerFromKeys(map[string]string{"k1": "s"}, "k9", time.Minute)
	if _, _, err := m.GenerateToken(1, "x"); err == nil {
		t.Fatal("expected an error when the active kid has no key")
	}
}
