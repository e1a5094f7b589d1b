package auth

import "testing"

func TestHashAndCheckPassword(t *testing.T) {
	hash, err := HashPassword("secret123")
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	if hash == "secret123" {
		t.Fatalf("hash must not equal the plaintext password")
	}
	if !CheckPassword("secret123", hash) {
		t.Fatalf("correct password should verify")
	}
	if CheckPassword("wrong", hash) {
		t.Fatalf("wrong password should not verify")
	}
}

func TestCheckPasswordRejectsMalformedHash(t *testing.T) {
	if CheckPassword("secret123", "not-a-bcrypt-hash") {
		t.Fatalf("malformed hash should not verify")
	}
}

func TestHashPasswordSalts(t *testing.T) {
	h1, err := HashPassword("secret123")
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	h2, err := HashPassword("secret123")
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	if h1 == h2 {
		t.Fatalf("two hashes of the same password should differ")
	}
}
