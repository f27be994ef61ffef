// Package password wraps bcrypt hashing for account credentials.
package password

import "golang.org/x/crypto/bcrypt"

const cost = 12

// Hash derives a bcrypt hash from a plaintext password.
func Hash(plain string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(plain), cost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

// Compare checks a plaintext password against a stored hash.
func Compare(hash, plain string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain))
}
