package policy

import "golang.org/x/crypto/bcrypt"

// HashRangerSecret hashes the one-time enrollment secret a ranger's
// device is seeded with during registration. Registration itself (the
// admin workflow that hands a ranger their device and phone number) is
// out of scope here; this is only the hashing primitive that workflow
// would call before persisting the secret.
func HashRangerSecret(secret string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CompareRangerSecret reports whether secret matches the stored hash.
func CompareRangerSecret(hash, secret string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)) == nil
}
