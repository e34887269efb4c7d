// Package validation содержит функции валидации входных данных.
package validation

const (
	minFingerprintLen = 8
	maxFingerprintLen = 128
)

// IsValidFingerprint проверяет синтаксис отпечатка устройства. Отпечаток — это
// непрозрачный токен, поэтому проверяются только длина и набор символов.
func IsValidFingerprint(fingerprint string) bool {
	if len(fingerprint) < minFingerprintLen || len(fingerprint) > maxFingerprintLen {
		return false
	}

	for _, ch := range fingerprint {
		switch {
		case ch >= 'a' && ch <= 'z':
		case ch >= 'A' && ch <= 'Z':
		case ch >= '0' && ch <= '9':
		case ch == '-' || ch == '_' || ch == '.' || ch == ':':
		default:
			return false
		}
	}

	return true
}
