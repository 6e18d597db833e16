package auth

import (
	"crypto/rand"
	"errors"
	"math/big"
	"strings"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

var ErrInvalidPhone = errors.New("phone number format is invalid")

// GenerateNumericCode returns a random decimal code of the given length.
func GenerateNumericCode(length int) (string, error) {
	if length <= 0 {
		length = 6
	}
	var b strings.Builder
	b.Grow(length)
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + n.Int64()))
	}
	return b.String(), nil
}

// HashCode hashes a one-time code for storage.
func HashCode(code string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckCode reports whether code matches a hash produced by HashCode.
func CheckCode(code, hash string) bool {
	if code == "" || hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(code)) == nil
}

// NormalizePhone strips spaces, dashes and parentheses and keeps an optional
// leading '+'. The result must carry 6 to 15 digits.
func NormalizePhone(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	var b strings.Builder
	for i, r := range raw {
		switch {
		case r == '+' && i == 0:
			b.WriteRune(r)
		case unicode.IsDigit(r) && r < unicode.MaxASCII:
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '(' || r == ')':
		default:
			return "", ErrInvalidPhone
		}
	}
	phone := b.String()
	digits := len(strings.TrimPrefix(phone, "+"))
	if digits < 6 || digits > 15 {
		return "", ErrInvalidPhone
	}
	return phone, nil
}

// MaskPhone hides all but the last four digits for logs.
func MaskPhone(phone string) string {
	if len(phone) <= 4 {
		return "****"
	}
	return strings.Repeat("*", len(phone)-4) + phone[len(phone)-4:]
}
