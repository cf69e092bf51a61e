package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

var ErrTokenExpired = errors.New("token is expired")

// Inspect разбирает JWT без проверки подписи: секрет живёт на сервере,
// клиенту токен нужен только чтобы понять, не истёк ли он.
func Inspect(accessToken string) (*jwt.RegisteredClaims, error) {
	claims := &jwt.RegisteredClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(accessToken, claims); err != nil {
		return nil, err
	}
	return claims, nil
}

// Expiry возвращает время истечения токена
func Expiry(accessToken string) (time.Time, error) {
	claims, err := Inspect(accessToken)
	if err != nil {
		return time.Time{}, err
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, errors.New("token has no expiry")
	}
	return claims.ExpiresAt.Time, nil
}

// CheckNotExpired проверяет, что сохранённый токен ещё можно использовать
func CheckNotExpired(accessToken string, now time.Time) error {
	exp, err := Expiry(accessToken)
	if err != nil {
		return err
	}
	if !exp.After(now) {
		return ErrTokenExpired
	}
	return nil
}
