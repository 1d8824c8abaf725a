package service

import (
	"encoding/base64"
	"strings"
	"unicode/utf8"

	appErrors "github.com/unclebandit/supportmail-backend/internal/errors"
)

// EncodeUnsubscribeToken turns an address into the opaque path segment used
// in unsubscribe links.
func EncodeUnsubscribeToken(email string) string {
	return base64.URLEncoding.EncodeToString([]byte(email))
}

// DecodeUnsubscribeToken reverses EncodeUnsubscribeToken. Anything that does
// not decode to an address is reported as not found.
func DecodeUnsubscribeToken(token string) (string, error) {
	raw, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		// links minted with the standard alphabet
		raw, err = base64.StdEncoding.DecodeString(token)
	}
	if err != nil {
		return "", appErrors.NewNotFound("unsubscribe token")
	}
	email := string(raw)
	if !utf8.ValidString(email) || !strings.Contains(email, "@") {
		return "", appErrors.NewNotFound("unsubscribe token")
	}
	return email, nil
}
