package codec

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMalformed is returned when bytes cannot be parsed as the expected format.
	ErrMalformed = errors.New("codec: malformed document")
	// ErrEncrypted is returned when a document needs a password and none was given.
	ErrEncrypted = errors.New("codec: document is password protected")
	// ErrWrongPassword is returned when the supplied password does not open the document.
	ErrWrongPassword = errors.New("codec: wrong password")
	// ErrEmptyText is returned when a document carries no extractable text.
	ErrEmptyText = errors.New("codec: no extractable text")
)

// classifyLoad maps a pdfcpu read error onto the package sentinels. pdfcpu
// reports every credential failure with a message mentioning the password.
func classifyLoad(err error, password string) error {
	if err == nil {
		return nil
	}
	if strings.Contains(strings.ToLower(err.Error()), "password") {
		if password == "" {
			return fmt.Errorf("%w: %v", ErrEncrypted, err)
		}
		return fmt.Errorf("%w: %v", ErrWrongPassword, err)
	}
	return fmt.Errorf("%w: %v", ErrMalformed, err)
}
