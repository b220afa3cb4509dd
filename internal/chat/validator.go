package chat

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	MaxMessageBytes = 4096 // 4KB max frame size
	MaxTextChars    = 2000 // max character count
)

// ErrEmpty marks empty or whitespace-only text. Senders of empty text get a
// silent no-op rather than an error event.
var ErrEmpty = errors.New("chat: message text is empty")

// ValidateText checks that message text meets content requirements.
func ValidateText(text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmpty
	}
	if len(text) > MaxMessageBytes {
		return fmt.Errorf("chat: message exceeds %d byte limit", MaxMessageBytes)
	}
	if utf8.RuneCountInString(text) > MaxTextChars {
		return fmt.Errorf("chat: message exceeds %d character limit", MaxTextChars)
	}
	if !utf8.ValidString(text) {
		return errors.New("chat: message contains invalid UTF-8")
	}
	return nil
}
