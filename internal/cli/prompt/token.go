package prompt

import (
	"errors"
	"os"
	"strings"

	"github.com/manifoldco/promptui"
	"golang.org/x/term"
)

// ErrNotInteractive is returned when a prompt is needed but stdin is not a
// terminal.
var ErrNotInteractive = errors.New("stdin is not a terminal")

// IsInteractive reports whether stdin is attached to a terminal.
func IsInteractive() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// Token prompts for an API token with masking. Surrounding whitespace is
// trimmed.
func Token(label string) (string, error) {
	if !IsInteractive() {
		return "", ErrNotInteractive
	}

	prompt := promptui.Prompt{
		Label: label,
		Mask:  '*',
		Validate: func(input string) error {
			if strings.TrimSpace(input) == "" {
				return errors.New("token must not be empty")
			}
			return nil
		},
	}

	result, err := prompt.Run()
	return strings.TrimSpace(result), wrapError(err)
}
