// Package prompt wraps promptui with the interactive questions the CLI
// asks: free text, masked secrets, confirmations, and list selection.
package prompt

import (
	"errors"
	"strings"

	"github.com/manifoldco/promptui"
)

// ErrAborted is returned when the user cancels a prompt with Ctrl+C.
var ErrAborted = errors.New("aborted")

// IsAborted reports whether err means the user backed out rather than a
// real failure. Callers typically print "Aborted." and exit zero.
func IsAborted(err error) bool {
	return errors.Is(err, ErrAborted) ||
		errors.Is(err, promptui.ErrInterrupt) ||
		errors.Is(err, promptui.ErrAbort)
}

// normalize folds promptui's interrupt and abort errors into ErrAborted.
func normalize(err error) error {
	if err == nil {
		return nil
	}
	if IsAborted(err) {
		return ErrAborted
	}
	return err
}

// Input asks for one line of text, offering defaultValue when the user
// just presses Enter.
func Input(label, defaultValue string) (string, error) {
	p := promptui.Prompt{Label: label, Default: defaultValue}
	got, err := p.Run()
	return got, normalize(err)
}

// InputRequired asks for one line of text and refuses an empty answer.
func InputRequired(label string) (string, error) {
	p := promptui.Prompt{
		Label: label,
		Validate: func(s string) error {
			if strings.TrimSpace(s) == "" {
				return errors.New("a value is required")
			}
			return nil
		},
	}
	got, err := p.Run()
	return got, normalize(err)
}

// InputOptional asks for one line of text where empty means skip.
func InputOptional(label string) (string, error) {
	p := promptui.Prompt{Label: label + " (optional)"}
	got, err := p.Run()
	return got, normalize(err)
}

// Password asks for a secret with the input masked.
func Password(label string) (string, error) {
	p := promptui.Prompt{Label: label, Mask: '*'}
	got, err := p.Run()
	return got, normalize(err)
}
