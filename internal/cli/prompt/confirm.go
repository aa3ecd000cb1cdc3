package prompt

import (
	"errors"
	"fmt"
	"strings"

	"github.com/manifoldco/promptui"
)

// Confirm asks a yes/no question. Bare Enter picks the default.
func Confirm(label string, defaultYes bool) (bool, error) {
	hint := "y/N"
	if defaultYes {
		hint = "Y/n"
	}
	p := promptui.Prompt{
		Label:     fmt.Sprintf("%s [%s]", label, hint),
		IsConfirm: true,
	}
	if defaultYes {
		// promptui treats empty input as "y" when the default is "y".
		p.Default = "y"
	}

	got, err := p.Run()
	if err != nil {
		if errors.Is(err, promptui.ErrAbort) {
			return false, nil
		}
		if errors.Is(err, promptui.ErrInterrupt) {
			return false, ErrAborted
		}
		return false, err
	}
	return got == "" || strings.EqualFold(got, "y"), nil
}

// ConfirmWithForce skips the question when force is set.
func ConfirmWithForce(label string, force bool) (bool, error) {
	if force {
		return true, nil
	}
	return Confirm(label, false)
}

// ConfirmDanger guards destructive operations by requiring the phrase
// to be typed back exactly.
func ConfirmDanger(label, phrase string) (bool, error) {
	p := promptui.Prompt{
		Label: fmt.Sprintf("%s (type %q to confirm)", label, phrase),
		Validate: func(s string) error {
			if s != phrase {
				return fmt.Errorf("type %q to confirm", phrase)
			}
			return nil
		},
	}

	got, err := p.Run()
	if err != nil {
		return false, normalize(err)
	}
	return got == phrase, nil
}
