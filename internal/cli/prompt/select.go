package prompt

import "github.com/manifoldco/promptui"

// SelectOption is one entry in a selection list. Value is returned when
// the entry is chosen; Description renders below the list.
type SelectOption struct {
	Label       string
	Value       string
	Description string
}

// Select asks the user to pick one option with the arrow keys and
// returns the chosen option's Value.
func Select(label string, options []SelectOption) (string, error) {
	templates := &promptui.SelectTemplates{
		Label:    "{{ . }}",
		Active:   "> {{ .Label | cyan }}",
		Inactive: "  {{ .Label }}",
		Selected: "{{ .Label | green }}",
	}
	for _, opt := range options {
		if opt.Description != "" {
			templates.Details = "{{ if .Description }}\n{{ .Description | faint }}{{ end }}"
			break
		}
	}

	size := len(options)
	if size > 10 {
		size = 10
	}

	sel := promptui.Select{
		Label:     label,
		Items:     options,
		Templates: templates,
		Size:      size,
	}
	i, _, err := sel.Run()
	if err != nil {
		return "", normalize(err)
	}
	return options[i].Value, nil
}
