package cmd

import (
	"fmt"

	"github.com/manifoldco/promptui"
	"github.com/roffe/fdcan"
	"github.com/spf13/cobra"
)

// selectMode returns the --mode flag, or asks for one of allowed.
func selectMode(cmd *cobra.Command, allowed ...fdcan.Mode) (fdcan.Mode, error) {
	s, _ := cmd.Flags().GetString(flagMode)
	if s != "" {
		m, ok := fdcan.ParseMode(s)
		if !ok {
			return 0, fmt.Errorf("unknown mode %q", s)
		}
		for _, a := range allowed {
			if a == m {
				return m, nil
			}
		}
		return 0, fmt.Errorf("%s mode not usable here", m)
	}
	items := make([]string, len(allowed))
	for i, m := range allowed {
		items[i] = m.String()
	}
	prompt := promptui.Select{
		Label:    "Operating mode",
		HideHelp: true,
		Items:    items,
	}
	idx, _, err := prompt.Run()
	if err != nil {
		return 0, fmt.Errorf("prompt failed: %w", err)
	}
	return allowed[idx], nil
}
