package cmd

import (
	"fmt"

	"github.com/roffe/fdcan/adapter"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(listCmd)
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "list adapters",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		for _, a := range adapter.ListAdapters() {
			fmt.Println(a.String())
		}
	},
}
