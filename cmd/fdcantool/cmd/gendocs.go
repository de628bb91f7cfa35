package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/cobra/doc"
)

func init() {
	gendocsCmd.Flags().StringP("out", "o", "./docs", "output directory")
	gendocsCmd.Flags().Bool("man", false, "write man pages instead of markdown")
	rootCmd.AddCommand(gendocsCmd)
}

var gendocsCmd = &cobra.Command{
	Use:    "gendocs",
	Hidden: true,
	Short:  "generate command reference",
	Args:   cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out, _ := cmd.Flags().GetString("out")
		man, _ := cmd.Flags().GetBool("man")
		if err := os.MkdirAll(out, 0755); err != nil {
			return err
		}
		root := cmd.Root()
		root.DisableAutoGenTag = true
		if man {
			return doc.GenManTree(root, &doc.GenManHeader{Title: "FDCANTOOL", Section: "1"}, out)
		}
		if err := doc.GenMarkdownTree(root, out); err != nil {
			return err
		}
		fmt.Println("wrote docs to", out)
		return nil
	},
}
