package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vango-dev/pinus/internal/errors"
)

func errorsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "errors [code]",
		Short: "List error codes or explain one",
		Long: `Without arguments, list every error code the CLI reports.
With a code, print its description and hint.

Examples:
  pinus errors
  pinus errors P008`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if len(args) == 0 {
				for _, code := range errors.GetAllCodes() {
					t, _ := errors.GetTemplate(code)
					fmt.Fprintf(out, "  %s  %-10s %s\n", code, t.Category, t.Message)
				}
				return nil
			}

			code := strings.ToUpper(args[0])
			if _, ok := errors.GetTemplate(code); !ok {
				return errors.New(errors.CodeBadArgs).
					WithDetail(fmt.Sprintf("No error code %q.", args[0])).
					WithSuggestion("Run 'pinus errors' to list the codes")
			}
			fmt.Fprint(out, errors.New(code).Format())
			return nil
		},
	}
	return cmd
}
