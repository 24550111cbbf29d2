package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func usageCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "usage",
		Short: "List users and their token usage",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			repo, err := openRepository(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer repo.Close()

			users, err := repo.ListUsers(cmd.Context())
			if err != nil {
				return fmt.Errorf("list users: %w", err)
			}
			if len(users) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No users yet.")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "USER\tNAME\tPROMPT\tCOMPLETION\tTOTAL")
			for _, u := range users {
				name := u.FirstName
				if u.LastName != "" {
					name += " " + u.LastName
				}
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\n",
					u.ID, name, u.PromptTokens.Int64, u.CompletionTokens.Int64, u.TotalTokens())
			}
			return w.Flush()
		},
	}
}
