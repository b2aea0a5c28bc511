package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"vrac/internal/auth"
	"vrac/internal/config"
	"vrac/internal/store"
)

func newUserCmd(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage admin accounts for token generation",
	}
	cmd.AddCommand(newUserAddCmd(cfg))
	cmd.AddCommand(newUserListCmd(cfg))
	return cmd
}

func newUserAddCmd(cfg *config.Config) *cobra.Command {
	var passwordStdin bool

	cmd := &cobra.Command{
		Use:   "add <username>",
		Short: "Create one admin account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !passwordStdin {
				return fmt.Errorf("--password-stdin is required")
			}

			username, err := auth.NormalizeUsername(args[0])
			if err != nil {
				return err
			}

			passwordBytes, err := io.ReadAll(os.Stdin)
			if err != nil {
				return err
			}
			hash, err := auth.HashPassword(strings.TrimSpace(string(passwordBytes)))
			if err != nil {
				return err
			}

			st, err := store.Open(cfg.DBPath)
			if err != nil {
				return err
			}
			defer st.Close()

			created, err := st.CreateAccount(cmd.Context(), username, hash)
			if err != nil {
				return err
			}
			fmt.Printf("created admin account %s (id %d)\n", created.Username, created.ID)
			return nil
		},
	}

	cmd.Flags().BoolVar(&passwordStdin, "password-stdin", false, "read the password from stdin")

	return cmd
}

func newUserListCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List admin accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := store.Open(cfg.DBPath)
			if err != nil {
				return err
			}
			defer st.Close()

			accounts, err := st.ListAccounts(cmd.Context())
			if err != nil {
				return err
			}
			if len(accounts) == 0 {
				fmt.Println("no admin accounts")
				return nil
			}
			for _, account := range accounts {
				fmt.Printf("%d\t%s\n", account.ID, account.Username)
			}
			return nil
		},
	}
}
