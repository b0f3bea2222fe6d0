package main

import (
	"fmt"

	"agentstream/internal/auth"

	"github.com/spf13/cobra"
)

// loginCmd stores a bearer token for later invocations.
var loginCmd = &cobra.Command{
	Use:   "login [token]",
	Short: "Store a bearer token for the agent backend",
	Long: `Saves the token to .astream/credentials.json (owner-only permissions)
so ask and batch can authenticate without --token on every call. An explicit
--token flag or AGENTSTREAM_TOKEN always takes precedence over the stored
value.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store := auth.NewStore(auth.DefaultPath())
		creds := auth.Credentials{Token: args[0], BaseURL: baseURL}
		if err := store.Save(creds); err != nil {
			return err
		}
		fmt.Println("logged in")
		return nil
	},
}

// logoutCmd removes stored credentials.
var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Remove stored credentials",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := auth.NewStore(auth.DefaultPath()).Clear(); err != nil {
			return err
		}
		fmt.Println("logged out")
		return nil
	},
}

// authStatusCmd reports whether credentials are stored.
var authStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether credentials are stored",
	RunE: func(cmd *cobra.Command, args []string) error {
		creds, err := auth.NewStore(auth.DefaultPath()).Load()
		if err != nil {
			return err
		}
		if !creds.IsLoggedIn() {
			fmt.Println("not logged in")
			return nil
		}
		fmt.Printf("logged in (saved %s)\n", creds.SavedAt.Format("2006-01-02 15:04"))
		return nil
	},
}

// authCmd groups credential commands.
var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage stored credentials",
}

func init() {
	authCmd.AddCommand(loginCmd)
	authCmd.AddCommand(logoutCmd)
	authCmd.AddCommand(authStatusCmd)
	rootCmd.AddCommand(authCmd)
}
