package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AdaptivMCP/gitward/internal/auth"
)

var hashTokenCmd = &cobra.Command{
	Use:   "hash-token [token]",
	Short: "Generate or hash an API token for the api_tokens table",
	Long: `With no argument, generates a fresh token and prints it together
with the prefix and bcrypt hash to insert into api_tokens. With a
token argument, prints the prefix and hash for that existing token.

The full token is shown once and never stored; only the prefix and
hash go in the database.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runHashToken,
}

func init() {
	rootCmd.AddCommand(hashTokenCmd)
}

func runHashToken(_ *cobra.Command, args []string) error {
	var token string
	generated := false
	if len(args) == 1 {
		token = args[0]
	} else {
		token = auth.NewToken()
		generated = true
	}

	prefix, hash, err := auth.HashToken(token)
	if err != nil {
		return err
	}

	if generated {
		fmt.Printf("token:  %s\n", token)
	}
	fmt.Printf("prefix: %s\n", prefix)
	fmt.Printf("hash:   %s\n", hash)
	return nil
}
