package cmd

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"

	"github.com/spf13/cobra"

	"github.com/pushrelay/pushrelay/internal/store"
)

var (
	addServer  string
	addTopic   string
	addWebhook string
	addUser    string
	addPass    string
	addToken   string
)

var addCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a forwarding rule",
	Long: `Add a rule forwarding an ntfy topic to a chat webhook.

Credentials for protected topics are stored as a pre-formatted
Authorization header value: --user/--pass for Basic auth, or --token
for a Bearer token.`,
	Example: `  relayctl add --server https://ntfy.sh --topic alerts --webhook https://discord.com/api/webhooks/...
  relayctl add --server https://ntfy.internal --topic deploys --webhook https://... --token tk_abc123`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := url.ParseRequestURI(addServer); err != nil {
			return fmt.Errorf("invalid server URL: %w", err)
		}
		if _, err := url.ParseRequestURI(addWebhook); err != nil {
			return fmt.Errorf("invalid webhook URL: %w", err)
		}
		if addUser != "" && addPass == "" || addUser == "" && addPass != "" {
			return errors.New("--user and --pass must be given together")
		}

		authHeader := buildAuthHeader(addUser, addPass, addToken)

		return withStore(func(ctx context.Context, st *store.Store) error {
			r, err := st.Add(ctx, addServer, addTopic, addWebhook, authHeader)
			if errors.Is(err, store.ErrDuplicate) {
				return fmt.Errorf("rule for %s/%s -> %s already exists", addServer, addTopic, addWebhook)
			}
			if err != nil {
				return err
			}
			fmt.Printf("Rule added: %s (%s/%s)\n", r.ID, r.Server, r.Topic)
			return nil
		})
	},
}

// buildAuthHeader formats the inbound Authorization header value. Basic
// credentials win over a token; both empty means no auth.
func buildAuthHeader(user, pass, token string) string {
	if user != "" && pass != "" {
		creds := base64.StdEncoding.EncodeToString([]byte(user + ":" + pass))
		return "Basic " + creds
	}
	if token != "" {
		return "Bearer " + token
	}
	return ""
}

func init() {
	rootCmd.AddCommand(addCmd)

	addCmd.Flags().StringVar(&addServer, "server", "", "ntfy server URL (e.g. https://ntfy.sh)")
	addCmd.Flags().StringVar(&addTopic, "topic", "", "ntfy topic name")
	addCmd.Flags().StringVar(&addWebhook, "webhook", "", "full chat webhook URL")
	addCmd.Flags().StringVar(&addUser, "user", "", "username for Basic auth on the topic")
	addCmd.Flags().StringVar(&addPass, "pass", "", "password for Basic auth on the topic")
	addCmd.Flags().StringVar(&addToken, "token", "", "Bearer token for the topic")

	addCmd.MarkFlagRequired("server")
	addCmd.MarkFlagRequired("topic")
	addCmd.MarkFlagRequired("webhook")
	addCmd.MarkFlagsMutuallyExclusive("user", "token")
	addCmd.MarkFlagsMutuallyExclusive("pass", "token")
}
