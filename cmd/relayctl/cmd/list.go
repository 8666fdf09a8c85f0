package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/pushrelay/pushrelay/internal/store"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all forwarding rules",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(ctx context.Context, st *store.Store) error {
			rules, err := st.List(ctx)
			if err != nil {
				return err
			}

			if outputJSON {
				return printRulesJSON(rules)
			}
			printRulesTable(rules)
			return nil
		})
	},
}

type ruleView struct {
	ID        string `json:"id"`
	Server    string `json:"server"`
	Topic     string `json:"topic"`
	Webhook   string `json:"webhook"`
	Auth      string `json:"auth"`
	CreatedAt string `json:"created_at"`
}

func viewOf(r store.Rule) ruleView {
	return ruleView{
		ID:        r.ID,
		Server:    r.Server,
		Topic:     r.Topic,
		Webhook:   r.WebhookURL,
		Auth:      authDisplay(r.AuthHeader),
		CreatedAt: r.CreatedAt.Format("2006-01-02 15:04:05"),
	}
}

// authDisplay names the auth scheme without leaking credential material.
func authDisplay(header string) string {
	switch {
	case header == "":
		return "None"
	case strings.HasPrefix(header, "Basic "):
		return "Basic (user/pass)"
	case strings.HasPrefix(header, "Bearer "):
		return "Bearer token"
	default:
		return "Custom"
	}
}

// truncate shortens long webhook URLs for table output.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

func printRulesJSON(rules []store.Rule) error {
	views := make([]ruleView, 0, len(rules))
	for _, r := range rules {
		views = append(views, viewOf(r))
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(views)
}

func printRulesTable(rules []store.Rule) {
	if len(rules) == 0 {
		fmt.Println("No forwarding rules.")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSERVER\tTOPIC\tWEBHOOK\tAUTH\tCREATED")
	for _, r := range rules {
		v := viewOf(r)
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			v.ID, v.Server, v.Topic, truncate(v.Webhook, 40), v.Auth, v.CreatedAt)
	}
	w.Flush()
}

func init() {
	rootCmd.AddCommand(listCmd)
}
