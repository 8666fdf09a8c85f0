package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pushrelay/pushrelay/internal/store"
)

var removeID string

var removeCmd = &cobra.Command{
	Use:   "remove",
	Short: "Remove a forwarding rule",
	Long:  `Remove a rule by ID. Use 'relayctl list' to see rule IDs.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(ctx context.Context, st *store.Store) error {
			err := st.Remove(ctx, removeID)
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("no rule with ID %s", removeID)
			}
			if err != nil {
				return err
			}
			fmt.Printf("Rule removed: %s\n", removeID)
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(removeCmd)

	removeCmd.Flags().StringVar(&removeID, "id", "", "ID of the rule to remove")
	removeCmd.MarkFlagRequired("id")
}
