package commands

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/haivivi/faceid/go/pkg/cli"
	"github.com/haivivi/faceid/go/pkg/faceid"
)

var flagIdentitiesJQ string

// identityList renders gallery listings as a table. Embeddings are left
// out; use 'identities get' for the full record.
type identityList []*faceid.Identity

func (identityList) TableHeader() []string {
	return []string{"ID", "NAME", "CAPTURES", "REGISTERED"}
}

func (l identityList) TableRows() [][]string {
	rows := make([][]string, len(l))
	for i, ident := range l {
		rows[i] = []string{
			ident.ID,
			ident.Name,
			strconv.Itoa(ident.CaptureCount),
			ident.RegisteredAt.Time().Format(time.RFC3339),
		}
	}
	return rows
}

var identitiesCmd = &cobra.Command{
	Use:     "identities",
	Aliases: []string{"ids"},
	Short:   "Manage enrolled identities",
	Long: `List, inspect, and delete enrolled identities in the gallery.

The --jq flag filters the JSON form of any output, e.g.:

  faceid identities list --jq '.[].id'
  faceid identities get u-42 --jq '.captureCount'`,
}

var identitiesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all enrolled identities",
	RunE: func(cmd *cobra.Command, args []string) error {
		cliCtx, err := getContextOrDefault()
		if err != nil {
			return err
		}

		store, closeStore, err := openGallery(cliCtx)
		if err != nil {
			return err
		}
		defer closeStore()

		identities, err := store.Identities(context.Background())
		if err != nil {
			return fmt.Errorf("load gallery: %w", err)
		}

		if flagIdentitiesJQ != "" {
			return cli.ApplyJQ(os.Stdout, flagIdentitiesJQ, identities)
		}
		if len(identities) == 0 {
			fmt.Println("No identities enrolled")
			return nil
		}
		return outputListResult(identityList(identities), getOutputFile(), isJSONOutput())
	},
}

var identitiesGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show one identity, descriptors included",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cliCtx, err := getContextOrDefault()
		if err != nil {
			return err
		}

		store, closeStore, err := openGallery(cliCtx)
		if err != nil {
			return err
		}
		defer closeStore()

		ident, err := store.Identity(context.Background(), args[0])
		if err != nil {
			return err
		}

		if flagIdentitiesJQ != "" {
			return cli.ApplyJQ(os.Stdout, flagIdentitiesJQ, ident)
		}
		return outputResult(ident, getOutputFile(), isJSONOutput())
	},
}

var identitiesDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete an enrolled identity",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cliCtx, err := getContextOrDefault()
		if err != nil {
			return err
		}

		store, closeStore, err := openGallery(cliCtx)
		if err != nil {
			return err
		}
		defer closeStore()

		if err := store.Delete(context.Background(), args[0]); err != nil {
			return err
		}

		cli.PrintSuccess("Identity %q deleted", args[0])
		return nil
	},
}

func init() {
	identitiesCmd.PersistentFlags().StringVar(&flagIdentitiesJQ, "jq", "", "jq expression applied to the JSON output")

	identitiesCmd.AddCommand(identitiesListCmd)
	identitiesCmd.AddCommand(identitiesGetCmd)
	identitiesCmd.AddCommand(identitiesDeleteCmd)
}
