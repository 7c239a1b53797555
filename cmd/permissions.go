package cmd

import (
	"fmt"
	"strings"

	"github.com/frahmantamala/facilities-console/internal/permission"
	"github.com/spf13/cobra"
)

var permissionsCmd = &cobra.Command{
	Use:   "permissions",
	Short: "Inspect and refresh the operator's grants",
}

var permissionsSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Refetch grants from the facilities API",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		rt, err := newRuntime(ctx)
		if err != nil {
			return err
		}
		defer rt.close()

		if !rt.manager.IsAuthenticated() {
			return fmt.Errorf("not signed in, run `facilities login` first")
		}

		evaluator := permission.NewEvaluator(rt.client, rt.manager, rt.logger)
		grants, err := evaluator.Sync(ctx)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%d grants for role %s\n", len(grants), rt.manager.Current().Role())
		for _, g := range grants {
			fmt.Fprintf(out, "  %s\n", g)
		}
		return nil
	},
}

var permissionsCheckCmd = &cobra.Command{
	Use:   "check RESOURCE [ACTION]",
	Short: "Evaluate a permission against the cached grants",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := newRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.close()

		evaluator := permission.NewEvaluator(rt.client, rt.manager, rt.logger)
		evaluator.Load(rt.manager.Current().Permissions())

		query := strings.ToUpper(args[0])
		var allowed bool
		if len(args) == 1 {
			allowed = evaluator.HasResourcePermission(args[0])
		} else {
			query += ":" + strings.ToUpper(args[1])
			allowed = evaluator.HasPermission(args[0], args[1])
		}

		verdict := "denied"
		if allowed {
			verdict = "allowed"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", query, verdict)
		return nil
	},
}

func init() {
	permissionsCmd.AddCommand(permissionsSyncCmd)
	permissionsCmd.AddCommand(permissionsCheckCmd)
}
