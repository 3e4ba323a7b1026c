package commands

import (
	"github.com/spf13/cobra"

	"github.com/mammoth-analytics/mammoth-go/exports"
)

func newExportsCommand(a *app) *cobra.Command {
	var (
		target exports.Target
		list   exports.ListOptions
		status string
	)

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List the exports of a dataview pipeline",
		Args:  cobra.NoArgs,
		RunE: a.run(func(cmd *cobra.Command, _ []string) error {
			w, p, err := a.workspace(target.WorkspaceID, target.ProjectID)
			if err != nil {
				return err
			}
			t := target
			t.WorkspaceID, t.ProjectID = w, p
			list.Status = exports.Status(status)

			page, err := a.client.Exports.List(cmd.Context(), t, list)
			if err != nil {
				return err
			}
			return printJSON(cmd, page)
		}),
	}

	addWorkspaceFlags(listCmd, &target.WorkspaceID, &target.ProjectID)
	listCmd.Flags().Int64Var(&target.DatasetID, "dataset", 0, "Dataset id")
	listCmd.Flags().Int64Var(&target.DataviewID, "dataview", 0, "Dataview id")
	listCmd.Flags().StringVar(&status, "status", "", "Only exports in this status")
	listCmd.Flags().IntVar(&list.Limit, "limit", 0, "Page size, at most 100")
	listCmd.Flags().IntVar(&list.Offset, "offset", 0, "Exports to skip")
	_ = listCmd.MarkFlagRequired("dataset")
	_ = listCmd.MarkFlagRequired("dataview")

	cmd := &cobra.Command{
		Use:   "exports",
		Short: "Inspect dataview pipeline exports",
	}
	cmd.AddCommand(listCmd)
	return cmd
}
