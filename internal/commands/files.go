package commands

import (
	"github.com/spf13/cobra"

	"github.com/mammoth-analytics/mammoth-go/files"
)

func newFilesCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "files",
		Short: "Upload and list files",
	}
	cmd.AddCommand(newFilesUploadCommand(a), newFilesListCommand(a))
	return cmd
}

type uploadOptions struct {
	workspaceID int64
	projectID   int64
	folder      string
	appendTo    int64
	noWait      bool
	wait        waitOptions
}

type uploadOutput struct {
	Path      string `json:"path"`
	DatasetID *int64 `json:"dataset_id"`
}

func newFilesUploadCommand(a *app) *cobra.Command {
	opts := &uploadOptions{}

	cmd := &cobra.Command{
		Use:   "upload <path>...",
		Short: "Upload files and print the datasets they became",
		Example: `  mammoth files upload sales.csv
  mammoth files upload -w 1 -p 2 --append-to 77 q1.csv q2.csv`,
		Args: cobra.MinimumNArgs(1),
		RunE: a.run(func(cmd *cobra.Command, args []string) error {
			workspaceID, projectID, err := a.workspace(opts.workspaceID, opts.projectID)
			if err != nil {
				return err
			}

			ids, err := a.client.Files.UploadFiles(cmd.Context(), workspaceID, projectID, args, files.UploadOptions{
				FolderResourceID:  opts.folder,
				AppendToDatasetID: opts.appendTo,
				NoWait:            opts.noWait,
				Timeout:           opts.wait.timeout,
				PollInterval:      opts.wait.poll,
			})
			if err != nil {
				return err
			}
			if opts.noWait {
				return printJSON(cmd, map[string]any{"files": args, "waited": false})
			}

			out := make([]uploadOutput, len(args))
			for i, path := range args {
				out[i] = uploadOutput{Path: path, DatasetID: ids[i]}
			}
			return printJSON(cmd, out)
		}),
	}

	addWorkspaceFlags(cmd, &opts.workspaceID, &opts.projectID)
	cmd.Flags().StringVar(&opts.folder, "folder", "", "Folder resource id for the new datasets")
	cmd.Flags().Int64Var(&opts.appendTo, "append-to", 0, "Append rows to this dataset instead of creating one")
	cmd.Flags().BoolVar(&opts.noWait, "no-wait", false, "Return once the upload is accepted")
	addWaitFlags(cmd, &opts.wait)
	return cmd
}

func newFilesListCommand(a *app) *cobra.Command {
	var (
		workspaceID, projectID int64
		list                   files.ListOptions
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List files of a project",
		Args:  cobra.NoArgs,
		RunE: a.run(func(cmd *cobra.Command, _ []string) error {
			w, p, err := a.workspace(workspaceID, projectID)
			if err != nil {
				return err
			}
			page, err := a.client.Files.List(cmd.Context(), w, p, list)
			if err != nil {
				return err
			}
			return printJSON(cmd, page)
		}),
	}

	addWorkspaceFlags(cmd, &workspaceID, &projectID)
	cmd.Flags().StringVar(&list.Fields, "fields", "", "Field set: __min, __standard, __full or a comma separated list")
	cmd.Flags().StringSliceVar(&list.Statuses, "status", nil, "Only files with these statuses")
	cmd.Flags().IntVar(&list.Limit, "limit", 0, "Page size, at most 100")
	cmd.Flags().IntVar(&list.Offset, "offset", 0, "Files to skip")
	cmd.Flags().StringVar(&list.Sort, "sort", "", "Sort spec such as (id:desc)")
	return cmd
}
