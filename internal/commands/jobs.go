package commands

import (
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mammoth-analytics/mammoth-go/jobs"
)

func newJobsCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and wait for background jobs",
	}
	cmd.AddCommand(newJobsGetCommand(a), newJobsWaitCommand(a))
	return cmd
}

// parseIDArgs accepts ids as separate arguments, comma separated, or both.
func parseIDArgs(args []string) ([]int64, error) {
	return jobs.ParseJobIDs(strings.Join(args, ","))
}

func newJobsGetCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "get <job-id>...",
		Short:   "Print the current state of jobs",
		Example: "  mammoth jobs get 101 102\n  mammoth jobs get 101,102",
		Args:    cobra.MinimumNArgs(1),
		RunE: a.run(func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDArgs(args)
			if err != nil {
				return err
			}
			if len(ids) == 1 {
				job, err := a.client.Jobs.GetJob(cmd.Context(), ids[0])
				if err != nil {
					return err
				}
				return printJSON(cmd, job)
			}
			list, err := a.client.Jobs.GetJobs(cmd.Context(), ids)
			if err != nil {
				return err
			}
			return printJSON(cmd, list)
		}),
	}
}

type waitOptions struct {
	timeout time.Duration
	poll    time.Duration
}

func (o waitOptions) jobOptions() []jobs.WaitOption {
	var opts []jobs.WaitOption
	if o.timeout > 0 {
		opts = append(opts, jobs.WithTimeout(o.timeout))
	}
	if o.poll > 0 {
		opts = append(opts, jobs.WithPollInterval(o.poll))
	}
	return opts
}

func addWaitFlags(cmd *cobra.Command, o *waitOptions) {
	cmd.Flags().DurationVar(&o.timeout, "timeout", 0, "How long to wait for jobs (default from config)")
	cmd.Flags().DurationVar(&o.poll, "poll", 0, "Poll interval (default from config)")
}

func newJobsWaitCommand(a *app) *cobra.Command {
	opts := &waitOptions{}

	cmd := &cobra.Command{
		Use:   "wait <job-id>...",
		Short: "Wait until jobs finish and print their final state",
		Long: `Polls the given jobs until all of them succeed. Exits with an error as soon
as one fails or when the timeout passes.`,
		Args: cobra.MinimumNArgs(1),
		RunE: a.run(func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDArgs(args)
			if err != nil {
				return err
			}
			if len(ids) == 1 {
				job, err := a.client.Jobs.WaitForJob(cmd.Context(), ids[0], opts.jobOptions()...)
				if err != nil {
					return err
				}
				return printJSON(cmd, job)
			}
			done, err := a.client.Jobs.WaitForJobs(cmd.Context(), ids, opts.jobOptions()...)
			if err != nil {
				return err
			}
			return printJSON(cmd, done)
		}),
	}
	addWaitFlags(cmd, opts)
	return cmd
}
