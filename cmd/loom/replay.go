package main

import (
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/cirkelline-ai/loom/pkg/replay"
	"github.com/cirkelline-ai/loom/pkg/status"
)

func newReplayCommand() *cobra.Command {
	var fromFile string
	var membersFile string

	cmd := &cobra.Command{
		Use:   "replay <session-id>",
		Short: "Rebuild a stored session's transcript",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var raw []byte
			var err error
			switch {
			case fromFile != "":
				raw, err = os.ReadFile(fromFile)
				if err != nil {
					return errors.Wrap(err, "could not read run history file")
				}
			case len(args) == 1:
				raw, err = backendFromFlags().FetchRuns(cmd.Context(), args[0])
				if err != nil {
					return err
				}
			default:
				return errors.New("pass a session id or --file")
			}

			runs, err := replay.ParseRuns(raw)
			if err != nil {
				return err
			}

			opts := []replay.ReconstructorOption{}
			if membersFile != "" {
				dir, err := status.DirectoryFromFile(membersFile)
				if err != nil {
					return err
				}
				opts = append(opts, replay.WithDirectory(dir))
			}

			entries := replay.NewReconstructor(opts...).Rebuild(runs)
			newRenderer(os.Stdout).RenderTranscript(entries)
			return nil
		},
	}
	cmd.Flags().StringVar(&fromFile, "file", "", "read run history from a JSON file instead of the backend")
	cmd.Flags().StringVar(&membersFile, "members", "", "member roster YAML overriding the built-in one")
	return cmd
}
