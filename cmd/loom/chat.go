package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/cirkelline-ai/loom/pkg/client"
	"github.com/cirkelline-ai/loom/pkg/engine"
	"github.com/cirkelline-ai/loom/pkg/runctl"
	"github.com/cirkelline-ai/loom/pkg/transcript"
)

func newChatCommand() *cobra.Command {
	var message string
	var sessionID string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Send a message and stream the reconstructed transcript",
		RunE: func(cmd *cobra.Command, args []string) error {
			if message == "" {
				return errors.New("--message is required")
			}
			return runChat(cmd.Context(), message, sessionID)
		},
	}
	cmd.Flags().StringVarP(&message, "message", "m", "", "user message to send")
	cmd.Flags().StringVar(&sessionID, "session", "", "continue an existing session")
	return cmd
}

func runChat(ctx context.Context, message, sessionID string) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend := client.NewClient(
		viper.GetString("server"),
		client.WithTeamID(viper.GetString("team-id")),
		client.WithUserID(viper.GetString("user-id")),
	)

	renderer := newRenderer(os.Stdout)
	eng := engine.New(
		engine.WithBuilder(transcript.NewBuilder(
			transcript.WithStatusFunc(renderer.Status),
		)),
	)

	router, err := engine.NewEventRouter(engine.WithVerboseLogger())
	if err != nil {
		return errors.Wrap(err, "could not build event router")
	}
	defer func() { _ = router.Close() }()
	router.AttachEngine(eng)

	tracker := eng.Tracker()
	tracker.Begin("")
	canceller := runctl.NewCanceller(backend, eng.Builder(), tracker)
	eng.SubmitUser(message)

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	eg, egCtx := errgroup.WithContext(runCtx)
	eg.Go(func() error {
		return router.Run(egCtx)
	})
	eg.Go(func() error {
		defer cancelRun()
		select {
		case <-router.Running():
		case <-egCtx.Done():
			return egCtx.Err()
		}
		err := backend.Run(egCtx, client.RunRequest{Message: message, SessionID: sessionID}, router.PublishRaw)
		if err != nil && ctx.Err() != nil {
			// interrupted by the user: stop the run server-side too
			canceller.Cancel("")
			return nil
		}
		return err
	})

	if err := eg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	renderer.RenderTranscript(eng.Transcript())

	if entry, paused := pausedEntry(eng.Transcript()); paused {
		return resumeInteractively(ctx, backend, eng, router, entry)
	}
	return nil
}

func pausedEntry(entries []transcript.Entry) (transcript.Entry, bool) {
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].HITLPaused {
			return entries[i], true
		}
	}
	return transcript.Entry{}, false
}

// resumeInteractively prompts for the requested fields on stdin and resumes
// the paused run, streaming the remainder of the transcript.
func resumeInteractively(ctx context.Context, backend *client.Client, eng *engine.Engine, router *engine.EventRouter, entry transcript.Entry) error {
	fmt.Println(runctl.PausePrompt(entry.HITLRequirements))

	scanner := bufio.NewScanner(os.Stdin)
	answers := map[string]any{}
	for _, req := range entry.HITLRequirements {
		for _, field := range req.UserInputSchema {
			fmt.Printf("%s> ", field.Name)
			if !scanner.Scan() {
				return errors.New("input aborted")
			}
			answers[field.Name] = strings.TrimSpace(scanner.Text())
		}
	}

	// lift the freeze before streaming so the resumed events apply
	eng.Builder().ResumeRun(entry.HITLRunID)

	tools := runctl.FillAnswers(entry.HITLRequirements, answers)
	err := backend.ContinueRunStream(ctx, entry.HITLRunID, entry.HITLSessionID, tools, router.PublishRaw)
	if err != nil {
		return errors.Wrap(err, "could not resume run")
	}

	newRenderer(os.Stdout).RenderTranscript(eng.Transcript())
	log.Debug().Str("run_id", entry.HITLRunID).Msg("resumed run finished")
	return nil
}
