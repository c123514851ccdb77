package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ekisa-team/audiogen/internal/app"
	"github.com/ekisa-team/audiogen/internal/generation"
	"github.com/ekisa-team/audiogen/internal/model"
)

var flagDuration int

var generateCmd = &cobra.Command{
	Use:   "generate <music|sfx> <prompt...>",
	Short: "Generate one clip without starting the server",
	Example: `  audiogen generate music calm piano melody --duration 8
  audiogen generate sfx "dog barking"`,
	Args: cobra.MinimumNArgs(2),
	RunE: runGenerate,
}

func init() {
	generateCmd.Flags().IntVarP(&flagDuration, "duration", "d", 0, "clip length in seconds (default: task default)")
}

type generateOutput struct {
	Task            model.Task `json:"task"`
	Prompt          string     `json:"prompt"`
	Path            string     `json:"path"`
	Filename        string     `json:"filename"`
	SampleRate      int        `json:"sample_rate"`
	DurationSeconds float64    `json:"duration_seconds"`
}

func runGenerate(cmd *cobra.Command, args []string) error {
	task, err := model.ParseTask(args[0])
	if err != nil {
		return err
	}
	prompt := strings.Join(args[1:], " ")
	duration := flagDuration
	if duration == 0 {
		duration = task.DefaultDuration()
	}

	disabled := false
	for name, mc := range cfg.Models {
		if name != string(task) {
			mc.Enabled = &disabled
			cfg.Models[name] = mc
		}
	}
	cfg.Startup.FailFast = true

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := app.New(cfg, app.WithLogger(slog.Default()), app.WithEnvironment(environment), app.WithoutIndex())
	if err := a.Initialize(ctx); err != nil {
		return err
	}

	res, err := generate(ctx, a, generation.Request{Task: task, Prompt: prompt, Duration: duration})
	return errors.Join(err, a.Shutdown(), printResult(cmd, res))
}

func generate(ctx context.Context, a *app.App, req generation.Request) (*generation.Result, error) {
	svc, err := a.Service()
	if err != nil {
		return nil, err
	}
	return svc.Generate(ctx, req)
}

func printResult(cmd *cobra.Command, res *generation.Result) error {
	if res == nil {
		return nil
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(generateOutput{
		Task:            res.Task,
		Prompt:          res.Prompt,
		Path:            res.Artifact.Path,
		Filename:        res.Artifact.Filename,
		SampleRate:      res.Artifact.SampleRate,
		DurationSeconds: res.Artifact.DurationSeconds,
	}); err != nil {
		return fmt.Errorf("failed to write result: %w", err)
	}
	return nil
}
