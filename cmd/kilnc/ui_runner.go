package main

import (
	"context"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"kiln/internal/config"
	"kiln/internal/driver"
	"kiln/internal/ui"
)

type compileOutcome struct {
	result *driver.Result
	err    error
}

func runCompileWithUI(ctx context.Context, imagePath string, opts *config.Options, dopts driver.Options) (*driver.Result, error) {
	methods, err := driver.MethodNames(imagePath)
	if err != nil {
		return nil, err
	}

	events := make(chan driver.Event, 256)
	outcomeCh := make(chan compileOutcome, 1)

	go func() {
		doptsCopy := dopts
		doptsCopy.Sink = driver.ChannelSink{Ch: events}
		res, err := driver.CompileImage(ctx, imagePath, opts, doptsCopy)
		outcomeCh <- compileOutcome{result: res, err: err}
		close(events)
	}()

	model := ui.NewProgressModel("compile "+imagePath, methods, events)
	program := tea.NewProgram(model, tea.WithOutput(os.Stdout))
	_, uiErr := program.Run()
	outcome := <-outcomeCh
	if uiErr != nil {
		return outcome.result, uiErr
	}
	return outcome.result, outcome.err
}
