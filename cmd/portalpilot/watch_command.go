package main

import (
	"errors"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"portalpilot/internal/api"
	"portalpilot/internal/ipc"
)

func newWatchCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Interactive live view of the engine with run controls",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				program := tea.NewProgram(
					newWatchModel(ipcWatchBackend{client: client}),
					tea.WithAltScreen(),
					tea.WithContext(cmd.Context()),
					tea.WithOutput(cmd.OutOrStdout()),
				)
				final, err := program.Run()
				if err != nil && !errors.Is(err, tea.ErrProgramKilled) {
					return err
				}
				if m, ok := final.(watchModel); ok && m.fatalErr != nil {
					return m.fatalErr
				}
				return nil
			})
		},
	}
}

// watchBackend is the daemon surface the watch view drives.
type watchBackend interface {
	Status() (api.DaemonStatus, error)
	Control(action string, approved bool) (ipc.ControlResponse, error)
}

type ipcWatchBackend struct {
	client *ipc.Client
}

func (b ipcWatchBackend) Status() (api.DaemonStatus, error) {
	resp, err := b.client.Status()
	if err != nil {
		return api.DaemonStatus{}, err
	}
	return resp.Status, nil
}

func (b ipcWatchBackend) Control(action string, approved bool) (ipc.ControlResponse, error) {
	resp, err := b.client.Control(action, approved)
	if err != nil {
		return ipc.ControlResponse{}, err
	}
	return *resp, nil
}
