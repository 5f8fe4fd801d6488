package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"scuffedchat/api"
	"scuffedchat/app"
	"scuffedchat/config"
	"scuffedchat/terminal"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start the terminal chat client (default)",
	Args:  cobra.NoArgs,
	RunE:  runChat,
}

func runChat(cmd *cobra.Command, _ []string) error {
	cfg, err := config.ClientFrom(v)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := api.NewClient(cfg.ServerURL)
	if err != nil {
		return err
	}
	ui := terminal.NewUI(os.Stdout, client.Resolve)
	ctrl := app.NewController(app.Options{
		Backend: client,
		UI:      ui,
	})

	loopCtx, stopLoop := context.WithCancel(ctx)
	loopDone := make(chan error, 1)
	go func() { loopDone <- ctrl.Run(loopCtx) }()

	log.Info().Str("server", cfg.ServerURL).Msg("[chat] starting")
	shellDone := make(chan error, 1)
	go func() { shellDone <- terminal.NewShell(ctrl, os.Stdin, os.Stdout).Run(ctx) }()

	// A blocked stdin read must not delay shutdown on a signal.
	var shellErr error
	select {
	case shellErr = <-shellDone:
	case <-ctx.Done():
	}

	// Stopping the loop tears the session down and closes the channel.
	stopLoop()
	<-loopDone
	return shellErr
}
