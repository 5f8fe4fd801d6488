package cmd

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"scuffedchat/config"
	"scuffedchat/database"
	"scuffedchat/handlers"
)

const shutdownTimeout = 5 * time.Second

var devserverCmd = &cobra.Command{
	Use:   "devserver",
	Short: "Run a local chat backend with SQLite storage",
	Long: `devserver serves the login, upload and real-time endpoints the client talks
to. On an empty database it creates user1..user4 (password pass123), all
friends with each other.`,
	Args: cobra.NoArgs,
	RunE: runDevserver,
}

func init() {
	flags := devserverCmd.Flags()
	flags.String("port", "", "listen port (env PORT)")
	flags.String("db", "", "SQLite database file (env DATABASE_PATH)")
	flags.String("upload-dir", "", "directory for uploaded files (env UPLOAD_DIR)")

	_ = v.BindPFlag(config.KeyPort, flags.Lookup("port"))
	_ = v.BindPFlag(config.KeyDatabasePath, flags.Lookup("db"))
	_ = v.BindPFlag(config.KeyUploadDir, flags.Lookup("upload-dir"))
}

func runDevserver(cmd *cobra.Command, _ []string) error {
	cfg, err := config.ServerFrom(v)
	if err != nil {
		return err
	}

	// Cancellation context for graceful shutdown
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := database.Open(cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer store.Close()
	if cfg.SeedUsers {
		if err := store.Seed(database.PresetUsers); err != nil {
			return errors.Wrap(err, "seed users")
		}
	}

	srv := handlers.NewServer(store, cfg)
	go srv.Run(ctx)

	httpSrv := &http.Server{
		Addr:              net.JoinHostPort("", cfg.Port),
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		log.Info().Str("addr", httpSrv.Addr).Str("db", cfg.DatabasePath).Msg("[devserver] listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		if err != nil {
			return errors.Wrap(err, "serve")
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Msg("[devserver] shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("[devserver] shutdown")
	}
	return nil
}
