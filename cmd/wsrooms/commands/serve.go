package commands

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/ramory-l/wsrooms/relay"
)

const shutdownTimeout = 5 * time.Second

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Runs a wsrooms relay",
	RunE:  runServer,
}

func init() {
	RootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringP("bind", "b", "127.0.0.1:8080", "Bind the relay to host:port. Leave host empty to bind to all interfaces.")
	viper.BindPFlag("server.bind", serveCmd.Flags().Lookup("bind"))
	serveCmd.Flags().String("path", "/ws", "HTTP path of the websocket endpoint")
	viper.BindPFlag("server.path", serveCmd.Flags().Lookup("path"))
	serveCmd.Flags().String("stats-path", "/stats", "HTTP path of the JSON stats endpoint (empty disables)")
	viper.BindPFlag("server.statsPath", serveCmd.Flags().Lookup("stats-path"))
	serveCmd.Flags().Duration("ping-interval", 25*time.Second, "How often peers are pinged (0 disables)")
	viper.BindPFlag("server.pingInterval", serveCmd.Flags().Lookup("ping-interval"))
	serveCmd.Flags().Duration("ping-timeout", 20*time.Second, "How long a pinged peer may stay silent")
	viper.BindPFlag("server.pingTimeout", serveCmd.Flags().Lookup("ping-timeout"))
	serveCmd.Flags().Int64("max-message-size", 1<<20, "Largest accepted message in bytes")
	viper.BindPFlag("server.maxMessageSize", serveCmd.Flags().Lookup("max-message-size"))
	serveCmd.Flags().Int("send-buffer", 256, "Messages queued per peer before it is dropped as slow")
	viper.BindPFlag("server.sendBuffer", serveCmd.Flags().Lookup("send-buffer"))
}

func runServer(cmd *cobra.Command, args []string) error {
	log, err := newLogger()
	if err != nil {
		return err
	}
	enc, err := encodingSetting()
	if err != nil {
		return err
	}

	config := relay.DefaultConfig()
	config.PingInterval = viper.GetDuration("server.pingInterval")
	config.PingTimeout = viper.GetDuration("server.pingTimeout")
	config.MaxMessageSize = viper.GetInt64("server.maxMessageSize")
	config.SendBuffer = viper.GetInt("server.sendBuffer")
	config.Encoding = enc
	config.Log = log
	server := relay.NewServer(config)

	mux := http.NewServeMux()
	mux.Handle(viper.GetString("server.path"), server)
	if statsPath := viper.GetString("server.statsPath"); statsPath != "" {
		mux.HandleFunc(statsPath, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(server.Stats())
		})
	}

	httpServer := &http.Server{
		Addr:    viper.GetString("server.bind"),
		Handler: mux,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.WithFields(logrus.Fields{
			"bind": httpServer.Addr,
			"path": viper.GetString("server.path"),
		}).Info("Starting wsrooms relay")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return errors.Wrap(err, "listen")
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		log.Info("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := httpServer.Shutdown(shutdownCtx)
		if cerr := server.Close(); err == nil {
			err = cerr
		}
		return err
	})

	return g.Wait()
}
