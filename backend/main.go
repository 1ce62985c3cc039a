package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"gitea.kood.tech/petrkubec/match-round/backend/matching"
)

var (
	cfgFile  string
	settings = newViper()

	rootCmd = &cobra.Command{
		Use:           app,
		Short:         "match-round pairs the weekly matching pool and notifies the pairs",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "a config file (default is match-round.yaml in current directory)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "verbose/debug output")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "json format for logging")
	rootCmd.PersistentFlags().String("database-url", "", "postgres connection string")

	_ = settings.BindPFlag("log.debug", rootCmd.PersistentFlags().Lookup("debug"))
	_ = settings.BindPFlag("log.json", rootCmd.PersistentFlags().Lookup("json"))
	_ = settings.BindPFlag("database-url", rootCmd.PersistentFlags().Lookup("database-url"))

	rootCmd.AddCommand(serveCmd, runRoundCmd, roundKeyCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// deps is everything built from the configuration.
type deps struct {
	cfg       *Config
	log       *zap.Logger
	db        *sql.DB
	hub       *Hub
	directory *contactDirectory
	notifier  *fanout
	matcher   *matching.Matcher
}

func bootstrap(ctx context.Context) (*deps, error) {
	cfg, err := loadConfig(settings, cfgFile)
	if err != nil {
		return nil, err
	}
	log, err := newLogger(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	if cfg.JWTSecret == "" {
		log.Warn("jwt-secret not set, using an insecure development secret")
		cfg.JWTSecret = "dev-secret-change-me"
	}
	jwtSecret = []byte(cfg.JWTSecret)

	db, err := openDB(ctx, cfg.DatabaseURL, log)
	if err != nil {
		return nil, err
	}

	hub := newHub(log.Named("hub"))
	channels := []channel{hub}
	if cfg.SMTP.Host != "" {
		channels = append(channels, newMailer(cfg.SMTP, cfg.SiteURL, cfg.Notify.Breaker, log.Named("smtp")))
	} else {
		log.Info("smtp.host not set, email notifications disabled")
	}
	notifier := newFanout(channels...)
	directory := newContactDirectory(db)

	matcher := matching.New(newPGRepository(db), cfg.matcherConfig(),
		matching.WithLogger(log.Named("matcher")),
		matching.WithNotifier(notifier, directory),
		matching.WithIDGenerator(uuid.NewString),
	)

	return &deps{
		cfg:       cfg,
		log:       log,
		db:        db,
		hub:       hub,
		directory: directory,
		notifier:  notifier,
		matcher:   matcher,
	}, nil
}

func (d *deps) close() {
	_ = d.db.Close()
	_ = d.log.Sync()
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		d, err := bootstrap(ctx)
		if err != nil {
			return err
		}
		defer d.close()

		var bg sync.WaitGroup
		s := &server{
			db:       d.db,
			runner:   d.matcher,
			isAdmin:  dbAdminLookup(d.db),
			hub:      d.hub,
			cards:    d.directory,
			notifier: d.notifier,
			bg:       &bg,
			now:      time.Now,
			origins:  d.cfg.CORS.AllowedOrigins,
			log:      d.log,
		}
		srv := &http.Server{
			Addr:              d.cfg.ListenAddr,
			Handler:           s.routes(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			d.log.Info("listening", zap.String("addr", srv.Addr))
			errCh <- srv.ListenAndServe()
		}()

		select {
		case err := <-errCh:
			if !errors.Is(err, http.ErrServerClosed) {
				return err
			}
		case <-ctx.Done():
			d.log.Info("shutting down")
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			d.log.Warn("shutdown", zap.Error(err))
		}
		d.matcher.Wait()
		bg.Wait()
		return nil
	},
}
