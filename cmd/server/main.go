package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/RichardoC/padchat/internal/api"
	"github.com/RichardoC/padchat/internal/attachment"
	"github.com/RichardoC/padchat/internal/chat"
	"github.com/RichardoC/padchat/internal/config"
	"github.com/RichardoC/padchat/internal/db"
	"github.com/RichardoC/padchat/internal/llm"
	"github.com/RichardoC/padchat/internal/logging"
	"github.com/RichardoC/padchat/internal/models"
)

const shutdownTimeout = 10 * time.Second

func main() {
	rootCmd := &cobra.Command{
		Use:           "padchat",
		Short:         "Streaming chat with a hosted generative model",
		RunE:          runServe,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.String("backend", llm.BackendGemini, "Model backend (gemini, openai, mock)")
	flags.StringP("model", "m", llm.DefaultModel, "Model name")
	flags.String("base-url", "", "Endpoint override for the openai backend")
	flags.String("db-path", "padchat.db", "Turn ledger database, empty to disable")
	flags.Bool("debug", false, "Enable debug logging")

	rootCmd.AddCommand(serveCmd(), askCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the chat page over HTTP",
		RunE:  runServe,
	}
	cmd.Flags().String("addr", ":8100", "Listen address")
	return cmd
}

func askCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ask <text>",
		Short: "Send one turn and print the streamed reply",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runAsk,
	}
	cmd.Flags().StringP("image", "i", "", "Image file to attach")
	return cmd
}

// app holds what both commands share.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	database *db.Database
}

func setup(cmd *cobra.Command) (*app, error) {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.Debug)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}

	a := &app{cfg: cfg, logger: logger}
	if cfg.DBPath != "" {
		a.database, err = db.New(cfg.DBPath)
		if err != nil {
			_ = logger.Sync()
			return nil, fmt.Errorf("open turn ledger %s: %w", cfg.DBPath, err)
		}
	}
	return a, nil
}

func (a *app) controller(ctx context.Context) *chat.Controller {
	cfg := chat.Config{Greeting: a.cfg.Greeting, Logger: a.logger}
	if a.database != nil {
		cfg.Recorder = a.database
	}
	return chat.New(ctx, llm.NewFactory(a.cfg.LLMOptions()), cfg)
}

func (a *app) close() error {
	var err error
	if a.database != nil {
		err = multierr.Append(err, a.database.Close())
	}
	// Sync fails on terminals; that is not worth reporting.
	_ = a.logger.Sync()
	return err
}

func runServe(cmd *cobra.Command, _ []string) (err error) {
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, a.close()) }()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	controller := a.controller(ctx)

	var turns api.TurnLedger
	if a.database != nil {
		turns = a.database
	}
	srv := &http.Server{
		Addr:              a.cfg.Addr,
		Handler:           api.NewHandler(controller, turns, a.logger).Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("Starting server",
			zap.String("addr", a.cfg.Addr),
			zap.String("backend", a.cfg.Backend),
			zap.Bool("available", controller.Available()))
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	a.logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func runAsk(cmd *cobra.Command, args []string) (err error) {
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, a.close()) }()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	turn := chat.Turn{}
	if len(args) > 0 {
		turn.Text = args[0]
	}
	if path, _ := cmd.Flags().GetString("image"); path != "" {
		part, err := attachment.EncodeFile(path)
		if err != nil {
			return err
		}
		turn.Image = &chat.Image{Part: &part}
	}

	controller := a.controller(ctx)
	if !controller.Available() {
		return fmt.Errorf("%s: %w", controller.State().Error.Message, controller.BootstrapErr())
	}

	// Frames carry the whole reply so far; print only what is new.
	out := cmd.OutOrStdout()
	var printed string
	turn.Observe = func(f chat.Frame) {
		last, ok := f.Conversation.Last()
		if !ok || last.Role != models.RoleModel || f.Conversation.Streaming == "" {
			return
		}
		text := last.Parts[0].Text
		if len(text) > len(printed) {
			fmt.Fprint(out, text[len(printed):])
			printed = text
		}
	}

	outcome := controller.SendTurn(ctx, turn)
	if printed != "" && !strings.HasSuffix(printed, "\n") {
		fmt.Fprintln(out)
	}

	switch outcome {
	case chat.OutcomeCompleted:
		return nil
	case chat.OutcomeSkipped:
		return errors.New("nothing to send: give some text or an image")
	default:
		return errors.New(controller.State().Error.Message)
	}
}
