package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/chzyer/readline"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/cinephile-gpt/server/internal/agent/graph"
	"github.com/cinephile-gpt/server/internal/agent/model"
	"github.com/cinephile-gpt/server/internal/seed"
	logx "github.com/cinephile-gpt/server/pkg/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		envFile string
		cfg     *AppConfig
	)

	root := &cobra.Command{
		Use:          "cinephile",
		Short:        "CinephileGPT - a movie assistant over the IMDb top 1000",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			cfg, err = loadConfig(envFile)
			return err
		},
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file to load before reading the environment")

	root.AddCommand(newChatCmd(&cfg), newSeedCmd(&cfg))
	return root
}

func newChatCmd(cfg **AppConfig) *cobra.Command {
	var sessionID string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			b, err := openBackends(ctx, *cfg)
			if err != nil {
				return err
			}
			defer b.Close()

			runner, err := newRunner(ctx, *cfg, b)
			if err != nil {
				return fmt.Errorf("failed to build graph: %w", err)
			}
			if sessionID == "" {
				sessionID = uuid.NewString()
			}
			return repl(ctx, runner, sessionID)
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "session id to resume (a new UUID by default)")
	return cmd
}

func repl(ctx context.Context, runner graph.Runner, sessionID string) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "you> ",
		HistoryFile:     filepath.Join(os.TempDir(), ".cinephile_history"),
		InterruptPrompt: "^C",
		EOFPrompt:       "bye",
	})
	if err != nil {
		return err
	}
	defer rl.Close()

	out := rl.Stdout()
	fmt.Fprintf(out, "CinephileGPT ready (session %s). /reset clears the conversation, /exit quits.\n", sessionID)

	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if line == "" {
				return nil
			}
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		query := strings.TrimSpace(line)
		switch query {
		case "":
			continue
		case "/exit", "/quit":
			return nil
		case "/reset":
			if err := runner.Reset(ctx, sessionID); err != nil {
				logx.Error().Err(err).Str("session_id", sessionID).Msg("Failed to reset session")
				continue
			}
			fmt.Fprintln(out, "Conversation cleared.")
			continue
		}

		reply, err := runner.Chat(ctx, model.TurnInput{SessionID: sessionID, Query: query})
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logx.Error().Err(err).Str("session_id", sessionID).Msg("Turn failed")
			fmt.Fprintln(out, "Sorry, something went wrong. Please try again.")
			continue
		}
		fmt.Fprintf(out, "cinephile> %s\n", reply.Content)
		if reply.RoundLimitReached {
			fmt.Fprintln(out, "(stopped early: tool round limit reached)")
		}
	}
}

func newSeedCmd(cfg **AppConfig) *cobra.Command {
	var (
		csvPath     string
		batchSize   int
		skipVectors bool
	)

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load the movie CSV into the SQL table and the Qdrant collection",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			c := *cfg

			movies, err := seed.ReadMoviesFile(csvPath)
			if err != nil {
				return fmt.Errorf("read %s: %w", csvPath, err)
			}
			logx.Info().Str("file", csvPath).Int("movies", len(movies)).Msg("Loaded movie CSV")

			if _, err := seed.SeedSQL(ctx, c.SQL, movies); err != nil {
				return err
			}
			if skipVectors {
				return nil
			}

			b, err := openBackends(ctx, c)
			if err != nil {
				return err
			}
			defer b.Close()

			_, err = seed.SeedVectors(ctx, seed.VectorTarget{
				Points:     b.qdrant,
				Embedder:   b.embedder,
				Collection: c.Qdrant.Collection,
				VectorSize: c.Qdrant.VectorSize,
				BatchSize:  batchSize,
			}, movies)
			return err
		},
	}
	cmd.Flags().StringVar(&csvPath, "csv", "data/imdb_top_1000.csv", "path to the IMDb top 1000 CSV export")
	cmd.Flags().IntVar(&batchSize, "batch", seed.DefaultBatchSize, "movies embedded per request")
	cmd.Flags().BoolVar(&skipVectors, "skip-vectors", false, "only load the SQL table")
	return cmd
}
