package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"trivia-session-service/internal/domain"
	"trivia-session-service/internal/infra/memory"
	"trivia-session-service/internal/infra/postgres"
)

// NewSeedCmd loads questions into Postgres.
func NewSeedCmd(configPath *string) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Seed the question bank (embedded defaults or a YAML file)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			questions, err := seedQuestions(file)
			if err != nil {
				return err
			}

			db, err := openBunDB(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := migrateDB(cmd.Context(), db, logger); err != nil {
				return err
			}
			n, err := postgres.SeedQuestions(cmd.Context(), db, questions)
			if err != nil {
				return err
			}
			logger.WithField("questions", n).Info("question bank seeded")
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "YAML question list (defaults to the embedded bank)")
	return cmd
}

func seedQuestions(file string) ([]domain.Question, error) {
	if file == "" {
		return memory.DefaultQuestions()
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", file, err)
	}
	return memory.ParseQuestions(data)
}
