package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"live-quiz-scheduler/internal/app"
	"live-quiz-scheduler/internal/config"
	infraredis "live-quiz-scheduler/internal/infra/redis"
)

// NewCacheCmd groups administrative operations on the shared session cache.
func NewCacheCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or reset the shared quiz session cache",
	}
	cmd.AddCommand(newCacheClearCmd(configPath))
	return cmd
}

func newCacheClearCmd(configPath *string) *cobra.Command {
	var (
		quizID string
		all    bool
	)
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Drop cached sessions; unsaved submissions in them are lost",
		RunE: func(cmd *cobra.Command, args []string) error {
			if (quizID == "") == !all {
				return errors.New("pass exactly one of --quiz or --all")
			}
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			if cfg.Redis.Addr == "" {
				return errors.New("redis.addr not configured; an in-memory cache only lives inside the server")
			}
			client := newRedisClient(cfg)
			defer client.Close()

			service := app.NewQuizScheduleService(app.Deps{
				Sessions: infraredis.NewSessionStore(client, 0),
				Logger:   newLogger(cfg),
			})
			if all {
				return service.ClearAllCaches(cmd.Context())
			}
			if err := service.ClearCache(cmd.Context(), quizID); err != nil {
				return fmt.Errorf("clear quiz %s: %w", quizID, err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&quizID, "quiz", "", "quiz id whose cache is dropped")
	cmd.Flags().BoolVar(&all, "all", false, "drop every quiz cache")
	return cmd
}
