package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/KeyResolver-0924/Plateful-sub000/common/database"
	logpkg "github.com/KeyResolver-0924/Plateful-sub000/common/logger"
	rediscommon "github.com/KeyResolver-0924/Plateful-sub000/common/redis"
	"github.com/KeyResolver-0924/Plateful-sub000/internal/config"
	"github.com/KeyResolver-0924/Plateful-sub000/internal/repository"
	"github.com/KeyResolver-0924/Plateful-sub000/internal/service"

	"github.com/go-redis/redis/v8"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app 命令执行时按需建立的依赖
type app struct {
	cfg    *config.Config
	logger *zap.Logger
	db     *sql.DB
	redis  *redis.Client
}

func loadApp(withDB, withRedis bool) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger, err := logpkg.NewLogger(cfg.Log.Level, "console", "platectl")
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	a := &app{cfg: cfg, logger: logger}
	if withDB {
		a.db, err = database.NewPostgresDB(&cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
	}
	if withRedis {
		a.redis = rediscommon.NewRedisClient(&cfg.Redis)
		if err := rediscommon.Ping(context.Background(), a.redis); err != nil {
			a.close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
	}
	return a, nil
}

func (a *app) close() {
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
	_ = a.logger.Sync()
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "platectl",
		Short:         "Plateful pipeline operator tool",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newMigrateCmd())
	root.AddCommand(newSeedCmd())
	root.AddCommand(newReplayCmd())
	root.AddCommand(newEvaluateCmd())
	root.AddCommand(newInspectCmd())
	root.AddCommand(newPurgeCmd())
	return root
}

func newMigrateCmd() *cobra.Command {
	migrateCmd := &cobra.Command{Use: "migrate", Short: "Apply or roll back schema migrations"}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp(true, false)
			if err != nil {
				return err
			}
			defer a.close()

			if err := database.MigrateUp(a.db); err != nil {
				return err
			}
			return printVersion(cmd, a.db)
		},
	}

	var steps int
	downCmd := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if steps <= 0 {
				return fmt.Errorf("--steps must be positive")
			}
			a, err := loadApp(true, false)
			if err != nil {
				return err
			}
			defer a.close()

			if err := database.MigrateDown(a.db, steps); err != nil {
				return err
			}
			return printVersion(cmd, a.db)
		},
	}
	downCmd.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back")

	migrateCmd.AddCommand(upCmd, downCmd)
	return migrateCmd
}

func printVersion(cmd *cobra.Command, db *sql.DB) error {
	version, dirty, err := database.Version(db)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "schema version=%d dirty=%t\n", version, dirty)
	return nil
}

func readFixture(path string) (*Fixture, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return LoadFixture(f)
}

func newSeedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed <file.yaml>",
		Short: "Load foods, meals and food items from a fixture",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fixture, err := readFixture(args[0])
			if err != nil {
				return err
			}
			a, err := loadApp(true, false)
			if err != nil {
				return err
			}
			defer a.close()

			ctx := cmd.Context()
			foods := repository.NewFoodRepository(a.db, a.logger)
			meals := repository.NewMealRepository(a.db, a.logger)

			for i := range fixture.Foods {
				if err := foods.UpsertFood(ctx, &fixture.Foods[i]); err != nil {
					return err
				}
			}
			items := 0
			for i := range fixture.Meals {
				m := &fixture.Meals[i]
				if err := meals.UpsertMeal(ctx, &m.Meal); err != nil {
					return err
				}
				for j := range m.FoodItems {
					if err := meals.UpsertFoodItem(ctx, &m.FoodItems[j]); err != nil {
						return err
					}
					items++
				}
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "seeded foods=%d meals=%d food_items=%d\n",
				len(fixture.Foods), len(fixture.Meals), items)
			return nil
		},
	}
}

func newReplayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "replay <file.yaml>",
		Short: "Publish fixture readings onto the reading stream",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fixture, err := readFixture(args[0])
			if err != nil {
				return err
			}
			a, err := loadApp(false, true)
			if err != nil {
				return err
			}
			defer a.close()

			ids, err := Replay(cmd.Context(), a.redis, a.cfg.Streams.Readings, fixture.Events(time.Now()))
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "published %d readings to %s\n", len(ids), a.cfg.Streams.Readings)
			return err
		},
	}
}

func newEvaluateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "evaluate <meal_id>",
		Short: "Re-run meal completion evaluation in a transaction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(true, true)
			if err != nil {
				return err
			}
			defer a.close()

			processor := service.NewProcessor(a.cfg, a.db, a.redis, a.logger)
			res, err := processor.Reevaluate(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return writeYAML(cmd.OutOrStdout(), newEvaluationView(res))
		},
	}
}

func newInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <meal_id>",
		Short: "Show a meal with its sections, food items and analytics triggers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(true, false)
			if err != nil {
				return err
			}
			defer a.close()

			report, err := BuildMealReport(cmd.Context(),
				repository.NewMealRepository(a.db, a.logger),
				repository.NewAnalyticsTriggerRepository(a.db, a.logger),
				args[0])
			if err != nil {
				return err
			}
			return writeYAML(cmd.OutOrStdout(), report)
		},
	}
}

func newPurgeCmd() *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete reading dedup records older than a cutoff",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if olderThan <= 0 {
				return fmt.Errorf("--older-than must be positive")
			}
			a, err := loadApp(true, false)
			if err != nil {
				return err
			}
			defer a.close()

			n, err := repository.NewMealRepository(a.db, a.logger).
				PurgeProcessedReadings(cmd.Context(), time.Now().Add(-olderThan))
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "purged %d processed readings\n", n)
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "age of dedup records to delete")
	return cmd
}
