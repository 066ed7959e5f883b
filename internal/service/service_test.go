package service

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/KeyResolver-0924/Plateful-sub000/internal/config"
	"github.com/KeyResolver-0924/Plateful-sub000/internal/consumer"
	"github.com/KeyResolver-0924/Plateful-sub000/internal/httpserver"
	"github.com/KeyResolver-0924/Plateful-sub000/internal/models"
	"github.com/KeyResolver-0924/Plateful-sub000/internal/pipeline"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testConfig(dedup bool) *config.Config {
	cfg := &config.Config{}
	cfg.Streams.Triggers = "analytics:triggers"
	cfg.Processor.SignificantChange = 0.5
	cfg.Processor.ItemThreshold = 80
	cfg.Processor.CompletionRatio = 80
	cfg.Processor.DedupEnabled = dedup
	cfg.Analytics.Location = time.UTC
	return cfg
}

func testEvent() models.ReadingEvent {
	return models.ReadingEvent{
		MealID: "meal-404",
		Reading: models.PlateReading{
			ReadingID:    "r-1",
			PlateSection: "protein",
			Weight:       10,
			Change:       -2,
			Timestamp:    time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC),
		},
	}
}

func TestNewProcessor_WiresStoreAndDedup(t *testing.T) {
	tests := []struct {
		name  string
		dedup bool
	}{
		{"dedup enabled", true},
		{"dedup disabled", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			require.NoError(t, err)
			defer db.Close()

			mr := miniredis.RunT(t)
			client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			defer client.Close()

			mock.ExpectBegin()
			if tt.dedup {
				mock.ExpectExec(`INSERT INTO processed_readings`).
					WithArgs("r-1", "meal-404", sqlmock.AnyArg()).
					WillReturnResult(sqlmock.NewResult(0, 1))
			}
			mock.ExpectQuery(`FROM meals WHERE meal_id = \$1 FOR UPDATE`).
				WithArgs("meal-404").
				WillReturnError(sql.ErrNoRows)
			mock.ExpectRollback()

			p := NewProcessor(testConfig(tt.dedup), db, client, zap.NewNop())
			_, err = p.Process(context.Background(), testEvent())

			assert.True(t, errors.Is(err, pipeline.ErrMealNotFound), "got %v", err)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestReadinessChecks(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	assert.NoError(t, redisCheck(client)(context.Background()))
	mr.Close()
	assert.Error(t, redisCheck(client)(context.Background()))

	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()
	mock.ExpectPing().WillReturnError(errors.New("connection refused"))
	assert.Error(t, databaseCheck(db)(context.Background()))
}

func TestWaitStopped_WaitsForRunningLoop(t *testing.T) {
	var running sync.WaitGroup
	var exited atomic.Bool

	running.Add(1)
	go func() {
		time.Sleep(30 * time.Millisecond)
		exited.Store(true)
		running.Done()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	waitStopped(ctx, &running, zap.NewNop())
	assert.True(t, exited.Load(), "resources must not be closed while the loop is running")
}

func TestWaitStopped_GivesUpAtDeadline(t *testing.T) {
	var running sync.WaitGroup
	running.Add(1)
	defer running.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	waitStopped(ctx, &running, zap.NewNop())
	assert.Less(t, time.Since(start), time.Second)
}

func TestProcessorService_StopAfterConsumerExits(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	mock.ExpectClose()

	cfg := testConfig(false)
	cfg.Streams.Readings = "plate:readings:stream"
	cfg.Streams.DeadLetter = "plate:readings:dead"
	cfg.Processor.ConsumerGroup = "processor-group"
	cfg.Processor.ConsumerName = "processor-1"
	cfg.Processor.BatchSize = 10
	cfg.Processor.Block = 20 * time.Millisecond
	cfg.Processor.ClaimMinIdle = time.Minute

	logger := zap.NewNop()
	s := &ProcessorService{
		config:      cfg,
		logger:      logger,
		db:          db,
		redisClient: client,
		consumer:    consumer.NewReadingConsumer(cfg, client, NewProcessor(cfg, db, client, logger), logger),
		http:        httpserver.NewServer("127.0.0.1:0", http.NotFoundHandler(), logger),
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	// 消费者组建立后说明消费循环已在运行
	require.Eventually(t, func() bool { return mr.Exists(cfg.Streams.Readings) }, 2*time.Second, 10*time.Millisecond)
	cancel()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer stopCancel()
	require.NoError(t, s.Stop(stopCtx))
	assert.NoError(t, stopCtx.Err(), "stop should not need the full deadline")

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("processor service did not stop")
	}
	assert.NoError(t, mock.ExpectationsWereMet())
}
