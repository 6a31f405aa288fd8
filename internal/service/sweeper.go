// sweeper.go — фоновая очистка истёкших черновиков.
//
// Основной механизм истечения — ленивое удаление при чтении.
// Sweeper дополнительно вызывает Sweep хранилища с периодом
// TM_SWEEP_INTERVAL, чтобы истёкшие записи, которые никто не читает,
// не занимали место. Интервал 0 отключает фоновый запуск.
package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/trail-module/internal/repository"
)

// Prometheus метрики очистки
var (
	sweepRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tm_sweep_runs_total",
		Help: "Общее количество запусков очистки истёкших черновиков",
	})

	sweepRemovedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tm_sweep_removed_total",
		Help: "Общее количество черновиков, удалённых фоновой очисткой",
	})

	sweepErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tm_sweep_errors_total",
		Help: "Общее количество неудачных запусков очистки",
	})

	sweepDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tm_sweep_duration_seconds",
		Help:    "Длительность очистки истёкших черновиков в секундах",
		Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
	})
)

// SweepResult — результат одного запуска очистки.
type SweepResult struct {
	// Removed — количество удалённых черновиков
	Removed int
	// Duration — длительность выполнения
	Duration time.Duration
}

// Sweeper — периодическая очистка хранилища.
type Sweeper struct {
	repo     repository.DraftRepository
	interval time.Duration
	logger   *slog.Logger

	mu     sync.Mutex // защита от параллельного запуска RunOnce
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSweeper создаёт Sweeper.
func NewSweeper(repo repository.DraftRepository, interval time.Duration, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		repo:     repo,
		interval: interval,
		logger:   logger.With(slog.String("component", "sweeper")),
	}
}

// Start запускает фоновую горутину. При interval <= 0 ничего не делает.
func (s *Sweeper) Start(ctx context.Context) {
	if s.interval <= 0 {
		s.logger.Info("Фоновая очистка отключена, истёкшие черновики удаляются при чтении")
		return
	}

	sweepCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.run(sweepCtx)

	s.logger.Info("Фоновая очистка запущена",
		slog.String("interval", s.interval.String()),
	)
}

// Stop останавливает фоновую горутину и ждёт её завершения.
func (s *Sweeper) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.logger.Info("Фоновая очистка остановлена")
}

// run — основной цикл фоновой горутины.
func (s *Sweeper) run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = s.RunOnce(ctx)
		}
	}
}

// RunOnce выполняет одну очистку.
func (s *Sweeper) RunOnce(ctx context.Context) (*SweepResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	removed, err := s.repo.Sweep(ctx)
	result := &SweepResult{Removed: removed, Duration: time.Since(start)}

	sweepRunsTotal.Inc()
	sweepDurationSeconds.Observe(result.Duration.Seconds())

	if err != nil {
		sweepErrorsTotal.Inc()
		s.logger.Error("Ошибка очистки истёкших черновиков",
			slog.String("error", err.Error()),
		)
		return result, err
	}

	sweepRemovedTotal.Add(float64(removed))
	level := slog.LevelDebug
	if removed > 0 {
		level = slog.LevelInfo
	}
	s.logger.Log(ctx, level, "Очистка завершена",
		slog.Int("removed", result.Removed),
		slog.Duration("duration", result.Duration),
	)
	return result, nil
}
