// Package service judges a batch of testcases for one run.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"fujudge/internal/judge/fixture"
	"fujudge/internal/judge/model"
	"fujudge/internal/judge/repository"
	"fujudge/internal/judge/sandbox"
	"fujudge/internal/judge/sandbox/checker"
	"fujudge/internal/judge/sandbox/engine"
	"fujudge/internal/judge/sandbox/observer"
	"fujudge/internal/judge/sandbox/result"
	"fujudge/internal/judge/sandbox/timer"
	appErr "fujudge/pkg/errors"
	"fujudge/pkg/utils/contextkey"
	"fujudge/pkg/utils/logger"

	"go.uber.org/zap"
)

// StatusStore persists run status.
type StatusStore interface {
	Save(ctx context.Context, status result.Summary) error
	Get(ctx context.Context, runID string) (result.Summary, error)
}

// Service judges runs. Each testcase gets its own timer, watcher and judger;
// the checker is shared.
type Service struct {
	checker        checker.Checker
	sampler        observer.Sampler
	sampleInterval time.Duration
	launcher       engine.Launcher
	metrics        observer.MetricsRecorder
	fetcher        *fixture.Fetcher
	statusRepo     StatusStore
	publisher      repository.StatusEventPublisher
	concurrency    int
	keepRunning    bool
	statusTimeout  time.Duration
	queueWait      time.Duration
	sem            chan struct{}
}

// Config holds service dependencies and settings.
type Config struct {
	Checker        checker.Checker
	Sampler        observer.Sampler
	SampleInterval time.Duration
	Launcher       engine.Launcher
	Metrics        observer.MetricsRecorder
	Fetcher        *fixture.Fetcher
	StatusRepo     StatusStore
	Publisher      repository.StatusEventPublisher
	// Concurrency bounds the testcases judged at once within a run.
	Concurrency int
	// MaxRuns bounds the runs judged at once.
	MaxRuns int
	// QueueWait is how long a run waits for a free slot before JudgeQueueFull.
	QueueWait time.Duration
	// KeepRunningOnTimeout leaves over-time children running instead of killing them.
	KeepRunningOnTimeout bool
	StatusTimeout        time.Duration
}

// NewService creates a new judge service.
func NewService(cfg Config) (*Service, error) {
	if cfg.Checker == nil {
		return nil, fmt.Errorf("checker is required")
	}
	if cfg.Sampler == nil {
		sampler, err := observer.NewProcSampler(observer.MetricRSS)
		if err != nil {
			return nil, err
		}
		cfg.Sampler = sampler
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observer.NoopMetricsRecorder{}
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.MaxRuns <= 0 {
		cfg.MaxRuns = 1
	}
	if cfg.QueueWait <= 0 {
		cfg.QueueWait = 2 * time.Second
	}
	return &Service{
		checker:        cfg.Checker,
		sampler:        cfg.Sampler,
		sampleInterval: cfg.SampleInterval,
		launcher:       cfg.Launcher,
		metrics:        cfg.Metrics,
		fetcher:        cfg.Fetcher,
		statusRepo:     cfg.StatusRepo,
		publisher:      cfg.Publisher,
		concurrency:    cfg.Concurrency,
		keepRunning:    cfg.KeepRunningOnTimeout,
		statusTimeout:  cfg.StatusTimeout,
		queueWait:      cfg.QueueWait,
		sem:            make(chan struct{}, cfg.MaxRuns),
	}, nil
}

// NewRunID returns a fresh run identifier.
func NewRunID() string {
	return uuid.NewString()
}

// RunOption adjusts a single run.
type RunOption func(*runConfig)

type runConfig struct {
	checker checker.Checker
}

// WithRunChecker judges the run with c instead of the service checker.
func WithRunChecker(c checker.Checker) RunOption {
	return func(rc *runConfig) {
		if c != nil {
			rc.checker = c
		}
	}
}

// JudgeAll judges tests and returns the run summary. A testcase that fails to
// judge is recorded as INTERNAL_ERROR and the batch continues. The error is
// non-nil only when the run itself could not be carried out.
func (s *Service) JudgeAll(ctx context.Context, runID string, tests []*model.Testcase, opts ...RunOption) (result.Summary, error) {
	rc := runConfig{checker: s.checker}
	for _, opt := range opts {
		opt(&rc)
	}
	if runID == "" {
		runID = NewRunID()
	}
	ctx = contextkey.WithRunID(ctx, runID)
	summary := result.Summary{
		RunID:      runID,
		State:      result.StatePending,
		Total:      len(tests),
		ReceivedAt: time.Now().Unix(),
	}
	if len(tests) == 0 {
		err := appErr.ValidationError("testcases", "at least one testcase is required")
		return s.handleFailure(ctx, summary, err), err
	}
	for i, tc := range tests {
		if tc == nil {
			err := appErr.ValidationError(fmt.Sprintf("testcases[%d]", i), "required")
			return s.handleFailure(ctx, summary, err), err
		}
	}
	s.saveStatus(ctx, summary)

	if err := s.acquireSlot(ctx); err != nil {
		return s.handleFailure(ctx, summary, err), err
	}
	defer s.releaseSlot()

	summary.State = result.StateRunning
	s.saveStatus(ctx, summary)
	logger.Info(ctx, "run started", zap.Int("testcases", len(tests)), zap.Int("concurrency", s.concurrency))

	var (
		mu       sync.Mutex
		progress = summary
	)
	g := new(errgroup.Group)
	g.SetLimit(s.concurrency)
	for _, tc := range tests {
		g.Go(func() error {
			s.judgeOne(ctx, tc, rc.checker)
			mu.Lock()
			progress.Done++
			snapshot := progress
			mu.Unlock()
			s.saveStatus(ctx, snapshot)
			return nil
		})
	}
	_ = g.Wait()

	summary.Done = len(tests)
	summary.Tests = make([]result.Report, 0, len(tests))
	for _, tc := range tests {
		summary.Tests = append(summary.Tests, tc.Report())
	}
	if err := ctx.Err(); err != nil {
		return s.handleFailure(ctx, summary, err), err
	}
	summary.Aggregate()
	summary.State = result.StateFinished
	summary.FinishedAt = time.Now().Unix()
	s.saveStatus(ctx, summary)
	s.publishFinal(ctx, summary)

	logger.Info(ctx, "run finished",
		zap.String("verdict", summary.VerdictName),
		zap.Int("score", summary.Score),
		zap.Int("total_score", summary.TotalScore),
	)
	return summary, nil
}

// Status returns the stored status of a run.
func (s *Service) Status(ctx context.Context, runID string) (result.Summary, error) {
	if s.statusRepo == nil {
		return result.Summary{}, appErr.New(appErr.ServiceUnavailable).WithMessage("status store is not configured")
	}
	ctxStatus, cancel := s.withStatusTimeout(ctx)
	defer cancel()
	return s.statusRepo.Get(ctxStatus, runID)
}

func (s *Service) judgeOne(ctx context.Context, tc *model.Testcase, c checker.Checker) {
	ctx = contextkey.WithTestcaseID(ctx, tc.ID)
	if err := ctx.Err(); err != nil {
		tc.ResetResults()
		tc.Status = result.VerdictInternalError
		tc.Message = "run canceled: " + err.Error()
		return
	}
	if err := s.resolveFixtures(ctx, tc); err != nil {
		tc.ResetResults()
		tc.Status = result.VerdictInternalError
		tc.Message = err.Error()
		logger.Warn(ctx, "resolve fixtures failed", zap.Error(err))
		return
	}

	opts := []sandbox.Option{
		sandbox.WithMetrics(s.metrics),
		sandbox.WithKillOnTimeout(!s.keepRunning),
	}
	if s.launcher != nil {
		opts = append(opts, sandbox.WithLauncher(s.launcher))
	}
	judger := sandbox.NewJudger(timer.New(), observer.NewMemoryWatcher(s.sampler, s.sampleInterval), c, opts...)
	if err := judger.Judge(ctx, tc); err != nil {
		logger.Warn(ctx, "testcase judge failed", zap.Error(err))
	}
}

func (s *Service) resolveFixtures(ctx context.Context, tc *model.Testcase) error {
	if s.fetcher == nil {
		if fixture.IsRemote(tc.StandardInput) || fixture.IsRemote(tc.StandardOutput) {
			return appErr.New(appErr.FixtureFetchFailed).WithMessage("remote fixtures need a fixture fetcher")
		}
		return nil
	}
	in, err := s.fetcher.Resolve(ctx, tc.StandardInput)
	if err != nil {
		return err
	}
	tc.StandardInput = in
	if tc.StandardOutput != "" {
		out, err := s.fetcher.Resolve(ctx, tc.StandardOutput)
		if err != nil {
			return err
		}
		tc.StandardOutput = out
	}
	return nil
}

func (s *Service) acquireSlot(ctx context.Context) error {
	select {
	case s.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(s.queueWait):
		return appErr.New(appErr.JudgeQueueFull).WithMessage("judge pool is full")
	}
}

func (s *Service) releaseSlot() {
	select {
	case <-s.sem:
	default:
	}
}

func (s *Service) withStatusTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.statusTimeout > 0 {
		return context.WithTimeout(ctx, s.statusTimeout)
	}
	return ctx, func() {}
}

// saveStatus persists status. A store outage never fails the run.
func (s *Service) saveStatus(ctx context.Context, status result.Summary) {
	if s.statusRepo == nil {
		return
	}
	ctxStatus, cancel := s.withStatusTimeout(context.WithoutCancel(ctx))
	defer cancel()
	if err := s.statusRepo.Save(ctxStatus, status); err != nil {
		logger.Warn(ctx, "save run status failed", zap.String("state", string(status.State)), zap.Error(err))
	}
}

func (s *Service) publishFinal(ctx context.Context, status result.Summary) {
	if s.publisher == nil {
		return
	}
	ctxPub, cancel := s.withStatusTimeout(context.WithoutCancel(ctx))
	defer cancel()
	if err := s.publisher.PublishFinalStatus(ctxPub, status); err != nil {
		logger.Warn(ctx, "publish final status failed", zap.Error(err))
	}
}

func (s *Service) handleFailure(ctx context.Context, summary result.Summary, err error) result.Summary {
	summary.State = result.StateFailed
	summary.Verdict = result.VerdictInternalError
	summary.VerdictName = summary.Verdict.String()
	summary.Error = err.Error()
	summary.FinishedAt = time.Now().Unix()
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		logger.Warn(ctx, "run aborted", zap.Error(err))
	} else {
		logger.Error(ctx, "run failed", zap.Error(err))
	}
	if !appErr.Is(err, appErr.ValidationFailed) {
		s.saveStatus(ctx, summary)
		s.publishFinal(ctx, summary)
	}
	return summary
}
