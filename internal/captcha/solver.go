package captcha

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"go.uber.org/zap"

	"github.com/pccwatch/tender-crawler/internal/tender"
)

// Surface is the slice of the browsing session the solver drives. The
// session owns the browser; the solver only captures, clicks, and probes
// through it. Card indexes follow the segmentation order of the matcher.
type Surface interface {
	// ChallengeVisible probes for the challenge gate marker.
	ChallengeVisible(ctx context.Context) (bool, error)
	// CaptureChallenge screenshots the rendered challenge panel.
	CaptureChallenge(ctx context.Context) (image.Image, error)
	// SelectCard clicks the card at the given segmentation index.
	SelectCard(ctx context.Context, index int) error
	// ConfirmSelection triggers the page's submit action.
	ConfirmSelection(ctx context.Context) error
	// Reshuffle reloads the challenge so the next capture is fresh.
	Reshuffle(ctx context.Context) error
	// ConsumeDialog returns and clears the last JS alert seen since the
	// previous call. An alert after submit means the answer was rejected.
	ConsumeDialog() (string, bool)
}

// SolverConfig bounds and tunes the solve loop.
type SolverConfig struct {
	MaxAttempts int
	VerifyWait  time.Duration
	KeepDebug   bool
	DebugDir    string
}

func (c SolverConfig) withDefaults() SolverConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.VerifyWait <= 0 {
		c.VerifyWait = 3 * time.Second
	}
	return c
}

// Solver runs the challenge protocol: Capture, Match, Map-to-Targets,
// Submit, Verify. Every attempt re-captures and re-matches, so a stale
// match is never submitted against a newer challenge.
type Solver struct {
	surface   Surface
	matcher   Matcher
	cfg       SolverConfig
	artifacts *ArtifactStore
	logger    *zap.Logger
	sleep     func(ctx context.Context, d time.Duration) error
}

// NewSolver wires a solver over the given surface and matcher.
func NewSolver(surface Surface, matcher Matcher, cfg SolverConfig, logger *zap.Logger) *Solver {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	return &Solver{
		surface:   surface,
		matcher:   matcher,
		cfg:       cfg,
		artifacts: NewArtifactStore(cfg.DebugDir, cfg.KeepDebug, logger),
		logger:    logger,
		sleep:     sleepCtx,
	}
}

// Present reports whether a challenge gate currently blocks the page.
func (s *Solver) Present(ctx context.Context) (bool, error) {
	return s.surface.ChallengeVisible(ctx)
}

// Solve runs bounded attempts and returns the terminal outcome. A Failed
// outcome is not an error; err signals a broken session. An attempt in
// flight always completes before Solve returns: aborting between card
// clicks would leave the remote challenge half-submitted, so the caller's
// cancellation is honored only between attempts.
func (s *Solver) Solve(ctx context.Context) (tender.SolveOutcome, error) {
	if err := ctx.Err(); err != nil {
		return tender.OutcomeFailed, err
	}
	for attempt := 1; attempt <= s.cfg.MaxAttempts; attempt++ {
		solved, err := s.attempt(context.WithoutCancel(ctx), attempt)
		if err != nil {
			return tender.OutcomeFailed, err
		}
		if solved {
			s.logger.Info("challenge solved", zap.Int("attempt", attempt))
			return tender.OutcomeSolved, nil
		}
		if err := ctx.Err(); err != nil {
			return tender.OutcomeFailed, err
		}
		if attempt < s.cfg.MaxAttempts {
			s.logger.Debug("challenge attempt failed, reshuffling", zap.Int("attempt", attempt))
			if err := s.surface.Reshuffle(ctx); err != nil {
				return tender.OutcomeFailed, fmt.Errorf("reshuffle challenge: %w", err)
			}
		}
	}
	s.logger.Warn("challenge attempts exhausted", zap.Int("max_attempts", s.cfg.MaxAttempts))
	return tender.OutcomeFailed, nil
}

// attempt runs one full Capture -> Match -> Map -> Submit -> Verify cycle.
// It returns (false, nil) for a recoverable miss and err only when the
// session itself is unusable.
func (s *Solver) attempt(ctx context.Context, attempt int) (bool, error) {
	img, err := s.surface.CaptureChallenge(ctx)
	if err != nil {
		return false, fmt.Errorf("capture challenge: %w", err)
	}
	s.artifacts.SaveImage(fmt.Sprintf("attempt_%d_capture", attempt), img)

	result, err := s.matcher.LocateAndMatch(img)
	if err != nil {
		if errors.Is(err, tender.ErrDetectionIncomplete) || errors.Is(err, tender.ErrNoMatch) {
			s.logger.Debug("match miss", zap.Int("attempt", attempt), zap.Error(err))
			return false, nil
		}
		return false, fmt.Errorf("match challenge: %w", err)
	}
	s.saveRegionArtifacts(attempt, img, result)

	// Map-to-Targets and Submit: region indexes map 1:1 onto the page's
	// card elements, in the order the match result gives them.
	for _, pair := range result.Pairs {
		if err := s.surface.SelectCard(ctx, pair.Region); err != nil {
			return false, fmt.Errorf("select card %d: %w", pair.Region, err)
		}
	}
	// Clear any dialog raised before submission so Verify only sees the
	// outcome of this attempt.
	s.surface.ConsumeDialog()
	if err := s.surface.ConfirmSelection(ctx); err != nil {
		return false, fmt.Errorf("confirm selection: %w", err)
	}

	return s.verify(ctx, attempt)
}

// verify inspects the page after submission. A rejection alert or a still
// visible challenge fails the attempt; anything ambiguous after the bounded
// wait is treated as failure too.
func (s *Solver) verify(ctx context.Context, attempt int) (bool, error) {
	if err := s.sleep(ctx, s.cfg.VerifyWait); err != nil {
		return false, err
	}
	if text, ok := s.surface.ConsumeDialog(); ok {
		s.logger.Debug("challenge rejected",
			zap.Int("attempt", attempt), zap.String("alert", text))
		return false, nil
	}
	visible, err := s.surface.ChallengeVisible(ctx)
	if err != nil {
		return false, fmt.Errorf("verify challenge state: %w", err)
	}
	return !visible, nil
}

func (s *Solver) saveRegionArtifacts(attempt int, img image.Image, result MatchResult) {
	if !s.artifacts.Enabled() {
		return
	}
	for _, region := range result.Regions {
		s.artifacts.SaveCrop(fmt.Sprintf("attempt_%d_card_%d", attempt, region.Index), img, region.Bounds)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
