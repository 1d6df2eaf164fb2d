package captcha

import (
	"context"
	"errors"
	"image"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pccwatch/tender-crawler/internal/tender"
)

// fakeSurface scripts the page side of the solve loop. Dialogs and
// visibility are consumed per verify cycle in order.
type fakeSurface struct {
	captures   int
	selections []int
	confirms   int
	reshuffles int

	// dialogs[i] is the alert text raised by submit i; "" means none.
	dialogs []string
	// visible[i] is the gate state probed by verify i.
	visible []bool

	pendingDialog string
	hasDialog     bool
	verifyCalls   int

	captureErr error

	// cancelAfterSelect fires after the first card click, simulating a stop
	// signal arriving while a submission is in flight.
	cancelAfterSelect context.CancelFunc
}

func (f *fakeSurface) ChallengeVisible(context.Context) (bool, error) {
	if f.verifyCalls < len(f.visible) {
		v := f.visible[f.verifyCalls]
		f.verifyCalls++
		return v, nil
	}
	f.verifyCalls++
	return true, nil
}

func (f *fakeSurface) CaptureChallenge(context.Context) (image.Image, error) {
	if f.captureErr != nil {
		return nil, f.captureErr
	}
	f.captures++
	return image.NewRGBA(image.Rect(0, 0, 60, 40)), nil
}

func (f *fakeSurface) SelectCard(ctx context.Context, index int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.selections = append(f.selections, index)
	if f.cancelAfterSelect != nil && len(f.selections) == 1 {
		f.cancelAfterSelect()
	}
	return nil
}

func (f *fakeSurface) ConfirmSelection(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if f.confirms < len(f.dialogs) && f.dialogs[f.confirms] != "" {
		f.pendingDialog = f.dialogs[f.confirms]
		f.hasDialog = true
	}
	f.confirms++
	return nil
}

func (f *fakeSurface) Reshuffle(context.Context) error {
	f.reshuffles++
	return nil
}

func (f *fakeSurface) ConsumeDialog() (string, bool) {
	if !f.hasDialog {
		return "", false
	}
	text := f.pendingDialog
	f.pendingDialog = ""
	f.hasDialog = false
	return text, true
}

// matcherFunc adapts a function to the Matcher interface.
type matcherFunc func(img image.Image) (MatchResult, error)

func (f matcherFunc) LocateAndMatch(img image.Image) (MatchResult, error) {
	return f(img)
}

func fixedPairs(left, right int) matcherFunc {
	return func(image.Image) (MatchResult, error) {
		return MatchResult{
			Pairs: []MatchPair{
				{ProbeIndex: 0, Region: left, Confidence: 0.9},
				{ProbeIndex: 1, Region: right, Confidence: 0.8},
			},
		}, nil
	}
}

func newTestSolver(surface Surface, matcher Matcher, maxAttempts int) *Solver {
	s := NewSolver(surface, matcher, SolverConfig{
		MaxAttempts: maxAttempts,
		VerifyWait:  time.Millisecond,
	}, nil)
	s.sleep = func(context.Context, time.Duration) error { return nil }
	return s
}

func TestSolveSucceedsFirstAttempt(t *testing.T) {
	t.Parallel()

	surface := &fakeSurface{
		dialogs: []string{""},
		visible: []bool{false},
	}
	solver := newTestSolver(surface, fixedPairs(3, 5), 5)

	outcome, err := solver.Solve(context.Background())
	require.NoError(t, err)
	require.Equal(t, tender.OutcomeSolved, outcome)
	require.Equal(t, 1, surface.captures)
	require.Equal(t, []int{3, 5}, surface.selections)
	require.Equal(t, 1, surface.confirms)
	require.Zero(t, surface.reshuffles)
}

func TestSolveExhaustsAttemptsOnPersistentNoMatch(t *testing.T) {
	t.Parallel()

	surface := &fakeSurface{}
	noMatch := matcherFunc(func(image.Image) (MatchResult, error) {
		return MatchResult{}, tender.ErrNoMatch
	})
	solver := newTestSolver(surface, noMatch, 4)

	outcome, err := solver.Solve(context.Background())
	require.NoError(t, err)
	require.Equal(t, tender.OutcomeFailed, outcome)
	// Every attempt captures a fresh image; none reaches submission.
	require.Equal(t, 4, surface.captures)
	require.Zero(t, surface.confirms)
	require.Empty(t, surface.selections)
	require.Equal(t, 3, surface.reshuffles)
}

func TestSolveRetriesAfterRejectionAlert(t *testing.T) {
	t.Parallel()

	surface := &fakeSurface{
		dialogs: []string{"驗證失敗", ""},
		visible: []bool{false},
	}
	solver := newTestSolver(surface, fixedPairs(0, 1), 5)

	outcome, err := solver.Solve(context.Background())
	require.NoError(t, err)
	require.Equal(t, tender.OutcomeSolved, outcome)
	require.Equal(t, 2, surface.captures)
	require.Equal(t, 2, surface.confirms)
	require.Equal(t, 1, surface.reshuffles)
	require.Equal(t, []int{0, 1, 0, 1}, surface.selections)
}

func TestSolveFailsWhenChallengeStaysVisible(t *testing.T) {
	t.Parallel()

	surface := &fakeSurface{
		dialogs: []string{"", ""},
		visible: []bool{true, true},
	}
	solver := newTestSolver(surface, fixedPairs(2, 4), 2)

	outcome, err := solver.Solve(context.Background())
	require.NoError(t, err)
	require.Equal(t, tender.OutcomeFailed, outcome)
	require.Equal(t, 2, surface.captures)
	require.Equal(t, 2, surface.confirms)
	// No reshuffle after the final attempt.
	require.Equal(t, 1, surface.reshuffles)
}

func TestSolveDetectionIncompleteIsRecoverable(t *testing.T) {
	t.Parallel()

	surface := &fakeSurface{
		dialogs: []string{""},
		visible: []bool{false},
	}
	calls := 0
	flaky := matcherFunc(func(image.Image) (MatchResult, error) {
		calls++
		if calls == 1 {
			return MatchResult{}, tender.ErrDetectionIncomplete
		}
		return fixedPairs(1, 2)(nil)
	})
	solver := newTestSolver(surface, flaky, 3)

	outcome, err := solver.Solve(context.Background())
	require.NoError(t, err)
	require.Equal(t, tender.OutcomeSolved, outcome)
	require.Equal(t, 2, surface.captures)
	require.Equal(t, 2, calls)
}

func TestSolveCaptureErrorIsFatal(t *testing.T) {
	t.Parallel()

	captureErr := errors.New("browser gone")
	surface := &fakeSurface{captureErr: captureErr}
	solver := newTestSolver(surface, fixedPairs(0, 1), 5)

	outcome, err := solver.Solve(context.Background())
	require.ErrorIs(t, err, captureErr)
	require.Equal(t, tender.OutcomeFailed, outcome)
	require.Zero(t, surface.confirms)
}

func TestSolveFinishesInFlightAttemptOnCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	surface := &fakeSurface{
		dialogs:           []string{""},
		cancelAfterSelect: cancel,
	}
	solver := newTestSolver(surface, fixedPairs(2, 4), 3)

	outcome, err := solver.Solve(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, tender.OutcomeFailed, outcome)
	// Both clicks and the submit landed even though the stop signal arrived
	// mid-attempt; the loop halts before the next attempt, not mid-flight.
	require.Equal(t, []int{2, 4}, surface.selections)
	require.Equal(t, 1, surface.confirms)
	require.Zero(t, surface.reshuffles)
}

func TestSolveCancelledBeforeStartDoesNothing(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	surface := &fakeSurface{}
	solver := newTestSolver(surface, fixedPairs(0, 1), 3)

	outcome, err := solver.Solve(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, tender.OutcomeFailed, outcome)
	require.Zero(t, surface.captures)
}

func TestPresentDelegatesToSurface(t *testing.T) {
	t.Parallel()

	surface := &fakeSurface{visible: []bool{true}}
	solver := newTestSolver(surface, fixedPairs(0, 1), 1)

	present, err := solver.Present(context.Background())
	require.NoError(t, err)
	require.True(t, present)
}
