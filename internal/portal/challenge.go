// =============================================================================
// SRI Receipts - Manual Challenge
// =============================================================================
//
// Some listings are guarded by a human-in-the-loop challenge. The session
// detects it, switches to StateAwaitingManualInput and blocks on a
// ChallengeSolver until it yields a response or the bound expires.
// Expiry is fatal for the run (ErrChallengeTimeout).
//
// =============================================================================

package portal

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

// Challenge describes a challenge shown by the portal.
type Challenge struct {
	// PageURL is the page that showed the challenge.
	PageURL string

	// SiteKey is the challenge widget key, when the page exposes one.
	SiteKey string
}

// ChallengeSolver obtains a challenge response from outside the program.
type ChallengeSolver interface {
	Solve(ctx context.Context, challenge Challenge) (string, error)
}

// AwaitChallenge runs solver under timeout and maps expiry to
// ErrChallengeTimeout.
func AwaitChallenge(ctx context.Context, solver ChallengeSolver, challenge Challenge, timeout time.Duration) (string, error) {
	if solver == nil {
		return "", fmt.Errorf("%w: challenge shown but no solver configured", ErrNavigation)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	response, err := solver.Solve(ctx, challenge)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("%w after %s", ErrChallengeTimeout, timeout)
		}
		return "", err
	}

	response = strings.TrimSpace(response)
	if response == "" {
		return "", fmt.Errorf("%w: empty challenge response", ErrNavigation)
	}
	return response, nil
}

// =============================================================================
// CONSOLE SOLVER
// =============================================================================

// ConsoleSolver asks the operator to solve the challenge in a browser and
// paste the response token on the console.
type ConsoleSolver struct {
	In  io.Reader
	Out io.Writer
}

// Solve implements ChallengeSolver. The read runs in its own goroutine so
// that the context bound is honoured even while the operator is idle.
func (s *ConsoleSolver) Solve(ctx context.Context, challenge Challenge) (string, error) {
	fmt.Fprintln(s.Out, "A manual challenge is required to continue.")
	fmt.Fprintf(s.Out, "  Page:     %s\n", challenge.PageURL)
	if challenge.SiteKey != "" {
		fmt.Fprintf(s.Out, "  Site key: %s\n", challenge.SiteKey)
	}
	if deadline, ok := ctx.Deadline(); ok {
		fmt.Fprintf(s.Out, "  Waiting until %s\n", deadline.Format("15:04:05"))
	}
	fmt.Fprint(s.Out, "Paste the challenge response and press Enter: ")

	type result struct {
		line string
		err  error
	}
	lines := make(chan result, 1)

	go func() {
		line, err := bufio.NewReader(s.In).ReadString('\n')
		if err != nil && !(errors.Is(err, io.EOF) && line != "") {
			lines <- result{err: err}
			return
		}
		lines <- result{line: line}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-lines:
		if r.err != nil {
			return "", fmt.Errorf("read challenge response: %w", r.err)
		}
		return r.line, nil
	}
}
