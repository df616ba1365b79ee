package auth

import (
	"bufio"
	"errors"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
)

// ErrInteractionRequired reports a login that cannot finish without a human,
// such as a captcha or SMS code challenge
var ErrInteractionRequired = errors.New("auth: manual interaction required")

// InteractionPolicy decides what happens when automation alone cannot finish
// a login attempt
type InteractionPolicy interface {
	// AwaitManual blocks until the human reports the challenge is handled,
	// or refuses by returning an error
	AwaitManual(reason string) error
}

// BlockingPolicy prompts on Out and waits for a line on In before resuming.
// Used for attended runs where someone sits next to the browser window.
type BlockingPolicy struct {
	In  io.Reader
	Out io.Writer
	Log *logrus.Logger
}

func (p *BlockingPolicy) AwaitManual(reason string) error {
	p.Log.WithField("reason", reason).Warn("Waiting for manual interaction")
	fmt.Fprintf(p.Out, "Manual step required (%s). Finish it in the browser window, then press Enter to continue...\n", reason)

	reader := bufio.NewReader(p.In)
	if _, err := reader.ReadString('\n'); err != nil && err != io.EOF {
		return fmt.Errorf("failed to wait for confirmation: %w", err)
	}
	return nil
}

// FailingPolicy refuses manual steps so unattended runs fail fast instead of
// hanging on a prompt nobody will answer
type FailingPolicy struct{}

func (FailingPolicy) AwaitManual(reason string) error {
	return fmt.Errorf("%w: %s", ErrInteractionRequired, reason)
}
