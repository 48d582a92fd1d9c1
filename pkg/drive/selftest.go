package drive

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// selfTestDuty is roughly half of full scale.
const selfTestDuty = 128

type selfTestStep struct {
	name        string
	left, right int16
}

var selfTestSteps = []selfTestStep{
	{"both forward", selfTestDuty, selfTestDuty},
	{"both backward", -selfTestDuty, -selfTestDuty},
	{"rotate right", selfTestDuty, -selfTestDuty},
	{"rotate left", -selfTestDuty, selfTestDuty},
}

// TestSequence exercises both motors in each direction, holding every
// step for hold, and always finishes with Stop. Cancelling ctx cuts the
// sequence short.
func TestSequence(ctx context.Context, d MotorDriver, hold time.Duration, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("starting motor test sequence")

	var err error
	for i, step := range selfTestSteps {
		logger.Info("motor test", "step", i+1, "name", step.name)
		if err = d.SetLeft(step.left); err != nil {
			err = fmt.Errorf("motor test %q: %w", step.name, err)
			break
		}
		if err = d.SetRight(step.right); err != nil {
			err = fmt.Errorf("motor test %q: %w", step.name, err)
			break
		}

		timer := time.NewTimer(hold)
		select {
		case <-ctx.Done():
			timer.Stop()
			err = ctx.Err()
		case <-timer.C:
		}
		if err != nil {
			break
		}
	}

	if stopErr := d.Stop(); stopErr != nil && err == nil {
		err = stopErr
	}
	logger.Info("motor test sequence complete", "error", err)
	return err
}
