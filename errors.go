package ftindex

import (
	"errors"
	"fmt"

	"github.com/hupe1980/ftindex/internal/dwpt"
	"github.com/hupe1980/ftindex/internal/flushqueue"
	"github.com/hupe1980/ftindex/internal/threadpool"
)

var (
	// ErrClosed is returned by every operation on a closed Writer.
	ErrClosed = errors.New("writer closed")

	// ErrInvalidArgument is returned for an invalid option, document or term.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrInterrupted is returned when waiting for a thread state is
	// cancelled through the context.
	ErrInterrupted = errors.New("interrupted")

	// ErrPublish is returned when publishing a flushed segment or update
	// packet fails.
	ErrPublish = errors.New("publish failed")
)

func translateError(err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, threadpool.ErrClosed):
		return fmt.Errorf("%w: %w", ErrClosed, err)
	case errors.Is(err, threadpool.ErrInterrupted):
		return fmt.Errorf("%w: %w", ErrInterrupted, err)
	case errors.Is(err, threadpool.ErrInvalidCapacity),
		errors.Is(err, dwpt.ErrInvalidDocument):
		return fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	case errors.Is(err, flushqueue.ErrPublish):
		return fmt.Errorf("%w: %w", ErrPublish, err)
	}

	return err
}
