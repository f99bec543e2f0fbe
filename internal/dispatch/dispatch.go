// Package dispatch hands claimed items to whatever performs the work.
//
// A Dispatcher returning nil acknowledges the item. Any error is a dispatch
// failure and the caller releases the claim back to ready.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/papapumpkin/pulsar/internal/board"
	"github.com/papapumpkin/pulsar/internal/telemetry"
)

// ErrDispatchFailure wraps every error returned by the dispatchers in this
// package.
var ErrDispatchFailure = errors.New("dispatch failed")

// Dispatcher hands a claimed item to an external executor.
type Dispatcher interface {
	Dispatch(ctx context.Context, it board.Item) error
}

// Func adapts a function to the Dispatcher interface.
type Func func(ctx context.Context, it board.Item) error

// Dispatch calls fn.
func (fn Func) Dispatch(ctx context.Context, it board.Item) error {
	return fn(ctx, it)
}

// CommandHook runs an executable per item. The item is written to stdin as
// JSON and identified by the PULSAR_BOARD_ID and PULSAR_ITEM_ID environment
// variables. A non-zero exit is a dispatch failure.
type CommandHook struct {
	Path string
	Args []string
	Env  []string
}

// NewCommandHook parses a whitespace-separated command line.
func NewCommandHook(command string) (*CommandHook, error) {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return nil, fmt.Errorf("dispatch: empty command")
	}
	return &CommandHook{Path: fields[0], Args: fields[1:]}, nil
}

// Validate checks that the executable can be found.
func (h *CommandHook) Validate() error {
	if _, err := exec.LookPath(h.Path); err != nil {
		return fmt.Errorf("dispatch: command %q not found: %w", h.Path, err)
	}
	return nil
}

// Dispatch runs the command and waits for it to exit.
func (h *CommandHook) Dispatch(ctx context.Context, it board.Item) error {
	payload, err := json.Marshal(it)
	if err != nil {
		return fmt.Errorf("%w: encode item %s: %v", ErrDispatchFailure, it.ID, err)
	}

	cmd := exec.CommandContext(ctx, h.Path, h.Args...)
	cmd.Stdin = bytes.NewReader(payload)
	cmd.Env = append(os.Environ(), h.Env...)
	cmd.Env = append(cmd.Env, "PULSAR_BOARD_ID="+it.BoardID, "PULSAR_ITEM_ID="+it.ID)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%w: %s for item %s: %v\nstderr: %s", ErrDispatchFailure, h.Path, it.ID, err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// NotifyHook records a work_started event for each dispatched item.
type NotifyHook struct {
	Emitter *telemetry.Emitter
	Worker  string
}

// Dispatch emits the event.
func (h *NotifyHook) Dispatch(_ context.Context, it board.Item) error {
	err := h.Emitter.Record(telemetry.KindWorkStarted, it.BoardID, it.ID, map[string]any{
		"worker":  h.Worker,
		"title":   it.Title,
		"version": it.Version,
	})
	if err != nil {
		return fmt.Errorf("%w: notify item %s: %v", ErrDispatchFailure, it.ID, err)
	}
	return nil
}

// Multi dispatches to every hook in order. All hooks run even when one
// fails; the item is acknowledged only if all of them succeed.
type Multi []Dispatcher

// Dispatch fans out to each hook.
func (m Multi) Dispatch(ctx context.Context, it board.Item) error {
	var errs []error
	for _, d := range m {
		if err := d.Dispatch(ctx, it); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 {
		return nil
	}
	err := errors.Join(errs...)
	if errors.Is(err, ErrDispatchFailure) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrDispatchFailure, err)
}
