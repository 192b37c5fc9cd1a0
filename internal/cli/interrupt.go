package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// InterruptHandler cancels a command's context on SIGINT or SIGTERM and tells
// the user what happened to the work in flight.
type InterruptHandler struct {
	writer      io.Writer
	trigger     chan struct{}
	operation   string
	interrupted bool
	mu          sync.Mutex
}

// NewInterruptHandler creates a new interrupt handler.
func NewInterruptHandler(writer io.Writer) *InterruptHandler {
	if writer == nil {
		writer = os.Stdout
	}
	return &InterruptHandler{
		writer:  writer,
		trigger: make(chan struct{}, 1),
	}
}

// HandleInterrupts returns a context canceled on the first interrupt.
// operation names the work in progress in the message shown to the user.
func (h *InterruptHandler) HandleInterrupts(ctx context.Context, operation string) context.Context {
	ctx, cancel := context.WithCancel(ctx)
	h.mu.Lock()
	h.operation = operation
	h.mu.Unlock()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigChan)
		select {
		case <-sigChan:
		case <-h.trigger:
		case <-ctx.Done():
			return
		}

		h.mu.Lock()
		if !h.interrupted {
			h.interrupted = true
			h.showInterruptMessage()
		}
		h.mu.Unlock()
		cancel()
	}()

	return ctx
}

// Interrupt behaves as if the process had received SIGINT.
func (h *InterruptHandler) Interrupt() {
	select {
	case h.trigger <- struct{}{}:
	default:
	}
}

func (h *InterruptHandler) showInterruptMessage() {
	msg := "\n" + FormatWarning(h.operation+" interrupted!") +
		"\n" + FormatInfo("Changes already committed are kept; rerun the command to finish.") + "\n"

	if _, err := fmt.Fprint(h.writer, msg); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write interrupt message: %v\n", err)
	}
}

// WasInterrupted returns true if the process was interrupted.
func (h *InterruptHandler) WasInterrupted() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.interrupted
}
