package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

type SignalHandler struct {
	ctx     context.Context
	cancel  context.CancelFunc
	sigChan chan os.Signal
	done    chan struct{}
	wg      sync.WaitGroup
}

func NewSignalHandler(ctx context.Context) *SignalHandler {
	ctx, cancel := context.WithCancel(ctx)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	return &SignalHandler{
		ctx:     ctx,
		cancel:  cancel,
		sigChan: sigChan,
		done:    make(chan struct{}),
	}
}

func (s *SignalHandler) Context() context.Context {
	return s.ctx
}

// Start cancels the handler's context on the first interrupt.
func (s *SignalHandler) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		select {
		case <-s.sigChan:
			fmt.Fprintln(os.Stderr, "\nReceived shutdown signal...")
			s.cancel()
		case <-s.done:
		}
	}()
}

func (s *SignalHandler) Stop() {
	signal.Stop(s.sigChan)
	close(s.done)
	s.wg.Wait()
	s.cancel()
}
