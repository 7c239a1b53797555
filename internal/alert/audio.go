package alert

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"
)

var ErrNoAudioOutput = errors.New("no audio output")

// BellPlayer loops the terminal bell on w until stopped.
type BellPlayer struct {
	w        io.Writer
	interval time.Duration

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

func NewBellPlayer(w io.Writer, interval time.Duration) *BellPlayer {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &BellPlayer{w: w, interval: interval}
}

// Play rings once immediately and then on every interval. Calling Play
// while already playing is a no-op.
func (b *BellPlayer) Play() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.stop != nil {
		return nil
	}
	if b.w == nil {
		return ErrNoAudioOutput
	}
	if err := b.ring(); err != nil {
		return fmt.Errorf("ring bell: %w", err)
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	b.stop, b.done = stop, done

	go func() {
		defer close(done)
		ticker := time.NewTicker(b.interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				b.mu.Lock()
				_ = b.ring()
				b.mu.Unlock()
			}
		}
	}()
	return nil
}

// Stop silences the bell. It is safe to call when not playing.
func (b *BellPlayer) Stop() {
	b.mu.Lock()
	stop, done := b.stop, b.done
	b.stop, b.done = nil, nil
	b.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
}

func (b *BellPlayer) Playing() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stop != nil
}

func (b *BellPlayer) ring() error {
	_, err := b.w.Write([]byte("\a"))
	return err
}
