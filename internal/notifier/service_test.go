package notifier

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"remindbot/internal/transport"
	logx "remindbot/pkg/logx"
)

type fakeAdapter struct {
	calls   atomic.Int32
	failFor int32 // first N calls fail
	err     error
}

func (f *fakeAdapter) Name() string                    { return "fake" }
func (f *fakeAdapter) Start(context.Context) error     { return nil }
func (f *fakeAdapter) Stop(context.Context) error      { return nil }
func (f *fakeAdapter) SendText(_ context.Context, _ transport.ChatTarget, _ string, _ *transport.SendOptions) (int, error) {
	n := f.calls.Add(1)
	if n <= f.failFor {
		return 0, f.err
	}
	return int(n), nil
}

func fastConfig(retryMax int) Config {
	return Config{
		RatePerSec:    1000,
		RetryMax:      retryMax,
		RetryBase:     time.Millisecond,
		RetryMaxDelay: 5 * time.Millisecond,
		SendTimeout:   time.Second,
	}
}

func TestSendSuccess(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{}
	s := New(fastConfig(2), ad, logx.Nop())

	if err := s.Send(context.Background(), transport.ChatTarget{ChatID: 5}, "hi"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got := ad.calls.Load(); got != 1 {
		t.Fatalf("adapter called %d times, want 1", got)
	}
	hist := s.Snapshot()
	if len(hist) != 1 || hist[0].ChatID != 5 || hist[0].Text != "hi" {
		t.Fatalf("history = %+v", hist)
	}
}

func TestSendRetriesThenSucceeds(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{failFor: 2, err: errors.New("flood control")}
	s := New(fastConfig(3), ad, logx.Nop())

	if err := s.Send(context.Background(), transport.ChatTarget{ChatID: 1}, "hi"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got := ad.calls.Load(); got != 3 {
		t.Fatalf("adapter called %d times, want 3", got)
	}
}

func TestSendExhaustsRetries(t *testing.T) {
	t.Parallel()
	sentinel := errors.New("blocked by user")
	ad := &fakeAdapter{failFor: 100, err: sentinel}
	s := New(fastConfig(2), ad, logx.Nop())

	err := s.Send(context.Background(), transport.ChatTarget{ChatID: 1}, "hi")
	if !errors.Is(err, sentinel) {
		t.Fatalf("error does not wrap the last attempt's cause: %v", err)
	}
	if got := ad.calls.Load(); got != 3 {
		t.Fatalf("adapter called %d times, want 3 (1 + 2 retries)", got)
	}
	if len(s.Snapshot()) != 0 {
		t.Fatal("failed delivery must not enter history")
	}
}

func TestSendHonorsCancellation(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{failFor: 100, err: errors.New("unreachable")}
	cfg := fastConfig(5)
	cfg.RetryBase = time.Second
	cfg.RetryMaxDelay = time.Second
	s := New(cfg, ad, logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	err := s.Send(ctx, transport.ChatTarget{ChatID: 1}, "hi")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestEmptyTextIsNoop(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{}
	s := New(fastConfig(0), ad, logx.Nop())
	if err := s.Send(context.Background(), transport.ChatTarget{ChatID: 1}, ""); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if ad.calls.Load() != 0 {
		t.Fatal("empty text must not hit the adapter")
	}
}
