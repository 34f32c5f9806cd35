package frontend

import (
	"context"
	"testing"
	"time"

	"github.com/snapetech/atscscan/internal/model"
)

type fakeFrontend struct {
	statuses []StatusBit
	calls    int
}

func (f *fakeFrontend) GetInfo(ctx context.Context) (Info, error) { return Info{}, nil }
func (f *fakeFrontend) SetProperty(ctx context.Context, d model.DeliverySystem) error {
	return nil
}
func (f *fakeFrontend) SetFrontend(ctx context.Context, p TuningParams) error { return nil }
func (f *fakeFrontend) ReadStatus(ctx context.Context) (StatusBit, error) {
	st := f.statuses[f.calls]
	if f.calls < len(f.statuses)-1 {
		f.calls++
	}
	return st, nil
}

func TestReadStatusPolledReturnsTrueOnLock(t *testing.T) {
	fe := &fakeFrontend{statuses: []StatusBit{0, 0, HasLock}}
	locked, err := ReadStatusPolled(context.Background(), fe, 5, time.Millisecond)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !locked {
		t.Fatalf("expected lock observed on third attempt")
	}
	if fe.calls != 2 {
		t.Fatalf("expected exactly 3 ReadStatus calls (indices 0-2), got calls=%d", fe.calls)
	}
}

func TestReadStatusPolledExhaustsAttemptsWithoutLock(t *testing.T) {
	fe := &fakeFrontend{statuses: []StatusBit{0}}
	locked, err := ReadStatusPolled(context.Background(), fe, 3, time.Millisecond)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if locked {
		t.Fatalf("expected no lock observed")
	}
}

func TestReadStatusPolledHonorsContextCancellation(t *testing.T) {
	fe := &fakeFrontend{statuses: []StatusBit{0}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	locked, err := ReadStatusPolled(ctx, fe, 5, 10*time.Millisecond)
	if locked {
		t.Fatalf("expected no lock once context is canceled")
	}
	if err == nil {
		t.Fatalf("expected an error from the canceled rate limiter wait")
	}
}
