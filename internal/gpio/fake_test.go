package gpio

import (
	"errors"
	"reflect"
	"testing"
	"time"
)

func TestFakePinsRecordsInOrder(t *testing.T) {
	f := NewFakePins()

	if err := f.ConfigureOutput(17); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := f.Write(17, High); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	f.Sleep(100 * time.Millisecond)
	if err := f.Write(17, Low); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []Op{Configure(17), Write(17, 1), Sleep(100 * time.Millisecond), Write(17, 0)}
	if !reflect.DeepEqual(f.Ops, want) {
		t.Errorf("ops: got %v, want %v", f.Ops, want)
	}
	if f.Level(17) != Low {
		t.Errorf("level: got %d, want %d", f.Level(17), Low)
	}
}

func TestFakePinsWriteUnconfigured(t *testing.T) {
	f := NewFakePins()

	if err := f.Write(4, High); err == nil {
		t.Error("expected error writing unconfigured pin")
	}
	if len(f.Ops) != 0 {
		t.Errorf("expected no ops recorded, got %v", f.Ops)
	}
}

func TestFakePinsConfigureStartsLow(t *testing.T) {
	f := NewFakePins()
	f.ConfigureOutput(5)

	if !f.Configured(5) {
		t.Error("expected pin 5 configured")
	}
	if f.Configured(6) {
		t.Error("pin 6 should not be configured")
	}
	if f.Level(5) != Low {
		t.Errorf("expected low after configure, got %d", f.Level(5))
	}
}

func TestFakePinsWriteError(t *testing.T) {
	f := NewFakePins()
	f.ConfigureOutput(22)
	f.ConfigureOutput(23)
	f.WriteError = errors.New("simulated error")
	f.FailPin = 23

	if err := f.Write(22, High); err != nil {
		t.Errorf("pin 22 should not fail: %v", err)
	}
	err := f.Write(23, High)
	if err == nil || err.Error() != "simulated error" {
		t.Errorf("pin 23: expected simulated error, got %v", err)
	}
}

func TestFakePinsConfigureError(t *testing.T) {
	f := NewFakePins()
	f.ConfigureError = errors.New("busy")

	if err := f.ConfigureOutput(17); err == nil {
		t.Error("expected error")
	}
	if f.Configured(17) {
		t.Error("pin should not be configured after error")
	}
}

func TestFakePinsClose(t *testing.T) {
	f := NewFakePins()

	if f.Closed {
		t.Error("should not be closed initially")
	}
	if err := f.Close(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if !f.Closed {
		t.Error("should be closed after Close()")
	}
}

func TestFakePinsReset(t *testing.T) {
	f := NewFakePins()
	f.ConfigureOutput(17)
	f.Write(17, High)
	f.WriteError = errors.New("x")

	f.Reset()

	if len(f.Ops) != 0 {
		t.Errorf("expected ops cleared, got %v", f.Ops)
	}
	if err := f.Write(17, Low); err != nil {
		t.Errorf("configuration should survive Reset: %v", err)
	}
}

func TestOpString(t *testing.T) {
	tests := []struct {
		op   Op
		want string
	}{
		{Configure(17), "configure(17)"},
		{Write(22, 1), "22=1"},
		{Sleep(500 * time.Millisecond), "sleep(500ms)"},
	}
	for _, tt := range tests {
		if got := tt.op.String(); got != tt.want {
			t.Errorf("got %q, want %q", got, tt.want)
		}
	}
}

func TestOpenUnknownBackend(t *testing.T) {
	if _, err := Open("sysfs", DefaultChip); err == nil {
		t.Error("expected error for unknown backend")
	}
}
