package valve

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/sweeney/gpio-valve/internal/gpio"
)

func TestSetupConfiguresWiresOnce(t *testing.T) {
	pins := gpio.NewFakePins()
	valves := []Config{
		{Name: "Front Lawn", Port: 17},
		{Name: "Back Lawn", Port: 27, UniqueID: "back"},
	}

	bank, err := Setup(pins, testWires, valves, NewMemoryStore(), Options{Sleep: pins.Sleep})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}

	want := []gpio.Op{
		gpio.Configure(testRed),
		gpio.Configure(testBlack),
		gpio.Configure(17),
		gpio.Configure(27),
	}
	if !reflect.DeepEqual(pins.Ops, want) {
		t.Errorf("setup ops:\n got  %v\n want %v", pins.Ops, want)
	}

	// Nothing recorded: Attach runs the deferred reset.
	pins.Reset()
	for _, v := range bank.Valves() {
		if _, err := v.Attach(context.Background()); err != nil {
			t.Fatalf("Attach %s: %v", v.Key(), err)
		}
	}
	want = []gpio.Op{
		gpio.Write(testRed, 1),
		gpio.Write(testBlack, 0),
		gpio.Sleep(500 * time.Millisecond),
		gpio.Write(17, 1),
		gpio.Write(testRed, 1),
		gpio.Write(testBlack, 0),
		gpio.Sleep(500 * time.Millisecond),
		gpio.Write(27, 1),
	}
	if !reflect.DeepEqual(pins.Ops, want) {
		t.Errorf("attach ops:\n got  %v\n want %v", pins.Ops, want)
	}

	if bank.Len() != 2 {
		t.Fatalf("expected 2 valves, got %d", bank.Len())
	}
	if bank.Valves()[0].Key() != "front_lawn" {
		t.Errorf("first key: got %q", bank.Valves()[0].Key())
	}
	if _, ok := bank.Get("back"); !ok {
		t.Error("expected valve keyed by unique id")
	}
	if _, ok := bank.Get("back_lawn"); ok {
		t.Error("unique id should replace name slug")
	}
}

func TestSetupSharedWiresAcrossValves(t *testing.T) {
	pins := gpio.NewFakePins()
	bank, err := Setup(pins, testWires, []Config{
		{Name: "a", Port: 17},
		{Name: "b", Port: 27},
	}, NewMemoryStore(), Options{Sleep: pins.Sleep})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	a, _ := bank.Get("a")
	b, _ := bank.Get("b")

	a.Close()
	b.Open()

	if !a.IsClosed() || b.IsClosed() {
		t.Errorf("states: a closed=%v b closed=%v", a.IsClosed(), b.IsClosed())
	}
	// The last move leaves the shared wires at opening polarity.
	if pins.Level(testRed) != gpio.Low || pins.Level(testBlack) != gpio.High {
		t.Errorf("wires: red=%d black=%d", pins.Level(testRed), pins.Level(testBlack))
	}
}

func TestSetupRestoresPerValve(t *testing.T) {
	pins := gpio.NewFakePins()
	store := NewMemoryStore()
	store.Set("a", "closed")

	bank, err := Setup(pins, testWires, []Config{
		{Name: "a", Port: 17},
		{Name: "b", Port: 27},
	}, store, Options{Sleep: pins.Sleep})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	for _, v := range bank.Valves() {
		if _, err := v.Attach(context.Background()); err != nil {
			t.Fatalf("Attach %s: %v", v.Key(), err)
		}
	}
	a, _ := bank.Get("a")
	b, _ := bank.Get("b")
	if !a.IsClosed() {
		t.Error("a should be restored closed")
	}
	if b.IsClosed() {
		t.Error("b should keep default open")
	}
}

func TestSetupRecordedStateSkipsReset(t *testing.T) {
	pins := gpio.NewFakePins()
	store := NewMemoryStore()
	store.Set("a", "closed")

	bank, err := Setup(pins, testWires, []Config{{Name: "a", Port: 17}}, store, Options{Sleep: pins.Sleep})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	pins.Reset()
	a, _ := bank.Get("a")
	if _, err := a.Attach(context.Background()); err != nil {
		t.Fatalf("Attach: %v", err)
	}

	want := []gpio.Op{
		gpio.Write(testRed, 1),
		gpio.Write(testBlack, 0),
		gpio.Sleep(500 * time.Millisecond),
		gpio.Write(17, 0),
		gpio.Sleep(100 * time.Millisecond),
		gpio.Write(17, 1),
	}
	if !reflect.DeepEqual(pins.Ops, want) {
		t.Errorf("ops:\n got  %v\n want %v", pins.Ops, want)
	}
}

func TestSetupLookupErrorStillResets(t *testing.T) {
	pins := gpio.NewFakePins()
	storeErr := errors.New("broker gone")
	bank, err := Setup(pins, testWires, []Config{{Name: "a", Port: 17}}, errStore{storeErr}, Options{Sleep: pins.Sleep})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	pins.Reset()
	a, _ := bank.Get("a")

	ok, err := a.Attach(context.Background())
	if ok || !errors.Is(err, storeErr) {
		t.Fatalf("Attach: got %v, %v", ok, err)
	}
	if pins.Level(17) != gpio.High || a.IsClosed() {
		t.Errorf("valve should be reset and open: pin=%d closed=%v", pins.Level(17), a.IsClosed())
	}
}

func TestSetupSkipResetNeverResets(t *testing.T) {
	pins := gpio.NewFakePins()
	bank, err := Setup(pins, testWires, []Config{{Name: "a", Port: 17}}, NewMemoryStore(), Options{SkipReset: true, Sleep: pins.Sleep})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	pins.Reset()
	a, _ := bank.Get("a")
	if _, err := a.Attach(context.Background()); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	if len(pins.Ops) != 0 {
		t.Errorf("ops: got %v, want none", pins.Ops)
	}
}

func TestSetupRejectsEmptyID(t *testing.T) {
	tests := []Config{
		{Name: "!!!", Port: 17},
		{Name: "Garden", Port: 17, UniqueID: "--"},
	}
	for _, cfg := range tests {
		_, err := Setup(gpio.NewFakePins(), testWires, []Config{cfg}, NewMemoryStore(), Options{SkipReset: true})
		if !errors.Is(err, ErrInvalidID) {
			t.Errorf("%+v: got %v, want ErrInvalidID", cfg, err)
		}
	}
}

func TestSetupDuplicateID(t *testing.T) {
	pins := gpio.NewFakePins()
	_, err := Setup(pins, testWires, []Config{
		{Name: "Garden", Port: 17},
		{Name: "garden", Port: 27},
	}, NewMemoryStore(), Options{SkipReset: true})
	if err == nil {
		t.Error("expected duplicate id error")
	}
}

func TestSlug(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Garden", "garden"},
		{"Front Lawn", "front_lawn"},
		{"  Zone #2 (drip) ", "zone_2_drip"},
		{"already_slug", "already_slug"},
		{"UPPER-case", "upper_case"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := Slug(tt.in); got != tt.want {
			t.Errorf("Slug(%q): got %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestObjectID(t *testing.T) {
	tests := []struct {
		cfg  Config
		want string
	}{
		{Config{Name: "Garden"}, "garden"},
		{Config{Name: "Garden", UniqueID: "valve.garden"}, "valve_garden"},
		{Config{}, "unnamed_device"},
	}
	for _, tt := range tests {
		if got := ObjectID(tt.cfg); got != tt.want {
			t.Errorf("ObjectID(%+v): got %q, want %q", tt.cfg, got, tt.want)
		}
	}
}
