package main

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestHostPlatform_HaltTimeout(t *testing.T) {
	p := NewHostPlatform(context.Background(), testLogger())

	start := time.Now()
	p.Halt(20 * time.Millisecond)
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Errorf("Halt returned after %s, before its timeout", elapsed)
	}
}

func TestHostPlatform_WakeEndsHalt(t *testing.T) {
	p := NewHostPlatform(context.Background(), testLogger())

	go func() {
		time.Sleep(10 * time.Millisecond)
		p.Wake()
	}()

	start := time.Now()
	p.Halt(5 * time.Second)
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Wake did not end the halt (%s)", elapsed)
	}
}

func TestHostPlatform_CancelEndsHalt(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := NewHostPlatform(ctx, testLogger())
	cancel()

	done := make(chan struct{})
	go func() {
		p.Halt(5 * time.Second)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("cancelled context did not end the halt")
	}
}

func TestHostPlatform_MotionArm(t *testing.T) {
	p := NewHostPlatform(context.Background(), testLogger())
	if p.MotionArmed() {
		t.Fatal("motion should start disarmed")
	}
	p.ArmMotionInterrupt(true)
	if !p.MotionArmed() {
		t.Error("motion should be armed")
	}
	p.ArmMotionInterrupt(false)
	if p.MotionArmed() {
		t.Error("motion should be disarmed")
	}
}

type fakeNotifier struct {
	modes []string
	err   error
}

func (f *fakeNotifier) SendPeripherals(mode string) error {
	f.modes = append(f.modes, mode)
	return f.err
}

func TestPeripherals_Sequence(t *testing.T) {
	n := &fakeNotifier{}
	var fullInits int
	p := NewPeripherals(testLogger(), n, func() { fullInits++ })

	steps := []func() error{p.PowerDown, p.InitLight, p.PowerDownLight, p.InitFull}
	for _, step := range steps {
		if err := step(); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	want := []string{PeripheralsOff, PeripheralsLight, PeripheralsOff, PeripheralsFull}
	if len(n.modes) != len(want) {
		t.Fatalf("modes = %v, want %v", n.modes, want)
	}
	for i := range want {
		if n.modes[i] != want[i] {
			t.Errorf("mode %d = %s, want %s", i, n.modes[i], want[i])
		}
	}
	if fullInits != 1 {
		t.Errorf("full init hook ran %d times, want 1", fullInits)
	}
}

func TestPeripherals_FullInitHookRunsOnNotifyError(t *testing.T) {
	n := &fakeNotifier{err: errors.New("redis down")}
	var fullInits int
	p := NewPeripherals(testLogger(), n, func() { fullInits++ })

	if err := p.InitFull(); err == nil {
		t.Error("expected notifier error")
	}
	if fullInits != 1 {
		t.Error("log session should start even when the notify fails")
	}
}
