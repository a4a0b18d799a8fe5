package discovery

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/hyperengineering/paramlore/internal/types"
)

func TestRunner_DiscoverAll(t *testing.T) {
	// Given: several independent plugin instances sharing one base
	kb := newBase(t)
	targets := []Target{
		targetFor(loadFixture(t, "valhalla_plate.yaml")),
		targetFor(loadFixture(t, "tape_delay.yaml")),
		{Plugin: targetFor(loadFixture(t, "valhalla_plate.yaml")).Plugin},
		targetFor(loadFixture(t, "tape_delay.yaml")),
	}

	// When: discovering them two at a time
	results, err := NewRunner(newSession(kb), 2).DiscoverAll(context.Background(), targets)

	// Then: the invalid target fails alone and the others complete in order
	if !errors.Is(err, ErrInvalidTarget) {
		t.Fatalf("DiscoverAll() error = %v, want ErrInvalidTarget", err)
	}
	if len(results) != len(targets) {
		t.Fatalf("got %d results, want %d", len(results), len(targets))
	}
	if results[2].Record != nil {
		t.Errorf("invalid target produced a record")
	}
	for _, i := range []int{0, 1, 3} {
		rec := results[i].Record
		if rec == nil || rec.Plugin() != targets[i].Plugin {
			t.Errorf("results[%d] = %+v, want record for %s", i, rec, targets[i].Plugin.Name)
		}
	}
	if got := kb.Stats().PluginsAnalyzed; got != 2 {
		t.Errorf("PluginsAnalyzed = %d, want 2", got)
	}
}

func TestRunner_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results, err := NewRunner(newSession(newBase(t)), 0).DiscoverAll(ctx, []Target{
		targetFor(loadFixture(t, "valhalla_plate.yaml")),
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("DiscoverAll() error = %v, want context.Canceled", err)
	}
	rec := results[0].Record
	if rec == nil || len(rec.Parameters()) != 0 {
		t.Fatalf("cancelled session record = %+v", rec)
	}
	// Cancellation is not the same as a plugin without parameters
	if rec.Empty() || !slices.Contains(kinds(rec.Diagnostics()), types.DiagnosticCancelled) {
		t.Errorf("cancelled record empty=%v diagnostics=%v", rec.Empty(), rec.Diagnostics())
	}
}
