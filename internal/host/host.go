// Package host defines the capability surface a plugin-hosting environment
// exposes to discovery, and the restore guard every mutating probe runs under.
package host

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/time/rate"

	"github.com/hyperengineering/paramlore/internal/types"
)

// DefaultRestoreAttempts is how often a restore write is retried before the
// parameter is reported as not restored.
const DefaultRestoreAttempts = 3

// Proxy is an opaque handle to a loaded plugin instance.
type Proxy interface {
	// Names enumerates every attribute name exposed by the plugin object.
	Names() ([]string, error)

	// Read returns the current value of the named attribute.
	Read(name string) (types.Value, error)

	// Write sets the named attribute. Hosts may clamp, canonicalize or reject
	// the value; rejection is reported as ErrWriteRejected.
	Write(name string, v types.Value) error
}

// ParameterLister is implemented by hosts that expose an explicit parameter
// collection. Hosts without one return ErrUnsupported.
type ParameterLister interface {
	Parameters() ([]string, error)
}

// RangeReporter is implemented by hosts that declare numeric bounds.
type RangeReporter interface {
	DeclaredRange(name string) (types.Range, bool, error)
}

// ValueLister is implemented by hosts that declare enumeration members.
type ValueLister interface {
	ValidValues(name string) ([]types.Value, bool, error)
}

// Displayer is implemented by hosts that render a parameter for display,
// such as "250 ms". Parameters without a display form return ErrUnsupported.
type Displayer interface {
	Display(name string) (string, error)
}

// Unwrapper is implemented by proxies that decorate another proxy.
type Unwrapper interface {
	Unwrap() Proxy
}

// As finds the first proxy in p's decorator chain that implements T.
func As[T any](p Proxy) (T, bool) {
	for p != nil {
		if t, ok := p.(T); ok {
			return t, true
		}
		u, ok := p.(Unwrapper)
		if !ok {
			break
		}
		p = u.Unwrap()
	}
	var zero T
	return zero, false
}

// Throttled paces writes to the wrapped proxy. Reads are not limited.
type Throttled struct {
	Proxy
	limiter *rate.Limiter
}

// Throttle returns p with writes limited to perSecond. A non-positive rate
// returns p unchanged.
func Throttle(p Proxy, perSecond float64) Proxy {
	if perSecond <= 0 {
		return p
	}
	return &Throttled{Proxy: p, limiter: rate.NewLimiter(rate.Limit(perSecond), 1)}
}

// Write waits for the limiter and forwards the write. Waiting is never
// abandoned, so restore writes always reach the host.
func (t *Throttled) Write(name string, v types.Value) error {
	if err := t.limiter.Wait(context.Background()); err != nil {
		return fmt.Errorf("pace write %q: %w", name, err)
	}
	return t.Proxy.Write(name, v)
}

// Unwrap returns the paced proxy.
func (t *Throttled) Unwrap() Proxy { return t.Proxy }

// DeclaredRange asks p for a declared range when the host supports it.
func DeclaredRange(p Proxy, name string) (types.Range, bool) {
	rr, ok := As[RangeReporter](p)
	if !ok {
		return types.Range{}, false
	}
	r, ok, err := rr.DeclaredRange(name)
	if err != nil || !ok {
		return types.Range{}, false
	}
	return r, true
}

// DeclaredValues asks p for declared enumeration members when supported.
func DeclaredValues(p Proxy, name string) ([]types.Value, bool) {
	vl, ok := As[ValueLister](p)
	if !ok {
		return nil, false
	}
	vals, ok, err := vl.ValidValues(name)
	if err != nil || !ok || len(vals) == 0 {
		return nil, false
	}
	return vals, true
}

// DisplayText asks p for the display form of a parameter when supported.
func DisplayText(p Proxy, name string) (string, bool) {
	d, ok := As[Displayer](p)
	if !ok {
		return "", false
	}
	s, err := d.Display(name)
	if err != nil || s == "" {
		return "", false
	}
	return s, true
}

// Preserve reads the current value of name, runs fn, and writes the original
// value back on every exit path, including a panic inside fn. A failed
// restore is joined into the returned error as a *RestoreError.
func Preserve(p Proxy, name string, attempts int, fn func(original types.Value) error) (err error) {
	original, err := p.Read(name)
	if err != nil {
		return fmt.Errorf("read original %q: %w", name, err)
	}

	defer func() {
		if rerr := Restore(p, name, original, attempts); rerr != nil {
			err = errors.Join(err, rerr)
		}
	}()

	return fn(original)
}

// Restore writes original back to name and verifies the read-back, retrying
// up to attempts times.
func Restore(p Proxy, name string, original types.Value, attempts int) error {
	if attempts < 1 {
		attempts = 1
	}

	var last error
	for i := 0; i < attempts; i++ {
		werr := p.Write(name, original)
		got, err := p.Read(name)
		if err == nil && got.Equal(original) {
			// A rejected write that left the value untouched counts as restored.
			return nil
		}
		switch {
		case werr != nil:
			last = werr
		case err != nil:
			last = err
		default:
			last = fmt.Errorf("read back %q, want %q", got, original)
		}
	}

	slog.Warn("parameter restore failed",
		"component", "host",
		"action", "restore_failed",
		"parameter", name,
		"attempts", attempts,
		"error", last,
	)
	return &RestoreError{Name: name, Original: original, Err: last}
}
