package hardware

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"sync"
	"time"

	"github.com/ESiegman/Thermo-PID/internal/dynamo"
)

var (
	ErrClosed       = errors.New("hardware: supply connection closed")
	ErrBadMagnitude = errors.New("hardware: magnitude must be finite and non-negative")
)

// SupplyParams configures a programmable bench supply speaking SCPI over a
// raw TCP socket.
type SupplyParams struct {
	Address      string
	CurrentLimit float64
	Heat         dynamo.Channel
	Cool         dynamo.Channel
	// Extra lists channels that are never driven but must still be switched
	// off by ShutdownAll, e.g. the RTD excitation rail.
	Extra       []dynamo.Channel
	DialTimeout time.Duration
}

// PowerSupply is a dynamo.ActuatorSink. Heat and cool are mutually
// exclusive: enabling one switches the other off first.
type PowerSupply struct {
	mu   sync.Mutex
	p    SupplyParams
	conn net.Conn
	w    *bufio.Writer
	on   map[dynamo.Channel]bool
	// dirty is set after a failed write that may have left a partial
	// command on the wire.
	dirty bool
}

// DialSupply connects to the supply and leaves every output untouched.
func DialSupply(ctx context.Context, p SupplyParams) (*PowerSupply, error) {
	if p.Address == "" {
		return nil, &dynamo.ConfigurationError{Field: "bench.address", Reason: "must be set"}
	}
	if p.Heat == "" || p.Cool == "" || p.Heat == p.Cool {
		return nil, &dynamo.ConfigurationError{Field: "channels", Reason: "heat and cool must be distinct"}
	}
	if !(p.CurrentLimit > 0) {
		return nil, &dynamo.ConfigurationError{Field: "bench.current_limit", Reason: "must be positive"}
	}
	if p.DialTimeout <= 0 {
		p.DialTimeout = 5 * time.Second
	}

	d := net.Dialer{Timeout: p.DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", p.Address)
	if err != nil {
		return nil, fmt.Errorf("dial supply %s: %w", p.Address, err)
	}
	return &PowerSupply{
		p:    p,
		conn: conn,
		w:    bufio.NewWriter(conn),
		on:   make(map[dynamo.Channel]bool),
	}, nil
}

func (ps *PowerSupply) Set(ctx context.Context, ch dynamo.Channel, magnitude float64) error {
	if magnitude < 0 || math.IsNaN(magnitude) || math.IsInf(magnitude, 0) {
		return fmt.Errorf("%w: %g", ErrBadMagnitude, magnitude)
	}
	var other dynamo.Channel
	switch ch {
	case ps.p.Heat:
		other = ps.p.Cool
	case ps.p.Cool:
		other = ps.p.Heat
	default:
		return fmt.Errorf("%w: %s", ErrUnknownChannel, ch)
	}

	ps.mu.Lock()
	defer ps.mu.Unlock()

	var cmds []string
	if ps.on[other] {
		cmds = append(cmds, fmt.Sprintf(":OUTP %s,OFF", other))
	}
	cmds = append(cmds, fmt.Sprintf(":APPL %s,%.3f,%.3f", ch, magnitude, ps.p.CurrentLimit))
	if !ps.on[ch] {
		cmds = append(cmds, fmt.Sprintf(":OUTP %s,ON", ch))
	}
	if err := ps.send(ctx, cmds...); err != nil {
		return err
	}
	ps.on[other] = false
	ps.on[ch] = true
	return nil
}

// Enable applies a fixed level to an auxiliary channel and switches it on.
func (ps *PowerSupply) Enable(ctx context.Context, ch dynamo.Channel, volts, amps float64) error {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if err := ps.send(ctx, fmt.Sprintf(":APPL %s,%.3f,%.3f", ch, volts, amps), fmt.Sprintf(":OUTP %s,ON", ch)); err != nil {
		return err
	}
	ps.on[ch] = true
	return nil
}

// ShutdownAll switches every known output off regardless of tracked state.
// Each channel gets its own command so a failure on one still lets the
// others be attempted.
func (ps *PowerSupply) ShutdownAll(ctx context.Context) error {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	channels := append([]dynamo.Channel{ps.p.Heat, ps.p.Cool}, ps.p.Extra...)
	var errs []error
	for _, ch := range channels {
		if err := ps.send(ctx, fmt.Sprintf(":OUTP %s,OFF", ch)); err != nil {
			errs = append(errs, fmt.Errorf("%s off: %w", ch, err))
			if errors.Is(err, ErrClosed) {
				break
			}
			continue
		}
		ps.on[ch] = false
	}
	return errors.Join(errs...)
}

func (ps *PowerSupply) Close() error {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if ps.conn == nil {
		return nil
	}
	err := ps.conn.Close()
	ps.conn = nil
	return err
}

// send writes newline-terminated commands; the caller holds mu. A failed
// write discards whatever is still buffered, and the next send first
// terminates any partial line so its own commands arrive intact.
func (ps *PowerSupply) send(ctx context.Context, cmds ...string) error {
	if ps.conn == nil {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Time{}
	}
	if err := ps.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	if ps.dirty {
		ps.w.WriteString("\n")
	}
	for _, c := range cmds {
		if _, err := ps.w.WriteString(c + "\n"); err != nil {
			ps.fail()
			return fmt.Errorf("scpi %q: %w", c, err)
		}
	}
	if err := ps.w.Flush(); err != nil {
		ps.fail()
		return fmt.Errorf("scpi flush: %w", err)
	}
	ps.dirty = false
	return nil
}

func (ps *PowerSupply) fail() {
	ps.w.Reset(ps.conn)
	ps.dirty = true
}
