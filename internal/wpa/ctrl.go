package wpa

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Control interface command and response strings shared by
// wpa_supplicant and hostapd.
const (
	cmdPing        = "PING"
	respPong       = "PONG"
	cmdAttach      = "ATTACH"
	cmdDetach      = "DETACH"
	cmdStatus      = "STATUS"
	respOK         = "OK"
	respFail       = "FAIL"
	unknownCommand = "UNKNOWN COMMAND"
)

// ErrTerminating is returned by attach when the control interface
// terminates the connection, e.g. because the daemon is restarting.
var ErrTerminating = errors.New("control interface is exiting")

// errStopAttach may be returned by an attach callback to stop
// receiving events without reporting an error.
var errStopAttach = errors.New("stop attach")

// ErrUnknownCmd is returned when the control socket answers with an
// unknown command response.
type ErrUnknownCmd string

func (e ErrUnknownCmd) Error() string {
	return fmt.Sprintf("sent command %q, received unknown command response", string(e))
}

// ErrCmdFailed is returned when a command is answered with FAIL or any
// other response than the expected one.
type ErrCmdFailed struct {
	Cmd  string
	Resp string
}

// Error only names the command; its arguments may hold a passphrase.
func (e *ErrCmdFailed) Error() string {
	name, _, _ := strings.Cut(e.Cmd, " ")
	return fmt.Sprintf("unexpected response to %s: %q", name, e.Resp)
}

// newCtrl returns a new ctrl using the given connection. The control
// interface is pinged once to make sure it is responding.
func newCtrl(cn *conn, rTimeout, wTimeout time.Duration) (*ctrl, error) {
	c := &ctrl{
		readTimeout:  rTimeout,
		writeTimeout: wTimeout,
		conn:         cn,
		buf:          make([]byte, 8*1024),
	}
	if err := c.ping(); err != nil {
		return nil, fmt.Errorf("ping error: %w", err)
	}

	return c, nil
}

// ctrl manages request/response exchanges with a control interface.
type ctrl struct {
	readTimeout, writeTimeout time.Duration

	mu   sync.Mutex // Protects following.
	conn *conn
	buf  []byte
}

// cmd sends the given command and waits for the response. On success, the
// response's data is given to the resp function. Any error returned from
// the resp function is returned by this method. This method is threadsafe.
// The resp function should not retain p.
func (c *ctrl) cmd(cmd string, resp func(p []byte) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.writeTimeout > 0 {
		if err := c.conn.writeDeadline(c.writeTimeout); err != nil {
			return err
		}
	}
	if _, err := c.conn.Write([]byte(cmd)); err != nil {
		return err
	}

	if c.readTimeout > 0 {
		if err := c.conn.readDeadline(c.readTimeout); err != nil {
			return err
		}
	}

	n, err := c.conn.Read(c.buf)
	if err != nil {
		return fmt.Errorf("read error from %q command: %w", cmd, err)
	}

	if bytes.HasPrefix(c.buf[:n], []byte(unknownCommand)) {
		return ErrUnknownCmd(cmd)
	}

	return resp(c.buf[:n])
}

// cmdOK sends cmd and expects a plain OK response.
func (c *ctrl) cmdOK(cmd string) error {
	return c.cmd(cmd, func(resp []byte) error {
		if s := strings.TrimSpace(string(resp)); s != respOK {
			return &ErrCmdFailed{Cmd: cmd, Resp: s}
		}
		return nil
	})
}

// cmdInt sends cmd and parses the response as an integer.
func (c *ctrl) cmdInt(cmd string) (int, error) {
	var v int
	return v, c.cmd(cmd, func(resp []byte) error {
		s := strings.TrimSpace(string(resp))
		n, err := strconv.Atoi(s)
		if err != nil {
			return &ErrCmdFailed{Cmd: cmd, Resp: s}
		}
		v = n
		return nil
	})
}

// ping tests whether the control interface is responding
// to requests.
func (c *ctrl) ping() error {
	return c.cmd(cmdPing, func(resp []byte) error {
		if s := strings.TrimSpace(string(resp)); s != respPong {
			return &ErrCmdFailed{Cmd: cmdPing, Resp: s}
		}
		return nil
	})
}

// attach requests that the control interface send unsolicited event
// messages. Once attached, ready is called; it may trigger the
// operation whose events are awaited. attach blocks until the context
// is canceled, cb returns an error, or reading fails. If cb returns
// errStopAttach, attach detaches and returns nil.
// While this method is blocking, no other ctrl methods can be used.
func (c *ctrl) attach(ctx context.Context, ready func() error, cb func(Event) error) error {
	if err := c.cmdOK(cmdAttach); err != nil {
		return err
	}

	// Socket is now "attached". Command responses and unsolicited messages
	// would be mixed if it were used for other commands, so the mutex is
	// held for the duration of the blocking attach method.

	c.mu.Lock()
	defer c.mu.Unlock()

	detach, detached := c.detacher()
	defer detach()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			detach()
		case <-stop:
		}
	}()

	// Remove any read timeouts from the connection, otherwise
	// it could trigger while waiting for events.
	if err := c.conn.readDeadline(0); err != nil {
		return err
	}

	if ready != nil {
		if err := ready(); err != nil {
			return err
		}
	}

	var msg string
	for {
		n, err := c.conn.Read(c.buf)
		if err != nil {
			select {
			case <-detached:
				// Read deadline set by detach expired.
				return nil
			default:
				return err
			}
		}

		msg = strings.TrimSpace(string(c.buf[:n]))

		// A DETACH response is only expected after detach was called.
		if msg == respOK {
			select {
			case <-detached:
				return nil
			default:
				return fmt.Errorf("unexpected message while attached: %q", msg)
			}
		}

		event, err := parseEvent(msg)
		if err != nil {
			return err
		}

		if _, ok := event.(EventTerminating); ok {
			return ErrTerminating
		}

		if err = cb(event); err != nil {
			if errors.Is(err, errStopAttach) {
				return nil
			}
			return err
		}
	}
}

// detacher returns a function that, when called, sends a detach
// command to stop receiving unsolicited events. The function is threadsafe and
// can be called multiple times. Only the first call will perform the detach.
// The returned channel is closed before the detach command is sent.
func (c *ctrl) detacher() (func(), <-chan struct{}) {
	var (
		mu       sync.Mutex
		detached bool
		done     = make(chan struct{})
	)

	f := func() {
		mu.Lock()
		defer mu.Unlock()

		if detached {
			return
		}
		detached = true
		close(done)

		// Errors are ignored, there's no recourse at this point.
		_ = c.conn.writeDeadline(c.writeTimeout)
		_, _ = c.conn.Write([]byte(cmdDetach))

		// The response is consumed by the attach read loop.
		_ = c.conn.readDeadline(c.readTimeout)
	}

	return f, done
}
