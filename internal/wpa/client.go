package wpa

import (
	"context"
	"fmt"
	"time"
)

// Per-datagram deadlines used for all control interface exchanges.
const (
	readTimeout  = 2 * time.Second
	writeTimeout = time.Second
)

// client is the part shared by the wpa_supplicant and hostapd
// control interface clients.
type client struct {
	localSockDir string
	ctrlSock     string
	prefix       string
	conn         *conn
	ctrl         *ctrl
}

func newClient(localSockDir, prefix, ctrlSock string) (*client, error) {
	cn, err := dial(localSockDir, prefix, ctrlSock)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to control socket %q: %w", ctrlSock, err)
	}

	ctrl, err := newCtrl(cn, readTimeout, writeTimeout)
	if err != nil {
		cn.Close()
		return nil, err
	}

	return &client{
		localSockDir: localSockDir,
		ctrlSock:     ctrlSock,
		prefix:       prefix,
		conn:         cn,
		ctrl:         ctrl,
	}, nil
}

// Close closes the connection to the control interface. The client
// is no longer usable after closing.
func (c *client) Close() error {
	return c.conn.Close()
}

// attach subscribes to control interface events until ctx is done, the
// events callback returns an error or the daemon terminates. It uses a
// separate socket local to this method, so the client's main socket can
// still be used while attached.
func (c *client) attach(ctx context.Context, ready func() error, events func(Event) error) error {
	cn, err := dial(c.localSockDir, c.prefix+"-attach", c.ctrlSock)
	if err != nil {
		return fmt.Errorf("unable to create 'attach' socket: %w", err)
	}
	defer cn.Close()

	ctrl, err := newCtrl(cn, readTimeout, writeTimeout)
	if err != nil {
		return err
	}

	return ctrl.attach(ctx, ready, events)
}
