package wpa

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"time"
)

// Unix socket path limit on darwin, see golang/go#6895.
const maxDarwinSockPath = 104

// conn is a datagram connection to a wpa_supplicant or hostapd control
// interface. Unlike a stream socket, the client must bind its own socket
// file for the daemon to reply to.
type conn struct {
	*net.UnixConn
	local string
}

// dial connects to ctrlSock from a local socket in localDir named
// "<prefix>.<base of ctrlSock>". The temporary directory is used if
// localDir is blank.
func dial(localDir, prefix, ctrlSock string) (*conn, error) {
	if localDir == "" {
		localDir = os.TempDir()
	}
	local := filepath.Join(localDir, prefix+"."+filepath.Base(ctrlSock))
	if runtime.GOOS == "darwin" && len(local) > maxDarwinSockPath {
		return nil, fmt.Errorf("socket path (%q) too long", local)
	}

	// A socket left behind by an unclean exit makes bind fail.
	if err := os.Remove(local); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	uc, err := net.DialUnix("unixgram",
		&net.UnixAddr{Name: local, Net: "unixgram"},
		&net.UnixAddr{Name: ctrlSock, Net: "unixgram"},
	)
	if err != nil {
		return nil, err
	}
	return &conn{UnixConn: uc, local: local}, nil
}

// readDeadline sets the read deadline d from now, or clears it if d is 0.
func (c *conn) readDeadline(d time.Duration) error {
	if d == 0 {
		return c.SetReadDeadline(time.Time{})
	}
	return c.SetReadDeadline(time.Now().Add(d))
}

func (c *conn) writeDeadline(d time.Duration) error {
	return c.SetWriteDeadline(time.Now().Add(d))
}

// Close closes the connection and removes the local socket file.
func (c *conn) Close() error {
	return errors.Join(c.UnixConn.Close(), os.Remove(c.local))
}
