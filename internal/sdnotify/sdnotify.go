// Package sdnotify implements the sd_notify datagram protocol for systemd
// units of Type=notify. Outside systemd every call is a no-op.
package sdnotify

import (
	"net"
	"os"
	"strings"
)

// Ready signals that the local scan endpoint is listening.
func Ready() error {
	return Notify("READY=1")
}

// Stopping signals graceful shutdown.
func Stopping() error {
	return Notify("STOPPING=1")
}

// Status sets the line shown by systemctl status.
func Status(msg string) error {
	return Notify("STATUS=" + msg)
}

// Notify sends the given assignments in one datagram.
func Notify(states ...string) error {
	socketPath := os.Getenv("NOTIFY_SOCKET")
	if socketPath == "" {
		return nil
	}
	// Abstract namespace sockets are announced with a leading '@'.
	if strings.HasPrefix(socketPath, "@") {
		socketPath = "\x00" + socketPath[1:]
	}

	conn, err := net.Dial("unixgram", socketPath)
	if err != nil {
		return err
	}
	defer conn.Close()

	_, err = conn.Write([]byte(strings.Join(states, "\n")))
	return err
}
