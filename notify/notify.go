// Package notify delivers desktop notifications over the session bus
// using the org.freedesktop.Notifications interface. Notification
// failures are always soft: a missing daemon must never break a
// connection operation.
package notify

import (
	"github.com/godbus/dbus/v5"

	"github.com/yllada/ovpn3-manager/common"
)

const (
	busName    = "org.freedesktop.Notifications"
	objectPath = "/org/freedesktop/Notifications"
	method     = "org.freedesktop.Notifications.Notify"

	// expireTimeout in milliseconds; -1 would defer to the daemon.
	expireTimeout = int32(5000)
)

// Notifier sends desktop notifications. It satisfies common.Notifier.
type Notifier struct {
	conn *dbus.Conn
}

// New connects to the session bus. The returned error is informational;
// callers typically log it and continue with a nil notifier.
func New() (*Notifier, error) {
	conn, err := dbus.SessionBus()
	if err != nil {
		return nil, common.WrapError(err, "connecting to session bus")
	}
	return &Notifier{conn: conn}, nil
}

// Notify shows one transient notification.
func (n *Notifier) Notify(title, message string) error {
	obj := n.conn.Object(busName, objectPath)
	// Argument order per the Desktop Notifications specification:
	// app_name, replaces_id, app_icon, summary, body, actions, hints,
	// expire_timeout.
	call := obj.Call(method, 0,
		common.AppName,
		uint32(0),
		"",
		title,
		message,
		[]string{},
		map[string]dbus.Variant{},
		expireTimeout,
	)
	if call.Err != nil {
		return common.WrapError(call.Err, "sending notification")
	}
	return nil
}

// Close releases the bus connection.
func (n *Notifier) Close() error {
	return n.conn.Close()
}
