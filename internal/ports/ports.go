// Package ports holds the well-known loopback addresses shared by the editor
// integration: the editor's line-click listener, the document-update ingress
// and the frontend bridge.
package ports

import (
	"net"
	"strconv"
)

const (
	// LoopbackHost is the only interface the bridge binds to or dials.
	LoopbackHost = "127.0.0.1"

	// IngressPort receives document updates from the editor.
	IngressPort = 42069

	// NotifierPort is where the editor listens for line clicks.
	NotifierPort = 42070

	// FrontendPort serves the preview frontend (events, render, reload).
	FrontendPort = 42071
)

// Addr joins host and port into a dialable address.
func Addr(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// IngressAddr returns the default ingress listen address.
func IngressAddr() string {
	return Addr(LoopbackHost, IngressPort)
}

// NotifierAddr returns the default editor listener address.
func NotifierAddr() string {
	return Addr(LoopbackHost, NotifierPort)
}

// FrontendAddr returns the default frontend bridge address.
func FrontendAddr() string {
	return Addr(LoopbackHost, FrontendPort)
}

// IsLoopback reports whether host names the local machine.
func IsLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
