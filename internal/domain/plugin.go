package domain

import (
	"errors"
	"net"
	"strconv"
)

var (
	// ErrNotFound is returned by lookups when the requested record is absent.
	ErrNotFound = errors.New("not found")

	// ErrNoRunningInstance is returned when a plugin package has no
	// instance in running state.
	ErrNoRunningInstance = errors.New("no running plugin instance")
)

// PluginConfigInterface describes a remote plugin operation.
type PluginConfigInterface struct {
	ID          string
	PackageName string
	Path        string
	Parameters  []InterfaceParameter
}

// PluginInstance is one running process of a plugin package.
type PluginInstance struct {
	ID          string
	PackageName string
	Host        string
	Port        int
}

// Address returns host:port.
func (p PluginInstance) Address() string {
	return net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
}
