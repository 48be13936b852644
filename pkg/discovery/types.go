package discovery

import (
	"context"
	"errors"
	"net"
	"strconv"
	"time"
)

const (
	// ServiceTypeResourceDirectory is the DNS-SD service type of a
	// resource directory reachable over UDP.
	ServiceTypeResourceDirectory = "_core-rd._udp"

	// Domain is the mDNS domain.
	Domain = "local"

	// ResourceType is the expected rt= TXT value.
	ResourceType = "core.rd"

	// DefaultPort is the CoAP port used when a service reports none.
	DefaultPort = 5683

	// BrowseTimeout is the default timeout for FindServer.
	BrowseTimeout = 5 * time.Second
)

// TXT record keys.
const (
	TXTKeyResourceType = "rt"
	TXTKeyPath         = "path"
	TXTKeyVersion      = "ver"
)

// Discovery errors.
var (
	ErrNotFound        = errors.New("service not found")
	ErrWrongType       = errors.New("service is not a resource directory")
	ErrNoAddress       = errors.New("service has no address")
	ErrBrowserStopped  = errors.New("browser stopped")
	ErrInvalidTXTValue = errors.New("invalid TXT record value")
)

// ServerService is a discovered resource directory.
type ServerService struct {
	// InstanceName is the DNS-SD instance name.
	InstanceName string

	// Host is the target host name.
	Host string

	// Port is the UDP port.
	Port uint16

	// Addresses are the resolved IP addresses.
	Addresses []string

	// Path is the registration path.
	Path string

	// Version is the advertised protocol version, if any.
	Version string
}

// Address returns host:port for the first resolved address.
func (s *ServerService) Address() (string, error) {
	if len(s.Addresses) == 0 {
		return "", ErrNoAddress
	}
	port := s.Port
	if port == 0 {
		port = DefaultPort
	}
	return net.JoinHostPort(s.Addresses[0], strconv.Itoa(int(port))), nil
}

// ServiceEntry is a browse result decoupled from the mDNS library.
type ServiceEntry struct {
	Instance string
	Service  string
	Domain   string
	Host     string
	Port     uint16
	Text     []string
	Addrs    []string
}

// ToServerService converts a ServiceEntry to a ServerService.
func (e *ServiceEntry) ToServerService() (*ServerService, error) {
	info, err := DecodeServerTXT(StringsToTXTRecords(e.Text))
	if err != nil {
		return nil, err
	}
	return &ServerService{
		InstanceName: e.Instance,
		Host:         e.Host,
		Port:         e.Port,
		Addresses:    e.Addrs,
		Path:         info.Path,
		Version:      info.Version,
	}, nil
}

// Browser finds resource directories.
type Browser interface {
	// BrowseServers streams discovered servers until ctx is done.
	BrowseServers(ctx context.Context) (<-chan *ServerService, error)

	// FindServer returns the first server whose instance name matches,
	// or any server if name is empty.
	FindServer(ctx context.Context, name string) (*ServerService, error)

	// Stop stops all active browsing operations.
	Stop()
}

// BrowserConfig configures browser behavior.
type BrowserConfig struct {
	// BrowseTimeout bounds FindServer when ctx has no deadline.
	BrowseTimeout time.Duration

	// Interface specifies which network interface to use.
	// Empty string means all interfaces.
	Interface string
}

// DefaultBrowserConfig returns the default browser configuration.
func DefaultBrowserConfig() BrowserConfig {
	return BrowserConfig{
		BrowseTimeout: BrowseTimeout,
	}
}
