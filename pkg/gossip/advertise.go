package gossip

import (
	"fmt"
	"net"

	sockaddr "github.com/hashicorp/go-sockaddr"
)

// resolveAdvertiseAddr returns the address to advertise to other nodes given
// the configured bind and advertise addresses.
//
// If advertiseAddr is set it's used as-is. Otherwise the bind port is kept
// and the host is filled in: if bindAddr specifies a host that's used,
// otherwise the node's private IP is looked up so peers outside this host
// have something routable to dial.
func resolveAdvertiseAddr(bindAddr, advertiseAddr string) (string, error) {
	if advertiseAddr != "" {
		return advertiseAddr, nil
	}

	host, port, err := net.SplitHostPort(bindAddr)
	if err != nil {
		return "", fmt.Errorf("invalid bind addr: %s: %w", bindAddr, err)
	}
	if host != "" {
		return bindAddr, nil
	}

	ip, err := sockaddr.GetPrivateIP()
	if err != nil {
		return "", fmt.Errorf("get private ip: %w", err)
	}
	if ip == "" {
		return "", fmt.Errorf("no private ip found")
	}

	return net.JoinHostPort(ip, port), nil
}
