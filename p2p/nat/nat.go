// Package nat maps the UDP port this node listens on through a home
// router via UPnP or NAT-PMP, as a supplemental best-effort layer ahead of
// the protocol's own hole-punching (spec.md §4.3). Grounded on
// go-ethereum/klaytn's own `p2p/nat` package, which uses the same two
// libraries for the same purpose; that package's source isn't present in
// the retrieved pack, so this is written fresh against the libraries'
// public APIs rather than adapted from a teacher file.
package nat

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	natpmp "github.com/jackpal/go-nat-pmp"

	"github.com/huin/goupnp/dcps/internetgateway1"
	"github.com/huin/goupnp/dcps/internetgateway2"

	"github.com/CympleTech/TDN-sub000/log"
)

var logger = log.NewModuleLogger(log.ModuleNAT)

// Interface is something that can map a local port to an externally
// reachable one and report the gateway's external IP.
type Interface interface {
	ExternalIP() (net.IP, error)
	AddMapping(protocol string, extPort, intPort int, desc string, lifetime time.Duration) error
	DeleteMapping(protocol string, extPort, intPort int) error
}

// Parse resolves a user-supplied NAT mechanism spec: "none", "upnp",
// "pmp", "pmp:<gateway-ip>", or "extip:<ip>" for a statically known public
// address.
func Parse(spec string) (Interface, error) {
	var mechanism, rest string
	if i := strings.IndexByte(spec, ':'); i >= 0 {
		mechanism, rest = spec[:i], spec[i+1:]
	} else {
		mechanism = spec
	}
	switch strings.ToLower(mechanism) {
	case "", "none", "off":
		return nil, nil
	case "upnp":
		return UPnP(), nil
	case "pmp", "natpmp", "nat-pmp":
		ip := net.ParseIP(rest)
		if rest != "" && ip == nil {
			return nil, fmt.Errorf("nat: invalid gateway IP %q for pmp", rest)
		}
		return PMP(ip), nil
	case "extip":
		ip := net.ParseIP(rest)
		if ip == nil {
			return nil, fmt.Errorf("nat: invalid IP %q for extip", rest)
		}
		return ExtIP(ip), nil
	default:
		return nil, fmt.Errorf("nat: unknown mechanism %q", spec)
	}
}

// ExtIP is a no-op Interface for a statically configured public address.
type ExtIP net.IP

func (n ExtIP) ExternalIP() (net.IP, error) { return net.IP(n), nil }
func (n ExtIP) AddMapping(string, int, int, string, time.Duration) error { return nil }
func (n ExtIP) DeleteMapping(string, int, int) error                    { return nil }
func (n ExtIP) String() string                                          { return fmt.Sprintf("extip{%v}", net.IP(n)) }

// PMP returns a NAT-PMP Interface against the given gateway, or attempts to
// discover the default gateway if gateway is nil.
func PMP(gateway net.IP) Interface {
	return &pmp{gateway: gateway}
}

type pmp struct {
	mu      sync.Mutex
	gateway net.IP
	client  *natpmp.Client
}

func (n *pmp) client_() (*natpmp.Client, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.client != nil {
		return n.client, nil
	}
	gw := n.gateway
	if gw == nil {
		var err error
		gw, err = discoverGateway()
		if err != nil {
			return nil, err
		}
	}
	n.client = natpmp.NewClient(gw)
	return n.client, nil
}

func (n *pmp) ExternalIP() (net.IP, error) {
	c, err := n.client_()
	if err != nil {
		return nil, err
	}
	res, err := c.GetExternalAddress()
	if err != nil {
		return nil, err
	}
	ip := res.ExternalIPAddress
	return net.IPv4(ip[0], ip[1], ip[2], ip[3]), nil
}

func (n *pmp) AddMapping(protocol string, extPort, intPort int, desc string, lifetime time.Duration) error {
	c, err := n.client_()
	if err != nil {
		return err
	}
	_, err = c.AddPortMapping(strings.ToLower(protocol), intPort, extPort, int(lifetime/time.Second))
	return err
}

func (n *pmp) DeleteMapping(protocol string, extPort, intPort int) error {
	c, err := n.client_()
	if err != nil {
		return err
	}
	_, err = c.AddPortMapping(strings.ToLower(protocol), intPort, 0, 0)
	return err
}

func (n *pmp) String() string { return "NAT-PMP" }

// discoverGateway guesses the default gateway from the host's own IPv4
// address, the same heuristic go-ethereum's p2p/nat uses: the gateway is
// typically the .1 address of the local /24.
func discoverGateway() (net.IP, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil, err
	}
	for _, a := range addrs {
		ipNet, ok := a.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		ip4 := ipNet.IP.To4()
		if ip4 == nil {
			continue
		}
		gw := make(net.IP, 4)
		copy(gw, ip4)
		gw[3] = 1
		return gw, nil
	}
	return nil, errors.New("nat: no usable IPv4 interface to guess gateway from")
}

// upnp wraps whichever of the two InternetGatewayDevice service versions
// goupnp discovers on the LAN.
type upnp struct {
	mu      sync.Mutex
	dev     upnpClient
	service string
}

type upnpClient interface {
	GetExternalIPAddress() (string, error)
	AddPortMapping(string, uint16, string, uint16, string, bool, string, uint32) error
	DeletePortMapping(string, uint16, string) error
}

// UPnP discovers an InternetGatewayDevice on the LAN and returns an
// Interface for it, or nil if none responds.
func UPnP() Interface {
	found := make(chan *upnp, 2)
	go discoverUPnP1(found)
	go discoverUPnP2(found)

	var result *upnp
	for i := 0; i < 2; i++ {
		if u := <-found; u != nil && result == nil {
			result = u
		}
	}
	if result == nil {
		return nil
	}
	return result
}

func discoverUPnP1(found chan<- *upnp) {
	clients, errs, err := internetgateway1.NewWANIPConnection1Clients()
	if err != nil || len(errs) == len(clients) {
		found <- nil
		return
	}
	for _, c := range clients {
		found <- &upnp{dev: c, service: "WANIPConnection1"}
		return
	}
	found <- nil
}

func discoverUPnP2(found chan<- *upnp) {
	clients, errs, err := internetgateway2.NewWANIPConnection2Clients()
	if err != nil || len(errs) == len(clients) {
		found <- nil
		return
	}
	for _, c := range clients {
		found <- &upnp{dev: c, service: "WANIPConnection2"}
		return
	}
	found <- nil
}

func (u *upnp) ExternalIP() (net.IP, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.dev == nil {
		return nil, errors.New("nat: no UPnP gateway discovered")
	}
	s, err := u.dev.GetExternalIPAddress()
	if err != nil {
		return nil, err
	}
	ip := net.ParseIP(s)
	if ip == nil {
		return nil, fmt.Errorf("nat: gateway returned invalid IP %q", s)
	}
	return ip, nil
}

func (u *upnp) AddMapping(protocol string, extPort, intPort int, desc string, lifetime time.Duration) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.dev == nil {
		return errors.New("nat: no UPnP gateway discovered")
	}
	ip, err := localIPv4()
	if err != nil {
		return err
	}
	return u.dev.AddPortMapping("", uint16(extPort), strings.ToUpper(protocol), uint16(intPort), ip.String(), true, desc, uint32(lifetime/time.Second))
}

func (u *upnp) DeleteMapping(protocol string, extPort, intPort int) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.dev == nil {
		return errors.New("nat: no UPnP gateway discovered")
	}
	return u.dev.DeletePortMapping("", uint16(extPort), strings.ToUpper(protocol))
}

func (u *upnp) String() string { return "UPnP(" + u.service + ")" }

func localIPv4() (net.IP, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil, err
	}
	for _, a := range addrs {
		ipNet, ok := a.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		if ip4 := ipNet.IP.To4(); ip4 != nil {
			return ip4, nil
		}
	}
	return nil, errors.New("nat: no usable local IPv4 address found")
}
