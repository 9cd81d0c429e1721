package nanoleaf

import (
	"context"
	"io"
	stdlog "log"
	"net"
	"strconv"
	"time"

	"github.com/hashicorp/mdns"
	"github.com/rs/zerolog/log"
)

// mdnsService is the service type devices advertise.
const mdnsService = "_nanoleafapi._tcp"

// DiscoveredDevice is one device found on the local network.
type DiscoveredDevice struct {
	Name string
	Host string
	Port int
}

// Address returns host:port.
func (d DiscoveredDevice) Address() string {
	return net.JoinHostPort(d.Host, strconv.Itoa(d.Port))
}

// Discover browses mDNS for devices until timeout or ctx cancellation.
func Discover(ctx context.Context, timeout time.Duration) ([]DiscoveredDevice, error) {
	entries := make(chan *mdns.ServiceEntry, 16)
	found := make(map[string]DiscoveredDevice)
	done := make(chan struct{})

	go func() {
		defer close(done)
		for entry := range entries {
			if entry.AddrV4 == nil {
				continue
			}
			dev := DiscoveredDevice{
				Name: entry.Name,
				Host: entry.AddrV4.String(),
				Port: entry.Port,
			}
			if _, seen := found[dev.Address()]; !seen {
				log.Debug().Str("name", dev.Name).Str("address", dev.Address()).Msg("Discovered device")
			}
			found[dev.Address()] = dev
		}
	}()

	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}

	params := mdns.DefaultParams(mdnsService)
	params.Entries = entries
	params.Timeout = timeout
	params.DisableIPv6 = true
	// The library logs through the standard logger; keep it quiet.
	params.Logger = stdlog.New(io.Discard, "", 0)

	err := mdns.Query(params)
	close(entries)
	<-done
	if err != nil {
		return nil, err
	}

	devices := make([]DiscoveredDevice, 0, len(found))
	for _, d := range found {
		devices = append(devices, d)
	}
	return devices, nil
}
