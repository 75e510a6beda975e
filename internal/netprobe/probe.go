package netprobe

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pion/stun/v3"
)

const (
	NATTypeUnknown          = "unknown"
	NATTypeSymmetric        = "symmetric"
	NATTypeConeOrRestricted = "cone_or_restricted"
)

const defaultTimeout = 3 * time.Second

// DefaultServers is used when no STUN servers are configured.
var DefaultServers = []string{
	"stun.l.google.com:19302",
	"stun1.l.google.com:19302",
}

// Mapping is the public address one STUN server reported for us.
type Mapping struct {
	Server string
	Addr   string
	RTT    time.Duration
}

// Result is the outcome of probing every configured server.
type Result struct {
	PublicAddr string
	NATType    string
	Mappings   []Mapping
	Failures   map[string]error
}

// Prober queries STUN servers for the client's public mapped address.
// The mapped address belongs to the probe socket and may differ from the
// one a session would use.
type Prober struct {
	servers []string
	timeout time.Duration
	mapAddr func(ctx context.Context, server string, timeout time.Duration) (string, error)
}

func New(servers []string, timeout time.Duration) *Prober {
	cleaned := make([]string, 0, len(servers))
	for _, s := range servers {
		if s = strings.TrimSpace(s); s != "" {
			cleaned = append(cleaned, s)
		}
	}
	if len(cleaned) == 0 {
		cleaned = append(cleaned, DefaultServers...)
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Prober{servers: cleaned, timeout: timeout, mapAddr: bind}
}

// Probe asks each server in turn. It fails only when no server answered.
func (p *Prober) Probe(ctx context.Context) (Result, error) {
	res := Result{NATType: NATTypeUnknown, Failures: map[string]error{}}
	addrs := make([]string, 0, len(p.servers))
	for _, server := range p.servers {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		start := time.Now()
		addr, err := p.mapAddr(ctx, server, p.timeout)
		if err != nil {
			res.Failures[server] = err
			continue
		}
		res.Mappings = append(res.Mappings, Mapping{Server: server, Addr: addr, RTT: time.Since(start)})
		addrs = append(addrs, addr)
	}

	if len(addrs) == 0 {
		errs := make([]error, 0, len(res.Failures))
		for _, server := range p.servers {
			errs = append(errs, fmt.Errorf("%s: %w", server, res.Failures[server]))
		}
		return res, fmt.Errorf("STUN probe failed: %w", errors.Join(errs...))
	}
	res.PublicAddr = addrs[0]
	res.NATType = Classify(addrs)
	return res, nil
}

// Classify infers the NAT type by comparing mapped addresses from
// several servers.
func Classify(addrs []string) string {
	if len(addrs) < 2 {
		return NATTypeUnknown
	}
	for _, addr := range addrs[1:] {
		if addr != addrs[0] {
			return NATTypeSymmetric
		}
	}
	return NATTypeConeOrRestricted
}

func bind(ctx context.Context, server string, timeout time.Duration) (string, error) {
	if !strings.HasPrefix(server, "stun:") {
		server = "stun:" + server
	}
	uri, err := stun.ParseURI(server)
	if err != nil {
		return "", err
	}
	client, err := stun.DialURI(uri, &stun.DialConfig{})
	if err != nil {
		return "", err
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type answer struct {
		addr string
		err  error
	}
	out := make(chan answer, 1)
	msg := stun.MustBuild(stun.TransactionID, stun.BindingRequest)
	go func() {
		err := client.Do(msg, func(ev stun.Event) {
			if ev.Error != nil {
				out <- answer{err: ev.Error}
				return
			}
			var xor stun.XORMappedAddress
			if err := xor.GetFrom(ev.Message); err != nil {
				out <- answer{err: err}
				return
			}
			out <- answer{addr: xor.String()}
		})
		if err != nil {
			select {
			case out <- answer{err: err}:
			default:
			}
		}
	}()

	select {
	case a := <-out:
		return a.addr, a.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
