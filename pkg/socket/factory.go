// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package socket

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"syscall"

	"github.com/absmach/dispatch/pkg/addr"
	"github.com/absmach/dispatch/pkg/errors"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

// Config holds the socket factory configuration.
type Config struct {
	// Policy orders the IPv6 multicast interface candidates.
	// If nil, DefaultPolicy(MaxInterfaceProbes) is used.
	Policy MulticastPolicy

	// MaxInterfaceProbes caps the IPv6 interface search.
	// If 0, uses DefaultMaxInterfaceProbes (32).
	MaxInterfaceProbes int

	// ReadBufferSize sets the socket receive buffer size (SO_RCVBUF).
	// If 0, uses system default.
	ReadBufferSize int

	// WriteBufferSize sets the socket send buffer size (SO_SNDBUF).
	// If 0, uses system default.
	WriteBufferSize int

	// Logger for socket events
	Logger *slog.Logger
}

// Factory creates listen and send handles.
type Factory struct {
	config Config
	bind6  func(ctx context.Context, a addr.SocketAddress, ifindex int) (*net.UDPConn, error)
}

// New creates a new socket factory with the given configuration.
func New(cfg Config) *Factory {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxInterfaceProbes <= 0 {
		cfg.MaxInterfaceProbes = DefaultMaxInterfaceProbes
	}
	if cfg.Policy == nil {
		cfg.Policy = DefaultPolicy(cfg.MaxInterfaceProbes)
	}
	return &Factory{config: cfg, bind6: listenMulticast6}
}

// BindListener creates a UDP listen handle for a. Multicast listeners are
// bound to the group address and joined before the handle is returned.
func (f *Factory) BindListener(ctx context.Context, a addr.SocketAddress) (*net.UDPConn, error) {
	var (
		conn *net.UDPConn
		err  error
	)
	switch {
	case !a.IsMulticast():
		conn, err = listenUDP(ctx, a.Family(), a.AddrPort(), reuseControl)
		if err != nil {
			return nil, errors.Config("bind", a.String(), err)
		}
	case a.Family() == addr.IPv4:
		conn, err = f.bindMulticast4(ctx, a)
		if err != nil {
			return nil, err
		}
	default:
		conn, err = f.bindMulticast6(ctx, a)
		if err != nil {
			return nil, err
		}
	}

	f.tune(conn)
	f.config.Logger.Info("listener bound",
		slog.String("address", a.String()),
		slog.String("local", conn.LocalAddr().String()),
		slog.Bool("multicast", a.IsMulticast()))
	return conn, nil
}

func (f *Factory) bindMulticast4(ctx context.Context, a addr.SocketAddress) (*net.UDPConn, error) {
	conn, err := bindGroup4(ctx, a.AddrPort())
	if err != nil {
		return nil, errors.Config("bind", a.String(), err)
	}

	group := &net.UDPAddr{IP: a.IP().AsSlice()}
	if err := ipv4.NewPacketConn(conn).JoinGroup(nil, group); err != nil {
		conn.Close()
		return nil, errors.Config("join", a.String(), err)
	}
	return conn, nil
}

// bindMulticast6 walks the policy's interface candidates until one binds.
func (f *Factory) bindMulticast6(ctx context.Context, a addr.SocketAddress) (*net.UDPConn, error) {
	candidates := f.config.Policy.Candidates()
	if len(candidates) > f.config.MaxInterfaceProbes {
		candidates = candidates[:f.config.MaxInterfaceProbes]
	}

	for _, idx := range candidates {
		conn, err := f.bind6(ctx, a, idx)
		if err == nil {
			f.config.Logger.Debug("ipv6 multicast interface selected",
				slog.String("address", a.String()),
				slog.Int("interface", idx))
			return conn, nil
		}
		if !isBenignBindError(err) {
			return nil, errors.Config("bind", a.String(), err)
		}
		f.config.Logger.Debug("ipv6 multicast interface rejected",
			slog.String("address", a.String()),
			slog.Int("interface", idx),
			slog.String("error", err.Error()))
	}

	return nil, errors.Config("bind", a.String(),
		fmt.Errorf("%w: tried %d interfaces", errors.ErrNoMulticastInterface, len(candidates)))
}

// listenMulticast6 binds a listener for a with ifindex as its interface.
func listenMulticast6(ctx context.Context, a addr.SocketAddress, idx int) (*net.UDPConn, error) {
	conn, err := bindGroup6(ctx, a.AddrPort(), idx)
	if err != nil {
		return nil, err
	}
	if joinBeforeBind {
		return conn, nil
	}

	ifi, err := interfaceByIndex(idx)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := ipv6.NewPacketConn(conn).JoinGroup(ifi, &net.UDPAddr{IP: a.IP().AsSlice()}); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

func listenUDP(ctx context.Context, fam addr.Family, ap netip.AddrPort, control func(string, string, syscall.RawConn) error) (*net.UDPConn, error) {
	lc := net.ListenConfig{Control: control}
	pc, err := lc.ListenPacket(ctx, fam.Network("udp"), ap.String())
	if err != nil {
		return nil, err
	}
	return pc.(*net.UDPConn), nil
}

func (f *Factory) tune(conn *net.UDPConn) {
	if f.config.ReadBufferSize > 0 {
		if err := conn.SetReadBuffer(f.config.ReadBufferSize); err != nil {
			f.config.Logger.Warn("failed to set read buffer size",
				slog.String("error", err.Error()))
		}
	}
	if f.config.WriteBufferSize > 0 {
		if err := conn.SetWriteBuffer(f.config.WriteBufferSize); err != nil {
			f.config.Logger.Warn("failed to set write buffer size",
				slog.String("error", err.Error()))
		}
	}
}

// ConnectSender creates a send handle bound to an ephemeral local port and
// associated with target.
func (f *Factory) ConnectSender(ctx context.Context, target addr.SocketAddress) (*Sender, error) {
	fam := target.Family()
	if target.IsMulticast() && fam == addr.IPv6 && !connectMulticast6 {
		return f.unconnectedSender(ctx, target)
	}

	remote := target
	if target.IsMulticast() && fam == addr.IPv6 {
		// IPv6 multicast senders connect to the wildcard with the group's port.
		remote = addr.Unspecified(addr.IPv6, target.Port())
	}

	d := net.Dialer{LocalAddr: addr.Unspecified(fam, 0).UDPAddr()}
	c, err := d.DialContext(ctx, fam.Network("udp"), remote.String())
	if err != nil {
		return nil, errors.Config("connect", target.String(), err)
	}
	conn := c.(*net.UDPConn)

	if target.IsMulticast() {
		if err := joinSender(conn, target); err != nil {
			conn.Close()
			return nil, errors.Config("join", target.String(), err)
		}
	}

	f.tune(conn)
	f.config.Logger.Debug("sender connected",
		slog.String("target", target.String()),
		slog.String("local", conn.LocalAddr().String()))

	return &Sender{conn: conn, target: target}, nil
}

// unconnectedSender binds an ephemeral port, joins the group and leaves the
// handle unconnected, so every write names the group.
func (f *Factory) unconnectedSender(ctx context.Context, target addr.SocketAddress) (*Sender, error) {
	conn, err := listenUDP(ctx, addr.IPv6, addr.Unspecified(addr.IPv6, 0).AddrPort(), nil)
	if err != nil {
		return nil, errors.Config("bind", target.String(), err)
	}
	if err := joinSender(conn, target); err != nil {
		conn.Close()
		return nil, errors.Config("join", target.String(), err)
	}

	f.tune(conn)
	f.config.Logger.Debug("unconnected sender bound",
		slog.String("target", target.String()),
		slog.String("local", conn.LocalAddr().String()))

	return NewUnconnectedSender(conn, target), nil
}

// joinSender joins the group on the unspecified interface with loopback on,
// so local listeners see what this host sends.
func joinSender(conn *net.UDPConn, target addr.SocketAddress) error {
	group := &net.UDPAddr{IP: target.IP().AsSlice()}
	if target.Family() == addr.IPv4 {
		p := ipv4.NewPacketConn(conn)
		if err := p.JoinGroup(nil, group); err != nil {
			return err
		}
		return p.SetMulticastLoopback(true)
	}
	p := ipv6.NewPacketConn(conn)
	if err := p.JoinGroup(nil, group); err != nil {
		return err
	}
	return p.SetMulticastLoopback(true)
}

func interfaceByIndex(idx int) (*net.Interface, error) {
	if idx == 0 {
		return nil, nil
	}
	return net.InterfaceByIndex(idx)
}
