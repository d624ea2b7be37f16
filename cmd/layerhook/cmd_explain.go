package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/netip"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"github.com/jingkaihe/layerhook/internal/errx"
	"github.com/jingkaihe/layerhook/pkg/api"
	"github.com/jingkaihe/layerhook/pkg/detour"
	"github.com/jingkaihe/layerhook/pkg/file"
	"github.com/jingkaihe/layerhook/pkg/layer"
	"github.com/jingkaihe/layerhook/pkg/logging"
	"github.com/jingkaihe/layerhook/pkg/remote"
	"github.com/jingkaihe/layerhook/pkg/socket"
)

var explainCmd = &cobra.Command{
	Use:   "explain <open|unlink|stat|connect|bind|resolve> <target>",
	Short: "Show whether a call would be served remotely or left to the host",
	Long: `Runs one hooked call against an in-memory remote side that has the
target available, and prints the decision: success, bypass with its reason,
or error.`,
	Args: cobra.ExactArgs(2),
	RunE: runExplain,
}

func init() {
	explainCmd.Flags().Bool("write", false, "Open for writing")
	explainCmd.Flags().Bool("udp", false, "Use a datagram socket")

	rootCmd.AddCommand(explainCmd)
}

func runExplain(cmd *cobra.Command, args []string) error {
	write, _ := cmd.Flags().GetBool("write")
	udp, _ := cmd.Flags().GetBool("udp")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, closer, err := logging.NewLogger(cfg.Log)
	if err != nil {
		return errx.Wrap(ErrCreateLogger, err)
	}
	defer closer.Close()

	sinks, err := logging.SinksFromConfig(cfg.Log)
	if err != nil {
		return errx.Wrap(ErrCreateEmitter, err)
	}

	x := newExplainer(cfg, logger, sinks...)
	defer x.Close()

	decision, err := x.explain(args[0], args[1], explainOptions{write: write, udp: udp})
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s: %s\n", args[0], args[1], decision)
	return nil
}

type explainOptions struct {
	write bool
	udp   bool
}

// explainer wires the hooks to dry-run originals and an in-memory remote.
type explainer struct {
	fs        *remote.MemoryFilesystem
	net       *remote.StaticNetwork
	layer     *layer.Layer
	files     *file.Hooks
	sockets   *socket.Hooks
	decisions *decisionSink
	emitter   *logging.Emitter
}

func newExplainer(cfg *api.LayerConfig, logger *slog.Logger, sinks ...logging.Sink) *explainer {
	decisions := &decisionSink{last: make(map[string]logging.Event)}
	emitter := logging.NewEmitter(logging.EmitterConfig{Process: "layerhook-explain"}, append(sinks, decisions)...)

	fs := remote.NewMemoryFilesystem()
	network := remote.NewStaticNetwork()
	l := layer.New(detour.NewDispatcher(dryRunSymbols(), logger, emitter), cfg, fs, network)

	return &explainer{
		fs:        fs,
		net:       network,
		layer:     l,
		files:     l.Files(),
		sockets:   l.Sockets(),
		decisions: decisions,
		emitter:   emitter,
	}
}

func (x *explainer) Close() error {
	return x.emitter.Close()
}

func (x *explainer) explain(op, target string, opts explainOptions) (string, error) {
	var symbol string
	switch op {
	case "open":
		symbol = file.SymbolOpen
		x.seedFile(target)
		flags := unix.O_RDONLY
		if opts.write {
			flags = unix.O_WRONLY | unix.O_CREAT
		}
		if fd, errno := x.files.Open(target, flags, 0o644); errno == 0 {
			x.layer.Close(fd)
		}
	case "unlink":
		symbol = file.SymbolUnlink
		x.seedFile(target)
		x.files.Unlink(target)
	case "stat":
		symbol = file.SymbolStatx
		x.seedFile(target)
		var st file.Statx
		x.files.Statx(unix.AT_FDCWD, target, 0, file.StatxBasic, &st)
	case "connect", "bind":
		var err error
		if symbol, err = x.socketCall(op, target, opts.udp); err != nil {
			return "", err
		}
	case "resolve":
		symbol = socket.SymbolGetaddrinfo
		if _, err := netip.ParseAddr(target); err != nil {
			x.net.AddHost(target, netip.MustParseAddr("10.0.0.1"))
		}
		x.sockets.Getaddrinfo(&target, "")
	default:
		return "", errx.With(ErrUnknownOperation, ": %q", op)
	}
	return x.decisions.decision(symbol), nil
}

// socketCall creates a socket and binds or connects it, returning the symbol
// whose decision explains the outcome.
func (x *explainer) socketCall(op, target string, udp bool) (string, error) {
	typ := unix.SOCK_STREAM
	if udp {
		typ = unix.SOCK_DGRAM
	}

	var (
		sa     unix.Sockaddr
		domain int
	)
	if filepath.IsAbs(target) {
		x.net.AddUnixPeer(target)
		sa, domain = &unix.SockaddrUnix{Name: target}, unix.AF_UNIX
	} else {
		ap, err := netip.ParseAddrPort(target)
		if err != nil {
			return "", errx.Wrap(ErrInvalidTarget, err)
		}
		x.net.AddPeer(ap)
		sa, domain = toSockaddr(ap)
	}

	fd, errno := x.sockets.Socket(domain, typ, 0)
	if errno != 0 {
		return socket.SymbolSocket, nil
	}
	defer x.layer.Close(fd)
	if _, managed := x.sockets.Sockets().Get(fd); !managed {
		return socket.SymbolSocket, nil
	}

	if op == "bind" {
		x.sockets.Bind(fd, sa)
		return socket.SymbolBind, nil
	}
	x.sockets.Connect(fd, sa)
	return socket.SymbolConnect, nil
}

func (x *explainer) seedFile(path string) {
	if filepath.IsAbs(path) {
		_ = x.fs.WriteFile(path, nil, 0o644)
	}
}

func toSockaddr(ap netip.AddrPort) (unix.Sockaddr, int) {
	if ap.Addr().Is4() {
		return &unix.SockaddrInet4{Port: int(ap.Port()), Addr: ap.Addr().As4()}, unix.AF_INET
	}
	return &unix.SockaddrInet6{Port: int(ap.Port()), Addr: ap.Addr().As16()}, unix.AF_INET6
}

// decisionSink keeps the last bypass or error event per symbol.
type decisionSink struct {
	mu   sync.Mutex
	last map[string]logging.Event
}

func (s *decisionSink) Write(event *logging.Event) error {
	if event.EventType != logging.EventHookBypass && event.EventType != logging.EventHookError {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last[event.Symbol] = *event
	return nil
}

func (s *decisionSink) Close() error { return nil }

func (s *decisionSink) decision(symbol string) string {
	s.mu.Lock()
	event, ok := s.last[symbol]
	s.mu.Unlock()
	if !ok {
		return "success"
	}

	if event.EventType == logging.EventHookBypass {
		var data logging.HookBypassData
		if err := json.Unmarshal(event.Data, &data); err == nil && data.Detail != "" {
			return "bypass: " + data.Detail
		}
		return "bypass"
	}
	var data logging.HookErrorData
	if err := json.Unmarshal(event.Data, &data); err == nil {
		return "error: " + data.Error
	}
	return "error"
}

// dryRunSymbols stands in for the host's native implementations.
func dryRunSymbols() detour.SymbolTable {
	var nextFd atomic.Int64
	nextFd.Store(100)
	fd := func() int { return int(nextFd.Add(1) - 1) }

	return detour.SymbolTable{
		file.SymbolOpen:   file.OpenFunc(func(string, int, uint32) (int, unix.Errno) { return fd(), 0 }),
		file.SymbolRead:   file.ReadFunc(func(int, []byte) (int, unix.Errno) { return 0, 0 }),
		file.SymbolWrite:  file.WriteFunc(func(_ int, p []byte) (int, unix.Errno) { return len(p), 0 }),
		file.SymbolLseek:  file.LseekFunc(func(int, int64, int) (int64, unix.Errno) { return 0, 0 }),
		layer.SymbolClose: func(int) (int, unix.Errno) { return 0, 0 },
		file.SymbolUnlink: file.UnlinkFunc(func(string) (int, unix.Errno) { return 0, 0 }),
		file.SymbolStatx: file.StatxFunc(func(int, string, int, uint32, *file.Statx) (int, unix.Errno) {
			return 0, 0
		}),
		socket.SymbolSocket:  socket.SocketFunc(func(int, int, int) (int, unix.Errno) { return fd(), 0 }),
		socket.SymbolBind:    socket.BindFunc(func(int, unix.Sockaddr) (int, unix.Errno) { return 0, 0 }),
		socket.SymbolListen:  socket.ListenFunc(func(int, int) (int, unix.Errno) { return 0, 0 }),
		socket.SymbolConnect: socket.ConnectFunc(func(int, unix.Sockaddr) (int, unix.Errno) { return 0, 0 }),
		socket.SymbolGetaddrinfo: socket.GetaddrinfoFunc(func(*string, string) ([]netip.Addr, unix.Errno) {
			return []netip.Addr{netip.MustParseAddr("127.0.0.1")}, 0
		}),
	}
}
