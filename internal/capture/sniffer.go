// Package capture implements the Sniffer: it observes packets on one
// interface and projects them into normalised PacketRecords in a bounded
// ring buffer, with a three-mode capture-backend fallback.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/afpacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
	"golang.org/x/net/bpf"

	"icc.tech/nds/internal/core"
	"icc.tech/nds/internal/metrics"
	"icc.tech/nds/internal/utils"
)

// Mode identifies which of the three capture backends is active.
type Mode string

const (
	ModeBPFL2   Mode = "bpf_l2"
	ModeNoBPFL2 Mode = "no_bpf_l2"
	ModeRawL3   Mode = "raw_l3"
)

// Status is a snapshot of the Sniffer's runtime state.
type Status struct {
	Running         bool
	PacketsCaptured uint64
	BufferFill      int
	LastError       string
	Interface       string
	Mode            Mode
}

type packetSource interface {
	ReadPacketData() (data []byte, ci gopacket.CaptureInfo, err error)
	Close()
}

const (
	defaultSnapLen   = 65536
	defaultFrameSize = 4096
	defaultBlockSize = defaultFrameSize * 128
	defaultNumBlocks = 8
	defaultBackoff   = 50 * time.Millisecond
)

// Sniffer captures packets on one interface and emits PacketRecords into
// a bounded Ring.
type Sniffer struct {
	ring      *Ring
	snapLen   int
	bpfFilter string

	mu         sync.Mutex
	running    bool
	iface      string
	mode       Mode
	lastErr    string
	stopFn     context.CancelFunc
	source     packetSource
	softFilter *bpf.VM

	packets atomic.Uint64
}

// NewSniffer builds a Sniffer writing into the given ring. snapLen<=0
// falls back to 65536; bpfFilter="" disables the BPF attempt and starts
// directly at no-BPF@L2.
func NewSniffer(ring *Ring, snapLen int, bpfFilter string) *Sniffer {
	if snapLen <= 0 {
		snapLen = defaultSnapLen
	}
	return &Sniffer{ring: ring, snapLen: snapLen, bpfFilter: bpfFilter}
}

// Start opens the interface (resolving "auto" to the first non-loopback
// up interface), trying each capture backend in order, and spawns the
// capture goroutine. Returns immediately on a setup failure.
func (s *Sniffer) Start(ifaceName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	resolved, err := resolveInterface(ifaceName)
	if err != nil {
		return fmt.Errorf("resolve interface: %w", err)
	}

	source, mode, err := s.openWithFallback(resolved)
	if err != nil {
		return fmt.Errorf("open capture backend: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.source = source
	s.mode = mode
	s.iface = resolved
	s.running = true
	s.lastErr = ""
	s.stopFn = cancel

	go s.captureLoop(ctx, source, mode)
	return nil
}

// openWithFallback attempts BPF@L2, then no-BPF@L2, then L3 raw socket,
// advancing only on a setup/permission failure.
func (s *Sniffer) openWithFallback(iface string) (packetSource, Mode, error) {
	if s.bpfFilter != "" {
		if tp, err := s.openAFPacket(iface, afpacket.SocketRaw, s.bpfFilter); err == nil {
			return tp, ModeBPFL2, nil
		} else {
			slog.Warn("bpf-at-l2 capture setup failed, falling back", "interface", iface, "error", err)
		}
	}

	if tp, err := s.openAFPacket(iface, afpacket.SocketRaw, ""); err == nil {
		return tp, ModeNoBPFL2, nil
	} else {
		slog.Warn("no-bpf-at-l2 capture setup failed, falling back", "interface", iface, "error", err)
	}

	raw, err := s.openRawL3(iface)
	if err != nil {
		return nil, "", fmt.Errorf("all capture backends failed, last error: %w", err)
	}
	return raw, ModeRawL3, nil
}

func (s *Sniffer) openAFPacket(iface string, sockType afpacket.SocketType, filter string) (packetSource, error) {
	tp, err := afpacket.NewTPacket(
		afpacket.OptInterface(iface),
		afpacket.OptFrameSize(defaultFrameSize),
		afpacket.OptBlockSize(defaultBlockSize),
		afpacket.OptNumBlocks(defaultNumBlocks),
		afpacket.OptPollTimeout(200*time.Millisecond),
		sockType,
		afpacket.TPacketVersion3,
	)
	if err != nil {
		return nil, err
	}

	if filter != "" {
		raw, err := utils.CompileBpf(filter, s.snapLen)
		if err != nil {
			tp.Close()
			return nil, fmt.Errorf("compile bpf: %w", err)
		}
		if err := tp.SetBPF(raw); err != nil {
			tp.Close()
			return nil, fmt.Errorf("attach bpf: %w", err)
		}
	}
	return tp, nil
}

// openRawL3 opens an AF_PACKET SOCK_DGRAM socket, which strips the
// link-layer header and delivers raw L3 datagrams directly — the
// "raw socket" fallback mode. SOCK_DGRAM ignores BPF programs, so an
// equivalent software BPF filter runs in-process against every
// datagram instead, compiled against LinkTypeRaw.
func (s *Sniffer) openRawL3(iface string) (packetSource, error) {
	tp, err := s.openAFPacket(iface, afpacket.SocketDgram, "")
	if err != nil {
		return nil, err
	}

	if s.bpfFilter != "" {
		instrs, cerr := pcap.CompileBPFFilter(layers.LinkTypeRaw, s.snapLen, s.bpfFilter)
		if cerr != nil {
			slog.Warn("software bpf compile failed for raw-l3 mode, capturing unfiltered", "error", cerr)
			return tp, nil
		}
		vmInstrs := make([]bpf.Instruction, len(instrs))
		for i, in := range instrs {
			vmInstrs[i] = bpf.RawInstruction{Op: in.Code, Jt: in.Jt, Jf: in.Jf, K: in.K}.Disassemble()
		}
		vm, verr := bpf.NewVM(vmInstrs)
		if verr != nil {
			slog.Warn("software bpf vm construction failed for raw-l3 mode, capturing unfiltered", "error", verr)
			return tp, nil
		}
		s.softFilter = vm
	}
	return tp, nil
}

func (s *Sniffer) captureLoop(ctx context.Context, source packetSource, mode Mode) {
	dec := newDecoder()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		data, ci, err := source.ReadPacketData()
		if err != nil {
			if errors.Is(err, afpacket.ErrTimeout) {
				continue
			}
			s.recordError(err)
			metrics.CaptureErrorsTotal.WithLabelValues("capture").Inc()
			time.Sleep(defaultBackoff)
			continue
		}

		if s.softFilter != nil {
			if keep, ferr := s.softFilter.Run(data); ferr != nil || keep == 0 {
				continue
			}
		}

		var rec core.PacketRecord
		var ok bool
		if mode == ModeRawL3 {
			rec, ok = dec.decodeL3(data, ci.Timestamp)
		} else {
			rec, ok = dec.decode(data, ci.Timestamp)
		}
		if !ok {
			continue
		}

		before := s.ring.Dropped()
		s.ring.Push(rec)
		if s.ring.Dropped() > before {
			metrics.CaptureDropsTotal.WithLabelValues(s.iface).Inc()
		}
		s.packets.Add(1)
		metrics.CapturePacketsTotal.WithLabelValues(s.iface).Inc()
	}
}

func (s *Sniffer) recordError(err error) {
	s.mu.Lock()
	s.lastErr = err.Error()
	s.mu.Unlock()
}

// Stop idempotently halts capture.
func (s *Sniffer) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	s.stopFn()
	if s.source != nil {
		s.source.Close()
	}
	s.running = false
	return nil
}

// Status returns a snapshot of Sniffer state.
func (s *Sniffer) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		Running:         s.running,
		PacketsCaptured: s.packets.Load(),
		BufferFill:      s.ring.Fill(),
		LastError:       s.lastErr,
		Interface:       s.iface,
		Mode:            s.mode,
	}
}

// SetInterface changes the target interface; rejected while running.
func (s *Sniffer) SetInterface(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("cannot set interface while running")
	}
	s.iface = name
	return nil
}

// ListInterfaces returns all system network interfaces by name.
func ListInterfaces() ([]string, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(ifaces))
	for _, i := range ifaces {
		names = append(names, i.Name)
	}
	return names, nil
}

func resolveInterface(name string) (string, error) {
	if name != "" && name != "auto" {
		return name, nil
	}
	ifaces, err := net.Interfaces()
	if err != nil {
		return "", err
	}
	for _, i := range ifaces {
		if i.Flags&net.FlagLoopback != 0 {
			continue
		}
		if i.Flags&net.FlagUp == 0 {
			continue
		}
		return i.Name, nil
	}
	return "", fmt.Errorf("no suitable interface found for auto-selection")
}
