// Command relayd is the realtime room relay server: one UDP socket, one
// single-threaded cooperative loop owning every hosted room.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/carlmjohnson/versioninfo"
	charmlog "github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gameroom/relay/internal/admin"
	"github.com/gameroom/relay/internal/config"
	"github.com/gameroom/relay/internal/logctx"
	"github.com/gameroom/relay/internal/metrics"
	"github.com/gameroom/relay/internal/netio"
	"github.com/gameroom/relay/internal/roomset"
	"github.com/gameroom/relay/internal/snapshotio"
	"github.com/gameroom/relay/internal/wire"
)

func main() {
	configPath := flag.String("config", "", "path to a server config TOML file (optional)")
	versioninfo.AddFlag(flag.CommandLine)
	flag.Parse()

	cfg := config.DefaultServerConfig()
	if *configPath != "" {
		loaded, err := config.LoadServerConfig(*configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		cfg = loaded
	}

	if err := run(cfg); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cfg config.ServerConfig) error {
	log := logctx.New("server")

	sock, err := netio.Listen(cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("relayd: listen %s: %w", cfg.ListenAddr, err)
	}
	defer sock.Close()

	rooms := roomset.New()
	rooms.SetDumpEncoder(snapshotio.Encode)

	reg := prometheus.NewRegistry()
	mset := metrics.New(reg)

	adminSrv, err := admin.Listen(cfg.AdminAddr, rooms)
	if err != nil {
		return fmt.Errorf("relayd: admin listen %s: %w", cfg.AdminAddr, err)
	}
	defer adminSrv.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go func() {
		if err := adminSrv.Serve(ctx); err != nil && ctx.Err() == nil {
			log.Error("admin server stopped", "err", err)
		}
	}()

	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("metrics server stopped", "err", err)
			}
		}()
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			metricsSrv.Shutdown(shutdownCtx)
		}()
	}

	log.Info("relayd starting", "listen", cfg.ListenAddr, "admin", cfg.AdminAddr, "metrics", cfg.MetricsAddr, "version", versioninfo.Short())
	serveLoop(ctx, sock, rooms, mset, log)
	log.Info("relayd stopped")
	return nil
}

type peerKey struct {
	roomID   uint64
	memberID uint16
}

// serveLoop is the per-cycle server loop: non-blocking receive,
// per-room inbound/outbound drain, per-peer frame build/send, one
// management task, then a short idle sleep.
func serveLoop(ctx context.Context, sock *netio.Socket, rooms *roomset.RoomSet, mset *metrics.Server, log *charmlog.Logger) {
	bufs := make([][]byte, 32)
	for i := range bufs {
		bufs[i] = make([]byte, 2048)
	}
	addrs := make(map[peerKey]net.Addr)
	prevCounters := sock.Stats()

	for ctx.Err() == nil {
		now := time.Now()
		didWork := false

		datagrams, err := sock.RecvBatch(bufs)
		if err != nil {
			log.Warn("recv batch", "err", err)
		}
		for _, d := range datagrams {
			didWork = true
			f, err := wire.Decode(d.Body, rooms.KeyLookup())
			if err != nil {
				log.Debug("dropping undecodable frame", "err", err)
				continue
			}
			m, _ := f.MemberAndRoomID()
			state, ok := rooms.Route(m.RoomID, uint16(m.MemberID))
			if !ok {
				rooms.GetRoom(m.RoomID, now) // records the throttled not-found log line
				continue
			}
			addrs[peerKey{m.RoomID, uint16(m.MemberID)}] = d.Addr
			if err := state.OnFrameReceived(f, now); err != nil {
				log.Debug("dropping frame", "room_id", m.RoomID, "member_id", m.MemberID, "err", err)
			}
		}

		for _, roomID := range rooms.Rooms() {
			rooms.RunInbound(roomID)
			rooms.CollectOutbound(roomID)

			r, ok := rooms.GetRoom(roomID, now)
			if !ok {
				continue
			}
			mset.ObjectCount.WithLabelValues(fmt.Sprintf("%d", roomID)).Set(float64(len(r.Objects())))

			for _, member := range r.Members() {
				state, ok := rooms.Route(roomID, member.ID)
				if !ok {
					continue
				}
				if state.IsDisconnected(now) {
					rooms.UnbindPeer(roomID, member.ID)
					delete(addrs, peerKey{roomID, member.ID})
					continue
				}
				frame, ok := state.BuildNextFrame(now)
				if !ok {
					continue
				}
				didWork = true
				body, err := wire.Encode(frame, state.MasterKey())
				if err != nil {
					log.Error("encode frame", "room_id", roomID, "member_id", member.ID, "err", err)
					continue
				}
				addr, ok := addrs[peerKey{roomID, member.ID}]
				if !ok {
					continue // never heard from this peer yet, nowhere to send
				}
				if err := sock.Send(ctx, addr, body); err != nil {
					log.Warn("send frame", "room_id", roomID, "member_id", member.ID, "err", err)
				}
			}
		}

		if rooms.DrainOneTask() {
			didWork = true
		}

		cur := sock.Stats()
		mset.SampleSocketCounters(prevCounters, cur)
		prevCounters = cur
		mset.RoomCount.Set(float64(len(rooms.Rooms())))

		if !didWork {
			time.Sleep(time.Millisecond)
		}
	}
}
