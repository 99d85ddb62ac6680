// Command zrp-server hosts one ZRP remote session over WebSocket: it
// spawns a shell under a pseudo-terminal (the demo Session/PTY host
// collaborator) and serves the Zellij Remote Protocol core to any number
// of attaching clients, arbitrating write access via the Lease Manager.
package main

import (
	"context"
	"flag"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime/pprof"
	"sync"
	"syscall"
	"time"

	"github.com/framegrace/zrp/config"
	"github.com/framegrace/zrp/internal/lease"
	"github.com/framegrace/zrp/internal/resume"
	"github.com/framegrace/zrp/internal/session"
	"github.com/framegrace/zrp/internal/transport"
	"github.com/framegrace/zrp/protocol"
)

func newResumer(cfg config.Config) (*resume.Minter, error) {
	return resume.NewMinter(cfg.ResumeTokenKeyBytes, time.Duration(cfg.ResumeTokenTTLMs)*time.Millisecond)
}

type server struct {
	cfg         config.Config
	sess        *session.Session
	feed        *ptyFeed
	cols, rows  int
	sessionName string

	mu    sync.Mutex
	conns map[uint64]*conn
}

func (s *server) register(c *conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[c.clientID] = c
}

func (s *server) unregister(clientID uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, clientID)
}

func (s *server) broadcastLeaseRevoke(ev *lease.Event) {
	if ev == nil || ev.RevokedLease == nil {
		return
	}
	s.mu.Lock()
	target, ok := s.conns[ev.RevokedLease.OwnerClientID]
	s.mu.Unlock()
	if !ok {
		return
	}
	payload := protocol.EncodeLeaseRevoked(protocol.LeaseRevoked{Reason: string(ev.RevokeReason)})
	target.router.SendStreamMessage(protocol.MsgLeaseRevoked, payload)
}

func (s *server) renderLoop(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if ev := s.sess.Tick(now); ev != nil {
				s.broadcastLeaseRevoke(ev)
			}
			s.mu.Lock()
			targets := make([]*conn, 0, len(s.conns))
			for _, c := range s.conns {
				targets = append(targets, c)
			}
			s.mu.Unlock()
			for _, c := range targets {
				update, err := s.sess.GetRenderUpdate(c.clientID)
				if err != nil || update == nil {
					continue
				}
				if err := c.router.SendRenderUpdate(update); err != nil {
					log.Printf("server: client %d: render send failed: %v", c.clientID, err)
				}
			}
		}
	}
}

func main() {
	listen := flag.String("listen", "", "listen address (overrides config)")
	shellPath := flag.String("shell", os.Getenv("SHELL"), "shell to spawn under the pty")
	cols := flag.Int("cols", 80, "pty/session width")
	rows := flag.Int("rows", 24, "pty/session height")
	bearerToken := flag.String("bearer-token", "", "required bearer token (overrides config; empty means no-auth)")
	cpuProfile := flag.String("cpuprofile", "", "write a CPU profile to this path")
	flag.Parse()

	if *shellPath == "" {
		*shellPath = "/bin/sh"
	}

	if *cpuProfile != "" {
		f, err := os.Create(*cpuProfile)
		if err != nil {
			log.Fatalf("zrp-server: create cpu profile: %v", err)
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			log.Fatalf("zrp-server: start cpu profile: %v", err)
		}
		defer pprof.StopCPUProfile()
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("zrp-server: load config: %v", err)
	}
	if *listen != "" {
		cfg.ListenAddress = *listen
	}
	if *bearerToken != "" {
		cfg.BearerTokenSecret = *bearerToken
	}

	feed, err := startPTYFeed(*shellPath, *cols, *rows)
	if err != nil {
		log.Fatalf("zrp-server: start pty: %v", err)
	}

	resumer, err := newResumer(cfg)
	if err != nil {
		log.Fatalf("zrp-server: resume token minter: %v", err)
	}

	sessCfg := session.Config{
		BearerTokenSecret:    cfg.BearerTokenSecret,
		LeasePolicy:          lease.PolicyLastWriterWins,
		ControllerLeaseMs:    cfg.ControllerLeaseDurationMs,
		HistoryCapacity:      64,
		SnapshotIntervalMs:   cfg.SnapshotIntervalMs,
		MaxInflightInputs:    cfg.MaxInflightInputs,
		RenderWindowSize:     cfg.RenderWindowSize,
		InputGapTimeout:      time.Duration(cfg.InputGapTimeoutMs) * time.Millisecond,
		MaxClockSkew:         time.Duration(cfg.MaxClockSkewMs) * time.Millisecond,
		StyleReserveSlots:    cfg.StyleReserveSlots,
		DatagramConservative: cfg.DatagramConservativeLimit,
	}
	sess := session.New(newSessionID(), "zrp-demo", *cols, *rows, sessCfg, resumer)

	srv := &server{cfg: cfg, sess: sess, feed: feed, cols: *cols, rows: *rows, sessionName: "zrp-demo", conns: make(map[uint64]*conn)}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		feed.Run(sess)
	}()
	wg.Add(1)
	go srv.renderLoop(ctx, &wg)

	mux := http.NewServeMux()
	mux.HandleFunc("/zrp", func(w http.ResponseWriter, r *http.Request) {
		srv.handleUpgrade(w, r)
	})
	httpSrv := &http.Server{Addr: cfg.ListenAddress, Handler: mux}

	ln, err := net.Listen("tcp", cfg.ListenAddress)
	if err != nil {
		log.Fatalf("zrp-server: listen %s: %v", cfg.ListenAddress, err)
	}
	log.Printf("zrp-server: listening on %s (shell=%s, %dx%d)", cfg.ListenAddress, *shellPath, *cols, *rows)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := httpSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Printf("zrp-server: serve: %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("zrp-server: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	httpSrv.Shutdown(shutdownCtx)
	feed.Close()
	wg.Wait()
}

func (s *server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	wsConn, err := transport.NewWSServerStreamConn(w, r)
	if err != nil {
		log.Printf("server: websocket upgrade failed: %v", err)
		return
	}
	c := &conn{stream: wsConn, sess: s.sess, feed: s.feed, srv: s}
	c.router = transport.NewRouter(wsConn, nil, false, int(s.cfg.DatagramConservativeLimit), s.cfg.ClientSendQueueDepth, s.cfg.MaxFrameSizeBytes, func() {
		s.unregister(c.clientID)
	})
	if err := c.handshake(); err != nil {
		log.Printf("server: handshake failed: %v", err)
		c.router.Close()
		return
	}
	s.register(c)
	go c.serve()
}
