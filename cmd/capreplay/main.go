// Command capreplay serves a directory of CAP XML documents over TCP the way a
// NAAD streaming endpoint does, for exercising the ingest service locally.
// Documents are written back to back, optionally split into random chunks,
// and a heartbeat listing every replayed alert is sent after each pass.
//
// Usage:
//
//	go run ./cmd/capreplay -dir testdata/cap -addr 127.0.0.1:8080 -chunk 64 -loop
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/couchcryptid/storm-data-shared/retry"

	"github.com/couchcryptid/naad-alert-ingest/internal/domain"
)

const maxAcceptBackoff = 5 * time.Second

type replayer struct {
	docs     [][]byte
	refs     string
	marker   string
	chunk    int
	interval time.Duration
	loop     bool
	logger   *slog.Logger
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	dir := flag.String("dir", "", "directory containing CAP XML files")
	addr := flag.String("addr", "127.0.0.1:8080", "listen address")
	chunk := flag.Int("chunk", 0, "max bytes per write; 0 writes whole documents")
	interval := flag.Duration("interval", time.Second, "delay between documents")
	marker := flag.String("marker", domain.DefaultHeartbeatMarker, "heartbeat sender")
	loop := flag.Bool("loop", false, "replay the directory until interrupted")
	flag.Parse()

	if *dir == "" {
		flag.Usage()
		return errors.New("missing required flag: -dir")
	}

	logger := sharedobs.NewLogger("info", "text")

	docs, refs, err := loadDocuments(*dir)
	if err != nil {
		return err
	}
	if len(docs) == 0 {
		return fmt.Errorf("no .xml files in %s", *dir)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", *addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", *addr, err)
	}
	context.AfterFunc(ctx, func() { _ = ln.Close() })
	logger.Info("replaying", "addr", ln.Addr().String(), "documents", len(docs))

	r := &replayer{
		docs:     docs,
		refs:     strings.Join(refs, " "),
		marker:   *marker,
		chunk:    *chunk,
		interval: *interval,
		loop:     *loop,
		logger:   logger,
	}
	return r.serve(ctx, ln)
}

// loadDocuments reads every .xml file in dir, in name order, and builds the
// heartbeat reference list from the ones that parse as alerts.
func loadDocuments(dir string) ([][]byte, []string, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.xml"))
	if err != nil {
		return nil, nil, err
	}
	sort.Strings(paths)

	var docs [][]byte
	var refs []string
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, nil, fmt.Errorf("read %s: %w", p, err)
		}
		docs = append(docs, data)
		if a, err := domain.ParseAlert(data); err == nil && a.Identifier != "" {
			refs = append(refs, a.Sender+","+a.Identifier+","+a.Sent)
		}
	}
	return docs, refs, nil
}

func (r *replayer) serve(ctx context.Context, ln net.Listener) error {
	backoff := 50 * time.Millisecond
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			r.logger.Warn("accept failed", "error", err, "retry_in", backoff)
			if !retry.SleepWithContext(ctx, backoff) {
				return nil
			}
			backoff = retry.NextBackoff(backoff, maxAcceptBackoff)
			continue
		}
		backoff = 50 * time.Millisecond

		go func() {
			defer conn.Close()
			stopClose := context.AfterFunc(ctx, func() { _ = conn.Close() })
			defer stopClose()
			if err := r.replay(ctx, conn); err != nil && ctx.Err() == nil {
				r.logger.Warn("client dropped", "remote", conn.RemoteAddr().String(), "error", err)
			}
		}()
	}
}

func (r *replayer) replay(ctx context.Context, conn net.Conn) error {
	r.logger.Info("client connected", "remote", conn.RemoteAddr().String())
	for pass := 1; ; pass++ {
		for _, doc := range r.docs {
			if err := r.write(conn, doc); err != nil {
				return err
			}
			if !retry.SleepWithContext(ctx, r.interval) {
				return nil
			}
		}
		if err := r.write(conn, r.heartbeat(pass)); err != nil {
			return err
		}
		if !r.loop {
			<-ctx.Done()
			return nil
		}
	}
}

// write sends doc in random chunks of at most r.chunk bytes.
func (r *replayer) write(conn net.Conn, doc []byte) error {
	if r.chunk <= 0 {
		_, err := conn.Write(doc)
		return err
	}
	for len(doc) > 0 {
		n := 1 + rand.IntN(r.chunk)
		if n > len(doc) {
			n = len(doc)
		}
		if _, err := conn.Write(doc[:n]); err != nil {
			return err
		}
		doc = doc[n:]
	}
	return nil
}

func (r *replayer) heartbeat(pass int) []byte {
	now := time.Now().UTC()
	return []byte(fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<alert xmlns="urn:oasis:names:tc:emergency:cap:1.2">
  <identifier>urn:capreplay:heartbeat:%d:%d</identifier>
  <sender>%s</sender>
  <sent>%s</sent>
  <status>System</status>
  <msgType>Alert</msgType>
  <scope>Public</scope>
  <references>%s</references>
</alert>
`, now.Unix(), pass, r.marker, now.Format("2006-01-02T15:04:05-07:00"), r.refs))
}
