package ingest

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"net"

	"chatrelay/internal/config"
)

// StartTCPStream accepts connections carrying one JSON envelope per line.
func StartTCPStream(ctx context.Context, cfg *config.Manager, out chan<- Envelope, logger *slog.Logger) {
	current := cfg.Get().Ingest.TCPStream
	if !current.Enabled {
		if logger != nil {
			logger.Info("tcp stream ingest disabled")
		}
		return
	}
	if logger != nil {
		logger.Info("tcp stream ingest enabled", "addr", current.Addr)
	}
	ln, err := net.Listen("tcp", current.Addr)
	if err != nil {
		if logger != nil {
			logger.Error("tcp stream listen error", "err", err)
		}
		return
	}
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()
	go serveTCPStream(ctx, ln, out, logger)
}

func serveTCPStream(ctx context.Context, ln net.Listener, out chan<- Envelope, logger *slog.Logger) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			if logger != nil {
				logger.Warn("tcp stream accept error", "err", err)
			}
			continue
		}
		go handleTCPStreamConn(ctx, conn, out, logger)
	}
}

func handleTCPStreamConn(ctx context.Context, conn net.Conn, out chan<- Envelope, logger *slog.Logger) {
	defer conn.Close()
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 8192), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if isBlankLine(line) {
			continue
		}
		env, err := DecodeEnvelope([]byte(line))
		if err != nil {
			if logger != nil {
				logger.Warn("tcp stream envelope rejected", "remote", conn.RemoteAddr().String(), "err", err)
			}
			continue
		}
		env.Source = "tcp_stream"
		SendNonBlocking(ctx, out, env, logger)
		select {
		case <-ctx.Done():
			return
		default:
		}
	}
	if err := scanner.Err(); err != nil && logger != nil {
		logger.Warn("tcp stream scanner error", "err", err)
	}
}
