package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/csfua/softphone/internal/capf"
	"github.com/csfua/softphone/internal/config"
	"github.com/csfua/softphone/internal/profile"
	"github.com/csfua/softphone/internal/security"
	"github.com/csfua/softphone/internal/sipengine"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	logger := slog.New(cfg.SlogHandler(os.Stdout))
	slog.SetDefault(logger)

	device := cfg.Device()
	if err := device.Validate(); err != nil {
		slog.Error("invalid device profile", "error", err)
		os.Exit(1)
	}

	slog.Info("starting csfphone",
		"cucm_host", device.CUCMHost,
		"line_number", device.LineNumber,
		"device_name", device.DeviceName,
		"security_mode", device.SecurityMode,
	)

	appCtx, appCancel := context.WithCancel(context.Background())
	defer appCancel()

	if device.SecurityMode != profile.SecurityNone {
		if err := ensureClientCertificate(appCtx, device, logger); err != nil {
			slog.Error("failed to provision client certificate", "error", err)
			os.Exit(1)
		}
	}

	transport, err := dialTransport(device, logger)
	if err != nil {
		slog.Error("failed to connect to cucm", "error", err)
		os.Exit(1)
	}

	engine := sipengine.NewEngine(transport, sipengine.RegistrarDevice{
		CUCMHost:    device.CUCMHost,
		LineNumber:  device.LineNumber,
		DeviceName:  device.DeviceName,
		ContactID:   device.ContactID,
		DisplayName: device.DisplayName,
	}, logger)

	tracer := sipengine.NewMessageTracer(logger, sipengine.ParseLogVerbosity(cfg.SIPTrace))
	engine.SetTracer(tracer)

	// Audio capture/playback is wired by the host embedding this engine
	// (device enumeration and backend selection are out of scope); a
	// real integration replaces these channels with ones backed by an
	// actual audio device.
	engine.SetAudioIO(sipengine.AudioIO{})

	events := engine.Events()
	go func() {
		for ev := range events {
			slog.Info("engine event", "kind", string(ev.Kind), "reason", ev.Reason)
		}
	}()

	engine.Start(appCtx)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	slog.Info("received shutdown signal", "signal", sig.String())

	appCancel()
	if err := engine.Close(); err != nil {
		slog.Error("error during shutdown", "error", err)
	}
	slog.Info("csfphone stopped")
}

// ensureClientCertificate runs the CAPF exchange when the device's
// security mode requires a client certificate and none has been
// provisioned yet.
func ensureClientCertificate(ctx context.Context, device profile.Device, logger *slog.Logger) error {
	certPath := filepath.Join(device.CertDir, device.DeviceName+".pem")
	if _, err := security.LoadClientCertificate(certPath); err == nil {
		slog.Info("client certificate already provisioned", "path", certPath)
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("checking for existing client certificate: %w", err)
	}

	if len(device.CAPFServers) == 0 {
		return fmt.Errorf("security_mode=%s requires at least one capf server to provision a certificate", device.SecurityMode)
	}

	tlsConf, err := security.CAPFTLSConfig(device)
	if err != nil {
		return err
	}
	client := capf.NewClient(tlsConf, device.CertDir, logger)

	limiter := sipengine.NewCAPFRetryLimiter()
	var lastErr error
	for _, srv := range device.CAPFServers {
		if err := limiter.Wait(ctx); err != nil {
			return fmt.Errorf("waiting to retry capf server %s: %w", srv.Host, err)
		}
		result, err := client.Run(capf.Server{Host: srv.Host, Port: serverPort(srv.Port)}, device.DeviceName)
		if err == nil {
			slog.Info("provisioned client certificate via capf", "server", srv.Host, "path", result.CertPath)
			return nil
		}
		slog.Warn("capf exchange failed, trying next server", "server", srv.Host, "error", err)
		lastErr = err
	}
	return fmt.Errorf("capf exchange failed against all configured servers: %w", lastErr)
}

func serverPort(port int) int {
	if port == 0 {
		return 3804
	}
	return port
}

// dialTransport opens the SIP transport to CUCM, selecting plain TCP or
// TLS per the device's security mode.
func dialTransport(device profile.Device, logger *slog.Logger) (*sipengine.Transport, error) {
	opts := sipengine.DialOptions{
		Host: device.CUCMHost,
	}

	if device.SecurityMode == profile.SecurityNone {
		opts.Port = device.SIPPort
		return sipengine.Dial(opts, logger)
	}

	opts.Port = device.SIPSPort
	opts.UseTLS = true
	opts.VerifyHostname = device.VerifyHostname

	certPath := filepath.Join(device.CertDir, device.DeviceName+".pem")
	cert, err := security.LoadClientCertificate(certPath)
	if err != nil {
		return nil, fmt.Errorf("loading provisioned client certificate: %w", err)
	}
	opts.Certificate = cert

	tlsConf, err := security.SIPTLSConfig(device, cert)
	if err != nil {
		return nil, err
	}
	opts.RootCAs = tlsConf

	return sipengine.Dial(opts, logger)
}
