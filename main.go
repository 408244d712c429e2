package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"i4.energy/across/mqttgw/bridge"
	"i4.energy/across/mqttgw/modem"
	"i4.energy/across/mqttgw/mqtt"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const (
	shutdownTimeout = 30 * time.Second
	probeTimeout    = 30 * time.Second
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "mqttgw",
		Short:        "MQTT gateway over a cellular modem's embedded MQTT stack",
		SilenceUsage: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "Config file (yaml, toml or json)")
	flags.String(keySerialPort, "/dev/ttyUSB2", "Serial port to connect to the modem")
	flags.Int(keyBaudRate, 115200, "Baud rate for serial communication")
	flags.String(keyLogLevel, "info", "Log level (debug, info, warn, error)")
	flags.Duration(keyATTimeout, modem.DefaultATTimeout, "Timeout of AT commands without a deadline")
	flags.Duration(keyPollInterval, 0, "Pause between empty serial reads (0 keeps the default)")

	rootCmd.AddCommand(
		newServeCmd(),
		newProbeCmd(),
		newVersionCmd(),
	)
	return rootCmd
}

// loadConfig merges defaults, the config file, MQTTGW_ environment
// variables and the changed flags of cmd.
func loadConfig(cmd *cobra.Command) (*Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}
	v, err := NewViper(path)
	if err != nil {
		return nil, err
	}
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return nil, fmt.Errorf("bind flags: %w", err)
	}
	return LoadConfig(WithDefaults(), WithViper(v))
}

func newLogger(level string, w io.Writer) *slog.Logger {
	logLevel := slog.LevelInfo
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: logLevel}))
}

func openModem(ctx context.Context, config *Config, logger *slog.Logger) (*modem.Modem, error) {
	modemConfig, err := modem.NewConfigBuilder().
		WithATTimeout(config.ATTimeout).
		WithPollInterval(config.PollInterval).
		WithLogger(logger).
		WithDialer(modem.SerialDialer{
			PortName: config.SerialPort,
			BaudRate: config.BaudRate,
		}).
		Build()
	if err != nil {
		return nil, fmt.Errorf("modem config: %w", err)
	}
	return modem.New(ctx, modemConfig)
}

// startLoop runs the modem loop until the returned stop function is called.
// The loop error, if the loop ended on its own, is delivered on the channel.
func startLoop(m *modem.Modem) (stop func(), done <-chan error) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan error, 1)
	go func() {
		err := m.Loop(ctx)
		if ctx.Err() != nil {
			err = nil
		}
		ch <- err
	}()
	return cancel, ch
}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Connect the cellular MQTT session and serve the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			config, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := config.Validate(); err != nil {
				return err
			}
			return serve(cmd.Context(), config, newLogger(config.LogLevel, cmd.ErrOrStderr()))
		},
	}

	flags := cmd.Flags()
	flags.String(keyBindAddress, "0.0.0.0:8080", "Bind address for the HTTP server")
	flags.Int(keySessionID, 0, "Modem MQTT session id (0-5)")
	flags.String(keyBrokerHost, "", "MQTT broker host reached over the cellular link")
	flags.Int(keyBrokerPort, 1883, "MQTT broker port")
	flags.String(keyClientID, "", "MQTT client id (generated when empty)")
	flags.String(keyUsername, "", "MQTT username")
	flags.String(keyPassword, "", "MQTT password")
	flags.Duration(keyKeepAlive, 120*time.Second, "MQTT keep-alive interval")
	flags.Bool(keyCleanSession, true, "Start a clean MQTT session")
	flags.String(keyWillTopic, "", "Last will topic")
	flags.String(keyWillPayload, "", "Last will payload")
	flags.StringSlice(keySubscribe, nil, "Topics to subscribe after connecting")
	flags.Int(keyQoS, 1, "QoS of subscriptions, the will and bridged messages")
	flags.String(keyLocalBroker, "", "Local broker URL to bridge the session to (e.g. tcp://localhost:1883)")
	flags.String(keyLocalPrefix, "mqttgw", "Topic prefix on the local broker")
	return cmd
}

func serve(ctx context.Context, config *Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m, err := openModem(ctx, config, logger)
	if err != nil {
		return err
	}
	defer m.Close()

	clientID := config.ClientID
	if clientID == "" {
		clientID = mqtt.GenerateClientID()
	}
	logger.Info("Starting MQTT gateway", "serial_port", config.SerialPort, "session", config.SessionID, "client_id", clientID)

	mux := mqtt.NewMux(m, logger)
	m.SetListener(mux)
	client, err := mux.Client(config.SessionID, config.BrokerHost, config.BrokerPort, clientID)
	if err != nil {
		return err
	}

	stopLoop, loopDone := startLoop(m)
	defer stopLoop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		select {
		case err := <-loopDone:
			if err == nil {
				err = modem.ErrLoopStopped
			}
			return fmt.Errorf("modem loop: %w", err)
		case <-gctx.Done():
			return nil
		}
	})

	if config.LocalBroker != "" {
		br, err := bridge.New(bridge.Config{
			Broker:   config.LocalBroker,
			ClientID: clientID + "-bridge",
			Prefix:   config.LocalPrefix,
			QoS:      byte(config.QoS),
			Logger:   logger,
		}, client)
		if err != nil {
			return err
		}
		client.SetListener(br)
		g.Go(func() error {
			if err := br.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("bridge: %w", err)
			}
			return nil
		})
	} else {
		client.SetListener(logListener{logger: logger.With("component", "session")})
	}

	g.Go(func() error {
		return runSession(gctx, m, client, config, logger)
	})

	httpServer := &http.Server{
		Addr: config.BindAddress,
		Handler: &Server{
			Logger:  logger.With("component", "server"),
			Session: client,
			Modem:   m,
		},
	}
	g.Go(func() error {
		logger.Info("Starting HTTP server", "address", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		logger.Info("Closing HTTP server")
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("Failed to gracefully shutdown server", "error", err)
		}
		return nil
	})

	err = g.Wait()
	logger.Info("Closing modem connection")
	return err
}

// runSession initializes the modem and connects the session, then holds it
// until ctx is done and disconnects.
func runSession(ctx context.Context, m *modem.Modem, client *mqtt.Client, config *Config, logger *slog.Logger) error {
	if err := m.Init(ctx); err != nil {
		return fmt.Errorf("modem init: %w", err)
	}
	if err := client.Connect(ctx, config.ConnectOptions()); err != nil {
		return fmt.Errorf("connect %s:%d: %w", config.BrokerHost, config.BrokerPort, err)
	}
	if len(config.Subscribe) > 0 {
		if _, err := client.Subscribe(ctx, config.QoS, config.Subscribe...); err != nil {
			return fmt.Errorf("subscribe: %w", err)
		}
		logger.Info("Subscribed", "topics", config.Subscribe)
	}

	<-ctx.Done()
	logger.Info("Disconnecting session")
	disconnectCtx, cancel := context.WithTimeout(context.Background(), mqtt.DefaultCommandTimeout)
	defer cancel()
	if err := client.Disconnect(disconnectCtx); err != nil {
		logger.Warn("Failed to disconnect session", "error", err)
	}
	return nil
}

// logListener logs session events when no bridge consumes them.
type logListener struct {
	logger *slog.Logger
}

func (l logListener) OnLinkLost(errorCode int) {
	l.logger.Warn("Link lost", "error_code", errorCode)
}

func (l logListener) OnPublishDataArrived(msgID int, topic, payload string) {
	l.logger.Info("Message received", "msg_id", msgID, "topic", topic, "payload", payload)
}

func newProbeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "probe",
		Short: "Print the modem identity and radio state",
		RunE: func(cmd *cobra.Command, _ []string) error {
			config, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger := newLogger(config.LogLevel, cmd.ErrOrStderr())

			ctx, cancel := context.WithTimeout(cmd.Context(), probeTimeout)
			defer cancel()

			m, err := openModem(ctx, config, logger)
			if err != nil {
				return err
			}
			defer m.Close()

			stopLoop, _ := startLoop(m)
			defer stopLoop()

			if err := m.Init(ctx); err != nil {
				return fmt.Errorf("modem init: %w", err)
			}
			return probe(ctx, cmd.OutOrStdout(), m)
		},
	}
}

// Prober is the part of the modem queried by probe.
type Prober interface {
	Model(ctx context.Context) (string, error)
	IMEI(ctx context.Context) (string, error)
	IMSI(ctx context.Context) (string, error)
	ICCID(ctx context.Context) (string, error)
	RSSI(ctx context.Context) (int, error)
	IPAddress(ctx context.Context) (string, error)
}

func probe(ctx context.Context, w io.Writer, p Prober) error {
	fields := []struct {
		name  string
		query func(context.Context) (string, error)
	}{
		{"model", p.Model},
		{"imei", p.IMEI},
		{"imsi", p.IMSI},
		{"iccid", p.ICCID},
		{"rssi", func(ctx context.Context) (string, error) {
			rssi, err := p.RSSI(ctx)
			return fmt.Sprint(rssi), err
		}},
		{"ip", p.IPAddress},
	}
	for _, f := range fields {
		value, err := f.query(ctx)
		if err != nil {
			return fmt.Errorf("query %s: %w", f.name, err)
		}
		if _, err := fmt.Fprintf(w, "%-6s %s\n", f.name, value); err != nil {
			return err
		}
	}
	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), version)
			return err
		},
	}
}
