// Command framelink runs the frame ingestion control plane: the sensor
// control bus, the frame receiver, session persistence, and the HTTP API.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/meridian-sensing/framelink/internal/api"
	"github.com/meridian-sensing/framelink/internal/cambus"
	"github.com/meridian-sensing/framelink/internal/channel"
	"github.com/meridian-sensing/framelink/internal/config"
	"github.com/meridian-sensing/framelink/internal/db"
	"github.com/meridian-sensing/framelink/internal/ingest"
	"github.com/meridian-sensing/framelink/internal/receiver"
	"github.com/meridian-sensing/framelink/internal/registers"
	"github.com/meridian-sensing/framelink/internal/sensor"
	"github.com/meridian-sensing/framelink/internal/timeutil"
)

var (
	devMode    = flag.Bool("dev", false, "Run in dev mode with a simulated sensor and receiver")
	listen     = flag.String("listen", "", "Listen address (overrides config)")
	configPath = flag.String("config", "", "Path to JSON config file")
	serialPort = flag.String("serial", "", "Control bus serial device (overrides config)")
	dbPath     = flag.String("db", "", "Path to sqlite database (overrides config)")
	pcapFile   = flag.String("pcap", "", "Replay frames from a pcap capture instead of the live socket")
)

func main() {
	flag.Parse()

	cfg := config.Empty()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
	}
	if *listen != "" {
		cfg.ListenAddr = listen
	}
	if *serialPort != "" {
		cfg.SerialDevice = serialPort
	}
	if *dbPath != "" {
		cfg.DatabasePath = dbPath
	}

	var bus cambus.Transactor
	if *devMode {
		mock := cambus.NewMockBus()
		mock.Values[registers.Version] = sensor.SupportedVersion
		bus = mock
		log.Print("dev mode: using simulated control bus")
	} else {
		bridge, err := cambus.OpenSerialBridge(cfg.GetSerialDevice())
		if err != nil {
			log.Fatalf("failed to open control bus on %s: %v", cfg.GetSerialDevice(), err)
		}
		defer bridge.Close()
		bus = bridge
	}

	dataChannel := channel.NewBridge(bus, cfg.GetDataPort())
	camera := sensor.NewCamera(cambus.NewClient(bus, cambus.CameraAddress), dataChannel, timeutil.RealClock{})

	database, err := db.Open(cfg.GetDatabasePath())
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer database.Close()
	if err := database.MigrateUp(cfg.GetMigrationsDir()); err != nil {
		log.Fatalf("failed to migrate database: %v", err)
	}
	store := db.NewSessionStore(database)

	newManager := func() (*receiver.Manager, error) {
		socket, err := receiver.NewUDPSocket()
		if err != nil {
			return nil, err
		}
		return receiver.NewManager(receiver.Config{
			Socket:      socket,
			Channel:     dataChannel,
			NewReceiver: newReceiverFactory(cfg),
			Affinity:    cfg.GetReceiverAffinity(),
		})
	}

	service := ingest.NewService(camera, newManager, store)

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// keep the sensor watchdog fed for the life of the process
	if interval := cfg.GetWatchdogInterval(); interval > 0 && !*devMode {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := camera.RunWatchdog(ctx, interval); err != nil && err != context.Canceled {
				log.Printf("watchdog keeper terminated: %v", err)
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := api.NewServer(service, store, cfg).ServeMux()
		server := &http.Server{
			Addr:    cfg.GetListenAddr(),
			Handler: api.LoggingMiddleware(mux),
		}

		go func() {
			log.Printf("listening on %s", cfg.GetListenAddr())
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}
	}()

	wg.Wait()

	if service.Running() {
		if err := service.Stop(); err != nil {
			log.Printf("failed to stop acquisition on shutdown: %v", err)
		}
	}
}

// newReceiverFactory selects the receive engine: pcap replay when a capture
// file is given, otherwise the simulated engine. The hardware engine attaches
// through the same Factory seam.
func newReceiverFactory(cfg *config.Config) receiver.Factory {
	if *pcapFile != "" {
		return func(frameMemory []byte, frameSize int, fd int, addressOffset uint64) (receiver.Receiver, error) {
			recv, err := receiver.NewPcapReceiver(*pcapFile, cfg.GetDataPort(), frameMemory, frameSize)
			if err != nil {
				return nil, err
			}
			return recv, nil
		}
	}
	return func(frameMemory []byte, frameSize int, fd int, addressOffset uint64) (receiver.Receiver, error) {
		return receiver.NewSimulatedReceiver(frameMemory, frameSize, time.Second), nil
	}
}
