package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/eyetrack/internal/analog"
	"github.com/banshee-data/eyetrack/internal/api"
	"github.com/banshee-data/eyetrack/internal/bus"
	"github.com/banshee-data/eyetrack/internal/config"
	"github.com/banshee-data/eyetrack/internal/db"
	"github.com/banshee-data/eyetrack/internal/frame"
	"github.com/banshee-data/eyetrack/internal/node"
	"github.com/banshee-data/eyetrack/internal/serialmux"
	"github.com/banshee-data/eyetrack/internal/timeutil"
	"github.com/banshee-data/eyetrack/internal/version"
)

var (
	listen       = flag.String("listen", ":8080", "Listen address")
	settingsPath = flag.String("settings", config.DefaultSettingsPath, "Path to the settings JSON document")
	dbPath       = flag.String("db", "eyetrack.db", "Path to the sqlite database (empty disables recording)")
	mqttBroker   = flag.String("mqtt", "", "MQTT broker URL, e.g. tcp://localhost:1883 (empty disables the bus)")
	mqttPrefix   = flag.String("mqtt-prefix", bus.DefaultTopicPrefix, "MQTT topic prefix")
	mqttClientID = flag.String("mqtt-client-id", bus.DefaultClientID, "MQTT client ID")
	simulate     = flag.Bool("simulate", false, "Use the simulated eye tracker instead of the saved device")
	interval     = flag.Duration("interval", node.DefaultCycleInterval, "Processing cycle interval")
	adcRate      = flag.Float64("adc-rate", 30000, "Sample rate of the simulated analog acquisition buffer (Hz)")
	listDevices  = flag.Bool("list", false, "List serial devices and exit")
	showVersion  = flag.Bool("version", false, "Print version and exit")
)

// loadSettings reads the settings file, falling back to the copy stored in
// the database and then to defaults.
func loadSettings(path string, database *db.DB) (*config.Settings, error) {
	settings := config.DefaultSettings()
	loaded, err := config.LoadSettings(path)
	switch {
	case err == nil:
		settings.Merge(loaded)
		log.Printf("loaded settings from %s", path)
	case errors.Is(err, os.ErrNotExist):
		if database == nil {
			break
		}
		stored, err := database.LoadSettings(db.DefaultSettingsName)
		if errors.Is(err, db.ErrNoSettings) {
			break
		}
		if err != nil {
			return nil, err
		}
		settings.Merge(stored)
		log.Printf("loaded settings from database")
	default:
		return nil, err
	}
	return settings, nil
}

func printDevices() error {
	ports, err := serialmux.ListPorts()
	if err != nil {
		return err
	}
	for i, p := range ports {
		fmt.Printf("%d\t%s\t%s\n", i+1, p.Name, p.FriendlyName)
	}
	return nil
}

// Main
func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("eyetrack %s\n", version.Get())
		return
	}
	if *listDevices {
		if err := printDevices(); err != nil {
			log.Fatalf("failed to list serial devices: %v", err)
		}
		return
	}
	if *listen == "" {
		log.Fatal("Listen address is required")
	}

	var database *db.DB
	if *dbPath != "" {
		var err error
		database, err = db.NewDB(*dbPath)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer database.Close()
	}

	settings, err := loadSettings(*settingsPath, database)
	if err != nil {
		log.Fatalf("failed to load settings: %v", err)
	}
	if *simulate {
		serial := true
		name := serialmux.SimulatedDeviceName
		settings.Merge(&config.Settings{SerialCommunication: &serial, Device: &name})
	}

	clock := timeutil.RealClock{}
	factory := serialmux.SimulatedFactory{
		RateHz: settings.GetEyeSamplingRateHz(),
		Next:   serialmux.RealPortFactory{},
	}
	device := serialmux.NewDevice(factory, clock, serialmux.PortOptions{BaudRate: settings.GetBaudRate()})
	defer device.Close()

	n := node.New(clock, func() frame.ByteSource {
		if src := device.Source(); src != nil {
			return src
		}
		return nil
	})
	n.Configure(node.ConfigFromSettings(settings))
	if err := node.ApplyDevice(device, serialmux.ListPorts, settings); err != nil {
		log.Printf("failed to open saved device: %v", err)
	}

	runner := node.NewRunner(n, clock, *interval, analog.NewSimulator(clock, *adcRate))

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// recorder routine: persist every emitted position into a new session
	if database != nil {
		mode := node.ConfigFromSettings(settings).Mode.String()
		sessionID, err := database.StartSession(device.Name(), mode)
		if err != nil {
			log.Fatalf("failed to start recording session: %v", err)
		}
		log.Printf("recording session %s", sessionID)
		recorder := db.NewRecorder(database, sessionID)
		id, ch := runner.Subscribe(256)
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer runner.Unsubscribe(id)
			if err := recorder.Run(ctx, ch); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("recorder failed: %v", err)
			}
			log.Printf("recorder routine terminated after %d samples", recorder.Samples())
		}()
	}

	// bus routine: inbound control records and outbound positions
	var bridge *bus.Bridge
	if *mqttBroker != "" {
		client, err := bus.Connect(*mqttBroker, *mqttClientID)
		if err != nil {
			log.Fatalf("failed to connect to MQTT broker: %v", err)
		}
		defer client.Disconnect(250)
		bridge = bus.NewBridge(client, n, *mqttPrefix)
		if err := bridge.Start(); err != nil {
			log.Fatalf("failed to subscribe to MQTT topics: %v", err)
		}
		id, ch := runner.Subscribe(256)
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer runner.Unsubscribe(id)
			if err := bridge.Publish(ctx, ch); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("bus publish failed: %v", err)
			}
			if err := bridge.Stop(); err != nil {
				log.Printf("failed to unsubscribe from MQTT topics: %v", err)
			}
			log.Print("bus routine terminated")
		}()
	}

	apiServer := api.NewServer(api.Options{
		Node:         n,
		Runner:       runner,
		Device:       device,
		ListPorts:    serialmux.ListPorts,
		DB:           database,
		Bus:          bridge,
		Settings:     settings,
		SettingsPath: *settingsPath,
	})

	// follow node output for the gaze chart and calibration persistence
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := apiServer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("api follower failed: %v", err)
		}
	}()

	// host loop routine: invoke the processing callback every cycle
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("runner failed: %v", err)
		}
		log.Print("runner routine terminated")
	}()

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := apiServer.ServeMux()
		device.AttachAdminRoutes(mux)
		if database != nil {
			if err := database.AttachAdminRoutes(mux); err != nil {
				log.Printf("failed to attach database admin routes: %v", err)
			}
		}

		server := &http.Server{
			Addr:    *listen,
			Handler: api.LoggingMiddleware(mux),
		}

		// Start server in a goroutine so it doesn't block
		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		// Wait for context cancellation to shut down server
		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			if err := server.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}

		log.Printf("HTTP server routine stopped")
	}()

	// Wait for all goroutines to finish
	wg.Wait()
	log.Printf("Graceful shutdown complete")
}
