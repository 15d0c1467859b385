package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/rangefinder/internal/api"
	"github.com/banshee-data/rangefinder/internal/config"
	"github.com/banshee-data/rangefinder/internal/db"
	"github.com/banshee-data/rangefinder/internal/fsutil"
	"github.com/banshee-data/rangefinder/internal/httputil"
	"github.com/banshee-data/rangefinder/internal/inclination"
	"github.com/banshee-data/rangefinder/internal/monitoring"
	"github.com/banshee-data/rangefinder/internal/prefs"
	"github.com/banshee-data/rangefinder/internal/sensor"
	"github.com/banshee-data/rangefinder/internal/version"
)

var (
	configPath  = flag.String("config", "", "Path to the engine config JSON (defaults are used when empty)")
	listen      = flag.String("listen", "", "Listen address (overrides config)")
	dbPath      = flag.String("db-path", "", "SQLite database path (overrides config)")
	sensorPort  = flag.String("sensor-port", "", "Accelerometer serial port (overrides config)")
	debug       = flag.Bool("debug", false, "Log recoverable oddities such as dropped sensor lines")
	serverURL   = flag.String("server", "http://localhost:8090", "Server URL for the estimate and finalize commands")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Current())
		return
	}
	if *debug {
		monitoring.SetDebugLogger(log.Printf)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	if args := flag.Args(); len(args) > 0 {
		if err := runCommand(args, cfg); err != nil {
			log.Fatal(err)
		}
		return
	}

	if err := serve(cfg); err != nil {
		log.Fatal(err)
	}
}

// loadConfig reads path when given and applies command line overrides.
func loadConfig(path string) (*config.EngineConfig, error) {
	cfg := config.DefaultEngineConfig()
	if path != "" {
		loaded, err := config.LoadEngineConfig(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if *listen != "" {
		cfg.Listen = listen
	}
	if *dbPath != "" {
		cfg.DBPath = dbPath
	}
	if *sensorPort != "" {
		cfg.SensorPort = sensorPort
	}
	return cfg, nil
}

func runCommand(args []string, cfg *config.EngineConfig) error {
	client := httputil.NewStandardClient(&http.Client{Timeout: 5 * time.Second})
	switch args[0] {
	case "migrate":
		return db.RunMigrateCommand(args[1:], cfg.GetDBPath(), os.Stdout)
	case "estimate":
		return printEstimate(client, *serverURL, os.Stdout)
	case "finalize":
		return postFinalize(client, *serverURL, os.Stdout)
	case "export":
		if len(args) < 2 {
			return fmt.Errorf("usage: rangefinder export <file.csv> [limit]")
		}
		return exportResults(cfg, fsutil.OSFileSystem{}, args[1:], os.Stdout)
	default:
		return fmt.Errorf("unknown command %q: expected migrate, estimate, finalize or export", args[0])
	}
}

// exportResults writes stored results to a CSV file. An optional second
// argument caps the row count.
func exportResults(cfg *config.EngineConfig, fsys fsutil.FileSystem, args []string, out io.Writer) error {
	limit := 0
	if len(args) > 1 {
		n, err := strconv.Atoi(args[1])
		if err != nil || n < 1 {
			return fmt.Errorf("invalid limit %q", args[1])
		}
		limit = n
	}

	database, err := db.NewDB(cfg.GetDBPath())
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	n, err := database.ExportResults(fsys, args[0], limit)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Exported %d results to %s\n", n, args[0])
	return nil
}

// openSensor opens the configured accelerometer port. Without one, or with
// tilt_source "none", the engine runs with a disabled source.
func openSensor(cfg *config.EngineConfig) sensor.Source {
	if cfg.GetTiltSource() == config.TiltSourceNone {
		log.Print("tilt source is none, inclination disabled")
		return sensor.NewDisabled()
	}
	port := cfg.GetSensorPort()
	if port == "" {
		log.Print("no sensor port configured, inclination disabled")
		return sensor.NewDisabled()
	}
	s, err := sensor.OpenSerial(port, cfg.GetSensorOptions())
	if err != nil {
		log.Printf("failed to open sensor port %s, inclination disabled: %v", port, err)
		return sensor.NewDisabled()
	}
	log.Printf("reading inclination from %s", port)
	return s
}

// tiltSupported reports whether results carry inclination. A host source
// pushes its samples to /api/tilt, so it needs no serial port.
func tiltSupported(cfg *config.EngineConfig, source sensor.Source) bool {
	switch cfg.GetTiltSource() {
	case config.TiltSourceHost:
		return true
	case config.TiltSourceNone:
		return false
	default:
		return source.Supported()
	}
}

// newAPIServer seeds empty preferences from cfg and builds the API server
// with a tracker sized to the tilt source.
func newAPIServer(cfg *config.EngineConfig, database *db.DB, source sensor.Source) (*api.Server, *inclination.Tracker, error) {
	store := prefs.NewUnitStore(database.Preferences())
	if err := store.SeedDefaults(cfg.GetOpticalConstants(), cfg.GetUnits()); err != nil {
		return nil, nil, fmt.Errorf("failed to seed preferences: %w", err)
	}

	tracker := inclination.NewTracker(tiltSupported(cfg, source))
	server := api.NewServer(api.Config{
		Store:        store,
		DB:           database,
		Tracker:      tracker,
		Display:      cfg.GetDisplay(),
		Perturbation: cfg.GetPerturbationMeters(),
	})
	return server, tracker, nil
}

func serve(cfg *config.EngineConfig) error {
	database, err := db.NewDB(cfg.GetDBPath())
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	source := openSensor(cfg)
	defer source.Close()

	server, tracker, err := newAPIServer(cfg, database, source)
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// run the monitor routine to read samples off the sensor
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := source.Monitor(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("failed to monitor sensor: %v", err)
		}
		log.Print("monitor routine terminated")
	}()

	// feed the latest sample into the tracker
	wg.Add(1)
	go func() {
		defer wg.Done()
		id, c := source.Subscribe()
		defer source.Unsubscribe(id)
		if err := tracker.Follow(ctx, c); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("tracker stopped: %v", err)
		}
		log.Print("subscribe routine terminated")
	}()

	mux := server.ServeMux()
	database.AttachAdminRoutes(mux)
	source.AttachAdminRoutes(mux)

	httpServer := &http.Server{
		Addr:    cfg.GetListen(),
		Handler: api.LoggingMiddleware(mux),
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			if err := httpServer.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}
	}()

	log.Printf("rangefinder %s listening on %s (session %s)", version.Version, cfg.GetListen(), server.Session().ID())
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		stop()
		wg.Wait()
		return fmt.Errorf("failed to start server: %w", err)
	}

	wg.Wait()
	log.Printf("Graceful shutdown complete")
	return nil
}
