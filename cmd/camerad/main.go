package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/unblink/camerad/config"
	"github.com/unblink/camerad/control"
	"github.com/unblink/camerad/detector"
	"github.com/unblink/camerad/pipeline"
	"github.com/unblink/camerad/status"
	"github.com/unblink/camerad/store"
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "config":
			handleConfigCommand()
			return
		case "-h", "--help", "help":
			printUsage()
			return
		}
	}

	run()
}

func handleConfigCommand() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: camerad config <validate|schema> [path]")
		os.Exit(1)
	}

	switch os.Args[2] {
	case "validate":
		path := camerasFilePath()
		if _, err := config.Validate(path); err != nil {
			log.Fatalf("invalid configuration: %v", err)
		}
		fmt.Printf("%s is valid\n", path)
	case "schema":
		data, err := config.SchemaJSON()
		if err != nil {
			log.Fatalf("generating schema: %v", err)
		}
		fmt.Println(string(data))
	default:
		fmt.Printf("Unknown config command: %s\n", os.Args[2])
		os.Exit(1)
	}
}

// camerasFilePath resolves an explicit path argument (camerad config
// validate <path>) or falls back to the daemon config's computed
// location under APP_DIR.
func camerasFilePath() string {
	if len(os.Args) > 3 {
		return os.Args[3]
	}
	dc, err := config.LoadDaemonConfig()
	if err != nil {
		log.Fatalf("loading daemon configuration: %v", err)
	}
	return dc.CamerasFile
}

func run() {
	dc, err := config.LoadDaemonConfig()
	if err != nil {
		log.Fatalf("loading daemon configuration: %v", err)
	}

	camerasFile, err := config.Validate(dc.CamerasFile)
	if err != nil {
		log.Fatalf("loading camera configuration: %v", err)
	}

	sink, err := store.New(store.Config{DatabaseURL: dc.DatabaseURL})
	if err != nil {
		log.Fatalf("opening audit store: %v", err)
	}
	defer sink.Close()

	locks := detector.NewLocks()
	hub := status.NewHub()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cameras := make(map[string]control.Camera, len(camerasFile.Cameras))
	for _, cc := range camerasFile.Cameras {
		pc, err := config.BuildPipelineConfig(cc, locks, dc.RecordingsDir)
		if err != nil {
			log.Fatalf("building pipeline config for %q: %v", cc.Name, err)
		}

		cam := pipeline.New(pc)
		cameras[cc.Name] = cam

		if err := hub.Attach(cam.Bus()); err != nil {
			log.Fatalf("attaching status feed for %q: %v", cc.Name, err)
		}
		if err := store.Attach(cam.Bus(), sink, log.Default()); err != nil {
			log.Fatalf("attaching audit store for %q: %v", cc.Name, err)
		}

		go cam.Run(ctx)
		log.Printf("[camerad] started camera %q", cc.Name)
	}

	controlServer := control.NewServer(control.Config{
		OperatorPasswordHash: dc.OperatorPasswordHash,
		JWTSecret:            dc.JWTSecret,
	}, cameras)

	statusMux := http.NewServeMux()
	statusMux.Handle("/ws", hub)
	statusHTTP := &http.Server{Addr: ":" + dc.StatusPort, Handler: statusMux}

	controlHTTP := &http.Server{Addr: ":" + dc.ControlPort, Handler: controlServer.Handler()}

	go func() {
		log.Printf("[camerad] status feed listening on %s", statusHTTP.Addr)
		if err := statusHTTP.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[camerad] status server error: %v", err)
		}
	}()
	go func() {
		log.Printf("[camerad] control surface listening on %s", controlHTTP.Addr)
		if err := controlHTTP.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[camerad] control server error: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	log.Println("[camerad] shutting down...")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := statusHTTP.Shutdown(shutdownCtx); err != nil {
		log.Printf("[camerad] status server shutdown error: %v", err)
	}
	if err := controlHTTP.Shutdown(shutdownCtx); err != nil {
		log.Printf("[camerad] control server shutdown error: %v", err)
	}

	log.Println("[camerad] shutdown complete")
}

func printUsage() {
	fmt.Println("Usage: camerad [command]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  (none)            Run the daemon")
	fmt.Println("  config validate   Validate cameras.yaml")
	fmt.Println("  config schema     Print the cameras.yaml JSON Schema")
	fmt.Println("  help, -h          Show this help message")
}
