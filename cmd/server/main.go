package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"

	"github.com/dpup/prefab"
	"github.com/dpup/prefab/logging"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/dpup/locationbar/server/internal/clients/terrain"
	"github.com/dpup/locationbar/server/internal/config"
	"github.com/dpup/locationbar/server/internal/lib/coords"
	"github.com/dpup/locationbar/server/internal/lib/geoid"
	"github.com/dpup/locationbar/server/internal/lib/projection"
	"github.com/dpup/locationbar/server/internal/metrics"
	"github.com/dpup/locationbar/server/internal/services"
)

func main() {
	ctx := logging.EnsureLogger(context.Background())

	// Load configuration using Prefab's config system
	appConfig := loadConfig()

	model := loadGeoid(appConfig.Geoid)

	// Terrain sampling with its own sample cache
	terrainClient := terrain.NewClient(appConfig.Terrain.BaseURL, appConfig.Terrain.RequestsPerSecond, appConfig.Terrain.CacheTTL)
	if appConfig.Terrain.CleanupInterval > 0 {
		terrainClient.Cache().StartPeriodicCleanup(ctx, appConfig.Terrain.CleanupInterval)
	}

	formatter := coords.NewFormatter(projection.NewUTM(projection.GRS80))
	formatter.Digits = appConfig.Location.Digits

	locationService := services.NewLocationService(model, terrainClient, formatter, &appConfig.Location)

	gateway := runtime.NewServeMux()
	if err := locationService.RegisterRoutes(gateway); err != nil {
		log.Fatalf("Failed to register location routes: %v", err)
	}

	log.Printf("Location API Server starting")
	log.Printf("Terrain service: %s (%.1f req/s)", appConfig.Terrain.BaseURL, appConfig.Terrain.RequestsPerSecond)
	log.Printf("Geoid model: %s", appConfig.Geoid.Model)
	log.Printf("Refinement debounce: %s", appConfig.Location.Debounce)

	// Create Prefab server with GRPC reflection enabled
	// Server configuration (port, etc.) will be loaded from prefab.yaml/env vars
	server := prefab.New(
		prefab.WithGRPCReflection(),
		prefab.WithHTTPHandlerFunc("/", homepageHandler),
		prefab.WithHTTPHandlerFunc("/v1/", gateway.ServeHTTP),
		prefab.WithHTTPHandlerFunc("/v1/stream", locationService.HandleStream),
		prefab.WithHTTPHandlerFunc("/metrics", metrics.Handler().ServeHTTP),
	)

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(server.ServiceRegistrar(), healthServer)
	healthServer.SetServingStatus("locationbar", healthpb.HealthCheckResponse_SERVING)

	// Start the server (blocks until shutdown)
	if err := server.Start(); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}

// loadConfig loads configuration using Prefab's config system
// Configuration is loaded from prefab.yaml and environment variables with PF__ prefix
func loadConfig() *config.Config {
	appConfig, err := config.Load(prefab.Config)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	return appConfig
}

// loadGeoid builds the configured geoid model, nil when disabled
func loadGeoid(cfg config.GeoidConfig) geoid.Model {
	switch cfg.Model {
	case config.GeoidNone:
		log.Printf("Geoid correction disabled")
		return nil
	case config.GeoidDAC:
		grid, err := geoid.LoadDACFile(cfg.DACPath)
		if err != nil {
			log.Fatalf("Failed to load geoid grid: %v", err)
		}
		log.Printf("Loaded geoid grid from %s (%.2f to %.2f m)", cfg.DACPath, grid.MinimumHeight(), grid.MaximumHeight())
		return grid
	default:
		return geoid.NewEGM96()
	}
}

// homepageHandler serves a simple HTML homepage at the server root
func homepageHandler(w http.ResponseWriter, r *http.Request) {
	// Only handle the root path
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")

	html := `<!DOCTYPE html>
<html>
<head>
    <meta charset="utf-8">
    <title>locationbar</title>
    <style>
        body {
            font-family: 'Courier New', Consolas, monospace;
            background: #000;
            color: #0f0;
            padding: 20px;
            line-height: 1.4;
        }
        a { color: #0ff; text-decoration: none; }
        a:hover { text-decoration: underline; }
        pre { margin: 0; }
        .header { color: #ff0; }
    </style>
</head>
<body>
<pre>
<span class="header">locationbar</span>

Resolves a pointer over 3D terrain to longitude, latitude and elevation,
refining a fast mesh estimate with an accurate terrain sample once the
pointer settles.

<span class="header">API Endpoints:</span>

  GET  /v1/stream                  - WebSocket pointer session
  POST /v1/estimate                - Fast estimate for a single pick
  <a href="/v1/sample?lon=151.2093&lat=-33.8688">GET  /v1/sample?lon=&lat=</a>        - Accurate geoid-corrected sample
  <a href="/v1/placemark?lon=151.2093&lat=-33.8688">GET  /v1/placemark?lon=&lat=</a>     - Sample as a KML placemark
  <a href="/metrics">GET  /metrics</a>                    - Prometheus metrics

<span class="header">Stream messages:</span>

  {"type":"pick","hit":true,"intersection":{...},"vertices":[...],"tile":{...}}
  {"type":"flat","lon":151.2,"lat":-33.8}
  {"type":"toggle_projection"}
  {"type":"release"}
</pre>
</body>
</html>`

	if _, err := fmt.Fprint(w, html); err != nil {
		slog.Error("Failed to write homepage HTML", "error", err)
	}
}
