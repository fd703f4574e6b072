package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/dpup/prefab/logging"

	"github.com/dpup/locationbar/server/internal/clients/terrain"
	"github.com/dpup/locationbar/server/internal/config"
	"github.com/dpup/locationbar/server/internal/lib/coords"
	"github.com/dpup/locationbar/server/internal/lib/geoid"
	"github.com/dpup/locationbar/server/internal/lib/position"
	"github.com/dpup/locationbar/server/internal/lib/projection"
	"github.com/dpup/locationbar/server/internal/lib/refine"
	"github.com/dpup/locationbar/server/internal/services"
)

func main() {
	var (
		input      = flag.String("input", "-", "JSON-lines file of stream messages, - for stdin")
		terrainURL = flag.String("terrain", "", "Terrain lookup service base URL (empty disables refinement)")
		geoidModel = flag.String("geoid", config.GeoidEGM96, "Geoid model: egm96, none, or a path to WW15MGH.DAC")
		debounce   = flag.Duration("debounce", 250*time.Millisecond, "Quiescence interval before refining")
		digits     = flag.Int("digits", coords.DefaultDigits, "Decimals shown for degrees")
		utm        = flag.Bool("projection", false, "Show UTM coordinates")
		help       = flag.Bool("help", false, "Show help")
	)
	flag.Parse()

	if *help {
		fmt.Printf("Location Probe\n\n")
		fmt.Printf("Replays pointer stream messages through a position controller and\n")
		fmt.Printf("prints every display update as a JSON line.\n\n")
		fmt.Printf("Usage: %s [options]\n\n", os.Args[0])
		fmt.Printf("Options:\n")
		flag.PrintDefaults()
		fmt.Printf("\nExamples:\n")
		fmt.Printf("  %s -input picks.jsonl\n", os.Args[0])
		fmt.Printf("  %s -input picks.jsonl -terrain https://api.open-elevation.com -projection\n", os.Args[0])
		fmt.Printf("  echo '{\"type\":\"flat\",\"lon\":151.2,\"lat\":-33.8}' | %s\n", os.Args[0])
		return
	}

	reader, err := openInput(*input)
	if err != nil {
		log.Fatalf("Failed to open input: %v", err)
	}
	defer reader.Close()

	model, err := buildGeoid(*geoidModel)
	if err != nil {
		log.Fatalf("Failed to load geoid: %v", err)
	}

	var sampler refine.Sampler
	if *terrainURL != "" {
		sampler = terrain.NewClient(*terrainURL, terrain.DefaultRequestsPerSecond, terrain.DefaultCacheTTL)
	}

	formatter := coords.NewFormatter(projection.NewUTM(projection.GRS80))
	formatter.Digits = *digits

	ctx := logging.EnsureLogger(context.Background())
	controller := position.New(ctx, position.Options{
		Geoid:         model,
		Sampler:       sampler,
		Formatter:     formatter,
		UseProjection: *utm,
		Delay:         *debounce,
	})

	updates, _ := controller.Subscribe(64)
	done := make(chan struct{})
	go func() {
		defer close(done)
		encoder := json.NewEncoder(os.Stdout)
		for d := range updates {
			if err := encoder.Encode(d); err != nil {
				log.Printf("Failed to write display: %v", err)
			}
		}
	}()

	processed, rejected := replay(reader, controller)

	// Resolve whatever the last settled position was before exiting
	controller.FlushRefinement()
	controller.Wait()
	controller.Close()
	<-done

	log.Printf("Processed %d messages (%d rejected)", processed, rejected)
}

func replay(r io.Reader, controller *position.Controller) (processed, rejected int) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	line := 0
	for scanner.Scan() {
		line++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		processed++

		var msg services.StreamMessage
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			log.Printf("Line %d: failed to decode message: %v", line, err)
			rejected++
			continue
		}
		if err := services.Dispatch(controller, msg); err != nil {
			log.Printf("Line %d: %v", line, err)
			rejected++
		}
	}
	if err := scanner.Err(); err != nil {
		log.Printf("Failed to read input: %v", err)
	}
	return processed, rejected
}

func openInput(path string) (io.ReadCloser, error) {
	if path == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	return os.Open(path)
}

func buildGeoid(name string) (geoid.Model, error) {
	switch name {
	case config.GeoidNone:
		return nil, nil
	case config.GeoidEGM96:
		return geoid.NewEGM96(), nil
	default:
		grid, err := geoid.LoadDACFile(name)
		if err != nil {
			return nil, err
		}
		return grid, nil
	}
}
