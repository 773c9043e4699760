// itemsim writes a synthetic Items.data snapshot on an interval so the
// relay can be exercised on machines without the Find My cache.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	json "github.com/goccy/go-json"
)

type simLocation struct {
	Latitude           float64 `json:"latitude"`
	Longitude          float64 `json:"longitude"`
	TimeStamp          float64 `json:"timeStamp"`
	HorizontalAccuracy float64 `json:"horizontalAccuracy"`
	VerticalAccuracy   float64 `json:"verticalAccuracy"`
	Altitude           float64 `json:"altitude"`
}

type simItem struct {
	Name          string      `json:"name"`
	SerialNumber  string      `json:"serialNumber"`
	BatteryStatus string      `json:"batteryStatus"`
	Location      simLocation `json:"location"`
}

func main() {
	outPath := flag.String("out", "Items.data", "Path of the snapshot file to write")
	serial := flag.String("serial", "SIM-TAG-1", "Simulated item serial number")
	name := flag.String("name", "Simulated Tag", "Simulated item name")
	lat := flag.Float64("lat", 52.5200, "Base latitude in degrees")
	lon := flag.Float64("lon", 13.4050, "Base longitude in degrees")
	jitter := flag.Float64("jitter", 0.001, "Maximum random offset applied to coordinates per tick")
	interval := flag.Duration("interval", 30*time.Second, "Interval between snapshot rewrites")

	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	write := func() {
		items := []simItem{
			{
				Name:          *name,
				SerialNumber:  *serial,
				BatteryStatus: "Full",
				Location: simLocation{
					Latitude:           *lat + offset(*jitter),
					Longitude:          *lon + offset(*jitter),
					TimeStamp:          float64(time.Now().UnixMilli()),
					HorizontalAccuracy: 10 + rand.Float64()*20,
					VerticalAccuracy:   5 + rand.Float64()*10,
					Altitude:           34,
				},
			},
		}

		data, err := json.MarshalIndent(items, "", "  ")
		if err != nil {
			log.Printf("failed to encode snapshot: %v", err)
			return
		}

		tmp := *outPath + ".tmp"
		if err := os.WriteFile(tmp, data, 0o644); err != nil {
			log.Printf("failed to write snapshot: %v", err)
			return
		}
		if err := os.Rename(tmp, *outPath); err != nil {
			log.Printf("failed to replace snapshot: %v", err)
			return
		}
		log.Printf("wrote %s serial=%s", filepath.Base(*outPath), *serial)
	}

	fmt.Printf("writing simulated snapshots to %s every %s\n", *outPath, *interval)
	write()

	for {
		select {
		case <-ctx.Done():
			log.Print("received shutdown signal, stopping")
			return
		case <-ticker.C:
			write()
		}
	}
}

func offset(jitter float64) float64 {
	if jitter <= 0 {
		return 0
	}
	return (rand.Float64()*2 - 1) * jitter
}
