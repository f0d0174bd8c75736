package main

import (
	"context"
	"encoding/csv"
	"fmt"
	"math"
	"math/rand"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/greenbharat/air-quality-service/internal/aqi"
)

// cityProfile holds the baseline pollution and weather levels a simulated
// city's readings fluctuate around.
type cityProfile struct {
	name     string
	lat, lon float64
	pm25     float64
	pm10     float64
	no2      float64
	so2      float64
	co       float64
	o3       float64
	temp     float64
	humidity float64
	wind     float64
}

var cityProfiles = []cityProfile{
	{"Delhi", 28.6139, 77.2090, 85, 140, 45, 18, 1.8, 35, 28, 55, 6},
	{"Mumbai", 19.0760, 72.8777, 35, 70, 30, 12, 1.2, 28, 30, 75, 12},
	{"Bangalore", 12.9716, 77.5946, 28, 55, 25, 8, 0.9, 25, 26, 60, 8},
	{"Chennai", 13.0827, 80.2707, 25, 50, 22, 10, 0.8, 30, 32, 70, 14},
	{"Kolkata", 22.5726, 88.3639, 50, 95, 35, 14, 1.4, 32, 29, 72, 7},
	{"Hyderabad", 17.3850, 78.4867, 30, 60, 28, 9, 1.0, 26, 30, 55, 9},
	{"Pune", 18.5204, 73.8567, 26, 52, 24, 7, 0.8, 24, 27, 58, 10},
	{"Jaipur", 26.9124, 75.7873, 45, 90, 32, 11, 1.3, 30, 31, 40, 11},
}

var csvHeader = []string{
	"timestamp", "city", "latitude", "longitude",
	"pm25", "pm10", "no2", "so2", "co", "o3",
	"temperature", "humidity", "wind_speed", "aqi", "aqi_category",
}

func main() {
	var (
		outputPath string
		interval   time.Duration
		seed       int64
		ticks      int
	)

	rootCmd := &cobra.Command{
		Use:   "simulator",
		Short: "Simulated air-quality sensor feed",
		Long: `Continuously appends simulated sensor readings for Indian cities to a CSV
file. The service tails this file as its ingestion source. Each tick picks
2-4 random cities and appends one reading per city.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			rng := rand.New(rand.NewSource(seed))
			if seed == 0 {
				rng = rand.New(rand.NewSource(time.Now().UnixNano()))
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, outputPath, interval, ticks, rng)
		},
	}

	rootCmd.Flags().StringVarP(&outputPath, "output", "o", filepath.Join("data", "sensor_data.csv"), "CSV file to append readings to")
	rootCmd.Flags().DurationVarP(&interval, "interval", "i", 4*time.Second, "Time between ticks")
	rootCmd.Flags().Int64Var(&seed, "seed", 0, "Random seed (0 = time-based)")
	rootCmd.Flags().IntVar(&ticks, "ticks", 0, "Stop after N ticks (0 = run until interrupted)")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// run appends batches of simulated readings until ctx is cancelled or the
// tick budget is exhausted.
func run(ctx context.Context, path string, interval time.Duration, maxTicks int, rng *rand.Rand) error {
	if err := initCSV(path); err != nil {
		return err
	}
	fmt.Printf("simulating %d cities -> %s every %s\n", len(cityProfiles), path, interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for tick := 0; ; tick++ {
		if maxTicks > 0 && tick >= maxTicks {
			return nil
		}
		if err := appendBatch(path, tick, rng); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			fmt.Println("simulator stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// initCSV creates the output file with a header row if it does not exist.
func initCSV(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create data dir: %w", err)
		}
	}
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	defer f.Close()
	w := csv.NewWriter(f)
	if err := w.Write(csvHeader); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}

// appendBatch picks 2-4 random cities and appends one reading per city.
func appendBatch(path string, tick int, rng *rand.Rand) error {
	n := 2 + rng.Intn(3)
	if n > len(cityProfiles) {
		n = len(cityProfiles)
	}
	picks := rng.Perm(len(cityProfiles))[:n]

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open output file: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	for _, idx := range picks {
		record := generateRecord(cityProfiles[idx], tick, rng)
		if err := w.Write(record); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

// generateRecord produces one CSV record with time-of-day variation,
// sinusoidal drift, gaussian noise, and an occasional pollution spike.
func generateRecord(p cityProfile, tick int, rng *rand.Rand) []string {
	// Rush hours raise pollution; night lowers it.
	hour := time.Now().Hour()
	timeFactor := 1.0
	switch {
	case hour >= 7 && hour <= 10, hour >= 17 && hour <= 20:
		timeFactor = 1.3
	case hour >= 1 && hour <= 5:
		timeFactor = 0.6
	}

	drift := math.Sin(float64(tick)*0.1) * 0.15
	noise := func() float64 { return rng.NormFloat64() * 0.12 }

	// 5% chance of a doubling spike on particulates.
	spike := 1.0
	if rng.Intn(20) == 0 {
		spike = 2.0
	}

	pm25 := math.Max(1, p.pm25*(timeFactor+drift+noise())*spike)
	pm10 := math.Max(1, p.pm10*(timeFactor+drift+noise())*spike)
	no2 := math.Max(1, p.no2*(timeFactor+drift+noise()))
	so2 := math.Max(0.5, p.so2*(1+drift+noise()))
	co := math.Max(0.1, p.co*(1+noise()))
	o3 := math.Max(1, p.o3*(1+drift*0.5+noise()))

	temp := p.temp + rng.NormFloat64()*2
	humidity := math.Min(100, math.Max(10, p.humidity+rng.NormFloat64()*5))
	wind := math.Max(0.5, p.wind+rng.NormFloat64()*2)

	index := aqi.Compute(pm25, pm10, no2)
	category := aqi.Category(index)

	return []string{
		time.Now().Format(time.RFC3339),
		p.name,
		strconv.FormatFloat(p.lat, 'f', 4, 64),
		strconv.FormatFloat(p.lon, 'f', 4, 64),
		round1(pm25),
		round1(pm10),
		round1(no2),
		round1(so2),
		strconv.FormatFloat(co, 'f', 2, 64),
		round1(o3),
		round1(temp),
		round1(humidity),
		round1(wind),
		strconv.Itoa(index),
		category,
	}
}

func round1(v float64) string {
	return strconv.FormatFloat(v, 'f', 1, 64)
}
