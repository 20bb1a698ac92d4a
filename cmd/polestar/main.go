package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/term"

	"github.com/gopolestar/gopolestar"
	"github.com/gopolestar/gopolestar/internal/config"
)

func main() {
	username := flag.String("username", "", "Polestar ID username (email)")
	vin := flag.String("vin", "", "restrict to a single VIN")
	verbose := flag.Bool("verbose", false, "request the extended vehicle inventory")
	dump := flag.Bool("dump", false, "write raw API payloads to <VIN>.json")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	// Missing .env is fine; the environment may be set directly.
	_ = godotenv.Load()

	err := run(*username, *vin, *verbose, *dump, *debug)
	if err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

func run(username, vin string, verbose, dump, debug bool) error {
	ctx := context.Background()

	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("configuration load failed: %w", err)
	}

	configureLogging(debug || cfg.Log.Debug)

	if username != "" {
		cfg.Account.Username = username
	}
	if vin != "" {
		cfg.Account.VINs = []string{vin}
	}

	if cfg.Account.Username == "" {
		cfg.Account.Username = prompt("Polestar ID (email): ")
	}
	if cfg.Account.Password == "" {
		cfg.Account.Password = promptPassword("Password: ")
	}
	if cfg.Account.Username == "" || cfg.Account.Password == "" {
		return fmt.Errorf("username and password are required")
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return err
	}
	httpClient := &http.Client{
		Jar:     jar,
		Timeout: time.Duration(cfg.API.TimeoutSeconds) * time.Second,
	}

	api, err := polestar.New(polestar.Config{
		Username:     cfg.Account.Username,
		Password:     cfg.Account.Password,
		VINs:         cfg.Account.VINs,
		PublicAPIKey: cfg.API.PublicAPIKey,
	}, polestar.WithLogger(log.Logger), polestar.WithHTTPClient(httpClient))
	if err != nil {
		return err
	}

	if err := api.Initialize(ctx, verbose); err != nil {
		return fmt.Errorf("sign-in failed: %w", err)
	}
	defer api.Logout()

	for _, v := range api.AvailableVINs() {
		if err := api.UpdateLatestData(ctx, v); err != nil {
			log.Warn().Err(err).Str("vin", v).Msg("telematics refresh failed")
		}
		if err := report(api, v); err != nil {
			return err
		}
		if dump {
			if err := dumpRaw(api, v); err != nil {
				return err
			}
		}
	}

	return nil
}

func report(api *polestar.API, vin string) error {
	info, err := api.CarInformation(vin)
	if err != nil {
		return err
	}
	telematics, err := api.CarTelematics(vin)
	if err != nil {
		return err
	}

	fmt.Printf("VIN: %s\n", vin)
	if info != nil {
		fmt.Printf("  Model:    %s\n", info.ModelName)
		fmt.Printf("  Software: %s\n", info.SoftwareVersion)
		if spec := info.BatteryInformation(); spec != nil && spec.CapacityKWh != nil {
			fmt.Printf("  Battery:  %d kWh\n", *spec.CapacityKWh)
		}
	}
	if telematics == nil {
		fmt.Println("  (no telematics data)")
		return nil
	}
	if b := telematics.Battery; b != nil {
		if b.BatteryChargeLevelPercentage != nil {
			fmt.Printf("  Charge:   %d%% (%s)\n", *b.BatteryChargeLevelPercentage, b.ChargingStatus)
		}
		if b.EstimatedDistanceToEmptyKm != nil {
			fmt.Printf("  Range:    %d km\n", *b.EstimatedDistanceToEmptyKm)
		}
		if full := b.EstimatedFullyChargedAt(); full != nil {
			fmt.Printf("  Full at:  %s\n", full.Local().Format(time.Kitchen))
		}
	}
	if o := telematics.Odometer; o != nil && o.OdometerMeters != nil {
		fmt.Printf("  Odometer: %.1f km\n", float64(*o.OdometerMeters)/1000)
	}
	if h := telematics.Health; h != nil {
		fmt.Printf("  Service:  %s\n", h.ServiceWarning)
	}
	return nil
}

func dumpRaw(api *polestar.API, vin string) error {
	raw, err := api.RawData(vin)
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return err
	}

	name := vin + ".json"
	if err := os.WriteFile(name, out, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	log.Info().Str("file", name).Msg("raw data written")
	return nil
}

func prompt(label string) string {
	fmt.Fprint(os.Stderr, label)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return ""
	}
	return strings.TrimSpace(line)
}

func promptPassword(label string) string {
	fmt.Fprint(os.Stderr, label)
	password, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return ""
	}
	return string(password)
}

func configureLogging(debug bool) {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(zerolog.InfoLevel)
	if debug {
		log.Logger = log.Logger.Level(zerolog.DebugLevel)
	}
	zerolog.DefaultContextLogger = &log.Logger
}
