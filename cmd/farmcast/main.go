package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	kongdotenv "github.com/titusjaka/kong-dotenv-go"

	"github.com/lox/farmcast/internal/advice"
	"github.com/lox/farmcast/internal/api"
	"github.com/lox/farmcast/internal/forecast"
	"github.com/lox/farmcast/internal/ingest"
	"github.com/lox/farmcast/internal/models"
	"github.com/lox/farmcast/internal/store"
)

type CLI struct {
	DB             string        `help:"Path to SQLite database." default:"data/farmcast.db" env:"FARMCAST_DB"`
	PowerURL       string        `help:"NASA POWER API base URL." default:"${power_url}" env:"FARMCAST_POWER_URL"`
	HistoryYears   int           `help:"Default years of history to train on." default:"5" env:"FARMCAST_HISTORY_YEARS"`
	CacheSize      int           `help:"Trained bundles kept in memory." default:"64" env:"FARMCAST_CACHE_SIZE"`
	CacheTTL       time.Duration `help:"How long a trained bundle stays valid." default:"24h" env:"FARMCAST_CACHE_TTL"`
	MaxHorizonDays int           `help:"Furthest forecast past the last observation, in days." default:"${max_horizon}" env:"FARMCAST_MAX_HORIZON_DAYS"`

	Serve    ServeCmd    `cmd:"" help:"Run the HTTP API."`
	Forecast ForecastCmd `cmd:"" help:"Print advice for one location and date as JSON."`
	Train    TrainCmd    `cmd:"" help:"Train and persist the predictors for a location."`
	Migrate  MigrateCmd  `cmd:"" help:"Apply database migrations."`
}

type ServeCmd struct {
	Port         string        `help:"HTTP server port." default:"8080" env:"FARMCAST_PORT"`
	Rate         float64       `help:"Forecast requests per second; 0 disables limiting." default:"5" env:"FARMCAST_RATE"`
	Burst        int           `help:"Forecast request burst size." default:"10" env:"FARMCAST_BURST"`
	CORSOrigins  []string      `name:"cors-origins" help:"Allowed CORS origins." default:"*" env:"FARMCAST_CORS_ORIGINS"`
	WarmSite     []string      `help:"Location to keep trained, as lat,lon. Repeatable." sep:"none" env:"FARMCAST_WARM_SITES"`
	WarmInterval time.Duration `help:"How often to re-warm sites." default:"6h" env:"FARMCAST_WARM_INTERVAL"`
	Retention    int           `help:"Days to keep raw payloads and forecast runs." default:"30" env:"FARMCAST_RETENTION_DAYS"`
	NoWarm       bool          `help:"Disable the background scheduler."`
}

type ForecastCmd struct {
	Lat        float64 `help:"Latitude in degrees." required:""`
	Lon        float64 `help:"Longitude in degrees." required:""`
	Target     string  `help:"Target date, YYYY-MM-DD or YYYYMMDD." required:""`
	Kc         float64 `help:"Crop coefficient." default:"1.15"`
	SoilBuffer float64 `help:"Soil moisture buffer in mm." default:"2"`
	EffRain    float64 `help:"Fraction of rainfall that is effective." default:"0.8"`
	Start      string  `help:"History window start."`
	End        string  `help:"History window end."`
}

type TrainCmd struct {
	Lat   float64 `help:"Latitude in degrees." required:""`
	Lon   float64 `help:"Longitude in degrees." required:""`
	Start string  `help:"History window start."`
	End   string  `help:"History window end; defaults to today."`
}

type MigrateCmd struct{}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("farmcast"),
		kong.Description("Weather forecasts and irrigation advice from NASA POWER history."),
		kong.Configuration(kongdotenv.ENVFileReader, ".env"),
		kong.Vars{
			"power_url":   ingest.DefaultPowerURL,
			"max_horizon": strconv.Itoa(forecast.MaxHorizonDays),
		},
	)
	ctx.FatalIfErrorf(ctx.Run(&cli))
}

func (c *CLI) openStore() (*store.Store, error) {
	st, err := store.Open(c.DB)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(); err != nil {
		st.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return st, nil
}

func (c *CLI) newService(st *store.Store) (*advice.Service, error) {
	power := ingest.NewPowerClient()
	power.SetBaseURL(c.PowerURL)

	cfg := advice.DefaultConfig()
	cfg.HistoryYears = c.HistoryYears
	cfg.CacheSize = c.CacheSize
	cfg.CacheTTL = c.CacheTTL
	cfg.MaxHorizonDays = c.MaxHorizonDays
	return advice.NewService(ingest.NewHistory(power, st), st, cfg)
}

func (cmd *ServeCmd) Run(cli *CLI) error {
	sites, err := parseSites(cmd.WarmSite)
	if err != nil {
		return err
	}

	st, err := cli.openStore()
	if err != nil {
		return err
	}
	defer st.Close()
	log.Println("database migrated")

	svc, err := cli.newService(st)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if !cmd.NoWarm {
		scheduler := ingest.NewScheduler(svc, svc, st, sites)
		scheduler.SetIntervals(cmd.WarmInterval, 0)
		scheduler.SetRetentionDays(cmd.Retention)
		go scheduler.Run(ctx)
	} else {
		log.Println("scheduler disabled (--no-warm)")
	}

	server := api.NewServer(svc, st, api.Config{
		Port:        cmd.Port,
		CORSOrigins: cmd.CORSOrigins,
		Rate:        cmd.Rate,
		Burst:       cmd.Burst,
	})
	return server.Run(ctx)
}

func parseSites(specs []string) ([]models.Location, error) {
	sites := make([]models.Location, 0, len(specs))
	for _, spec := range specs {
		for _, s := range strings.Split(spec, ";") {
			s = strings.TrimSpace(s)
			if s == "" {
				continue
			}
			lat, lon, ok := strings.Cut(s, ",")
			if !ok {
				return nil, fmt.Errorf("warm site %q: want lat,lon", s)
			}
			latF, err := strconv.ParseFloat(strings.TrimSpace(lat), 64)
			if err != nil {
				return nil, fmt.Errorf("warm site %q: %w", s, err)
			}
			lonF, err := strconv.ParseFloat(strings.TrimSpace(lon), 64)
			if err != nil {
				return nil, fmt.Errorf("warm site %q: %w", s, err)
			}
			sites = append(sites, models.Location{Latitude: latF, Longitude: lonF})
		}
	}
	return sites, nil
}

func (cmd *ForecastCmd) Run(cli *CLI) error {
	target, err := api.ParseDay(cmd.Target)
	if err != nil {
		return err
	}
	req := advice.NewRequest(cmd.Lat, cmd.Lon, target)
	req.Params.CropCoefficient = cmd.Kc
	req.Params.SoilBufferMM = cmd.SoilBuffer
	req.Params.EffectiveRainFraction = cmd.EffRain
	if req.Start, req.End, err = parseWindow(cmd.Start, cmd.End); err != nil {
		return err
	}

	st, err := cli.openStore()
	if err != nil {
		return err
	}
	defer st.Close()
	svc, err := cli.newService(st)
	if err != nil {
		return err
	}

	res, err := svc.Advise(context.Background(), req)
	if err != nil {
		return err
	}
	if res.Warning != "" {
		log.Printf("warning: %s", res.Warning)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(api.NewForecastResponse(res))
}

func (cmd *TrainCmd) Run(cli *CLI) error {
	start, end, err := parseWindow(cmd.Start, cmd.End)
	if err != nil {
		return err
	}
	target := end
	if target.IsZero() {
		target = time.Now().UTC()
	}
	req := advice.NewRequest(cmd.Lat, cmd.Lon, target)
	req.Start, req.End = start, end

	st, err := cli.openStore()
	if err != nil {
		return err
	}
	defer st.Close()
	svc, err := cli.newService(st)
	if err != nil {
		return err
	}

	bundle, err := svc.Prepare(context.Background(), req)
	if err != nil {
		return err
	}
	fmt.Printf("%s: %d days, trained %s\n", bundle.Key, len(bundle.Series), bundle.TrainedAt.Format(time.RFC3339))
	return nil
}

func parseWindow(start, end string) (time.Time, time.Time, error) {
	var s, e time.Time
	var err error
	if start != "" {
		if s, err = api.ParseDay(start); err != nil {
			return s, e, fmt.Errorf("start: %w", err)
		}
	}
	if end != "" {
		if e, err = api.ParseDay(end); err != nil {
			return s, e, fmt.Errorf("end: %w", err)
		}
	}
	return s, e, nil
}

func (cmd *MigrateCmd) Run(cli *CLI) error {
	st, err := cli.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	version, err := st.MigrationVersion()
	if err != nil {
		return err
	}
	fmt.Printf("database %s at migration version %d\n", cli.DB, version)
	return nil
}
