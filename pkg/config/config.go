package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"GridCast/pkg/util"
)

// Duration wraps time.Duration so YAML values can be written as Go duration
// strings ("30s", "2m") or raw nanoseconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw interface{}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", v, err)
		}
		*d = Duration(parsed)
	case int:
		*d = Duration(v)
	case int64:
		*d = Duration(v)
	case float64:
		*d = Duration(v)
	default:
		return fmt.Errorf("invalid duration value %v", raw)
	}
	return nil
}

// Std returns the standard library duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

type Config struct {
	Environment string `yaml:"environment"`
	Server      struct {
		Port            int      `yaml:"port"`
		ReadTimeout     Duration `yaml:"read_timeout"`
		WriteTimeout    Duration `yaml:"write_timeout"`
		ShutdownTimeout Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`
	Metrics struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path"`
	} `yaml:"metrics"`
	Ingest struct {
		Source       string   `yaml:"source"`  // "stream" or "kafka"
		Backend      string   `yaml:"backend"` // "clickhouse" or "kafka"
		BatchSize    int      `yaml:"batch_size"`
		BatchTimeout Duration `yaml:"batch_timeout"`
		MaxRPS       int      `yaml:"max_rps"`
		BufferSize   int      `yaml:"buffer_size"`
	} `yaml:"ingest"`
	Gateway struct {
		APIKey         string   `yaml:"api_key"`
		WebSocketURL   string   `yaml:"websocket_url"`
		ReconnectDelay Duration `yaml:"reconnect_delay"`
		PingInterval   Duration `yaml:"ping_interval"`
	} `yaml:"gateway"`
	Kafka struct {
		Brokers        []string `yaml:"brokers"`
		TelemetryTopic string   `yaml:"telemetry_topic"`
		ForecastTopic  string   `yaml:"forecast_topic"`
		PriceTopic     string   `yaml:"price_topic"`
		LogTopic       string   `yaml:"log_topic"`
		RequiredAcks   int      `yaml:"required_acks"`
		Compression    string   `yaml:"compression"`
		Producer       struct {
			MaxAttempts  int      `yaml:"max_attempts"`
			Linger       Duration `yaml:"linger"`
			BatchBytes   int      `yaml:"batch_bytes"`
			BatchSize    int      `yaml:"batch_size"`
			WriteTimeout Duration `yaml:"write_timeout"`
			ReadTimeout  Duration `yaml:"read_timeout"`
			Async        bool     `yaml:"async"`
		} `yaml:"producer"`
		Consumer struct {
			GroupID    string   `yaml:"group_id"`
			Workers    int      `yaml:"workers"`
			BufferSize int      `yaml:"buffer_size"`
			RetryMax   int      `yaml:"retry_max"`
			BackoffMin Duration `yaml:"backoff_min"`
			BackoffMax Duration `yaml:"backoff_max"`
			DLQTopic   string   `yaml:"dlq_topic"`
			MinBytes   int      `yaml:"min_bytes"`
			MaxBytes   int      `yaml:"max_bytes"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`
	ClickHouse struct {
		Host             string   `yaml:"host"`
		Port             int      `yaml:"port"`
		Database         string   `yaml:"database"`
		User             string   `yaml:"user"`
		Password         string   `yaml:"password"`
		UseHTTP          bool     `yaml:"use_http"`
		AsyncInsert      bool     `yaml:"async_insert"`
		WaitForAsync     bool     `yaml:"wait_for_async_insert"`
		DialTimeout      Duration `yaml:"dial_timeout"`
		ReadTimeout      Duration `yaml:"read_timeout"`
		WriteTimeout     Duration `yaml:"write_timeout"`
		MaxExecutionTime Duration `yaml:"max_execution_time"`
	} `yaml:"clickhouse"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		Workers  int    `yaml:"workers"`
	} `yaml:"redis"`
	Market struct {
		ServiceURL string   `yaml:"service_url"`
		Timeout    Duration `yaml:"timeout"`
		CacheTTL   Duration `yaml:"cache_ttl"`
		// Static fallback used when the service is unreachable.
		Fallback struct {
			WholesalePrice   float64 `yaml:"wholesale_price"`
			TransmissionCost float64 `yaml:"transmission_cost"`
			DistributionCost float64 `yaml:"distribution_cost"`
		} `yaml:"fallback"`
	} `yaml:"market"`
	Forecast struct {
		WindowHours       int      `yaml:"window_hours"`  // L
		HorizonHours      int      `yaml:"horizon_hours"` // H
		GapToleranceHours int      `yaml:"gap_tolerance_hours"`
		DemandModel       string   `yaml:"demand_model"` // "neural"
		CycleBudget       Duration `yaml:"cycle_budget"`
		Training          struct {
			CorpusWeeks   int     `yaml:"corpus_weeks"`
			HiddenLayers  []int   `yaml:"hidden_layers"`
			LearningRate  float64 `yaml:"learning_rate"`
			BatchSize     int     `yaml:"batch_size"`
			Epochs        int     `yaml:"epochs"`
			Patience      int     `yaml:"patience"`
			Seed          uint64  `yaml:"seed"`
			ValidationPct float64 `yaml:"validation_pct"`
		} `yaml:"training"`
		BoundsZ float64 `yaml:"bounds_z"` // interval half-width in residual sigmas
	} `yaml:"forecast"`
	Pricing struct {
		BasePrice         float64 `yaml:"base_price"`
		MinPrice          float64 `yaml:"min_price"`
		MaxPrice          float64 `yaml:"max_price"`
		PeakStartHour     int     `yaml:"peak_start_hour"`
		PeakEndHour       int     `yaml:"peak_end_hour"`
		OffPeakStart      int     `yaml:"off_peak_start_hour"`
		OffPeakEnd        int     `yaml:"off_peak_end_hour"`
		PeakMultiplier    float64 `yaml:"peak_multiplier"`
		OffPeakMultiplier float64 `yaml:"off_peak_multiplier"`
		Weights           struct {
			Revenue   float64 `yaml:"revenue"`
			Stability float64 `yaml:"stability"`
			Market    float64 `yaml:"market"`
		} `yaml:"weights"`
		MaxIterations int      `yaml:"max_iterations"`
		Tolerance     float64  `yaml:"tolerance"`
		CycleBudget   Duration `yaml:"cycle_budget"`
	} `yaml:"pricing"`
	Scheduler struct {
		ForecastEvery   Duration `yaml:"forecast_every"`
		PricingEvery    Duration `yaml:"pricing_every"`
		AccuracyEvery   Duration `yaml:"accuracy_every"`
		GridHealthEvery Duration `yaml:"grid_health_every"`
		MAPEThreshold   float64  `yaml:"mape_threshold"`
		BreachWindows   int      `yaml:"breach_windows"` // consecutive breaches before retrain
		PromotionMargin float64  `yaml:"promotion_margin"`
		MinSamples      int      `yaml:"min_samples"` // pairs needed before evaluating
	} `yaml:"scheduler"`
	Grid struct {
		CapacityKW float64 `yaml:"capacity_kw"` // interconnection limit for load scoring
	} `yaml:"grid"`
	Entities []EntityConfig `yaml:"entities"`
}

// EntityConfig is one catalog entry for a meter, source, or weather station.
type EntityConfig struct {
	ID      string  `yaml:"id"`
	Type    string  `yaml:"type"` // meter, solar, wind, weather
	RatedKW float64 `yaml:"rated_kw"`
	Solar   *struct {
		TiltDeg    float64 `yaml:"tilt_deg"`
		AzimuthDeg float64 `yaml:"azimuth_deg"`
		Efficiency float64 `yaml:"efficiency"`
		AreaM2     float64 `yaml:"area_m2"`
	} `yaml:"solar,omitempty"`
	Wind *struct {
		CutInMS        float64 `yaml:"cut_in_ms"`
		CutOutMS       float64 `yaml:"cut_out_ms"`
		RatedMS        float64 `yaml:"rated_ms"`
		RotorDiameterM float64 `yaml:"rotor_diameter_m"`
		HubHeightM     float64 `yaml:"hub_height_m"`
	} `yaml:"wind,omitempty"`
	WeatherRef string `yaml:"weather_ref"` // weather station feeding this entity
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	c.applyDefaults()

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("GATEWAY_API_KEY"); v != "" {
		c.Gateway.APIKey = v
	}
	if v := os.Getenv("SERVER_PORT"); v != "" {
		c.Server.Port = util.ParseIntDefault(v, c.Server.Port)
	}
	if v := os.Getenv("INGEST_SOURCE"); v != "" {
		c.Ingest.Source = v
	}
	if v := os.Getenv("INGEST_BACKEND"); v != "" {
		c.Ingest.Backend = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("CLICKHOUSE_HOST"); v != "" {
		c.ClickHouse.Host = v
	}
	if v := os.Getenv("MARKET_SERVICE_URL"); v != "" {
		c.Market.ServiceURL = v
	}

	return c, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = Duration(10 * time.Second)
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = Duration(10 * time.Second)
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = Duration(15 * time.Second)
	}
	if c.Gateway.ReconnectDelay == 0 {
		c.Gateway.ReconnectDelay = Duration(5 * time.Second)
	}
	if c.Gateway.PingInterval == 0 {
		c.Gateway.PingInterval = Duration(30 * time.Second)
	}
	if len(c.Kafka.Brokers) == 0 {
		c.Kafka.Brokers = []string{"localhost:9092"}
	}
	if c.Kafka.TelemetryTopic == "" {
		c.Kafka.TelemetryTopic = "gridcast.telemetry.raw"
	}
	if c.Kafka.ForecastTopic == "" {
		c.Kafka.ForecastTopic = "gridcast.forecasts"
	}
	if c.Kafka.PriceTopic == "" {
		c.Kafka.PriceTopic = "gridcast.prices"
	}
	if c.Kafka.Consumer.GroupID == "" {
		c.Kafka.Consumer.GroupID = "gridcast-ingest"
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.Redis.Workers == 0 {
		c.Redis.Workers = 2
	}
	if c.Forecast.WindowHours == 0 {
		c.Forecast.WindowHours = 168
	}
	if c.Forecast.HorizonHours == 0 {
		c.Forecast.HorizonHours = 24
	}
	if c.Forecast.GapToleranceHours == 0 {
		c.Forecast.GapToleranceHours = 3
	}
	if c.Forecast.BoundsZ == 0 {
		c.Forecast.BoundsZ = 1.64 // ~90% interval
	}
	if c.Forecast.CycleBudget == 0 {
		c.Forecast.CycleBudget = Duration(2 * time.Minute)
	}
	if c.Pricing.BasePrice == 0 {
		c.Pricing.BasePrice = 0.12
	}
	if c.Pricing.MinPrice == 0 {
		c.Pricing.MinPrice = c.Pricing.BasePrice * 0.5
	}
	if c.Pricing.MaxPrice == 0 {
		c.Pricing.MaxPrice = c.Pricing.BasePrice * 2.0
	}
	if c.Pricing.PeakStartHour == 0 {
		c.Pricing.PeakStartHour = 17
	}
	if c.Pricing.PeakEndHour == 0 {
		c.Pricing.PeakEndHour = 21
	}
	if c.Pricing.OffPeakStart == 0 {
		c.Pricing.OffPeakStart = 22
	}
	if c.Pricing.OffPeakEnd == 0 {
		c.Pricing.OffPeakEnd = 6
	}
	if c.Pricing.PeakMultiplier == 0 {
		c.Pricing.PeakMultiplier = 1.5
	}
	if c.Pricing.OffPeakMultiplier == 0 {
		c.Pricing.OffPeakMultiplier = 0.8
	}
	if c.Pricing.Weights.Revenue == 0 && c.Pricing.Weights.Stability == 0 && c.Pricing.Weights.Market == 0 {
		c.Pricing.Weights.Revenue = 0.5
		c.Pricing.Weights.Stability = 0.3
		c.Pricing.Weights.Market = 0.2
	}
	if c.Pricing.MaxIterations == 0 {
		c.Pricing.MaxIterations = 64
	}
	if c.Pricing.Tolerance == 0 {
		c.Pricing.Tolerance = 1e-6
	}
	if c.Pricing.CycleBudget == 0 {
		c.Pricing.CycleBudget = Duration(30 * time.Second)
	}
	if c.Scheduler.ForecastEvery == 0 {
		c.Scheduler.ForecastEvery = Duration(time.Hour)
	}
	if c.Scheduler.PricingEvery == 0 {
		c.Scheduler.PricingEvery = Duration(15 * time.Minute)
	}
	if c.Scheduler.AccuracyEvery == 0 {
		c.Scheduler.AccuracyEvery = Duration(24 * time.Hour)
	}
	if c.Scheduler.GridHealthEvery == 0 {
		c.Scheduler.GridHealthEvery = Duration(5 * time.Minute)
	}
	if c.Scheduler.MAPEThreshold == 0 {
		c.Scheduler.MAPEThreshold = 0.15
	}
	if c.Scheduler.BreachWindows == 0 {
		c.Scheduler.BreachWindows = 3
	}
	if c.Scheduler.PromotionMargin == 0 {
		c.Scheduler.PromotionMargin = 0.05
	}
	if c.Scheduler.MinSamples == 0 {
		c.Scheduler.MinSamples = 24
	}
	if c.Grid.CapacityKW == 0 {
		c.Grid.CapacityKW = 2000
	}
	if c.Forecast.Training.CorpusWeeks == 0 {
		c.Forecast.Training.CorpusWeeks = 6
	}
	if len(c.Forecast.Training.HiddenLayers) == 0 {
		c.Forecast.Training.HiddenLayers = []int{32, 16}
	}
	if c.Forecast.Training.LearningRate == 0 {
		c.Forecast.Training.LearningRate = 0.001
	}
	if c.Forecast.Training.BatchSize == 0 {
		c.Forecast.Training.BatchSize = 64
	}
	if c.Forecast.Training.Epochs == 0 {
		c.Forecast.Training.Epochs = 200
	}
	if c.Forecast.Training.Patience == 0 {
		c.Forecast.Training.Patience = 10
	}
	if c.Forecast.Training.Seed == 0 {
		c.Forecast.Training.Seed = 42
	}
	if c.Forecast.Training.ValidationPct == 0 {
		c.Forecast.Training.ValidationPct = 0.2
	}
	if c.Forecast.DemandModel == "" {
		c.Forecast.DemandModel = "neural"
	}
	if c.Market.CacheTTL == 0 {
		c.Market.CacheTTL = Duration(5 * time.Minute)
	}
	if c.Market.Timeout == 0 {
		c.Market.Timeout = Duration(5 * time.Second)
	}
	if c.Ingest.Backend == "" {
		c.Ingest.Backend = "clickhouse"
	}
	if c.Ingest.BatchSize == 0 {
		c.Ingest.BatchSize = 200
	}
	if c.Ingest.BatchTimeout == 0 {
		c.Ingest.BatchTimeout = Duration(2 * time.Second)
	}
	if c.Ingest.MaxRPS == 0 {
		c.Ingest.MaxRPS = 20
	}
	if c.Ingest.BufferSize == 0 {
		c.Ingest.BufferSize = 1000
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Environment == "" {
		return fmt.Errorf("environment is required")
	}
	if c.Ingest.Source == "" {
		return fmt.Errorf("ingest.source is required")
	}
	if c.Ingest.Source != "stream" && c.Ingest.Source != "kafka" {
		return fmt.Errorf("ingest.source must be 'stream' or 'kafka', got '%s'", c.Ingest.Source)
	}
	if c.Ingest.Backend != "clickhouse" && c.Ingest.Backend != "kafka" {
		return fmt.Errorf("ingest.backend must be 'clickhouse' or 'kafka', got '%s'", c.Ingest.Backend)
	}
	if c.Ingest.Source == "kafka" && c.Ingest.Backend == "kafka" {
		return fmt.Errorf("ingest.backend 'kafka' would republish to the consumed topic; use 'clickhouse'")
	}
	if c.Ingest.Source == "stream" && c.Gateway.WebSocketURL == "" {
		return fmt.Errorf("gateway.websocket_url is required for stream ingest")
	}
	if len(c.Entities) == 0 {
		return fmt.Errorf("entities cannot be empty")
	}
	for i, e := range c.Entities {
		if e.ID == "" {
			return fmt.Errorf("entities[%d].id is required", i)
		}
		switch e.Type {
		case "meter", "weather":
		case "solar":
			if e.RatedKW <= 0 {
				return fmt.Errorf("entities[%d]: solar rated_kw must be positive", i)
			}
		case "wind":
			if e.RatedKW <= 0 {
				return fmt.Errorf("entities[%d]: wind rated_kw must be positive", i)
			}
		default:
			return fmt.Errorf("entities[%d].type must be meter, solar, wind, or weather, got '%s'", i, e.Type)
		}
	}
	if c.Pricing.MinPrice >= c.Pricing.MaxPrice {
		return fmt.Errorf("pricing.min_price must be below pricing.max_price")
	}
	if c.Pricing.BasePrice < c.Pricing.MinPrice || c.Pricing.BasePrice > c.Pricing.MaxPrice {
		return fmt.Errorf("pricing.base_price must lie within [min_price, max_price]")
	}
	return nil
}
