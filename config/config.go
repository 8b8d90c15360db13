package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	mu sync.RWMutex `yaml:"-"`

	Database      DatabaseConfig      `yaml:"database"`
	Redis         RedisConfig         `yaml:"redis"`
	Web           WebConfig           `yaml:"web"`
	Messaging     MessagingConfig     `yaml:"messaging"`
	Partners      PartnersConfig      `yaml:"partners"`
	Simulation    SimulationConfig    `yaml:"simulation"`
	Banking       BankingConfig       `yaml:"banking"`
	Procurement   ProcurementConfig   `yaml:"procurement"`
	Manufacturing ManufacturingConfig `yaml:"manufacturing"`
	Orders        OrdersConfig        `yaml:"orders"`
	Catalog       CatalogConfig       `yaml:"catalog"`
	Logging       LoggingConfig       `yaml:"logging"`
}

type DatabaseConfig struct {
	Driver   string         `yaml:"driver"`
	SQLite   SQLiteConfig   `yaml:"sqlite"`
	Postgres PostgresConfig `yaml:"postgres"`
}

type SQLiteConfig struct {
	Path string `yaml:"path"`
}

type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslmode"`
}

type RedisConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Address     string        `yaml:"address"`
	Password    string        `yaml:"password"`
	DB          int           `yaml:"db"`
	TickLockTTL time.Duration `yaml:"tick_lock_ttl"`
}

type WebConfig struct {
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type MessagingConfig struct {
	// Transport selects the event publisher: "kafka", "mqtt" or "none".
	Transport           string        `yaml:"transport"`
	Kafka               KafkaConfig   `yaml:"kafka"`
	MQTT                MQTTConfig    `yaml:"mqtt"`
	EventsTopic         string        `yaml:"events_topic"`
	OutboxDrainInterval time.Duration `yaml:"outbox_drain_interval"`
	Source              string        `yaml:"source"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
}

type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
	QoS      byte   `yaml:"qos"`
}

type PartnersConfig struct {
	Timeout              time.Duration `yaml:"timeout"`
	TrackInterval        time.Duration `yaml:"track_interval"`
	CompanyName          string        `yaml:"company_name"`
	BankCode             string        `yaml:"bank_code"`
	BankURL              string        `yaml:"bank_url"`
	ScreensURL           string        `yaml:"screens_url"`
	CasesURL             string        `yaml:"cases_url"`
	ElectronicsURL       string        `yaml:"electronics_url"`
	BulkLogisticsURL     string        `yaml:"bulk_logistics_url"`
	ConsumerLogisticsURL string        `yaml:"consumer_logistics_url"`
	MachineVendorURL     string        `yaml:"machine_vendor_url"`
}

type SimulationConfig struct {
	StartDate string        `yaml:"start_date"`
	DayLength time.Duration `yaml:"day_length"`
	AutoTick  bool          `yaml:"auto_tick"`
}

type BankingConfig struct {
	MinimumBalance  float64 `yaml:"minimum_balance"`
	InitialLoan     float64 `yaml:"initial_loan"`
	DailyLoanAmount float64 `yaml:"daily_loan_amount"`
}

type ProcurementConfig struct {
	PartsThreshold          int           `yaml:"parts_threshold"`
	StarterMachinesPerModel int           `yaml:"starter_machines_per_model"`
	BasicMachinesPerModel   int           `yaml:"basic_machines_per_model"`
	WealthThreshold         float64       `yaml:"wealth_threshold"`
	SafetyBuffer            float64       `yaml:"safety_buffer"`
	EffectReviewAfter       time.Duration `yaml:"effect_review_after"`
	// InFlightTTL is how long, in simulated time, an undelivered purchase
	// keeps counting as on order. Zero disables the cutoff.
	InFlightTTL             time.Duration `yaml:"in_flight_ttl"`
}

type ManufacturingConfig struct {
	TargetStockLevel int `yaml:"target_stock_level"`
}

type OrdersConfig struct {
	InlinePayment  bool          `yaml:"inline_payment"`
	ReservationTTL time.Duration `yaml:"reservation_ttl"`
	PaymentEpsilon float64       `yaml:"payment_epsilon"`
}

type CatalogConfig struct {
	Phones []PhoneSpec `yaml:"phones"`
	Parts  []PartSpec  `yaml:"parts"`
}

type PhoneSpec struct {
	Name                string  `yaml:"name"`
	Price               float64 `yaml:"price"`
	MachineName         string  `yaml:"machine_name"`
	MachineCostEstimate float64 `yaml:"machine_cost_estimate"`
}

type PartSpec struct {
	Name     string `yaml:"name"`
	Supplier string `yaml:"supplier"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func Defaults() *Config {
	return &Config{
		Database: DatabaseConfig{
			Driver: "sqlite",
			SQLite: SQLiteConfig{Path: "phonesim.db"},
			Postgres: PostgresConfig{
				Host:     "localhost",
				Port:     5432,
				Database: "phonesim",
				User:     "phonesim",
				Password: "",
				SSLMode:  "disable",
			},
		},
		Redis: RedisConfig{
			Enabled:     false,
			Address:     "localhost:6379",
			TickLockTTL: 2 * time.Minute,
		},
		Web: WebConfig{
			Host:           "0.0.0.0",
			Port:           8080,
			AllowedOrigins: []string{"http://localhost:5173", "http://localhost:8080"},
		},
		Messaging: MessagingConfig{
			Transport: "none",
			Kafka: KafkaConfig{
				Brokers: []string{"localhost:9092"},
			},
			MQTT: MQTTConfig{
				Broker:   "tcp://localhost:1883",
				ClientID: "phonesim",
				QoS:      1,
			},
			EventsTopic:         "phonesim.events",
			OutboxDrainInterval: 5 * time.Second,
			Source:              "phonesim",
		},
		Partners: PartnersConfig{
			Timeout:              5 * time.Second,
			TrackInterval:        10 * time.Second,
			CompanyName:          "pear-company",
			BankCode:             "commercial-bank",
			BankURL:              "http://localhost:8081",
			ScreensURL:           "http://localhost:8082",
			CasesURL:             "http://localhost:8083",
			ElectronicsURL:       "http://localhost:8084",
			BulkLogisticsURL:     "http://localhost:8085",
			ConsumerLogisticsURL: "http://localhost:8086",
			MachineVendorURL:     "http://localhost:8087",
		},
		Simulation: SimulationConfig{
			StartDate: "2050-01-01",
			DayLength: 2 * time.Minute,
			AutoTick:  false,
		},
		Banking: BankingConfig{
			MinimumBalance:  1_000_000,
			InitialLoan:     5_000_000,
			DailyLoanAmount: 1_000_000,
		},
		Procurement: ProcurementConfig{
			PartsThreshold:          500,
			StarterMachinesPerModel: 3,
			BasicMachinesPerModel:   3,
			WealthThreshold:         1_000_000,
			SafetyBuffer:            200_000,
			EffectReviewAfter:       time.Hour,
			InFlightTTL:             7 * 24 * time.Hour,
		},
		Manufacturing: ManufacturingConfig{
			TargetStockLevel: 10_000,
		},
		Orders: OrdersConfig{
			InlinePayment:  true,
			ReservationTTL: 24 * time.Hour,
			PaymentEpsilon: 0.001,
		},
		Catalog: CatalogConfig{
			Phones: []PhoneSpec{
				{Name: "ePhone", Price: 500, MachineName: "ephone_machine", MachineCostEstimate: 50_000},
				{Name: "ePhone_plus", Price: 1000, MachineName: "ephone_plus_machine", MachineCostEstimate: 75_000},
				{Name: "ePhone_pro_max", Price: 1500, MachineName: "ephone_pro_max_machine", MachineCostEstimate: 100_000},
			},
			Parts: []PartSpec{
				{Name: "screens", Supplier: "screens"},
				{Name: "cases", Supplier: "cases"},
				{Name: "electronics", Supplier: "electronics"},
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads the YAML file at path over the defaults, then applies environment
// overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Defaults()
	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}
	cfg.ApplyEnv()
	return cfg, nil
}

// ApplyEnv loads a .env file when present and overrides deploy-time settings
// from PHONESIM_* variables.
func (c *Config) ApplyEnv() {
	if err := godotenv.Load(); err == nil {
		log.Printf("config: loaded .env")
	}

	setString(&c.Database.Driver, "PHONESIM_DB_DRIVER")
	setString(&c.Database.SQLite.Path, "PHONESIM_SQLITE_PATH")
	setString(&c.Database.Postgres.Host, "PHONESIM_PG_HOST")
	setInt(&c.Database.Postgres.Port, "PHONESIM_PG_PORT")
	setString(&c.Database.Postgres.Database, "PHONESIM_PG_DATABASE")
	setString(&c.Database.Postgres.User, "PHONESIM_PG_USER")
	setString(&c.Database.Postgres.Password, "PHONESIM_PG_PASSWORD")
	setString(&c.Redis.Address, "PHONESIM_REDIS_ADDR")
	setBool(&c.Redis.Enabled, "PHONESIM_REDIS_ENABLED")
	setInt(&c.Web.Port, "PHONESIM_WEB_PORT")
	setString(&c.Messaging.Transport, "PHONESIM_MESSAGING_TRANSPORT")
	if v := os.Getenv("PHONESIM_KAFKA_BROKERS"); v != "" {
		c.Messaging.Kafka.Brokers = strings.Split(v, ",")
	}
	setString(&c.Partners.BankURL, "PHONESIM_BANK_URL")
	setString(&c.Partners.ScreensURL, "PHONESIM_SCREENS_URL")
	setString(&c.Partners.CasesURL, "PHONESIM_CASES_URL")
	setString(&c.Partners.ElectronicsURL, "PHONESIM_ELECTRONICS_URL")
	setString(&c.Partners.BulkLogisticsURL, "PHONESIM_BULK_LOGISTICS_URL")
	setString(&c.Partners.ConsumerLogisticsURL, "PHONESIM_CONSUMER_LOGISTICS_URL")
	setString(&c.Partners.MachineVendorURL, "PHONESIM_MACHINE_VENDOR_URL")
	setBool(&c.Simulation.AutoTick, "PHONESIM_AUTO_TICK")
	setString(&c.Logging.Level, "PHONESIM_LOG_LEVEL")
	setString(&c.Logging.Format, "PHONESIM_LOG_FORMAT")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

// Phone returns the catalog entry for a phone model.
func (c *CatalogConfig) Phone(name string) (PhoneSpec, bool) {
	for _, p := range c.Phones {
		if p.Name == name {
			return p, true
		}
	}
	return PhoneSpec{}, false
}

func (c *Config) Save(path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func (c *Config) Lock()   { c.mu.Lock() }
func (c *Config) Unlock() { c.mu.Unlock() }
