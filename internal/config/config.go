package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

var (
	ErrInvalidSendRate   = errors.New("send-rate must be between 1 and 1000")
	ErrInvalidEngineRate = errors.New("engine rate must be between 1 and 1000")
	ErrInvalidAddress    = errors.New("default DMX address out of range")
	ErrInvalidFlashValue = errors.New("channel-testing-flash-value must be within [0,1]")
	ErrUnknownDevice     = errors.New("unknown DMX device type")
	ErrInvalidObject     = errors.New("invalid object definition")
)

// Config структура конфигурации.
type Config struct {
	Logger  LogConf      `toml:"logger" yaml:"logger"`   // Logger - конфигурация регистратора.
	DMX     DMXConf      `toml:"dmx" yaml:"dmx"`         // DMX - параметры вывода DMX.
	ArtNet  ArtNetConf   `toml:"artnet" yaml:"artnet"`   // ArtNet - параметры устройства Art-Net.
	MQTT    MQTTConf     `toml:"mqtt" yaml:"mqtt"`       // MQTT - конфигурация MQTT клиента.
	Engine  EngineConf   `toml:"engine" yaml:"engine"`   // Engine - цикл расчёта значений.
	HTTP    HTTPConf     `toml:"http" yaml:"http"`       // HTTP - сервер наблюдения.
	Objects []ObjectConf `toml:"objects" yaml:"objects"` // Objects - патч объектов.
	Effects []EffectConf `toml:"effects" yaml:"effects"` // Effects - эффекты по слоям.
}

// LogConf структура конфигурации.
type LogConf struct {
	Level  string `toml:"log-level" yaml:"log-level"` // Level - уровень логирования.
	Format string `toml:"format" yaml:"format"`       // Format - text или json.
}

// DMXConf holds the send loop configuration of the DMX interface.
type DMXConf struct {
	Device                   string  `toml:"device" yaml:"device"` // artnet, mqtt, memory or none.
	SendRate                 int     `toml:"send-rate" yaml:"send-rate"`
	SendOnChangeOnly         bool    `toml:"send-on-change-only" yaml:"send-on-change-only"`
	DefaultNet               int     `toml:"default-net" yaml:"default-net"`
	DefaultSubnet            int     `toml:"default-subnet" yaml:"default-subnet"`
	DefaultUniverse          int     `toml:"default-universe" yaml:"default-universe"`
	ChannelTestingMode       bool    `toml:"channel-testing-mode" yaml:"channel-testing-mode"`
	ChannelTestingFlashValue float64 `toml:"channel-testing-flash-value" yaml:"channel-testing-flash-value"`
}

// ArtNetConf структура конфигурации.
type ArtNetConf struct {
	AddressRange string `toml:"address-range" yaml:"address-range"` // AddressRange - подсеть Art-Net.
	MaxFPS       int    `toml:"max-fps" yaml:"max-fps"`             // MaxFPS - ограничение кадров контроллера.
}

// MQTTConf структура конфигурации.
type MQTTConf struct {
	ClientID    string `toml:"clientID" yaml:"clientID"`         // ClientID - имя клиента.
	Host        string `toml:"server" yaml:"server"`             // Host - адрес MQTT сервера.
	Port        string `toml:"port" yaml:"port"`                 // Port - порт MQTT сервера.
	User        string `toml:"user" yaml:"user"`                 // User - логин для подключения к MQTT серверу.
	Password    string `toml:"password" yaml:"password"`         // Password - пароль для подключения к MQTT серверу.
	Qos         byte   `toml:"qos" yaml:"qos"`                   // Qos - качество обслуживания.
	TopicPrefix string `toml:"topic-prefix" yaml:"topic-prefix"` // TopicPrefix - корень топиков DMX.
}

// EngineConf configures the value resolution loop.
type EngineConf struct {
	Rate int    `toml:"rate" yaml:"rate"` // passes per second
	Seed uint64 `toml:"seed" yaml:"seed"` // initial seed of randomized filters
}

// HTTPConf configures the observability server. An empty Listen disables it.
type HTTPConf struct {
	Listen string `toml:"listen" yaml:"listen"`
}

// ObjectConf describes one patched object and where its values go.
type ObjectConf struct {
	ID           int                `toml:"id" yaml:"id"`
	Name         string             `toml:"name" yaml:"name"`
	Groups       []string           `toml:"groups" yaml:"groups"`
	Position     [3]float64         `toml:"position" yaml:"position"`
	Custom       map[string]float64 `toml:"custom" yaml:"custom"`
	Components   []string           `toml:"components" yaml:"components"`
	Net          *int               `toml:"net" yaml:"net"` // nil means interface default
	Subnet       *int               `toml:"subnet" yaml:"subnet"`
	Universe     *int               `toml:"universe" yaml:"universe"`
	StartChannel int                `toml:"start-channel" yaml:"start-channel"`
	ByteOrder    string             `toml:"byte-order" yaml:"byte-order"` // bit8, msb or lsb
}

// EffectConf describes one effect of a layer.
type EffectConf struct {
	Type       string      `toml:"type" yaml:"type"` // override, offset or wave
	Name       string      `toml:"name" yaml:"name"`
	Layer      string      `toml:"layer" yaml:"layer"`   // object, scene, sequence, group, global
	Object     int         `toml:"object" yaml:"object"` // owner when layer is object
	Disabled   bool        `toml:"disabled" yaml:"disabled"`
	Weight     *float64    `toml:"weight" yaml:"weight"`
	Components []string    `toml:"components" yaml:"components"`
	Parameter  string      `toml:"parameter" yaml:"parameter"`
	Value      float64     `toml:"value" yaml:"value"`
	Frequency  float64     `toml:"frequency" yaml:"frequency"`
	Amplitude  float64     `toml:"amplitude" yaml:"amplitude"`
	Phase      float64     `toml:"phase" yaml:"phase"`
	Filter     *FilterConf `toml:"filter" yaml:"filter"`
}

// FilterConf describes the filter owned by an effect.
type FilterConf struct {
	Kind              string     `toml:"kind" yaml:"kind"` // group, distance or custom
	IDMode            string     `toml:"id-mode" yaml:"id-mode"`
	Invert            bool       `toml:"invert" yaml:"invert"`
	ExcludeFromScenes bool       `toml:"exclude-from-scenes" yaml:"exclude-from-scenes"`
	Groups            []string   `toml:"groups" yaml:"groups"`
	Center            [3]float64 `toml:"center" yaml:"center"`
	Radius            float64    `toml:"radius" yaml:"radius"`
	Fade              float64    `toml:"fade" yaml:"fade"`
	Parameter         string     `toml:"parameter" yaml:"parameter"`
	Scale             *float64   `toml:"scale" yaml:"scale"`
}

// NewConfig конструктор.
func NewConfig(path string) (*Config, error) {
	cfg := Default()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return cfg, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Default returns the configuration used for keys missing from the file.
func Default() *Config {
	return &Config{
		Logger: LogConf{Level: "info", Format: "text"},
		DMX: DMXConf{
			Device:                   "artnet",
			SendRate:                 40,
			SendOnChangeOnly:         true,
			ChannelTestingFlashValue: 1,
		},
		ArtNet: ArtNetConf{AddressRange: "192.168.6.0/24", MaxFPS: 40},
		MQTT: MQTTConf{
			ClientID:    "lightengine",
			Host:        "localhost",
			Port:        "1883",
			TopicPrefix: "dmx",
		},
		Engine: EngineConf{Rate: 50, Seed: 1},
	}
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error

	if c.DMX.SendRate < 1 || c.DMX.SendRate > 1000 {
		errs = append(errs, fmt.Errorf("%w: %d", ErrInvalidSendRate, c.DMX.SendRate))
	}
	if c.Engine.Rate < 1 || c.Engine.Rate > 1000 {
		errs = append(errs, fmt.Errorf("%w: %d", ErrInvalidEngineRate, c.Engine.Rate))
	}
	if !addressInRange(c.DMX.DefaultNet, c.DMX.DefaultSubnet, c.DMX.DefaultUniverse) {
		errs = append(errs, fmt.Errorf("%w: %d.%d.%d", ErrInvalidAddress,
			c.DMX.DefaultNet, c.DMX.DefaultSubnet, c.DMX.DefaultUniverse))
	}
	if c.DMX.ChannelTestingFlashValue < 0 || c.DMX.ChannelTestingFlashValue > 1 {
		errs = append(errs, fmt.Errorf("%w: %v", ErrInvalidFlashValue, c.DMX.ChannelTestingFlashValue))
	}
	switch c.DMX.Device {
	case "artnet", "mqtt", "memory", "none", "":
	default:
		errs = append(errs, fmt.Errorf("%w: %q", ErrUnknownDevice, c.DMX.Device))
	}

	seen := make(map[int]struct{}, len(c.Objects))
	for _, o := range c.Objects {
		if _, dup := seen[o.ID]; dup {
			errs = append(errs, fmt.Errorf("%w: duplicate id %d", ErrInvalidObject, o.ID))
		}
		seen[o.ID] = struct{}{}
		if o.StartChannel < 0 || o.StartChannel > 512 {
			errs = append(errs, fmt.Errorf("%w: object %d start-channel %d", ErrInvalidObject, o.ID, o.StartChannel))
		}
	}

	return errors.Join(errs...)
}

func addressInRange(net, subnet, universe int) bool {
	return net >= 0 && net <= 127 && subnet >= 0 && subnet <= 15 && universe >= 0 && universe <= 15
}
