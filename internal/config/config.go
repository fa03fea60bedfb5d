package config

import (
	"fmt"
	"os"
	"time"

	"go.yaml.in/yaml/v4"
)

// Config is the top-level application configuration.
type Config struct {
	LogLevel         string            `yaml:"log_level"`
	IMAP             IMAP              `yaml:"imap"`
	Discord          Discord           `yaml:"discord"`
	Webhook          Webhook           `yaml:"webhook"`
	Filter           Filter            `yaml:"filter"`
	FilteredAccounts []FilteredAccount `yaml:"filtered_accounts"`
}

// IMAP holds the monitored IMAP account configuration. The inbox is
// watched for server push events; the sent mailbox is polled.
type IMAP struct {
	Host             string `yaml:"host"`
	Port             int    `yaml:"port"`
	Username         string `yaml:"username"`
	Password         string `yaml:"password"`
	UseTLS           bool   `yaml:"use_tls"`
	Inbox            string `yaml:"inbox"`
	SentMailbox      string `yaml:"sent_mailbox"`
	KeepaliveSeconds int    `yaml:"keepalive_seconds"`
}

// GetInbox returns the inbox mailbox name, defaulting to "INBOX".
func (i *IMAP) GetInbox() string {
	if i.Inbox == "" {
		return "INBOX"
	}
	return i.Inbox
}

// GetSentMailbox returns the sent mailbox name, defaulting to Gmail's.
func (i *IMAP) GetSentMailbox() string {
	if i.SentMailbox == "" {
		return "[Gmail]/Sent Mail"
	}
	return i.SentMailbox
}

// KeepaliveInterval returns the session keepalive period as a time.Duration.
func (i *IMAP) KeepaliveInterval() time.Duration {
	if i.KeepaliveSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(i.KeepaliveSeconds) * time.Second
}

// Discord holds the bot token and destination channels.
type Discord struct {
	Token          string `yaml:"token"`
	ChannelID      string `yaml:"channel_id"`
	OrderChannelID string `yaml:"order_channel_id"`
}

// Webhook holds the order webhook listener configuration.
type Webhook struct {
	Port int `yaml:"port"`
}

// Addr returns the webhook listen address, defaulting to port 3000.
func (w *Webhook) Addr() string {
	port := w.Port
	if port == 0 {
		port = 3000
	}
	return fmt.Sprintf(":%d", port)
}

// Filter overrides the built-in promotional keyword/domain lists.
// Empty lists keep the defaults.
type Filter struct {
	Keywords []string `yaml:"keywords"`
	Domains  []string `yaml:"domains"`
}

// FilteredAccount describes one POP3 account polled with the
// promotional qualification filter applied.
type FilteredAccount struct {
	Name                 string `yaml:"name"`
	Host                 string `yaml:"host"`
	Port                 int    `yaml:"port"`
	Username             string `yaml:"username"`
	Password             string `yaml:"password"`
	UseTLS               bool   `yaml:"use_tls"`
	CheckIntervalSeconds int    `yaml:"check_interval_seconds"`
	ProcessDays          int    `yaml:"process_days"`
	ChannelID            string `yaml:"channel_id"`
}

// CheckInterval returns the poll interval as a time.Duration.
func (a *FilteredAccount) CheckInterval() time.Duration {
	if a.CheckIntervalSeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(a.CheckIntervalSeconds) * time.Second
}

// GetProcessDays returns the number of days to look back, defaulting to 7.
func (a *FilteredAccount) GetProcessDays() int {
	if a.ProcessDays <= 0 {
		return 7
	}
	return a.ProcessDays
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{
		LogLevel: "info",
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.IMAP.Host == "" {
		return fmt.Errorf("imap.host is required")
	}
	if c.IMAP.Port == 0 {
		return fmt.Errorf("imap.port is required")
	}
	if c.IMAP.Username == "" {
		return fmt.Errorf("imap.username is required")
	}
	if c.IMAP.Password == "" {
		return fmt.Errorf("imap.password is required")
	}
	if c.Discord.Token == "" {
		return fmt.Errorf("discord.token is required")
	}
	if c.Discord.ChannelID == "" {
		return fmt.Errorf("discord.channel_id is required")
	}
	for i, a := range c.FilteredAccounts {
		label := a.Name
		if label == "" {
			label = fmt.Sprintf("#%d", i)
		}
		if a.Host == "" {
			return fmt.Errorf("filtered account %s: host is required", label)
		}
		if a.Port == 0 {
			return fmt.Errorf("filtered account %s: port is required", label)
		}
		if a.Username == "" {
			return fmt.Errorf("filtered account %s: username is required", label)
		}
	}
	return nil
}
