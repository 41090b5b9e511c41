package cfg

import (
	"cmp"
	"fmt"

	"github.com/jessevdk/go-flags"
)

// Version is set at build time via -ldflags
var Version = "dev"

func GetVersion() string {
	return cmp.Or(Version, "unknown")
}

type rawCfg struct {
	// Discord webhook configuration
	WebhookURL string `long:"webhook-url" env:"DISCORD_WEBHOOK_URL" description:"Discord incoming webhook URL (required)" required:"true"`
	Username   string `long:"username" env:"DISCORD_USERNAME" description:"Display name for webhook posts (optional)"`
	AvatarURL  string `long:"avatar-url" env:"DISCORD_AVATAR_URL" description:"Avatar URL for webhook posts (optional)"`

	// Feed selection
	FeedURL      string `long:"rss-url" env:"RSS_URL" description:"Google News RSS feed URL (used when topic mode is off)"`
	TopicMode    bool   `long:"topic-mode" env:"TOPIC_MODE" description:"Build the feed URL from a topic keyword instead of RSS_URL"`
	TopicKeyword string `long:"topic-keyword" env:"TOPIC_KEYWORD" description:"Topic keyword for topic mode (e.g. headlines, technology)"`
	TopicParams  string `long:"topic-params" env:"TOPIC_PARAMS" default:"?hl=en-US&gl=US&ceid=US:en" description:"Locale query parameters appended to the topic feed URL"`

	// Pipeline behavior
	Initialize     bool   `long:"initialize" env:"INITIALIZE_MODE" description:"Discard all prior dedupe history before processing"`
	AdvancedFilter string `long:"advanced-filter" env:"ADVANCED_FILTER" description:"Keyword filter expression applied to title and source"`
	DateFilter     string `long:"date-filter" env:"DATE_FILTER" description:"Date filter (since:YYYY-MM-DD until:YYYY-MM-DD past:Nh|d|m|y)"`
	NoOriginLink   bool   `long:"no-origin-link" env:"NO_ORIGIN_LINK" description:"Post aggregator links instead of resolving publisher links"`

	// Store configuration
	DBPath string `long:"db-path" env:"DB_PATH" default:"./google_news.db" description:"Path to the SQLite dedupe store"`

	// Application metadata
	UserAgent    string `long:"user-agent" env:"USER_AGENT" default:"newshook/1.0" description:"User agent string for HTTP requests"`
	FetchTimeout int    `long:"fetch-timeout" env:"FETCH_TIMEOUT" default:"30" description:"Feed fetch timeout in seconds"`
	Debug        bool   `long:"debug" env:"DEBUG" description:"Enable debug logging"`
}

// Load parses configuration from command-line flags and environment
// variables. It returns (nil, nil) when help output was requested.
func Load() (*Cfg, error) {
	var raw rawCfg

	parser := flags.NewParser(&raw, flags.Default)

	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				return nil, nil
			}
		}
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	cfg := &Cfg{
		WebhookURL:     raw.WebhookURL,
		Username:       raw.Username,
		AvatarURL:      raw.AvatarURL,
		FeedURL:        raw.FeedURL,
		TopicMode:      raw.TopicMode,
		TopicKeyword:   raw.TopicKeyword,
		TopicParams:    raw.TopicParams,
		Initialize:     raw.Initialize,
		AdvancedFilter: raw.AdvancedFilter,
		DateFilter:     raw.DateFilter,
		OriginLink:     !raw.NoOriginLink,
		DBPath:         raw.DBPath,
		UserAgent:      raw.UserAgent,
		FetchTimeout:   raw.FetchTimeout,
		Debug:          raw.Debug,
		Version:        GetVersion(),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Cfg) validate() error {
	if c.TopicMode {
		if c.TopicKeyword == "" {
			return fmt.Errorf("TOPIC_KEYWORD is required when TOPIC_MODE is enabled")
		}
		return nil
	}
	if c.FeedURL == "" {
		return fmt.Errorf("RSS_URL is required when TOPIC_MODE is disabled")
	}
	return nil
}
