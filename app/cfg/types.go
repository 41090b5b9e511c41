package cfg

// Cfg is the resolved configuration for a single run. It is assembled once
// at startup and passed explicitly to every component; nothing mutates it
// after Load returns.
type Cfg struct {
	// Discord webhook configuration
	WebhookURL string
	Username   string
	AvatarURL  string

	// Feed selection
	FeedURL      string
	TopicMode    bool
	TopicKeyword string
	TopicParams  string

	// Pipeline behavior
	Initialize     bool
	AdvancedFilter string
	DateFilter     string
	OriginLink     bool

	// Store configuration
	DBPath string

	// Application metadata
	UserAgent    string
	FetchTimeout int // seconds
	Debug        bool
	Version      string
}
