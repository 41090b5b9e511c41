package feed

import (
	_ "embed"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

//go:embed topics.yml
var topicsYAML []byte

// TopicInfo is a resolved topic feed: the full RSS URL plus the localized
// label used for logging.
type TopicInfo struct {
	URL      string
	Name     string
	Language string
}

type topicEntry struct {
	Name string `yaml:"name"`
	ID   string `yaml:"id"`
}

type topicCatalog struct {
	Topics map[string]map[string]topicEntry `yaml:"topics"`
}

var (
	catalogOnce sync.Once
	catalog     topicCatalog
	catalogErr  error
)

// Label languages available in the catalog, in matcher priority order.
var labelTags = []language.Tag{
	language.English,
	language.Korean,
	language.Japanese,
	language.Chinese,
}

var labelCodes = []string{"en", "ko", "ja", "zh"}

var labelMatcher = language.NewMatcher(labelTags)

// ResolveTopic builds the Google News RSS URL for a topic keyword. The
// label language is chosen from the hl= query parameter in params.
func ResolveTopic(keyword, params string) (TopicInfo, error) {
	catalogOnce.Do(func() {
		catalogErr = yaml.Unmarshal(topicsYAML, &catalog)
	})
	if catalogErr != nil {
		return TopicInfo{}, fmt.Errorf("failed to load topic catalog: %w", catalogErr)
	}

	labels, ok := catalog.Topics[strings.ToLower(keyword)]
	if !ok {
		return TopicInfo{}, fmt.Errorf("unknown topic keyword: %s", keyword)
	}

	lang := labelLanguage(params)
	entry, ok := labels[lang]
	if !ok {
		entry, ok = labels["en"]
		if !ok {
			return TopicInfo{}, fmt.Errorf("topic %s has no usable label", keyword)
		}
		lang = "en"
	}

	return TopicInfo{
		URL:      "https://news.google.com/rss/topics/" + entry.ID + params,
		Name:     entry.Name,
		Language: lang,
	}, nil
}

// labelLanguage maps the hl= parameter (e.g. "ko", "en-US", "zh-Hant") onto
// one of the catalog's label languages, defaulting to English.
func labelLanguage(params string) string {
	values, err := url.ParseQuery(strings.TrimPrefix(params, "?"))
	if err != nil {
		return "en"
	}
	hl := values.Get("hl")
	if hl == "" {
		return "en"
	}

	tag, err := language.Parse(hl)
	if err != nil {
		return "en"
	}

	_, idx, conf := labelMatcher.Match(tag)
	if conf == language.No {
		return "en"
	}
	return labelCodes[idx]
}
