package cfg

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/filmmaker-og/filmmaker-ogbot/internal/feed"
	"github.com/filmmaker-og/filmmaker-ogbot/internal/triage"
)

// TopicEnvPrefix prefixes per-bucket topic thread overrides, e.g.
// WATCHTOWER_TOPIC_TALENT=42.
const TopicEnvPrefix = "WATCHTOWER_TOPIC_"

// CatalogFile is the on-disk shape of -catalog-file. Omitted sections keep
// their built-in defaults.
type CatalogFile struct {
	Buckets []triage.Bucket `yaml:"buckets"`
	Filing  []string        `yaml:"filing"`
	Feeds   []feed.Source   `yaml:"feeds"`
}

// Catalog is the loaded bucket catalog and feed list.
type Catalog struct {
	Buckets *triage.Catalog
	Feeds   []feed.Source
}

// LoadCatalog reads path (empty = built-in defaults) and applies topic thread
// overrides found through getenv.
func LoadCatalog(path string, getenv func(string) string) (*Catalog, error) {
	file := CatalogFile{}
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open catalog: %w", err)
		}
		defer f.Close()
		file, err = DecodeCatalog(f)
		if err != nil {
			return nil, fmt.Errorf("catalog %s: %w", path, err)
		}
	}
	return BuildCatalog(file, getenv)
}

// DecodeCatalog parses a YAML catalog document. Unknown keys are rejected.
func DecodeCatalog(r io.Reader) (CatalogFile, error) {
	var file CatalogFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return CatalogFile{}, fmt.Errorf("decode: %w", err)
	}
	return file, nil
}

// BuildCatalog fills defaults into file, applies env overrides and validates.
func BuildCatalog(file CatalogFile, getenv func(string) string) (*Catalog, error) {
	if getenv == nil {
		getenv = os.Getenv
	}
	buckets := file.Buckets
	if len(buckets) == 0 {
		buckets = triage.DefaultBuckets()
	}
	filing := file.Filing
	if len(filing) == 0 {
		filing = triage.DefaultFiling()
	}
	feeds := file.Feeds
	if len(feeds) == 0 {
		feeds = feed.DefaultSources()
	}

	var errs []error
	for i := range buckets {
		env := TopicEnvPrefix + strings.ToUpper(buckets[i].Key)
		v := strings.TrimSpace(getenv(env))
		if v == "" {
			continue
		}
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id < 0 {
			errs = append(errs, fmt.Errorf("invalid %s %q (must be a non-negative thread id)", env, v))
			continue
		}
		buckets[i].ThreadID = id
	}

	seen := make(map[string]bool, len(feeds))
	for _, src := range feeds {
		if src.Name == "" || src.URL == "" {
			errs = append(errs, fmt.Errorf("feed %q: name and url are required", src.Name))
			continue
		}
		if err := checkURL(src.URL); err != nil {
			errs = append(errs, fmt.Errorf("feed %s: %w", src.Name, err))
		}
		if src.Command == "" {
			continue
		}
		if seen[src.Command] {
			errs = append(errs, fmt.Errorf("feed command %q used twice", src.Command))
		}
		seen[src.Command] = true
	}

	cat, err := triage.NewCatalog(buckets, filing)
	if err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return &Catalog{Buckets: cat, Feeds: feeds}, nil
}
