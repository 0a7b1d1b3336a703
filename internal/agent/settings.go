package agent

import (
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	vesselerrors "github.com/vesselgpt/vessel/internal/errors"
	"github.com/vesselgpt/vessel/internal/extraction"
)

// Page types with dedicated handling.
const (
	PageTypeAdjudicationTable   = "adjudication_table"
	PageTypeAdjudicationDetails = "adjudication_details"
)

// Settings selects which pages are processed and how.
//
//	page_types: [adjudication_table, adjudication_details]
//	adjudication_table:
//	  query: '[{"code": "str", "amount": "float"}]'
//	  options: [tables_only]
type Settings struct {
	PageTypes         []string        `yaml:"page_types"`
	AdjudicationTable ExtractSettings `yaml:"adjudication_table"`
}

// ExtractSettings is the extraction request used for one page type.
type ExtractSettings struct {
	Query   string   `yaml:"query"`
	Options []string `yaml:"options"`
}

// LoadSettings reads Settings from a YAML file.
func LoadSettings(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, vesselerrors.Wrap(vesselerrors.ErrorTypeConfiguration, "cannot read agent settings", err).WithFile(path)
	}
	return ParseSettings(data)
}

// ParseSettings decodes and validates YAML settings.
func ParseSettings(data []byte) (*Settings, error) {
	var s Settings
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, vesselerrors.Wrap(vesselerrors.ErrorTypeConfiguration, "invalid agent settings", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks that the settings can drive an agent run.
func (s *Settings) Validate() error {
	if len(s.PageTypes) == 0 {
		return vesselerrors.Configuration("agent settings list no page types")
	}
	if s.wants(PageTypeAdjudicationTable) && strings.TrimSpace(s.AdjudicationTable.Query) == "" {
		return vesselerrors.Configuration("%s pages require a query", PageTypeAdjudicationTable)
	}
	if _, err := parseOptions(s.AdjudicationTable.Options); err != nil {
		return err
	}
	return nil
}

func (s *Settings) wants(pageType string) bool {
	for _, t := range s.PageTypes {
		if t == pageType {
			return true
		}
	}
	return false
}

// parseOptions maps option names to extraction options.
func parseOptions(names []string) (extraction.Options, error) {
	var opts extraction.Options
	for _, name := range names {
		switch strings.TrimSpace(name) {
		case "tables_only":
			opts.TablesOnly = true
		case "generic_query":
			opts.GenericQuery = true
		case "debug":
			opts.Debug = true
		case "":
		default:
			return opts, vesselerrors.Configuration("unknown extraction option %q", name)
		}
	}
	return opts, nil
}
