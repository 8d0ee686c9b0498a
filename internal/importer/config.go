package importer

import (
	"fieldimport/internal/config"
	"fieldimport/internal/match"
	"fieldimport/internal/transform"
)

// ServiceConfigFromApp maps the application's import settings onto the
// session service's collaborator configuration.
func ServiceConfigFromApp(imp config.ImportConfig) ServiceConfig {
	return ServiceConfig{
		Match: match.Config{
			AutoThreshold:      imp.AutoThreshold,
			SuggestLow:         imp.SuggestLow,
			SuggestHigh:        imp.SuggestHigh,
			MaxSuggestions:     imp.MaxSuggestions,
			MetadataExclusions: imp.MetadataExclusions,
		},
		Policy: transform.Policy{
			IdentityFields:   imp.IdentityFields,
			FailOnIncomplete: imp.FailOnIncomplete,
		},
		Options: Options{
			BatchSize:      imp.BatchSize,
			PersistTimeout: imp.PersistTimeout,
			ErrorLimit:     imp.ErrorLimit,
		},
		PreviewRows:          imp.PreviewRows,
		ImportTimeout:        imp.Timeout,
		SessionTTL:           imp.SessionTTL,
		MaxConcurrentImports: imp.MaxConcurrent,
		ImportQueueWait:      imp.QueueWait,
	}
}
