package config

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/marmos91/dvuploader/pkg/checksum"
	"github.com/marmos91/dvuploader/pkg/upload"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Validate checks struct tags and the cross-field rules tags cannot express.
func Validate(cfg *Config) error {
	if err := getValidator().Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed on '%s'", fe.Namespace(), fe.Tag()))
			}
			return errors.New(strings.Join(msgs, "; "))
		}
		return err
	}

	if _, err := checksum.ParseAlgorithm(cfg.Upload.Fixity); err != nil {
		return fmt.Errorf("upload.fixity: %w", err)
	}

	if cfg.Journal.Enabled {
		if err := cfg.Journal.Validate(); err != nil {
			return fmt.Errorf("journal: %w", err)
		}
	}

	if cfg.DigestCache.Enabled && cfg.DigestCache.Path == "" {
		return errors.New("digest_cache.path is required when the cache is enabled")
	}

	return nil
}

// Check reports the first repository setting missing for an
// upload. It runs after flags and prompts have been applied.
func (c *RepositoryConfig) Check() error {
	switch {
	case c.URL == "":
		return &upload.ConfigurationError{Field: "repository.url", Message: "is required"}
	case c.APIToken == "":
		return &upload.ConfigurationError{Field: "repository.api_token", Message: "is required"}
	case c.DatasetPID == "":
		return &upload.ConfigurationError{Field: "repository.dataset_pid", Message: "is required"}
	}
	return nil
}
