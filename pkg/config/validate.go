package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/marmos91/nfsstream/pkg/nfs"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks struct tags and the NFS URL, reporting every violation.
func Validate(cfg *Config) error {
	var problems []string

	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return err
		}
		for _, fe := range verrs {
			problems = append(problems, describe(fe))
		}
	}

	if cfg.NFS.URL != "" {
		if _, err := nfs.ParseURL(cfg.NFS.URL); err != nil {
			problems = append(problems, fmt.Sprintf("nfs.url: %v", err))
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%s", strings.Join(problems, "; "))
	}
	return nil
}

// describe renders a field error using the YAML key path, e.g.
// "stream.max_transfer: failed lte=1048576 (got 2MiB)".
func describe(fe validator.FieldError) string {
	// Namespace is "Config.Stream.MaxTransfer"; drop the root type.
	_, ns, _ := strings.Cut(fe.Namespace(), ".")
	tag := fe.Tag()
	if fe.Param() != "" {
		tag += "=" + fe.Param()
	}
	return fmt.Sprintf("%s: failed %s (got %v)", yamlPath(ns), tag, fe.Value())
}

// yamlPath maps Go field names to their snake_case keys.
func yamlPath(ns string) string {
	parts := strings.Split(ns, ".")
	for i, p := range parts {
		parts[i] = snake(p)
	}
	return strings.Join(parts, ".")
}

func snake(s string) string {
	var b strings.Builder
	for i, r := range s {
		upper := r >= 'A' && r <= 'Z'
		if upper && i > 0 {
			prev := rune(s[i-1])
			nextLower := i+1 < len(s) && s[i+1] >= 'a' && s[i+1] <= 'z'
			if prev >= 'a' && prev <= 'z' || nextLower {
				b.WriteByte('_')
			}
		}
		if upper {
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}
