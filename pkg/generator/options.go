package generator

import (
	"fmt"
)

// Default name templates
const (
	DefaultRuleGroupFormat     = "[RULE] %s"
	DefaultURLTestGroupFormat  = "[BEST] %s"
	DefaultFallbackGroupFormat = "[FALLBACK] %s"
	DefaultSelectGroupFormat   = "%s"
)

// Health-check defaults for url-test and fallback groups
const (
	DefaultCheckURL      = "http://www.google.com/generate_204"
	DefaultCheckInterval = 300
	minCheckInterval     = 30
)

// Options holds the name templates used for synthesized groups. Each template
// contains exactly one %s, replaced by the source label.
type Options struct {
	RuleGroupFormat     string
	URLTestGroupFormat  string
	FallbackGroupFormat string
	SelectGroupFormat   string
}

// DefaultOptions returns the built-in templates
func DefaultOptions() Options {
	return Options{
		RuleGroupFormat:     DefaultRuleGroupFormat,
		URLTestGroupFormat:  DefaultURLTestGroupFormat,
		FallbackGroupFormat: DefaultFallbackGroupFormat,
		SelectGroupFormat:   DefaultSelectGroupFormat,
	}
}

// NewOptions validates the templates. Empty templates fall back to the defaults.
func NewOptions(ruleGroup, urlTestGroup, fallbackGroup, selectGroup string) (Options, error) {
	opts := DefaultOptions()
	fields := []struct {
		name  string
		value string
		dst   *string
	}{
		{"rule-group-name", ruleGroup, &opts.RuleGroupFormat},
		{"url-test-group-name", urlTestGroup, &opts.URLTestGroupFormat},
		{"fallback-group-name", fallbackGroup, &opts.FallbackGroupFormat},
		{"select-group-name", selectGroup, &opts.SelectGroupFormat},
	}
	for _, f := range fields {
		if f.value == "" {
			continue
		}
		if err := checkTemplate(f.value); err != nil {
			return Options{}, &TemplateError{Field: f.name, Template: f.value, Reason: err.Error()}
		}
		*f.dst = f.value
	}
	return opts, nil
}

// checkTemplate requires exactly one %s and no other verbs; %% is allowed
func checkTemplate(tmpl string) error {
	placeholders := 0
	for i := 0; i < len(tmpl); i++ {
		if tmpl[i] != '%' {
			continue
		}
		if i+1 >= len(tmpl) {
			return fmt.Errorf("trailing %%")
		}
		switch tmpl[i+1] {
		case '%':
		case 's':
			placeholders++
		default:
			return fmt.Errorf("unsupported verb %%%c", tmpl[i+1])
		}
		i++
	}
	switch placeholders {
	case 0:
		return fmt.Errorf("missing %%s placeholder")
	case 1:
		return nil
	default:
		return fmt.Errorf("%d %%s placeholders, want one", placeholders)
	}
}

func format(tmpl, label string) string {
	return fmt.Sprintf(tmpl, label)
}
