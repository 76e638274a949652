package generator

import (
	"fmt"

	"github.com/cuemby/proxyworld/pkg/types"
)

// TemplateError reports an unusable group name template
type TemplateError struct {
	Field    string
	Template string
	Reason   string
}

func (e *TemplateError) Error() string {
	return fmt.Sprintf("invalid %s template %q: %s", e.Field, e.Template, e.Reason)
}

// PolicyError reports a rule collection whose effective policy cannot be
// resolved to a concrete policy name. The whole instance fails to generate.
type PolicyError struct {
	Collection string
	Policy     types.AbstractPolicy
}

func (e *PolicyError) Error() string {
	return fmt.Sprintf("rule collection %q: policy %q is not supported", e.Collection, e.Policy)
}
