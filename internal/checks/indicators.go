package checks

import (
	"fmt"
	"regexp"
	"strings"

	"tnxgate/internal/domain"
)

var separators = regexp.MustCompile(`[\s_\-]+`)

// indicatorPattern matches name as a whole word, ignoring case and treating
// spaces, underscores and hyphens between its parts as optional.
func indicatorPattern(name string) (*regexp.Regexp, bool) {
	parts := separators.Split(strings.TrimSpace(name), -1)
	quoted := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			quoted = append(quoted, regexp.QuoteMeta(p))
		}
	}
	if len(quoted) == 0 {
		return nil, false
	}
	expr := `(?i)(?:^|[^a-z0-9])` + strings.Join(quoted, `[\s_\-]*`) + `(?:$|[^a-z0-9])`
	return regexp.MustCompile(expr), true
}

// IndicatorFidelity checks that every requested indicator appears in code.
func IndicatorFidelity(requested []string, code string) domain.CheckResult {
	var missing []string
	for _, name := range requested {
		re, ok := indicatorPattern(name)
		if !ok || !re.MatchString(code) {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		return domain.CheckResult{
			Status: domain.CheckPass,
			Detail: fmt.Sprintf("all %d requested indicators present", len(requested)),
		}
	}
	return domain.CheckResult{
		Status:            domain.CheckFail,
		Detail:            fmt.Sprintf("missing %d of %d indicators: %s", len(missing), len(requested), strings.Join(missing, ", ")),
		MissingIndicators: missing,
	}
}
