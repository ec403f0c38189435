package cron

import (
	"regexp"
	"strings"

	"github.com/robfig/cron/v3"

	"github.com/saiset-co/sai-zap/types"
)

var cronDirective = regexp.MustCompile(`(?m)^//\s*@cron\s+(.+)`)

var standardParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseCron returns the expression of the first `// @cron <expr>` line in
// the source.
func ParseCron(source string) (string, bool) {
	match := cronDirective.FindStringSubmatch(source)
	if match == nil {
		return "", false
	}

	expr := strings.TrimSpace(match[1])
	if expr == "" {
		return "", false
	}

	return expr, true
}

// Validate reports whether expr is a schedule the local scheduler accepts.
func Validate(expr string) error {
	if _, err := standardParser.Parse(expr); err != nil {
		return types.Errorf(types.ErrCronExpressionInvalid, "%s: %v", expr, err)
	}
	return nil
}

// ToEventBridge converts a five-field expression to the six-field
// cron(...) form, where exactly one of the day fields must be `?`.
func ToEventBridge(expr string) (string, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return "", types.Errorf(types.ErrCronExpressionInvalid, "expected 5 fields, got %d in %q", len(fields), expr)
	}

	minute, hour, dom, month, dow := fields[0], fields[1], fields[2], fields[3], fields[4]

	if dow != "*" {
		dom = "?"
	} else {
		dow = "?"
	}

	return "cron(" + strings.Join([]string{minute, hour, dom, month, dow, "*"}, " ") + ")", nil
}

func RuleName(name string) string {
	return "zap-cron-" + strings.ReplaceAll(name, "/", "-")
}
