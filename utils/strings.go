package utils

import (
	"strings"

	"github.com/saiset-co/sai-zap/types"
)

// HandlerName derives the logical handler name of a request path.
func HandlerName(path string) string {
	name := strings.TrimPrefix(path, "/")
	if name == "" {
		return types.DefaultHandlerName
	}
	return name
}
