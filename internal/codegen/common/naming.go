package common

import (
	"go/token"
	"strings"
	"unicode"
)

// ToPascalCase turns a C identifier into an exported Go name:
// "rte_eth_rx_burst" -> "RteEthRxBurst".
func ToPascalCase(s string) string {
	if s == "" {
		return ""
	}

	words := strings.FieldsFunc(s, func(r rune) bool {
		return r == '_' || r == '-' || unicode.IsSpace(r)
	})

	var result strings.Builder
	for _, word := range words {
		if len(word) > 0 {
			result.WriteString(strings.ToUpper(string(word[0])))
			if len(word) > 1 {
				result.WriteString(strings.ToLower(word[1:]))
			}
		}
	}

	return result.String()
}

func ToCamelCase(s string) string {
	pascal := ToPascalCase(s)
	if len(pascal) == 0 {
		return ""
	}
	return strings.ToLower(string(pascal[0])) + pascal[1:]
}

// GoParamName returns a Go parameter name for a C parameter name that is
// never a Go keyword.
func GoParamName(s string) string {
	name := ToCamelCase(s)
	if name == "" {
		return "arg"
	}
	if token.IsKeyword(name) {
		return name + "_"
	}
	return name
}
