package util

import (
	"strings"
	"unicode"
)

// ToSnakeCase converts a crate or type name to snake_case.
// Spaces and hyphens become underscores, camel humps are split, and other
// non-alphanumeric characters are dropped:
//
//	ToSnakeCase("pallet-balances") == "pallet_balances"
//	ToSnakeCase("HelloWorld")      == "hello_world"
func ToSnakeCase(s string) string {
	var b strings.Builder
	b.Grow(len(s) + len(s)/2)
	prevDelimiter := true

	for _, c := range s {
		switch {
		case c < unicode.MaxASCII && (unicode.IsLetter(c) || unicode.IsDigit(c)):
			if unicode.IsUpper(c) {
				if !prevDelimiter && b.Len() > 0 {
					b.WriteByte('_')
				}
				b.WriteRune(unicode.ToLower(c))
			} else {
				b.WriteRune(c)
			}
			prevDelimiter = false
		case c == ' ' || c == '-' || c == '_':
			if !prevDelimiter && b.Len() > 0 {
				b.WriteByte('_')
			}
			prevDelimiter = true
		}
	}

	return strings.TrimSuffix(b.String(), "_")
}

// ToPascalCase converts a snake_case or kebab-case name to PascalCase.
func ToPascalCase(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	upperNext := true

	for _, c := range s {
		if c == '_' || c == '-' || c == ' ' {
			upperNext = true
			continue
		}
		if upperNext {
			b.WriteRune(unicode.ToUpper(c))
			upperNext = false
			continue
		}
		b.WriteRune(c)
	}

	return b.String()
}

// CrateModule returns the Rust module name a crate is imported under.
func CrateModule(crate string) string {
	return strings.ReplaceAll(crate, "-", "_")
}

// PalletAlias returns the construct_runtime alias for a crate:
// "pallet-balances" and "balances" both become "Balances".
func PalletAlias(crate string) string {
	module := ToSnakeCase(crate)
	if trimmed := strings.TrimPrefix(module, "pallet_"); trimmed != "" {
		module = trimmed
	}
	return ToPascalCase(module)
}
