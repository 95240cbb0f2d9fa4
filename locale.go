package main

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed lang/*.yaml
var bundledLocales embed.FS

const defaultLocale = "en_US"

type Locale struct {
	translations map[string]string
	locale       string
}

var globalLocale *Locale

// InitLocale initializes the global locale system
func InitLocale() error {
	locale := DetectSystemLocale()

	l, err := LoadLocale(locale)
	if err != nil {
		l, err = LoadLocale(defaultLocale)
		if err != nil {
			return fmt.Errorf("failed to load fallback locale %s: %w", defaultLocale, err)
		}
	}

	globalLocale = l
	return nil
}

// DetectSystemLocale reads LANG, LC_ALL and LC_MESSAGES in that order.
func DetectSystemLocale() string {
	for _, key := range []string{"LANG", "LC_ALL", "LC_MESSAGES"} {
		if locale := os.Getenv(key); locale != "" {
			// "en_US.UTF-8" -> "en_US"
			parts := strings.Split(locale, ".")
			if parts[0] != "" && parts[0] != "C" && parts[0] != "POSIX" {
				return parts[0]
			}
		}
	}
	return defaultLocale
}

// LoadLocale loads lang/<locale>.yaml from next to the executable, falling
// back to the translations compiled into the binary. A file next to the
// executable only needs the keys it changes.
func LoadLocale(locale string) (*Locale, error) {
	translations := map[string]string{}

	bundled, bundledErr := bundledLocales.ReadFile("lang/" + locale + ".yaml")
	if bundledErr == nil {
		if err := yaml.Unmarshal(bundled, &translations); err != nil {
			return nil, fmt.Errorf("failed to parse bundled locale %s: %w", locale, err)
		}
	}

	override, overrideErr := readLocaleOverride(locale)
	if overrideErr == nil {
		var extra map[string]string
		if err := yaml.Unmarshal(override, &extra); err != nil {
			return nil, fmt.Errorf("failed to parse locale file for %s: %w", locale, err)
		}
		for k, v := range extra {
			translations[k] = v
		}
	}

	if bundledErr != nil && overrideErr != nil {
		return nil, fmt.Errorf("no translations for locale %s: %w", locale, overrideErr)
	}

	return &Locale{
		translations: translations,
		locale:       locale,
	}, nil
}

func readLocaleOverride(locale string) ([]byte, error) {
	exePath, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("failed to get executable path: %w", err)
	}
	return os.ReadFile(filepath.Join(filepath.Dir(exePath), "lang", locale+".yaml"))
}

// T translates a key with optional fmt parameters. Unknown keys come back
// unchanged.
func T(key string, params ...interface{}) string {
	if globalLocale == nil {
		return key
	}

	translation, ok := globalLocale.translations[key]
	if !ok {
		return key
	}

	if len(params) > 0 {
		return fmt.Sprintf(translation, params...)
	}

	return translation
}

// GetLocale returns the current locale code (e.g., "en_US")
func GetLocale() string {
	if globalLocale == nil {
		return defaultLocale
	}
	return globalLocale.locale
}
