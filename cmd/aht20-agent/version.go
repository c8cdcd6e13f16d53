package main

import (
	_ "embed"
	"strings"
)

//go:embed VERSION
var _version string

// version is the release version, or DEV for untagged builds.
var version = func() string {
	if v := strings.TrimSpace(_version); v != "" {
		return v
	}
	return "DEV"
}()
