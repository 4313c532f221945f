// Package marker keeps the printer config include marker in line with the enable
// flag of the auxiliary maintenance config.
package marker

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/ini.v1"

	"yumimaint/internal/config"
)

type Result string

const (
	Added         Result = "added"
	Removed       Result = "removed"
	Unchanged     Result = "unchanged"
	AnchorMissing Result = "anchor_missing"
)

// Enabled reads the flag from the auxiliary config (Klipper cfg syntax: "=" or
// ":" separators, indented multi-line values, any section). A missing file or
// flag means disabled.
func Enabled(path, flag string) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	f, err := ini.LoadSources(ini.LoadOptions{
		AllowPythonMultilineValues: true,
		SkipUnrecognizableLines:    true,
		AllowBooleanKeys:           true,
	}, data)
	if err != nil {
		return false, fmt.Errorf("parse %s: %w", path, err)
	}
	for _, section := range f.Sections() {
		for _, key := range section.Keys() {
			if strings.EqualFold(key.Name(), flag) {
				return strings.EqualFold(strings.TrimSpace(key.String()), "true"), nil
			}
		}
	}
	return false, nil
}

// Present reports whether the printer config contains the marker.
func Present(path, marker string) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return strings.Contains(string(data), marker), nil
}

// Sync adds or removes the marker so its presence matches the flag.
func Sync(cfg config.MarkerConfig) (Result, error) {
	enabled, err := Enabled(cfg.AuxConfig, cfg.Flag)
	if err != nil {
		return "", err
	}
	present, err := Present(cfg.PrinterConfig, cfg.Marker)
	if err != nil {
		return "", err
	}
	switch {
	case enabled && !present:
		return add(cfg)
	case !enabled && present:
		return Removed, remove(cfg)
	}
	return Unchanged, nil
}

// add inserts the marker after the first line containing the anchor.
func add(cfg config.MarkerConfig) (Result, error) {
	data, err := os.ReadFile(cfg.PrinterConfig)
	if err != nil {
		if os.IsNotExist(err) {
			return AnchorMissing, nil
		}
		return "", err
	}
	lines := strings.SplitAfter(string(data), "\n")
	var out strings.Builder
	inserted := false
	for _, line := range lines {
		out.WriteString(line)
		if !inserted && strings.Contains(line, cfg.InsertAfter) {
			if !strings.HasSuffix(line, "\n") {
				out.WriteString("\n")
			}
			out.WriteString(cfg.Marker + "\n")
			inserted = true
		}
	}
	if !inserted {
		return AnchorMissing, nil
	}
	return Added, os.WriteFile(cfg.PrinterConfig, []byte(out.String()), 0o644)
}

// remove drops every line containing the marker.
func remove(cfg config.MarkerConfig) error {
	data, err := os.ReadFile(cfg.PrinterConfig)
	if err != nil {
		return err
	}
	var out strings.Builder
	for _, line := range strings.SplitAfter(string(data), "\n") {
		if strings.Contains(line, cfg.Marker) {
			continue
		}
		out.WriteString(line)
	}
	return os.WriteFile(cfg.PrinterConfig, []byte(out.String()), 0o644)
}
