package core

import (
	"encoding/json"
	"fmt"
	"regexp"
)

var pluginIDPattern = regexp.MustCompile(`^[a-z][a-z0-9_]+$`)

// ValidatePlugins enforces the plugin contract at startup: ids are unique
// and well formed, and every dashboard is valid JSON.
func ValidatePlugins(plugins []Plugin) error {
	seen := make(map[string]bool)
	for _, plugin := range plugins {
		id := plugin.ID()
		if !pluginIDPattern.MatchString(id) {
			return fmt.Errorf("plugin id %q does not match %s", id, pluginIDPattern.String())
		}
		if manifest := plugin.Manifest(); manifest.PluginID != id {
			return fmt.Errorf("plugin id mismatch: id=%q manifest=%q", id, manifest.PluginID)
		}
		if seen[id] {
			return fmt.Errorf("duplicate plugin id: %s", id)
		}
		seen[id] = true

		for _, dash := range plugin.Dashboards() {
			if !json.Valid(dash.JSON) {
				return fmt.Errorf("plugin %s: dashboard %q is not valid JSON", id, dash.Name)
			}
		}
	}
	return nil
}
