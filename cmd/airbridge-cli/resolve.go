package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/joshp123/airbridge/internal/accessory"
)

func normalizeName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.NewReplacer(" ", "_", "-", "_").Replace(name)
	for strings.Contains(name, "__") {
		name = strings.ReplaceAll(name, "__", "_")
	}
	return name
}

// resolveAccessory matches input against accessory names, uuids and device
// ids. Names are compared loosely: case, spaces and dashes are ignored.
func resolveAccessory(input string, snaps []accessory.Snapshot) (accessory.Snapshot, error) {
	needle := normalizeName(input)
	for _, snap := range snaps {
		if snap.UUID == input || snap.DeviceID == input || normalizeName(snap.Name) == needle {
			return snap, nil
		}
	}
	available := make([]string, 0, len(snaps))
	for _, snap := range snaps {
		available = append(available, snap.Name)
	}
	sort.Strings(available)
	return accessory.Snapshot{}, fmt.Errorf("accessory %q not found. Available: %s", input, strings.Join(available, ", "))
}
