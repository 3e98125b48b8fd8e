package accessory

import (
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Descriptor declares a custom numeric characteristic that is not part of the
// standard accessory catalogue.
type Descriptor struct {
	UUID        string   `json:"uuid"`
	Name        string   `json:"name"`
	Format      string   `json:"format"`
	MinValue    float64  `json:"minValue"`
	MaxValue    float64  `json:"maxValue"`
	MinStep     float64  `json:"minStep"`
	Permissions []string `json:"permissions"`
}

var (
	radonOnce       sync.Once
	radonDescriptor Descriptor
)

// RadonLevelDescriptor returns the process-wide radon level characteristic.
// It is built on first use and shared afterwards.
func RadonLevelDescriptor() Descriptor {
	radonOnce.Do(func() {
		radonDescriptor = Descriptor{
			UUID:        strings.ToUpper(uuid.NewSHA1(Namespace, []byte("characteristic/radon-level")).String()),
			Name:        "Radon Level",
			Format:      "float",
			MinValue:    0,
			MaxValue:    65535,
			MinStep:     0.01,
			Permissions: []string{"pr", "ev"},
		}
	})
	return radonDescriptor
}

// CustomValue is a reading for a custom characteristic.
type CustomValue struct {
	Descriptor Descriptor `json:"descriptor"`
	Value      float64    `json:"value"`
	Unit       string     `json:"unit"`
}
