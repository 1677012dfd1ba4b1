package esptool

import (
	"fmt"
	"strings"
)

// Chip is an ESP32 family target.
type Chip int

const (
	ChipUnknown Chip = iota
	ChipESP32
	ChipESP32S2
	ChipESP32S3
	ChipESP32C3
)

func (c Chip) String() string {
	switch c {
	case ChipESP32:
		return "ESP32"
	case ChipESP32S2:
		return "ESP32-S2"
	case ChipESP32S3:
		return "ESP32-S3"
	case ChipESP32C3:
		return "ESP32-C3"
	default:
		return "Unknown"
	}
}

// Target is the name the flashing tool expects after --chip.
func (c Chip) Target() string {
	switch c {
	case ChipESP32:
		return "esp32"
	case ChipESP32S2:
		return "esp32s2"
	case ChipESP32S3:
		return "esp32s3"
	case ChipESP32C3:
		return "esp32c3"
	default:
		return ""
	}
}

// ParseChip accepts both target names ("esp32s3") and display names
// ("ESP32-S3").
func ParseChip(s string) (Chip, error) {
	norm := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), "-", ""))
	for _, c := range []Chip{ChipESP32, ChipESP32S2, ChipESP32S3, ChipESP32C3} {
		if norm == c.Target() {
			return c, nil
		}
	}
	return ChipUnknown, fmt.Errorf("unsupported chip %q", s)
}
