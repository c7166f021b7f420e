package types

import (
	"fmt"
	"strings"
)

// Kind identifies what a reading measures. The integer value is the code
// stored in the readings table and must never be renumbered.
type Kind int

const (
	KindUndefined          Kind = 0
	KindBatteryCapacity    Kind = 1
	KindBatteryVoltage     Kind = 2
	KindAdjustedVoltage    Kind = 3
	KindAverageTemperature Kind = 4

	// kindZoneBase is the code of zone 0; zone i is kindZoneBase+i.
	kindZoneBase Kind = 5
)

const (
	DefaultZoneCount = 4
	MaxZoneCount     = 64
)

// ZoneTemperature returns the kind for the temperature sensor of zone i.
func ZoneTemperature(i int) Kind {
	return kindZoneBase + Kind(i)
}

// Zone reports the zone index for a zone temperature kind.
func (k Kind) Zone() (int, bool) {
	if k < kindZoneBase {
		return 0, false
	}
	return int(k - kindZoneBase), true
}

// Valid reports whether k is a storable kind for a deployment with zoneCount zones.
func (k Kind) Valid(zoneCount int) bool {
	switch k {
	case KindBatteryCapacity, KindBatteryVoltage, KindAdjustedVoltage, KindAverageTemperature:
		return true
	}
	zone, ok := k.Zone()
	return ok && zone < zoneCount
}

// Label is the series name shown to consumers of the query API.
func (k Kind) Label() string {
	switch k {
	case KindBatteryCapacity:
		return "Battery Capacity"
	case KindBatteryVoltage:
		return "Battery Voltage"
	case KindAdjustedVoltage:
		return "Adjusted Voltage"
	case KindAverageTemperature:
		return "Average Temperature"
	}
	if zone, ok := k.Zone(); ok {
		return fmt.Sprintf("Zone %d Temperature", zone)
	}
	return "Undefined"
}

func (k Kind) String() string {
	switch k {
	case KindBatteryCapacity:
		return "battery_capacity"
	case KindBatteryVoltage:
		return "battery_voltage"
	case KindAdjustedVoltage:
		return "adjusted_voltage"
	case KindAverageTemperature:
		return "average_temperature"
	}
	if zone, ok := k.Zone(); ok {
		return fmt.Sprintf("zone_temperature_%d", zone)
	}
	return "undefined"
}

// Group selects a family of kinds for plotting.
type Group string

const (
	GroupTemperature Group = "temperature"
	GroupBattery     Group = "battery"
	GroupAll         Group = "all"
)

// ParseGroup accepts a group name case-insensitively. An empty string means GroupAll.
func ParseGroup(s string) (Group, error) {
	switch g := Group(strings.ToLower(strings.TrimSpace(s))); g {
	case "":
		return GroupAll, nil
	case GroupTemperature, GroupBattery, GroupAll:
		return g, nil
	default:
		return "", fmt.Errorf("invalid group %q (allowed: temperature, battery, all)", s)
	}
}

// Kinds lists the kinds of the group in display order.
func (g Group) Kinds(zoneCount int) []Kind {
	var out []Kind
	if g == GroupTemperature || g == GroupAll {
		out = append(out, KindAverageTemperature)
		for i := 0; i < zoneCount; i++ {
			out = append(out, ZoneTemperature(i))
		}
	}
	if g == GroupBattery || g == GroupAll {
		out = append(out, KindBatteryCapacity, KindBatteryVoltage, KindAdjustedVoltage)
	}
	return out
}

// GroupOf returns the narrowest group containing k.
func GroupOf(k Kind) Group {
	switch k {
	case KindBatteryCapacity, KindBatteryVoltage, KindAdjustedVoltage:
		return GroupBattery
	case KindUndefined:
		return ""
	default:
		return GroupTemperature
	}
}
