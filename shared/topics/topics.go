// Package topics maps MQTT topic names to reading kinds.
//
// The mapping is a fixed table of single-purpose topics plus one zone template
// parameterised by the zone index. Map has no side effects.
package topics

import (
	"strconv"
	"strings"

	"github.com/DroneTales/GreenHouse/shared/types"
)

const DefaultPrefix = "greenhouse"

const zoneSegment = "sensors/"

var fixedSuffixes = []struct {
	suffix string
	kind   types.Kind
}{
	{"temperature", types.KindAverageTemperature},
	{"battery", types.KindBatteryCapacity},
	{"voltage/voltage", types.KindBatteryVoltage},
	{"voltage/adjusted", types.KindAdjustedVoltage},
}

type Mapper struct {
	prefix    string
	zoneCount int
	fixed     map[string]types.Kind
}

// NewMapper builds a mapper for topics rooted at prefix (DefaultPrefix when
// empty) with zoneCount zone sensors.
func NewMapper(prefix string, zoneCount int) *Mapper {
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if zoneCount < 0 {
		zoneCount = 0
	}
	m := &Mapper{
		prefix:    prefix,
		zoneCount: zoneCount,
		fixed:     make(map[string]types.Kind, len(fixedSuffixes)),
	}
	for _, f := range fixedSuffixes {
		m.fixed[prefix+"/"+f.suffix] = f.kind
	}
	return m
}

func (m *Mapper) ZoneCount() int { return m.zoneCount }

// Map returns the kind published on topic, or (KindUndefined, false).
func (m *Mapper) Map(topic string) (types.Kind, bool) {
	if k, ok := m.fixed[topic]; ok {
		return k, true
	}
	idx, ok := strings.CutPrefix(topic, m.prefix+"/"+zoneSegment)
	if !ok {
		return types.KindUndefined, false
	}
	zone, err := strconv.Atoi(idx)
	if err != nil || zone < 0 || zone >= m.zoneCount || strconv.Itoa(zone) != idx {
		return types.KindUndefined, false
	}
	return types.ZoneTemperature(zone), true
}

// ZoneTopic returns the topic for zone i.
func (m *Mapper) ZoneTopic(i int) string {
	return m.prefix + "/" + zoneSegment + strconv.Itoa(i)
}

// Topic is the inverse of Map.
func (m *Mapper) Topic(k types.Kind) (string, bool) {
	for _, f := range fixedSuffixes {
		if f.kind == k {
			return m.prefix + "/" + f.suffix, true
		}
	}
	if zone, ok := k.Zone(); ok && zone < m.zoneCount {
		return m.ZoneTopic(zone), true
	}
	return "", false
}

// Topics lists every topic to subscribe to: the fixed topics, then one per zone.
func (m *Mapper) Topics() []string {
	out := make([]string, 0, len(fixedSuffixes)+m.zoneCount)
	for _, f := range fixedSuffixes {
		out = append(out, m.prefix+"/"+f.suffix)
	}
	for i := 0; i < m.zoneCount; i++ {
		out = append(out, m.ZoneTopic(i))
	}
	return out
}
