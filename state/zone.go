package state

// member state values as reported by home assistant
const (
	On          = "on"
	Off         = "off"
	Unknown     = "unknown"
	Unavailable = "unavailable"
)

// Lookup returns the current state of an entity and false if the entity does not exist.
type Lookup func(entityID string) (string, bool)

type ZoneState struct {
	Available  bool     `json:"available"`
	IsOn       *bool    `json:"is_on"` // nil when unknown
	Members    []string `json:"members"`
	MembersOn  []string `json:"members_on"`
	MembersOff []string `json:"members_off"`
}

// Aggregate derives the zone state from the current state of each member.
// A zone is on when any member is on, unknown when no member reports on or off,
// and unavailable when every member is unavailable or missing.
func Aggregate(members []string, lookup Lookup) ZoneState {
	var states []string
	for _, entityID := range members {
		if value, ok := lookup(entityID); ok {
			states = append(states, value)
		}
	}

	zs := ZoneState{
		Members:    append([]string{}, members...),
		MembersOn:  filterMembers(members, lookup, On),
		MembersOff: filterMembers(members, lookup, Off),
	}

	valid := false
	on := false
	for _, s := range states {
		if s != Unavailable {
			zs.Available = true
		}
		if s != Unknown && s != Unavailable {
			valid = true
		}
		if s == On {
			on = true
		}
	}
	if valid {
		zs.IsOn = &on
	}
	return zs
}

func filterMembers(members []string, lookup Lookup, want string) []string {
	matched := []string{}
	for _, entityID := range members {
		if value, ok := lookup(entityID); ok && value == want {
			matched = append(matched, entityID)
		}
	}
	return matched
}

// Value is the zone state as a home assistant state string.
func (z ZoneState) Value() string {
	switch {
	case z.IsOn == nil:
		return Unknown
	case *z.IsOn:
		return On
	default:
		return Off
	}
}

// Attributes is the attribute bag published alongside the zone state.
func (z ZoneState) Attributes() map[string][]string {
	return map[string][]string{
		"members":     z.Members,
		"members_on":  z.MembersOn,
		"members_off": z.MembersOff,
	}
}
