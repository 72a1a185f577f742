package util

import (
	"reflect"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"gopkg.in/go-playground/validator.v9"
)

const ( //message types
	MEMBER_STATE = iota
	DIM_ABSOLUTE = iota
	DIM_RELATIVE = iota
)

var entityIDPattern = regexp.MustCompile(`^light\.[a-z0-9_]+$`)

var zoneNamespace = uuid.MustParse("6f1d1a5e-3b7c-4c1e-9a43-0e6c1f3b2d71")

var validate = newValidator()

type Model struct {
	Zones []Zone `mapstructure:"zones"`
}

type Zone struct {
	Name     string   `mapstructure:"name" validate:"required" json:"name"`
	UniqueID string   `mapstructure:"unique_id" json:"unique_id,omitempty"`
	Members  []Member `mapstructure:"members" validate:"required,min=1,dive" json:"members"`
}

// Member is a light in a zone. In config it is either a bare entity id or a map
// with entity_id and an optional state_topic override.
type Member struct {
	EntityID   string `mapstructure:"entity_id" validate:"required,entity_id" json:"entity_id"`
	StateTopic string `mapstructure:"state_topic" json:"state_topic,omitempty"`
}

func newValidator() *validator.Validate {
	v := validator.New()
	if err := v.RegisterValidation("entity_id", func(fl validator.FieldLevel) bool {
		return entityIDPattern.MatchString(fl.Field().String())
	}); err != nil {
		panic(err)
	}
	return v
}

// Slugify lower-cases a name and replaces anything outside [a-z0-9] with underscores.
func Slugify(name string) string {
	var b strings.Builder
	underscore := false
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			underscore = false
		} else if !underscore && b.Len() > 0 {
			b.WriteRune('_')
			underscore = true
		}
	}
	return strings.TrimSuffix(b.String(), "_")
}

func (z Zone) Slug() string {
	return Slugify(z.Name)
}

// ID is the configured unique id or one derived from the zone name.
func (z Zone) ID() string {
	if z.UniqueID != "" {
		return z.UniqueID
	}
	return uuid.NewSHA1(zoneNamespace, []byte(z.Slug())).String()
}

func (z Zone) MemberIDs() []string {
	ids := make([]string, 0, len(z.Members))
	for _, m := range z.Members {
		ids = append(ids, m.EntityID)
	}
	return ids
}

func (z Zone) HasMember(entityID string) bool {
	for _, m := range z.Members {
		if m.EntityID == entityID {
			return true
		}
	}
	return false
}

func (z Zone) Validate() error {
	return validate.Struct(z)
}

func (z Zone) topic(suffix string) string {
	return Config.GetString("topic_prefix") + "/" + z.Slug() + "/" + suffix
}

func (z Zone) StateTopic() string        { return z.topic("state") }
func (z Zone) AvailabilityTopic() string { return z.topic("availability") }
func (z Zone) AttributesTopic() string   { return z.topic("attributes") }
func (z Zone) DimAbsoluteTopic() string  { return z.topic("dim_absolute") }
func (z Zone) DimRelativeTopic() string  { return z.topic("dim_relative") }

// Topic is the state_topic override or the mqtt_statestream topic of the entity.
func (m Member) Topic() string {
	if m.StateTopic != "" {
		return m.StateTopic
	}
	return Config.GetString("statestream_base") + "/" + strings.Replace(m.EntityID, ".", "/", 1) + "/state"
}

func (m Model) FindZone(name string) (Zone, bool) {
	for _, z := range m.Zones {
		if z.Name == name || z.Slug() == name {
			return z, true
		}
	}
	return Zone{}, false
}

// FindZoneByTopic returns the zone owning a command topic.
func (m Model) FindZoneByTopic(topic string) string {
	for _, z := range m.Zones {
		if z.DimAbsoluteTopic() == topic || z.DimRelativeTopic() == topic {
			return z.Name
		}
	}
	return ""
}

// FindMemberByTopic returns the entity id publishing on a state topic.
func (m Model) FindMemberByTopic(topic string) string {
	for _, z := range m.Zones {
		for _, member := range z.Members {
			if member.Topic() == topic {
				return member.EntityID
			}
		}
	}
	return ""
}

func (m Model) FindTopicType(topic string) int {
	for _, z := range m.Zones {
		if z.DimAbsoluteTopic() == topic {
			return DIM_ABSOLUTE
		}
		if z.DimRelativeTopic() == topic {
			return DIM_RELATIVE
		}
		for _, member := range z.Members {
			if member.Topic() == topic {
				return MEMBER_STATE
			}
		}
	}
	return -1
}

// ZonesWithMember returns every zone that aggregates entityID.
func (m Model) ZonesWithMember(entityID string) []Zone {
	var zones []Zone
	for _, z := range m.Zones {
		if z.HasMember(entityID) {
			zones = append(zones, z)
		}
	}
	return zones
}

// Entities returns every member entity id once, in config order.
func (m Model) Entities() []string {
	seen := map[string]bool{}
	var ids []string
	for _, z := range m.Zones {
		for _, id := range z.MemberIDs() {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	return ids
}

func (m Model) StateTopics() []string {
	seen := map[string]bool{}
	var topics []string
	for _, z := range m.Zones {
		for _, member := range z.Members {
			if t := member.Topic(); !seen[t] {
				seen[t] = true
				topics = append(topics, t)
			}
		}
	}
	return topics
}

func (m Model) CommandTopics() []string {
	var topics []string
	for _, z := range m.Zones {
		topics = append(topics, z.DimAbsoluteTopic(), z.DimRelativeTopic())
	}
	return topics
}

// memberHook lets a member be written as a bare entity id string.
func memberHook(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
	if from.Kind() == reflect.String && to == reflect.TypeOf(Member{}) {
		return Member{EntityID: strings.TrimSpace(data.(string))}, nil
	}
	return data, nil
}

// BuildModel loads the zones under the "model" key. Zones that fail validation
// or reuse another zone's name are skipped and logged.
func (m *Model) BuildModel() error {
	var raw Model
	err := Config.UnmarshalKey("model", &raw, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		memberHook,
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)))
	if err != nil {
		Logger.Error().Msgf("error unmarshaling model: %v", err)
		return errors.Wrap(err, "unmarshal model")
	}

	m.Zones = nil
	slugs := map[string]bool{}
	for _, z := range raw.Zones {
		if err := z.Validate(); err != nil {
			Logger.Error().Err(err).Str("zone", z.Name).Msg("invalid zone, skipping")
			continue
		}
		if z.Slug() == "" || slugs[z.Slug()] {
			Logger.Error().Str("zone", z.Name).Msg("duplicate or unusable zone name, skipping")
			continue
		}
		slugs[z.Slug()] = true
		m.Zones = append(m.Zones, z)
	}
	Logger.Info().Int("zones", len(m.Zones)).Msg("model built")
	return nil
}
