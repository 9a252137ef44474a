package governance

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/mcptrust/execgate/internal/models"
)

const GuardianSchema = "schema"

// Field types understood by Schema.
const (
	TypeString = "string"
	TypeNumber = "number"
	TypeBool   = "boolean"
	TypeObject = "object"
	TypeArray  = "array"
)

// Schema describes the payload an action must carry.
type Schema struct {
	Required []string          `yaml:"required" json:"required"`
	Types    map[string]string `yaml:"types" json:"types"`
	// Strict turns unknown top-level fields into a warning.
	Strict bool `yaml:"strict" json:"strict"`
}

// SchemaGuardian checks payloads against per-action schemas. Actions are
// matched by exact name, then by the longest registered "prefix.*".
type SchemaGuardian struct {
	mu      sync.RWMutex
	schemas map[string]Schema
}

func NewSchemaGuardian(schemas map[string]Schema) *SchemaGuardian {
	g := &SchemaGuardian{schemas: make(map[string]Schema)}
	for action, s := range schemas {
		g.schemas[action] = s
	}
	return g
}

func (g *SchemaGuardian) Name() string { return GuardianSchema }

// Register adds or replaces the schema for action.
func (g *SchemaGuardian) Register(action string, s Schema) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.schemas[action] = s
}

func (g *SchemaGuardian) lookup(action string) (Schema, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if s, ok := g.schemas[action]; ok {
		return s, true
	}
	best, found := "", false
	for pattern := range g.schemas {
		prefix, ok := strings.CutSuffix(pattern, "*")
		if ok && strings.HasPrefix(action, prefix) && len(prefix) > len(best) {
			best, found = prefix, true
		}
	}
	if !found {
		return Schema{}, false
	}
	return g.schemas[best+"*"], true
}

func (g *SchemaGuardian) Review(ctx context.Context, req Request) (models.GuardianDecision, error) {
	schema, ok := g.lookup(req.Action)
	if !ok {
		return decide(GuardianSchema, models.GuardianAllow, "no schema registered for action", nil), nil
	}

	var problems []string
	for _, field := range schema.Required {
		if _, present := req.Payload[field]; !present {
			problems = append(problems, fmt.Sprintf("missing required field %q", field))
		}
	}
	for field, want := range schema.Types {
		v, present := req.Payload[field]
		if !present {
			continue
		}
		if got := typeOf(v); got != want {
			problems = append(problems, fmt.Sprintf("field %q is %s, want %s", field, got, want))
		}
	}
	sort.Strings(problems)
	if len(problems) > 0 {
		return decide(GuardianSchema, models.GuardianDeny, strings.Join(problems, "; "), map[string]any{"problems": problems}), nil
	}

	if schema.Strict {
		var unknown []string
		for field := range req.Payload {
			if !known(schema, field) {
				unknown = append(unknown, field)
			}
		}
		if len(unknown) > 0 {
			sort.Strings(unknown)
			return decide(GuardianSchema, models.GuardianWarn,
				fmt.Sprintf("unknown fields: %s", strings.Join(unknown, ", ")),
				map[string]any{"unknown": unknown}), nil
		}
	}
	return decide(GuardianSchema, models.GuardianAllow, "payload matches schema", nil), nil
}

func known(s Schema, field string) bool {
	if _, ok := s.Types[field]; ok {
		return true
	}
	for _, r := range s.Required {
		if r == field {
			return true
		}
	}
	return false
}

func typeOf(v any) string {
	switch v.(type) {
	case string:
		return TypeString
	case bool:
		return TypeBool
	case float64, float32, int, int32, int64, uint, uint32, uint64:
		return TypeNumber
	case map[string]any:
		return TypeObject
	case []any:
		return TypeArray
	case nil:
		return "null"
	default:
		return fmt.Sprintf("%T", v)
	}
}
