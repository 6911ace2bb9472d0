// Package validator gates outbound commands through five checks, in order:
// schema, entity, value range, security and rate limiting. The first
// failing check decides the error code.
package validator

import (
	"fmt"
	"math"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/KevinKickass/OpenRVCore/internal/command"
	"github.com/KevinKickass/OpenRVCore/internal/types"
)

// EntityDirectory resolves an entity id to its declared type.
type EntityDirectory interface {
	EntityType(entityID string) (string, bool)
}

type SecurityConfig struct {
	Enabled      bool     `mapstructure:"enabled"`
	Allowlist    []string `mapstructure:"allowlist"`
	Denylist     []string `mapstructure:"denylist"`
	AllowedTypes []string `mapstructure:"allowed_types"`
}

func DefaultSecurityConfig() SecurityConfig {
	names := make([]string, len(command.Types))
	for i, t := range command.Types {
		names[i] = string(t)
	}
	return SecurityConfig{Enabled: true, AllowedTypes: names}
}

type Config struct {
	Security  SecurityConfig `mapstructure:"security"`
	RateLimit RateConfig     `mapstructure:"rate_limit"`
}

func DefaultConfig() Config {
	return Config{
		Security:  DefaultSecurityConfig(),
		RateLimit: DefaultRateConfig(),
	}
}

type Stats struct {
	GlobalQueueSize  int  `json:"global_queue_size"`
	EntityQueues     int  `json:"entity_queues"`
	SecurityEnabled  bool `json:"security_enabled"`
	RateLimitEnabled bool `json:"rate_limit_enabled"`
	AllowlistSize    int  `json:"allowlist_size"`
	DenylistSize     int  `json:"denylist_size"`
}

// Validator is safe for concurrent use. A single lock covers the whole
// check so rate-limit admission and recording are atomic.
type Validator struct {
	mu sync.Mutex

	rules     map[command.Type]TypeRule
	directory EntityDirectory
	security  SecurityConfig
	allow     map[string]struct{}
	deny      map[string]struct{}
	types     map[string]struct{}
	limiter   *RateLimiter
	now       func() time.Time
}

type Option func(*Validator)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(v *Validator) { v.now = now }
}

// WithRules replaces the default rule table.
func WithRules(rules map[command.Type]TypeRule) Option {
	return func(v *Validator) { v.rules = rules }
}

// New builds a validator. A nil directory skips the entity check.
func New(cfg Config, directory EntityDirectory, opts ...Option) *Validator {
	v := &Validator{
		rules:     DefaultRules(),
		directory: directory,
		security:  cfg.Security,
		allow:     toSet(cfg.Security.Allowlist),
		deny:      toSet(cfg.Security.Denylist),
		types:     toSet(cfg.Security.AllowedTypes),
		limiter:   NewRateLimiter(cfg.RateLimit),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

func toSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, item := range items {
		set[item] = struct{}{}
	}
	return set
}

// Validate runs all five checks. It returns (true, nil) on acceptance and
// records the command against the rate limits; otherwise (false, err) with
// exactly one error code.
func (v *Validator) Validate(req *command.Request) (bool, *types.ValidationError) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.checkSchema(req); err != nil {
		return false, err
	}
	if err := v.checkEntity(req); err != nil {
		return false, err
	}
	if err := v.checkValue(req); err != nil {
		return false, err
	}
	if err := v.checkSecurity(req); err != nil {
		return false, err
	}

	now := v.now()
	if err := v.limiter.Check(req.Entity(), now); err != nil {
		return false, err
	}
	v.limiter.Record(req.Entity(), now)

	return true, nil
}

func (v *Validator) checkSchema(req *command.Request) *types.ValidationError {
	if req == nil {
		return &types.ValidationError{
			Code:    types.CodeMalformedCommand,
			Message: "Command must be an object",
		}
	}

	commandType := req.TypeName()
	if commandType == "" {
		return &types.ValidationError{
			Code:    types.CodeMissingCommandType,
			Message: "Missing required field: command_type",
			Field:   "command_type",
		}
	}

	rule, ok := v.rules[command.Type(commandType)]
	if !ok {
		return &types.ValidationError{
			Code:    types.CodeUnknownCommandType,
			Message: fmt.Sprintf("Invalid command_type: %s", commandType),
			Field:   "command_type",
		}
	}

	if req.EntityID == nil {
		return &types.ValidationError{
			Code:    types.CodeMissingField,
			Message: "Missing required field: entity_id",
			Field:   "entity_id",
		}
	}

	if rule.RequiresAction {
		if req.Action == nil {
			return &types.ValidationError{
				Code:    types.CodeMissingField,
				Message: "Missing required field: action",
				Field:   "action",
			}
		}
		if _, ok := rule.Actions[command.Action(*req.Action)]; !ok {
			return &types.ValidationError{
				Code:    types.CodeInvalidAction,
				Message: fmt.Sprintf("Invalid action: %s", *req.Action),
				Field:   "action",
			}
		}
	}

	return nil
}

func (v *Validator) checkEntity(req *command.Request) *types.ValidationError {
	entityID := req.Entity()
	if entityID == "" {
		return &types.ValidationError{
			Code:    types.CodeMissingEntityID,
			Message: "Missing entity_id",
			Field:   "entity_id",
		}
	}

	if v.directory == nil {
		return nil
	}

	entityType, ok := v.directory.EntityType(entityID)
	if !ok {
		return &types.ValidationError{
			Code:    types.CodeEntityNotFound,
			Message: fmt.Sprintf("Entity not found: %s", entityID),
			Field:   "entity_id",
		}
	}

	if entityType != req.TypeName() {
		return &types.ValidationError{
			Code:    types.CodeEntityTypeMismatch,
			Message: fmt.Sprintf("Entity type mismatch: entity is %s, command is %s", entityType, req.TypeName()),
			Field:   "entity_id",
		}
	}

	return nil
}

func (v *Validator) checkValue(req *command.Request) *types.ValidationError {
	rule := v.rules[command.Type(req.TypeName())]

	action := req.ResolvedAction()
	actionRule, ok := rule.Actions[action]
	if !ok {
		return &types.ValidationError{
			Code:    types.CodeInvalidRangeAction,
			Message: fmt.Sprintf("Invalid action: %s", action),
			Field:   "action",
		}
	}

	const field = "value"
	if req.Value == nil {
		return &types.ValidationError{
			Code:    types.CodeMissingValue,
			Message: "Missing value field: value",
			Field:   field,
		}
	}

	num, isNum := numeric(req.Value)
	str, isStr := req.Value.(string)

	switch actionRule.Kind {
	case KindString:
		if !isStr {
			return wrongType(actionRule.Kind, req.Value)
		}
	case KindInt:
		if !isInteger(req.Value) {
			return wrongType(actionRule.Kind, req.Value)
		}
	case KindNumber:
		if !isNum {
			return wrongType(actionRule.Kind, req.Value)
		}
	}

	if len(actionRule.Allowed) > 0 {
		allowed := isStr && slices.ContainsFunc(actionRule.Allowed, func(a string) bool {
			return strings.EqualFold(a, str)
		})
		if !allowed {
			return &types.ValidationError{
				Code:    types.CodeValueNotAllowed,
				Message: fmt.Sprintf("Invalid value: %v. Allowed: %v", req.Value, actionRule.Allowed),
				Field:   field,
			}
		}
	}

	if actionRule.Min != nil && isNum && num < *actionRule.Min {
		return &types.ValidationError{
			Code:    types.CodeValueBelowMinimum,
			Message: fmt.Sprintf("Value %v below minimum %v", req.Value, *actionRule.Min),
			Field:   field,
		}
	}

	if actionRule.Max != nil && isNum && num > *actionRule.Max {
		return &types.ValidationError{
			Code:    types.CodeValueAboveMaximum,
			Message: fmt.Sprintf("Value %v above maximum %v", req.Value, *actionRule.Max),
			Field:   field,
		}
	}

	return nil
}

func wrongType(kind ValueKind, value any) *types.ValidationError {
	return &types.ValidationError{
		Code:    types.CodeWrongValueType,
		Message: fmt.Sprintf("Invalid value type: expected %s, got %T", kind, value),
		Field:   "value",
	}
}

func numeric(v any) (float64, bool) {
	switch x := v.(type) {
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return 0, false
		}
		return x, true
	}
	return 0, false
}

func isInteger(v any) bool {
	switch v.(type) {
	case int, int64:
		return true
	}
	return false
}

func (v *Validator) checkSecurity(req *command.Request) *types.ValidationError {
	if !v.security.Enabled {
		return nil
	}

	entityID := req.Entity()
	if _, denied := v.deny[entityID]; denied {
		return &types.ValidationError{
			Code:    types.CodeEntityDenied,
			Message: fmt.Sprintf("Entity %s is denied", entityID),
			Field:   "entity_id",
		}
	}

	if len(v.allow) > 0 {
		if _, ok := v.allow[entityID]; !ok {
			return &types.ValidationError{
				Code:    types.CodeEntityNotAllowed,
				Message: fmt.Sprintf("Entity %s is not in allowlist", entityID),
				Field:   "entity_id",
			}
		}
	}

	if _, ok := v.types[req.TypeName()]; !ok {
		return &types.ValidationError{
			Code:    types.CodeCommandTypeDenied,
			Message: fmt.Sprintf("Command type %s is not allowed", req.TypeName()),
			Field:   "command_type",
		}
	}

	return nil
}

func (v *Validator) Stats() Stats {
	v.mu.Lock()
	defer v.mu.Unlock()

	global, entities := v.limiter.Sizes()
	return Stats{
		GlobalQueueSize:  global,
		EntityQueues:     entities,
		SecurityEnabled:  v.security.Enabled,
		RateLimitEnabled: v.limiter.cfg.Enabled,
		AllowlistSize:    len(v.allow),
		DenylistSize:     len(v.deny),
	}
}
