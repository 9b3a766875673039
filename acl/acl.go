package acl

import (
	"strings"

	"github.com/rutin-db/rutin/config"
	"github.com/rutin-db/rutin/lib/wildcard"
)

// AccessController is one user's compiled rule set. Deny lists win over
// allow lists. A command passes when the command and category allow lists
// are both empty, or when it matches either of them; an empty key or channel
// allow list permits every key or channel.
type AccessController struct {
	user     string
	enabled  bool
	password string

	allowCommands map[string]struct{}
	denyCommands  map[string]struct{}
	allowCategory map[string]struct{}
	denyCategory  map[string]struct{}

	allowRead     []*wildcard.Pattern
	denyRead      []*wildcard.Pattern
	allowWrite    []*wildcard.Pattern
	denyWrite     []*wildcard.Pattern
	allowChannels []*wildcard.Pattern
	denyChannels  []*wildcard.Pattern
}

func toSet(items []string) map[string]struct{} {
	if len(items) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(items))
	for _, item := range items {
		set[strings.ToLower(item)] = struct{}{}
	}
	return set
}

func toPatterns(items []string) []*wildcard.Pattern {
	patterns := make([]*wildcard.Pattern, 0, len(items))
	for _, item := range items {
		patterns = append(patterns, wildcard.CompilePattern(item))
	}
	return patterns
}

// Compile builds the controller for one configured user
func Compile(user string, rule config.ACLRule) *AccessController {
	return &AccessController{
		user:          user,
		enabled:       rule.Enable,
		password:      rule.Password,
		allowCommands: toSet(rule.AllowCommands),
		denyCommands:  toSet(rule.DenyCommands),
		allowCategory: toSet(rule.AllowCategory),
		denyCategory:  toSet(rule.DenyCategory),
		allowRead:     toPatterns(rule.AllowReadKeyPatterns),
		denyRead:      toPatterns(rule.DenyReadKeyPatterns),
		allowWrite:    toPatterns(rule.AllowWriteKeyPatterns),
		denyWrite:     toPatterns(rule.DenyWriteKeyPatterns),
		allowChannels: toPatterns(rule.AllowChannelPatterns),
		denyChannels:  toPatterns(rule.DenyChannelPatterns),
	}
}

// User returns the user name this controller belongs to
func (ac *AccessController) User() string {
	return ac.user
}

// Enabled tells whether the user may authenticate at all
func (ac *AccessController) Enabled() bool {
	return ac.enabled
}

// CheckPassword verifies the user's password. Users without a configured
// password accept any.
func (ac *AccessController) CheckPassword(password string) bool {
	return ac.password == "" || ac.password == password
}

// CanRunCommand checks the command name and its category against the rule
func (ac *AccessController) CanRunCommand(name string, category string) bool {
	name = strings.ToLower(name)
	category = strings.ToLower(category)
	if _, denied := ac.denyCommands[name]; denied {
		return false
	}
	if _, denied := ac.denyCategory[category]; denied {
		return false
	}
	if len(ac.allowCommands) == 0 && len(ac.allowCategory) == 0 {
		return true
	}
	if _, ok := ac.allowCommands[name]; ok {
		return true
	}
	_, ok := ac.allowCategory[category]
	return ok
}

func matchAny(patterns []*wildcard.Pattern, s string) bool {
	for _, p := range patterns {
		if p.IsMatch(s) {
			return true
		}
	}
	return false
}

func allowed(allow []*wildcard.Pattern, deny []*wildcard.Pattern, s string) bool {
	if matchAny(deny, s) {
		return false
	}
	return len(allow) == 0 || matchAny(allow, s)
}

// CanReadKey checks a key against the read patterns
func (ac *AccessController) CanReadKey(key string) bool {
	return allowed(ac.allowRead, ac.denyRead, key)
}

// CanWriteKey checks a key against the write patterns
func (ac *AccessController) CanWriteKey(key string) bool {
	return allowed(ac.allowWrite, ac.denyWrite, key)
}

// CanUseChannel checks a pub/sub channel against the channel patterns
func (ac *AccessController) CanUseChannel(channel string) bool {
	return allowed(ac.allowChannels, ac.denyChannels, channel)
}

// Registry holds the compiled controllers of every configured user plus the
// default one applied to unauthenticated or default connections
type Registry struct {
	defaultAC *AccessController
	users     map[string]*AccessController
}

// MakeRegistry compiles the security section of the configuration
func MakeRegistry() *Registry {
	sec := config.Properties.Security
	defaultRule := sec.DefaultAC
	defaultRule.Enable = true
	if defaultRule.Password == "" {
		defaultRule.Password = sec.RequirePass
	}
	r := &Registry{
		defaultAC: Compile("default", defaultRule),
		users:     make(map[string]*AccessController, len(sec.ACL)),
	}
	for name, rule := range sec.ACL {
		r.users[name] = Compile(name, rule)
	}
	return r
}

// Default returns the default user's controller
func (r *Registry) Default() *AccessController {
	return r.defaultAC
}

// GetUser returns the controller of a named user
func (r *Registry) GetUser(name string) (*AccessController, bool) {
	if name == "" || name == "default" {
		return r.defaultAC, true
	}
	ac, ok := r.users[name]
	return ac, ok
}

// RequiresAuth tells whether unauthenticated connections must AUTH first
func (r *Registry) RequiresAuth() bool {
	return config.Properties.Security.RequirePass != "" || r.defaultAC.password != ""
}
