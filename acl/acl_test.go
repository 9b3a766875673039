package acl

import (
	"testing"

	"github.com/rutin-db/rutin/config"
)

func TestCanRunCommand(t *testing.T) {
	ac := Compile("worker", config.ACLRule{
		Enable:        true,
		AllowCommands: []string{"GET", "set"},
		DenyCommands:  []string{"set"},
		AllowCategory: []string{"list"},
	})
	if !ac.CanRunCommand("get", "string") {
		t.Error("allowed command refused")
	}
	// deny wins over allow
	if ac.CanRunCommand("set", "string") {
		t.Error("denied command admitted")
	}
	if !ac.CanRunCommand("lpush", "list") {
		t.Error("allowed category refused")
	}
	if ac.CanRunCommand("hset", "hash") {
		t.Error("unlisted command admitted with an allow list present")
	}
}

func TestEmptyAllowPermitsAll(t *testing.T) {
	ac := Compile("open", config.ACLRule{
		Enable:       true,
		DenyCategory: []string{"scripting"},
	})
	if !ac.CanRunCommand("get", "string") || !ac.CanRunCommand("hset", "hash") {
		t.Error("empty allow list should permit everything")
	}
	if ac.CanRunCommand("eval", "scripting") {
		t.Error("denied category admitted")
	}
	if !ac.CanReadKey("anything") || !ac.CanWriteKey("anything") || !ac.CanUseChannel("anything") {
		t.Error("empty pattern lists should permit everything")
	}
}

func TestKeyPatterns(t *testing.T) {
	ac := Compile("reader", config.ACLRule{
		Enable:                true,
		AllowReadKeyPatterns:  []string{"user:*", "session:*"},
		DenyReadKeyPatterns:   []string{"user:admin"},
		AllowWriteKeyPatterns: []string{"session:*"},
	})
	if !ac.CanReadKey("user:42") || !ac.CanReadKey("session:abc") {
		t.Error("matching read key refused")
	}
	if ac.CanReadKey("user:admin") {
		t.Error("denied read key admitted")
	}
	if ac.CanReadKey("order:1") {
		t.Error("unmatched read key admitted")
	}
	if ac.CanWriteKey("user:42") {
		t.Error("write pattern leaked from read patterns")
	}
	if !ac.CanWriteKey("session:abc") {
		t.Error("matching write key refused")
	}
}

func TestChannelPatterns(t *testing.T) {
	ac := Compile("subscriber", config.ACLRule{
		Enable:               true,
		AllowChannelPatterns: []string{"news.*"},
		DenyChannelPatterns:  []string{"news.secret"},
	})
	if !ac.CanUseChannel("news.sports") {
		t.Error("matching channel refused")
	}
	if ac.CanUseChannel("news.secret") {
		t.Error("denied channel admitted")
	}
	if ac.CanUseChannel("chat.lobby") {
		t.Error("unmatched channel admitted")
	}
}

func TestCheckPassword(t *testing.T) {
	withPass := Compile("u1", config.ACLRule{Enable: true, Password: "s3cret"})
	if !withPass.CheckPassword("s3cret") || withPass.CheckPassword("wrong") {
		t.Error("password check broken")
	}
	noPass := Compile("u2", config.ACLRule{Enable: true})
	if !noPass.CheckPassword("anything") {
		t.Error("user without password should accept any")
	}
}

func TestRegistry(t *testing.T) {
	backup := config.Properties.Security
	defer func() { config.Properties.Security = backup }()

	config.Properties.Security.RequirePass = ""
	config.Properties.Security.DefaultAC = config.ACLRule{}
	config.Properties.Security.ACL = map[string]config.ACLRule{
		"app": {Enable: true, Password: "pw"},
	}
	r := MakeRegistry()
	if r.RequiresAuth() {
		t.Error("no password configured, auth should not be required")
	}
	if _, ok := r.GetUser("app"); !ok {
		t.Error("configured user missing")
	}
	if _, ok := r.GetUser("ghost"); ok {
		t.Error("unknown user resolved")
	}
	if ac, ok := r.GetUser(""); !ok || ac != r.Default() {
		t.Error("empty name should resolve the default user")
	}

	config.Properties.Security.RequirePass = "topsecret"
	r = MakeRegistry()
	if !r.RequiresAuth() {
		t.Error("requirepass set, auth should be required")
	}
	if !r.Default().CheckPassword("topsecret") {
		t.Error("requirepass should back the default user")
	}
}
