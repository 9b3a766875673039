package database

import "strings"

var cmdTable = make(map[string]*command)

// command flags
const (
	flagWrite = iota
	flagReadOnly
)

type command struct {
	name     string
	executor ExecFunc
	// prepare returns the keys the command writes and reads, used for
	// shard locking and ACL key checks
	prepare  PreFunc
	arity    int // arity < 0 means len(args) >= -arity
	flags    int
	category string
}

// registerCommand registers a normal command visiting the keyspace.
// arity means allowed number of cmdArgs, arity < 0 means len(args) >= -arity.
// for example: the arity of `get` is 2, `mget` is -2
func registerCommand(name string, executor ExecFunc, prepare PreFunc, arity int, flags int, category string) *command {
	name = strings.ToLower(name)
	cmd := &command{
		name:     name,
		executor: executor,
		prepare:  prepare,
		arity:    arity,
		flags:    flags,
		category: category,
	}
	cmdTable[name] = cmd
	return cmd
}

// GetCommandCategory returns the ACL category of a command, empty string if
// the command is unknown to the keyspace table
func GetCommandCategory(name string) string {
	cmd, ok := cmdTable[strings.ToLower(name)]
	if !ok {
		return ""
	}
	return cmd.category
}

func isWriteCommand(cmd *command) bool {
	return cmd.flags == flagWrite
}

// readFirstKey returns the first arg as the only read key
func readFirstKey(args [][]byte) ([]string, []string) {
	key := string(args[0])
	return nil, []string{key}
}

// writeFirstKey returns the first arg as the only write key
func writeFirstKey(args [][]byte) ([]string, []string) {
	key := string(args[0])
	return []string{key}, nil
}

// writeAllKeys returns all args as write keys
func writeAllKeys(args [][]byte) ([]string, []string) {
	keys := make([]string, len(args))
	for i, v := range args {
		keys[i] = string(v)
	}
	return keys, nil
}

// readAllKeys returns all args as read keys
func readAllKeys(args [][]byte) ([]string, []string) {
	keys := make([]string, len(args))
	for i, v := range args {
		keys[i] = string(v)
	}
	return nil, keys
}

// writeEvenKeys returns args at even offsets as write keys (MSET style)
func writeEvenKeys(args [][]byte) ([]string, []string) {
	keys := make([]string, 0, len(args)/2)
	for i := 0; i < len(args); i += 2 {
		keys = append(keys, string(args[i]))
	}
	return keys, nil
}

func noPrepare(args [][]byte) ([]string, []string) {
	return nil, nil
}
