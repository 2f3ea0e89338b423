// Package types contains the domain vocabulary shared by every osyncq package:
// the command set carried in frame headers, the error taxonomy marshaled into
// error replies, and the endpoint roles. It deliberately imports no other
// osyncq package so that the wire, message and queue layers can all depend on
// it without creating import cycles.
package types

import "fmt"

// Command is the tag carried in every frame header.
//
// Values are wire-visible and must never be renumbered; new commands are only
// ever appended.
type Command int32

const (
	CmdNoop Command = iota
	CmdConnect
	CmdDisconnect
	CmdGetChanges
	CmdReadChange
	CmdCommitChange
	CmdCommittedAll
	CmdSyncDone
	CmdCallPlugin
	CmdNewChange
	CmdReply
	CmdErrorReply
	CmdInitialize
	CmdFinalize
	CmdDiscover
	CmdSynchronize
	CmdEngineChanged
	CmdMappingChanged
	CmdMappingEntryChanged
	CmdError
	CmdQueueError
	CmdQueueHup
)

var commandNames = [...]string{
	CmdNoop:                "NOOP",
	CmdConnect:             "CONNECT",
	CmdDisconnect:          "DISCONNECT",
	CmdGetChanges:          "GET_CHANGES",
	CmdReadChange:          "READ_CHANGE",
	CmdCommitChange:        "COMMIT_CHANGE",
	CmdCommittedAll:        "COMMITTED_ALL",
	CmdSyncDone:            "SYNC_DONE",
	CmdCallPlugin:          "CALL_PLUGIN",
	CmdNewChange:           "NEW_CHANGE",
	CmdReply:               "REPLY",
	CmdErrorReply:          "ERROR_REPLY",
	CmdInitialize:          "INITIALIZE",
	CmdFinalize:            "FINALIZE",
	CmdDiscover:            "DISCOVER",
	CmdSynchronize:         "SYNCHRONIZE",
	CmdEngineChanged:       "ENGINE_CHANGED",
	CmdMappingChanged:      "MAPPING_CHANGED",
	CmdMappingEntryChanged: "MAPPINGENTRY_CHANGED",
	CmdError:               "ERROR",
	CmdQueueError:          "QUEUE_ERROR",
	CmdQueueHup:            "QUEUE_HUP",
}

// String returns the upper-case protocol name of the command.
func (c Command) String() string {
	if c.Valid() {
		return commandNames[c]
	}
	return fmt.Sprintf("UNKNOWN(%d)", int32(c))
}

// Valid reports whether c is part of the known command set.
func (c Command) Valid() bool {
	return c >= 0 && int(c) < len(commandNames)
}

// IsReply reports whether c is one of the two commands interpreted by the
// dispatcher (REPLY, ERROR_REPLY).
func (c Command) IsReply() bool {
	return c == CmdReply || c == CmdErrorReply
}

// ParseCommand resolves a protocol name (e.g. "INITIALIZE") to its Command.
func ParseCommand(name string) (Command, error) {
	for i, n := range commandNames {
		if n == name {
			return Command(i), nil
		}
	}
	return 0, fmt.Errorf("types: unknown command %q", name)
}

// MarshalText encodes the command by name.
func (c Command) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

// UnmarshalText decodes a command name produced by MarshalText.
func (c *Command) UnmarshalText(b []byte) error {
	v, err := ParseCommand(string(b))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// Role selects how a queue endpoint opens its descriptor and how long its
// reader waits in poll.
type Role int

const (
	// RoleSender opens the write end and polls with a short bound.
	RoleSender Role = iota
	// RoleReceiver opens the read end and polls with a longer bound.
	RoleReceiver
)

// String returns a human-readable representation of the role.
func (r Role) String() string {
	switch r {
	case RoleSender:
		return "sender"
	case RoleReceiver:
		return "receiver"
	default:
		return "unknown"
	}
}

// MarshalText encodes the role by name.
func (r Role) MarshalText() ([]byte, error) { return []byte(r.String()), nil }
