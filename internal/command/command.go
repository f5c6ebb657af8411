// Package command parses the space-separated verb strings carried in a
// Command packet: list, kick, ban, unban, whitelist, unwhitelist,
// set_whitelist and set_allow_new_accounts.
package command

import (
	"fmt"
	"strings"
)

// Verb identifies a recognized command verb.
type Verb int

const (
	Unknown Verb = iota
	List
	Kick
	Ban
	Unban
	Whitelist
	Unwhitelist
	SetWhitelist
	SetAllowNewAccounts
)

// RequiresOperator reports whether v may only be issued by an operator.
func (v Verb) RequiresOperator() bool {
	return v != List && v != Unknown
}

// Parsed is one parsed Command(string) packet.
type Parsed struct {
	Verb Verb
	Arg  string // username, or "on"/"off" for the two toggles

	// RawVerb holds the original verb text when Verb == Unknown, for
	// the "Unknown command: <verb>" reply.
	RawVerb string
}

// On reports the boolean value of a parsed "on"/"off" toggle argument.
func (p Parsed) On() (bool, error) {
	switch p.Arg {
	case "on":
		return true, nil
	case "off":
		return false, nil
	default:
		return false, fmt.Errorf("command: expected \"on\" or \"off\", got %q", p.Arg)
	}
}

// Parse splits line into a verb and its arguments and validates arity.
// Unparseable lines and unrecognized verbs both produce a Parsed with
// Verb == Unknown rather than an error, matching the wire behavior: an
// unknown command is reported back to the requester, not dropped.
func Parse(line string) Parsed {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Parsed{Verb: Unknown, RawVerb: line}
	}
	verb, rest := fields[0], fields[1:]

	arity := func(n int) (string, bool) {
		if len(rest) != n {
			return "", false
		}
		if n == 0 {
			return "", true
		}
		return rest[0], true
	}

	switch verb {
	case "list":
		if _, ok := arity(0); ok {
			return Parsed{Verb: List}
		}
	case "kick":
		if arg, ok := arity(1); ok {
			return Parsed{Verb: Kick, Arg: arg}
		}
	case "ban":
		if arg, ok := arity(1); ok {
			return Parsed{Verb: Ban, Arg: arg}
		}
	case "unban":
		if arg, ok := arity(1); ok {
			return Parsed{Verb: Unban, Arg: arg}
		}
	case "whitelist":
		if arg, ok := arity(1); ok {
			return Parsed{Verb: Whitelist, Arg: arg}
		}
	case "unwhitelist":
		if arg, ok := arity(1); ok {
			return Parsed{Verb: Unwhitelist, Arg: arg}
		}
	case "set_whitelist":
		if arg, ok := arity(1); ok {
			return Parsed{Verb: SetWhitelist, Arg: arg}
		}
	case "set_allow_new_accounts":
		if arg, ok := arity(1); ok {
			return Parsed{Verb: SetAllowNewAccounts, Arg: arg}
		}
	}
	return Parsed{Verb: Unknown, RawVerb: verb}
}
