package bot

import (
	"fmt"
	"strings"

	"homedash/internal/model"
)

// ParseReadArgs parses arguments for /read.
// Format: <forms|mail|cards> <id>
func ParseReadArgs(args string) (model.Domain, string, error) {
	parts := strings.Fields(args)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("usage: /read <forms|mail|cards> <id>")
	}
	d, ok := model.ParseDomain(strings.ToLower(parts[0]))
	if !ok {
		return "", "", fmt.Errorf("unknown domain %q, use: forms, mail, cards", parts[0])
	}
	return d, parts[1], nil
}

// ParseIDArg extracts a single opaque id from a command argument string.
func ParseIDArg(args string) (string, error) {
	parts := strings.Fields(args)
	if len(parts) == 0 {
		return "", fmt.Errorf("id is required")
	}
	return parts[0], nil
}

// ParseTrelloArgs extracts a Trello API key and token.
func ParseTrelloArgs(args string) (string, string, error) {
	parts := strings.Fields(args)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("usage: /trello <key> <token>")
	}
	return parts[0], parts[1], nil
}

// ParseListIDs splits a comma or space separated list of ids, dropping
// blanks and duplicates while keeping order.
func ParseListIDs(args string) []string {
	fields := strings.FieldsFunc(args, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n'
	})
	seen := make(map[string]bool, len(fields))
	var ids []string
	for _, f := range fields {
		if seen[f] {
			continue
		}
		seen[f] = true
		ids = append(ids, f)
	}
	return ids
}
