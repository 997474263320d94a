// Package app provides application-layer orchestration helpers shared by the
// CLI and the daemon.
package app

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/confquest/confquest/internal/domain"
)

// ErrNoRefDirective is returned when a grant file has grants but no REF.
var ErrNoRefDirective = errors.New("grant file: missing REF directive")

// GrantFile is a batch of organizer grants, e.g. prizes for a stage contest.
//
//	REF workshop-2026-03-02
//	REASON "Workshop winners"
//	GRANT 1001 points 50
//	GRANT 1002 points 30 "runner-up"
//
// Every grant's idempotency ref derives from REF, so re-applying the file
// credits nobody twice.
type GrantFile struct {
	Ref    string
	Reason string
	Note   string
	Grants []domain.Grant
}

// ParseGrantFile parses a grant file from a reader.
// Supports directives: REF, REASON, NOTE, GRANT. Multi-line NOTE values use
// triple-quote delimiters (""").
func ParseGrantFile(r io.Reader) (*GrantFile, error) {
	gf := &GrantFile{}

	scanner := bufio.NewScanner(r)
	var inNote bool
	lineNo := 0

	for scanner.Scan() {
		lineNo++
		line := scanner.Text()

		if inNote {
			if strings.TrimSpace(line) == `"""` {
				inNote = false
				continue
			}
			gf.Note += line + "\n"
			continue
		}

		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		directive, value, ok := strings.Cut(line, " ")
		if !ok {
			return nil, fmt.Errorf("%w: line %d: %q has no value", domain.ErrInvalidInput, lineNo, line)
		}
		value = strings.TrimSpace(value)

		switch strings.ToUpper(directive) {
		case "REF":
			gf.Ref = value
		case "REASON":
			gf.Reason = unquote(value)
		case "NOTE":
			if strings.HasPrefix(value, `"""`) {
				gf.Note = ""
				inNote = true
			} else {
				gf.Note = unquote(value)
			}
		case "GRANT":
			g, err := parseGrant(value)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNo, err)
			}
			gf.Grants = append(gf.Grants, g)
		default:
			// Unknown directives are ignored for forward compatibility
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read grant file: %w", err)
	}
	if inNote {
		return nil, fmt.Errorf("%w: unterminated NOTE block", domain.ErrInvalidInput)
	}
	if len(gf.Grants) > 0 && gf.Ref == "" {
		return nil, ErrNoRefDirective
	}

	seen := make(map[string]bool, len(gf.Grants))
	for i := range gf.Grants {
		g := &gf.Grants[i]
		g.Ref = fmt.Sprintf("batch:%s:%s:%s", gf.Ref, g.UserID, g.Field)
		if seen[g.Ref] {
			return nil, fmt.Errorf("%w: user %s has two %s grants", domain.ErrInvalidInput, g.UserID, g.Field)
		}
		seen[g.Ref] = true
		if g.Reason == "" {
			g.Reason = gf.Reason
		}
	}
	return gf, nil
}

// parseGrant parses "user field delta [reason]" from a GRANT directive.
func parseGrant(value string) (domain.Grant, error) {
	parts := strings.SplitN(value, " ", 4)
	if len(parts) < 3 {
		return domain.Grant{}, fmt.Errorf("%w: invalid GRANT format: %q", domain.ErrInvalidInput, value)
	}
	field := domain.BalanceField(strings.TrimSpace(parts[1]))
	if !field.Valid() {
		return domain.Grant{}, fmt.Errorf("%w: unknown balance field %q", domain.ErrInvalidInput, parts[1])
	}
	delta, err := strconv.ParseInt(strings.TrimSpace(parts[2]), 10, 64)
	if err != nil {
		return domain.Grant{}, fmt.Errorf("%w: delta %q: %v", domain.ErrInvalidInput, parts[2], err)
	}
	g := domain.Grant{
		UserID: strings.TrimSpace(parts[0]),
		Field:  field,
		Delta:  delta,
	}
	if len(parts) == 4 {
		g.Reason = unquote(strings.TrimSpace(parts[3]))
	}
	return g, nil
}

// unquote removes surrounding double quotes if present.
func unquote(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}
