package policy

import (
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/spec-kit/ticket-lifecycle/internal/domain"
)

const (
	maxChannelName = 100
	closedPrefix   = "closed-"
)

// OpenName returns the channel name for an open ticket, e.g. "help-7-alice".
func OpenName(ticketType domain.TicketType, sequenceNumber int, user domain.Member) string {
	return buildName("", ticketType, sequenceNumber, user)
}

// CloseName returns the channel name for a closed ticket, e.g.
// "closed-help-7-alice".
func CloseName(ticketType domain.TicketType, sequenceNumber int, user domain.Member) string {
	return buildName(closedPrefix, ticketType, sequenceNumber, user)
}

// ClosedFrom derives the closed name from a stored open name, for owners
// that can no longer be resolved.
func ClosedFrom(openName string) string {
	name := closedPrefix + strings.TrimPrefix(openName, closedPrefix)
	if len(name) > maxChannelName {
		name = strings.TrimRight(name[:maxChannelName], "-")
	}
	return name
}

// OpenFrom is the inverse of ClosedFrom.
func OpenFrom(closedName string) string {
	return strings.TrimPrefix(closedName, closedPrefix)
}

func buildName(prefix string, ticketType domain.TicketType, sequenceNumber int, user domain.Member) string {
	head := prefix + string(ticketType) + "-" + strconv.Itoa(sequenceNumber) + "-"
	slug := slugify(user.Username)
	if slug == "" {
		slug = slugify(user.ID)
	}
	if slug == "" {
		slug = "user"
	}
	if room := maxChannelName - len(head); len(slug) > room {
		slug = strings.TrimRight(slug[:room], "-")
	}
	return head + slug
}

// slugify folds accents away and keeps [a-z0-9_-], collapsing other runs
// into a single dash.
func slugify(s string) string {
	// Chained transformers carry state, so build one per call.
	fold := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(fold, s)
	if err != nil {
		folded = s
	}
	folded = strings.ToLower(folded)

	var b strings.Builder
	dash := false
	for _, r := range folded {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
			dash = false
		default:
			if !dash && b.Len() > 0 {
				b.WriteByte('-')
				dash = true
			}
		}
	}
	return strings.TrimRight(b.String(), "-")
}
