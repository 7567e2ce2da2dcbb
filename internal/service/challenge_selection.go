package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/spec-kit/ticket-lifecycle/internal/domain"
	"github.com/spec-kit/ticket-lifecycle/internal/transport"
)

// Platform ceilings for one select menu.
const (
	maxSelectOptions = 25
	maxLabelLen      = 25
)

// errSelectionAbandoned stops a challenge prompt whose ticket went away.
var errSelectionAbandoned = errors.New("challenge selection abandoned")

// runSelection asks the ticket channel which challenge it is about and
// records the choice as the channel topic. A nil challenge with a nil
// error means there was nothing to choose from.
func (s *TicketService) runSelection(ctx context.Context, channelID string) (*domain.Challenge, error) {
	challenges, err := s.store.ListChallenges(ctx)
	if err != nil {
		return nil, fmt.Errorf("list challenges: %w", err)
	}
	if len(challenges) == 0 {
		_, err := s.transport.SendMessage(ctx, channelID, transport.OutgoingMessage{
			Content: "There are no released challenges",
		})
		return nil, err
	}

	candidates := challenges
	if len(challenges) >= maxSelectOptions {
		category, err := s.prompt(ctx, channelID, transport.SelectPrompt{
			Content:     "Which category is your challenge in?",
			Placeholder: "Select a category",
			Options:     categoryOptions(challenges),
		})
		if err != nil {
			return nil, err
		}
		candidates = inCategory(challenges, category)
	}

	picked, err := s.prompt(ctx, channelID, transport.SelectPrompt{
		Content:     "Which challenge do you need help with?",
		Placeholder: "Select a challenge",
		Options:     challengeOptions(candidates),
	})
	if err != nil {
		return nil, err
	}
	challenge := findChallenge(candidates, picked)
	if challenge == nil {
		return nil, fmt.Errorf("unknown challenge %q", picked)
	}

	topic := "this ticket is about " + challenge.String()
	if err := s.transport.EditChannel(ctx, channelID, transport.ChannelEdit{Topic: &topic}); err != nil {
		return nil, fmt.Errorf("set topic: %w", err)
	}
	return challenge, nil
}

// prompt re-issues the selection after each timeout until it is answered,
// the attempt budget runs out, the channel disappears or the ticket is
// no longer open.
func (s *TicketService) prompt(ctx context.Context, channelID string, p transport.SelectPrompt) (string, error) {
	if p.Timeout <= 0 {
		p.Timeout = s.cfg.PromptTimeout
	}
	for attempt := 1; ; attempt++ {
		choice, err := s.transport.Prompt(ctx, channelID, p)
		if err == nil {
			return choice, nil
		}
		if errors.Is(err, transport.ErrNotFound) {
			return "", errSelectionAbandoned
		}
		if !errors.Is(err, transport.ErrPromptTimeout) {
			return "", err
		}
		if limit := s.cfg.PromptMaxAttempts; limit > 0 && attempt >= limit {
			return "", fmt.Errorf("%w after %d attempts", transport.ErrPromptTimeout, attempt)
		}
		if !s.stillOpen(ctx, channelID) {
			return "", errSelectionAbandoned
		}
		s.logger.Debug("re-issuing challenge prompt",
			zap.String("channel_id", channelID), zap.Int("attempt", attempt+1))
	}
}

func (s *TicketService) stillOpen(ctx context.Context, channelID string) bool {
	if ctx.Err() != nil {
		return false
	}
	if _, err := s.transport.Channel(ctx, channelID); err != nil {
		return false
	}
	status, err := s.store.GetStatus(ctx, channelID)
	return err == nil && status == domain.TicketStatusOpen
}

// truncateLabel caps a label at maxLabelLen characters.
func truncateLabel(title string) string {
	if utf8.RuneCountInString(title) <= maxLabelLen {
		return title
	}
	return string([]rune(title)[:maxLabelLen-2]) + ".."
}

func categoryOptions(challenges []domain.Challenge) []transport.SelectOption {
	seen := make(map[string]struct{})
	var opts []transport.SelectOption
	for _, c := range challenges {
		if _, ok := seen[c.Category]; ok {
			continue
		}
		seen[c.Category] = struct{}{}
		opts = append(opts, transport.SelectOption{Label: truncateLabel(c.Category), Value: c.Category})
		if len(opts) == maxSelectOptions {
			break
		}
	}
	return opts
}

func inCategory(challenges []domain.Challenge, category string) []domain.Challenge {
	var out []domain.Challenge
	for _, c := range challenges {
		if c.Category == category {
			out = append(out, c)
		}
	}
	return out
}

func challengeOptions(challenges []domain.Challenge) []transport.SelectOption {
	opts := make([]transport.SelectOption, 0, min(len(challenges), maxSelectOptions))
	for _, c := range challenges {
		opts = append(opts, transport.SelectOption{
			Label:       truncateLabel(c.Title),
			Value:       strconv.Itoa(c.ID),
			Description: c.Category,
		})
		if len(opts) == maxSelectOptions {
			break
		}
	}
	return opts
}

func findChallenge(challenges []domain.Challenge, value string) *domain.Challenge {
	for i := range challenges {
		if strconv.Itoa(challenges[i].ID) == value {
			return &challenges[i]
		}
	}
	return nil
}
