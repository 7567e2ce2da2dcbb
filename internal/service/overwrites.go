package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/spec-kit/ticket-lifecycle/internal/domain"
	"github.com/spec-kit/ticket-lifecycle/internal/transport"
)

// overwritePlan is the set of overwrites to apply to a channel plus the
// targets whose explicit overwrites must be cleared.
type overwritePlan struct {
	set   []transport.Overwrite
	clear []string
}

func roleDeny(id string) transport.Overwrite {
	return transport.Overwrite{TargetID: id, Kind: transport.OverwriteRole, Deny: transport.PermView}
}

func roleAllow(id string) transport.Overwrite {
	return transport.Overwrite{TargetID: id, Kind: transport.OverwriteRole, Allow: transport.PermViewSend}
}

func memberAllow(id string) transport.Overwrite {
	return transport.Overwrite{TargetID: id, Kind: transport.OverwriteMember, Allow: transport.PermViewSend}
}

func memberDeny(id string) transport.Overwrite {
	return transport.Overwrite{TargetID: id, Kind: transport.OverwriteMember, Deny: transport.PermViewSend}
}

// openPlan hides the channel from everyone but the owner, bots and admins.
func openPlan(guild domain.Guild, ownerID string, roles roleSet) overwritePlan {
	plan := overwritePlan{set: []transport.Overwrite{
		roleDeny(guild.EveryoneRole()),
		memberAllow(ownerID),
		roleAllow(roles.Admin),
	}}
	if roles.Bots != "" {
		plan.set = append(plan.set, roleAllow(roles.Bots))
	}
	return plan
}

// closedPlan leaves only admins with access. Members with explicit access,
// the owner included, fall back to the category's permissions.
func closedPlan(guild domain.Guild, ownerID string, members []string, roles roleSet) overwritePlan {
	plan := overwritePlan{set: []transport.Overwrite{
		roleDeny(guild.EveryoneRole()),
		roleAllow(roles.Admin),
	}}
	plan.clear = append(plan.clear, ownerID)
	for _, id := range members {
		if id != ownerID {
			plan.clear = append(plan.clear, id)
		}
	}
	if roles.Bots != "" {
		plan.clear = append(plan.clear, roles.Bots)
	}
	return plan
}

// reopenPlan restores owner and admin access.
func reopenPlan(guild domain.Guild, ownerID string, roles roleSet) overwritePlan {
	return overwritePlan{set: []transport.Overwrite{
		roleDeny(guild.EveryoneRole()),
		memberAllow(ownerID),
		roleAllow(roles.Admin),
	}}
}

// applyOverwrites applies plan to the channel. Unknown targets are
// skipped; every other failure aborts.
func (s *TicketService) applyOverwrites(ctx context.Context, channelID string, plan overwritePlan) error {
	for _, ow := range plan.set {
		err := s.transport.SetOverwrite(ctx, channelID, ow)
		if errors.Is(err, transport.ErrUnknownOverwriteTarget) {
			s.logger.Warn("overwrite target unknown",
				zap.String("channel_id", channelID),
				zap.String("target_id", ow.TargetID))
			continue
		}
		if err != nil {
			return fmt.Errorf("set overwrite %s: %w", ow.TargetID, err)
		}
	}
	for _, id := range plan.clear {
		err := s.transport.DeleteOverwrite(ctx, channelID, id)
		if errors.Is(err, transport.ErrUnknownOverwriteTarget) {
			s.logger.Warn("overwrite target unknown",
				zap.String("channel_id", channelID),
				zap.String("target_id", id))
			continue
		}
		if err != nil {
			return fmt.Errorf("clear overwrite %s: %w", id, err)
		}
	}
	return nil
}
