package handlers

import (
	"context"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/ticket-lifecycle/internal/auth"
	"github.com/spec-kit/ticket-lifecycle/internal/domain"
	"github.com/spec-kit/ticket-lifecycle/internal/transport"
	apperrors "github.com/spec-kit/ticket-lifecycle/pkg/util/errorutil"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// bind parses the JSON body into req and validates it.
func bind(c *fiber.Ctx, req any) error {
	if err := c.BodyParser(req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if err := validate.Struct(req); err != nil {
		details := map[string]any{}
		if verrs, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range verrs {
				details[fe.Field()] = fe.Tag()
			}
		}
		return apperrors.NewValidationError("invalid payload", details)
	}
	return nil
}

// operator resolves the authenticated principal into a guild and actor.
// Elevation comes from the token's admin claim.
func operator(c *fiber.Ctx, members transport.Transport) (domain.Guild, domain.Actor, error) {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return domain.Guild{}, domain.Actor{}, apperrors.NewUnauthorized("authentication required")
	}
	guild := domain.Guild{ID: principal.GuildID}
	member := resolveMember(c.UserContext(), members, guild.ID, principal.UserID)
	return guild, domain.Actor{Member: member, Elevated: principal.Admin}, nil
}

func resolveMember(ctx context.Context, members transport.Transport, guildID, userID string) domain.Member {
	if m, err := members.Member(ctx, guildID, userID); err == nil {
		return *m
	}
	return domain.Member{ID: userID}
}

func parseInt(val string, def int) int {
	if val == "" {
		return def
	}
	parsed, err := strconv.Atoi(val)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}
