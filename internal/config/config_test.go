package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/ticket-lifecycle/internal/domain"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("TICKET_ADMIN_ROLE", "Staff")
	t.Setenv("STORE_DRIVER", "sqlite")
	t.Setenv("TICKET_OPTIONS_FILE", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "Staff", cfg.Ticketing.AdminRole)
	assert.Equal(t, 5*time.Second, cfg.Ticketing.DeleteGrace)
	assert.Equal(t, 49, cfg.Ticketing.CategoryCapacity)
	assert.Equal(t, 3, cfg.Ticketing.Types[domain.TicketTypeHelp].Limit)
	assert.Equal(t, "Closed Tickets", cfg.Ticketing.ClosedCategory)
	assert.Equal(t, 30*time.Second, cfg.App.RequestTimeout())
}

func TestLoadMergesTypeOptions(t *testing.T) {
	path := writeFile(t, "types.yaml", `
help:
  limit: 5
misc:
  category: Other Tickets
  welcome: Hi there
`)
	t.Setenv("STORE_DRIVER", "sqlite")
	t.Setenv("TICKET_OPTIONS_FILE", path)

	cfg, err := Load()
	require.NoError(t, err)
	help := cfg.Ticketing.Types[domain.TicketTypeHelp]
	assert.Equal(t, 5, help.Limit)
	assert.Equal(t, "Help Tickets", help.Category)
	misc := cfg.Ticketing.Types[domain.TicketTypeMisc]
	assert.Equal(t, "Other Tickets", misc.Category)
	assert.Equal(t, "Hi there", misc.Welcome)
	assert.Equal(t, 1, misc.Limit)
}

func TestLoadTypeOptionsRejectsUnknownType(t *testing.T) {
	path := writeFile(t, "types.yaml", "bogus:\n  limit: 1\n")
	_, err := LoadTypeOptions(path)
	assert.ErrorIs(t, err, domain.ErrInvalidTicketType)
}

func TestValidate(t *testing.T) {
	t.Setenv("STORE_DRIVER", "postgres")
	t.Setenv("POSTGRES_DSN", "")
	t.Setenv("TICKET_OPTIONS_FILE", "")
	_, err := Load()
	assert.ErrorContains(t, err, "POSTGRES_DSN")

	t.Setenv("STORE_DRIVER", "mysql")
	_, err = Load()
	assert.ErrorContains(t, err, "invalid config")
}

func TestTypeOptionsValidate(t *testing.T) {
	set := DefaultTypeOptions()
	require.NoError(t, set.Validate())

	delete(set, domain.TicketTypeSubmit)
	assert.ErrorContains(t, set.Validate(), "submit not configured")

	broken := DefaultTypeOptions().Merge(TypeOptionsSet{})
	broken[domain.TicketTypeMisc] = TypeOptions{Category: "Misc", Limit: 0}
	assert.ErrorContains(t, broken.Validate(), "misc has no limit")
}

func TestTranscriptBaseURL(t *testing.T) {
	assert.Equal(t, "http://localhost:8080", TranscriptConfig{Host: "http://localhost", Port: "8080"}.BaseURL())
	assert.Equal(t, "https://t.example", TranscriptConfig{Host: "https://t.example"}.BaseURL())
}
