package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMessageQueries_OrderByInsertionOnTies(t *testing.T) {
	assert.Contains(t, findLatestMessageQuery, "ORDER BY created_at DESC, seq DESC")
	assert.Contains(t, listMessagesQuery, "ORDER BY created_at ASC, seq ASC")
}

func TestMigrations_AddMessageSeq(t *testing.T) {
	up, err := migrationsFS.ReadFile("migrations/000002_message_seq.up.sql")
	assert.NoError(t, err)
	assert.Contains(t, string(up), "seq BIGSERIAL")

	_, err = migrationsFS.ReadFile("migrations/000002_message_seq.down.sql")
	assert.NoError(t, err)
}
