//go:build integration

package store

import (
	"testing"

	"github.com/stretchr/testify/suite"

	"relaygate/internal/platform/database"
	"relaygate/internal/platform/database/databasetest"
	"relaygate/pkg/testutil/containers"
)

func TestPostgresStore(t *testing.T) {
	pg := containers.NewPostgresContainer(t)
	db := databasetest.NewPostgres(t, pg.DSN)

	suite.Run(t, &StoreSuite{newStore: func() userStore {
		_, err := db.Exec(`TRUNCATE users`)
		if err != nil {
			t.Fatalf("truncate users: %v", err)
		}
		return NewSQL(db, database.NewRetrier())
	}})
}
