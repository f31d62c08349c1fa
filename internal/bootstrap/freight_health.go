package bootstrap

import (
	"context"
	"database/sql"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.mongodb.org/mongo-driver/mongo"
)

type mongoPinger struct{ client *mongo.Client }

func (p mongoPinger) Ping(ctx context.Context) error { return p.client.Ping(ctx, nil) }

type neo4jPinger struct{ driver neo4j.DriverWithContext }

func (p neo4jPinger) Ping(ctx context.Context) error { return p.driver.VerifyConnectivity(ctx) }

func sqlDB(deps *Dependencies) *sql.DB {
	if deps.SQLDB == nil {
		return nil
	}
	return deps.SQLDB.DB
}
