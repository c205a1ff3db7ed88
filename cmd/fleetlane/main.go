package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/fleetlane/fleetlane/internal/clock"
	"github.com/fleetlane/fleetlane/internal/migration"
	"github.com/fleetlane/fleetlane/internal/observability"
	"github.com/fleetlane/fleetlane/internal/server"
	"github.com/fleetlane/fleetlane/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,
		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
