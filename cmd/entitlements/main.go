package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/pairwell/entitlements/internal/catalog"
	"github.com/pairwell/entitlements/internal/clock"
	"github.com/pairwell/entitlements/internal/config"
	"github.com/pairwell/entitlements/internal/entitlement"
	"github.com/pairwell/entitlements/internal/grant"
	"github.com/pairwell/entitlements/internal/migration"
	"github.com/pairwell/entitlements/internal/observability"
	"github.com/pairwell/entitlements/internal/profileflag"
	"github.com/pairwell/entitlements/internal/redisconn"
	"github.com/pairwell/entitlements/internal/scheduler"
	"github.com/pairwell/entitlements/internal/server"
	"github.com/pairwell/entitlements/internal/subscription"
	"github.com/pairwell/entitlements/internal/userlock"
	"github.com/pairwell/entitlements/internal/webhook"
	"github.com/pairwell/entitlements/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		redisconn.Module,
		migration.Module,

		// Functional domains
		catalog.Module,
		subscription.Module,
		grant.Module,
		entitlement.Module,
		userlock.Module,
		profileflag.Module,
		webhook.Module,
		scheduler.Module,

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
