package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/qolzam/dbtable/dbc"
	dbErrors "github.com/qolzam/dbtable/errors"
	"github.com/qolzam/dbtable/filter"
	platformconfig "github.com/qolzam/dbtable/internal/platform/config"
	"github.com/qolzam/dbtable/internal/pkg/log"
	"github.com/qolzam/dbtable/observability"
	"github.com/qolzam/dbtable/schema"
	"github.com/qolzam/dbtable/table"
)

var userSchema = schema.MustNew([]schema.Field{
	schema.Int("id"),
	schema.String("name").Default(""),
	schema.Time("created_time"),
	schema.Time("modified_time"),
	schema.Bool("deleted").Default(false),
}, schema.WithPrimaryKey("id"), schema.WithHiddenFlag("deleted"))

var createUsers = map[dbc.Dialect]string{
	dbc.MySQL: `CREATE TABLE users (
		id int(11) NOT NULL AUTO_INCREMENT,
		name varchar(64) NOT NULL,
		created_time datetime NOT NULL DEFAULT CURRENT_TIMESTAMP,
		modified_time datetime NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
		deleted boolean DEFAULT false,
		PRIMARY KEY (id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	dbc.Postgres: `CREATE TABLE users (
		id SERIAL PRIMARY KEY,
		name varchar(64) NOT NULL,
		created_time timestamptz NOT NULL DEFAULT now(),
		modified_time timestamptz NOT NULL DEFAULT now(),
		deleted boolean DEFAULT false
	)`,
	dbc.SQLite: `CREATE TABLE users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		created_time DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		modified_time DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		deleted BOOLEAN DEFAULT 0
	)`,
}

func main() {
	cfg, err := platformconfig.LoadFromEnv()
	if err != nil {
		fatal("Failed to load platform config: %v", err)
	}

	registry := dbc.NewRegistry()
	defer registry.Close()
	registry.Set(cfg.Database.Name, cfg.DBC())

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	conn, err := registry.Get(ctx, cfg.Database.Name)
	if err != nil {
		fatal("Failed to connect: %v", err)
	}

	opts := append(cfg.TableOptions(), table.WithMetrics(observability.Global()))
	users, err := table.New("users", userSchema, conn, opts...)
	if err != nil {
		fatal("Failed to bind table: %v", err)
	}
	log.Info("%s", users)

	if err := walkThrough(ctx, users, conn.Dialect()); err != nil {
		fatal("walk-through failed: %v", err)
	}

	snap := observability.Global().Snapshot()
	log.Info("statements=%d failed=%d avg=%s success=%.1f%%", snap.Total, snap.Failed, snap.AverageDuration, snap.SuccessRate)

	if addr := os.Getenv("DEMO_HTTP_ADDR"); addr != "" {
		serve(addr, users)
	}
}

// walkThrough drives the gateway through a find/add/update/upsert/query cycle.
func walkThrough(ctx context.Context, users *table.Table, dialect dbc.Dialect) error {
	existed, err := users.Exist(ctx)
	if err != nil {
		return err
	}
	if !existed {
		if _, err := users.Exec(ctx, createUsers[dialect]); err != nil {
			return err
		}
		log.Info("create table<users>")
	}

	u := map[string]interface{}{"name": fmt.Sprintf("tester_%d", time.Now().UnixNano())}
	cond := filter.Condition(u)

	if row, err := users.FindOne(ctx, cond, nil); err != nil || row != nil {
		return fmt.Errorf("expected no user before insert, got %v (%v)", row, err)
	}

	res, err := users.Add(ctx, u)
	if err != nil {
		return err
	}
	log.Info("add user, id: %d", res.InsertID)

	found, err := users.FindOne(ctx, cond, nil)
	if err != nil {
		return err
	}
	log.Info("find user\n%s", log.Dump(found))

	byID, err := users.GetOr404(ctx, filter.Condition{"id": found["id"]}, nil)
	if err != nil {
		return err
	}
	if same, err := userSchema.Equal(found, byID); err != nil || !same {
		return fmt.Errorf("lookup by id disagrees: %v (%v)", byID, err)
	}

	all, err := users.Find(ctx, filter.Condition{}, nil)
	if err != nil {
		return err
	}
	total, err := users.Count(ctx, filter.Condition{}, false)
	if err != nil {
		return err
	}
	if int64(len(all)) != total {
		return fmt.Errorf("find returned %d rows, count says %d", len(all), total)
	}

	n, err := users.Update(ctx, cond, map[string]interface{}{"deleted": true}, false)
	if err != nil {
		return err
	}
	log.Info("count of updated rows: %d", n)

	hidden, err := users.FindOne(ctx, cond, &table.FindOptions{IncludeDeleted: true})
	if err != nil {
		return err
	}
	if deleted, _ := hidden["deleted"].(bool); !deleted {
		return fmt.Errorf("user %v is not marked deleted", hidden["id"])
	}

	if total >= 2 {
		half := int(total / 2)
		page, err := users.Find(ctx, filter.Condition{}, &table.FindOptions{Limit: filter.Top(half)})
		if err != nil {
			return err
		}
		log.Info("first %d of %d users: %d rows", half, total, len(page))
	}

	up, err := users.Upsert(ctx, filter.Condition{"id": 1}, map[string]interface{}{"name": "admin", "deleted": false})
	if err != nil {
		return err
	}
	log.Info("%s [%d] user<id:1> as admin\n%s", up.Op, up.State.AffectedRows, log.Dump(up.Data))

	rows, err := users.Query(ctx, table.Query{
		Opts: filter.Opts{
			filter.Ge:   {"id": 2},
			filter.Le:   {"id": 6},
			filter.Eq:   {"deleted": false},
			filter.In:   {"id": []int{1, 2, 4, 5, 7}},
			filter.Like: {"name": "tester%"},
		},
		Order: filter.OrderByDesc("id"),
	})
	if err != nil {
		return err
	}
	log.Info("query returned %d rows", len(rows))
	return nil
}

// serve exposes read-only lookups and the statement metrics over HTTP.
func serve(addr string, users *table.Table) {
	app := fiber.New()

	app.Get("/users/:id", func(c *fiber.Ctx) error {
		id, err := c.ParamsInt("id")
		if err != nil {
			return dbErrors.HandleError(c, dbErrors.Validation("invalid id %q", c.Params("id")))
		}
		row, err := users.GetOr404(c.UserContext(), filter.Condition{"id": id}, nil)
		if err != nil {
			return dbErrors.HandleError(c, err)
		}
		return c.JSON(row)
	})

	app.Get("/metrics", func(c *fiber.Ctx) error {
		return c.JSON(users.Metrics().Snapshot())
	})

	log.Info("Starting demo server on %s", addr)
	if err := app.Listen(addr); err != nil {
		fatal("server stopped: %v", err)
	}
}

func fatal(format string, a ...interface{}) {
	log.Error(format, a...)
	os.Exit(1)
}
