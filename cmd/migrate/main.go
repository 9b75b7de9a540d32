package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

var schema = []string{
	`create table if not exists identities (
		value         text primary key,
		category      text not null,
		metadata      jsonb not null default '{}'::jsonb,
		created_at    timestamptz not null,
		access_count  bigint not null default 0,
		last_accessed timestamptz
	)`,
	`create index if not exists identities_category_idx on identities (category)`,
	`create table if not exists tokens (
		value             text primary key,
		source_id         text not null references identities (value),
		target_id         text not null references identities (value),
		relationship_type text not null,
		metadata          jsonb not null default '{}'::jsonb,
		created_at        timestamptz not null,
		expires_at        timestamptz,
		status            text not null,
		hash              text not null
	)`,
	`create index if not exists tokens_source_idx on tokens (source_id)`,
	`create index if not exists tokens_target_idx on tokens (target_id)`,
	`create index if not exists tokens_type_idx on tokens (relationship_type)`,
}

func main() {
	log.SetFlags(0)
	dsn := flag.String("dsn", os.Getenv("TOKENLINK_PG_DSN"), "PostgreSQL DSN")
	flag.Parse()

	if *dsn == "" {
		log.Fatal("missing DSN: provide via -dsn or TOKENLINK_PG_DSN")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := sql.Open("pgx", *dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			log.Fatalf("apply schema: %v", err)
		}
	}
	log.Println("schema up to date")
}
