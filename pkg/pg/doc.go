// Package pg bootstraps PostgreSQL access on top of pgx/v5.
//
// Connect opens a *pgxpool.Pool and retries until the database answers a
// ping. Migrate applies goose migrations from an fs.FS (usually an embed.FS
// shipped with the store package that owns the schema) over the same pool.
// The error helpers classify driver errors so store code can translate them
// into domain errors without importing pgconn everywhere.
//
//	pool, err := pg.Connect(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	if err := pg.Migrate(ctx, pool, pgstore.Migrations, cfg, log); err != nil {
//		return err
//	}
package pg
