package migrate

import (
	"context"
	"fmt"

	"github.com/angelmondragon/coursepay-backend/pkg/config"
	"github.com/angelmondragon/coursepay-backend/pkg/db"
	"github.com/angelmondragon/coursepay-backend/pkg/logger"
)

// ApplyOnBoot brings a dev database up to date when auto-migrate is enabled.
// Other environments run cmd/migrate as a release step instead.
func ApplyOnBoot(ctx context.Context, cfg *config.Config, logg *logger.Logger, client *db.Client) error {
	if !cfg.App.IsDev() || !cfg.FeatureFlags.AutoMigrate {
		return nil
	}
	if err := Validate(DefaultDir); err != nil {
		return fmt.Errorf("invalid migrations: %w", err)
	}
	sqlDB, err := client.DB().DB()
	if err != nil {
		return err
	}
	runner, err := NewRunner(sqlDB, DefaultDir)
	if err != nil {
		return err
	}

	ctx = logg.WithField(ctx, "migrations_dir", DefaultDir)
	if err := runner.Up(ctx); err != nil {
		return err
	}
	logg.Info(ctx, "dev schema up to date")
	return nil
}
