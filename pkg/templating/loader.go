package templating

import (
	"context"
	"fmt"
	"time"

	"github.com/CTAG07/Sundew/pkg/resources"
	"golang.org/x/sync/errgroup"
)

// load registers every resource matched by patterns. Must be called with e.mu
// held for writing.
func (e *Engine) load(ctx context.Context, patterns []string) (LoadReport, error) {
	var report LoadReport
	if len(patterns) == 0 {
		e.logger.Debug("No template patterns configured")
		return report, nil
	}
	if e.provider == nil {
		e.logger.Warn("No resource provider configured, skipping template load")
		return report, nil
	}

	e.logger.Info("Loading templates...", "patterns", len(patterns))
	for _, pattern := range patterns {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		locations, err := resources.Expand(ctx, e.provider, pattern)
		if err != nil {
			e.logger.Error("failed to resolve template pattern", "pattern", pattern, "error", err)
			report.Failures = append(report.Failures, err)
		}
		if len(locations) == 0 {
			if err == nil {
				e.logger.Warn("No templates found matching pattern", "pattern", pattern)
			}
			continue
		}

		sources, readErrs := e.readAll(ctx, locations)
		if err = ctx.Err(); err != nil {
			return report, err
		}

		// Registration follows match order so later duplicates win.
		for i, location := range locations {
			if readErrs[i] != nil {
				e.logger.Warn("Skipping unreadable template", "location", location, "error", readErrs[i])
				report.Failures = append(report.Failures, readErrs[i])
				continue
			}
			name := resources.NameOf(location)
			if err = e.runtime.Load(name, sources[i]); err != nil {
				e.logger.Error("failed to compile template", "name", name, "location", location, "error", err)
				report.Failures = append(report.Failures, fmt.Errorf("failed to compile %s: %w", location, err))
				continue
			}
			e.templates[name] = TemplateInfo{Name: name, Location: location, LoadedAt: time.Now()}
			report.Loaded = append(report.Loaded, name)
		}
	}

	e.logger.Info("Loaded templates", "count", len(report.Loaded), "failures", len(report.Failures))
	return report, nil
}

// readAll reads locations concurrently. Results are indexed like locations.
func (e *Engine) readAll(ctx context.Context, locations []string) ([]string, []error) {
	sources := make([]string, len(locations))
	errs := make([]error, len(locations))

	limit := e.config.LoadConcurrency
	if limit < 1 {
		limit = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, location := range locations {
		i, location := i, location
		g.Go(func() error {
			sources[i], errs[i] = resources.ReadString(gctx, e.provider, location)
			return nil
		})
	}
	_ = g.Wait()
	return sources, errs
}
