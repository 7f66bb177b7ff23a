// Package build implements program commands: assembling book from manifest
// and checking existing books.
package build

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	cli "github.com/urfave/cli/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"epubgen/book"
	"epubgen/fetch"
	"epubgen/manifest"
	"epubgen/state"
)

// Run builds book described by manifest: SOURCE [DESTINATION].
func Run(ctx context.Context, cmd *cli.Command) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}

	env := state.EnvFromContext(ctx)
	log := env.Log.Named("build")

	src := cmd.Args().Get(0)
	if len(src) == 0 {
		return errors.New("no book manifest has been specified")
	}
	if src, err = filepath.Abs(src); err != nil {
		return err
	}

	dst := cmd.Args().Get(1)
	if len(dst) == 0 {
		if dst, err = os.Getwd(); err != nil {
			return fmt.Errorf("unable to get working directory: %w", err)
		}
	}
	if dst, err = filepath.Abs(dst); err != nil {
		return err
	}
	if cmd.Args().Len() > 2 {
		log.Warn("Malformed command line, too many destinations", zap.Strings("ignoring", cmd.Args().Slice()[2:]))
	}

	env.Overwrite = cmd.Bool("overwrite")

	log.Info("Processing starting", zap.String("source", src), zap.String("destination", dst))
	defer func(start time.Time) {
		log.Info("Processing completed", zap.Duration("elapsed", time.Since(start)))
	}(time.Now())

	out, err := assemble(ctx, src, dst, env, log)
	if err != nil {
		return err
	}
	log.Info("Book written", zap.String("file", out))
	return nil
}

// prepareFetcher returns fetcher according to configuration and function to
// release it.
func prepareFetcher(env *state.LocalEnv, log *zap.Logger) (fetch.Fetcher, func() error, error) {
	var f fetch.Fetcher = fetch.NewHTTP(&env.Cfg.Fetch, log)
	if len(env.Cfg.Fetch.CachePath) == 0 {
		return f, func() error { return nil }, nil
	}
	c, err := fetch.NewCache(env.Cfg.Fetch.CachePath, f, log)
	if err != nil {
		return nil, nil, fmt.Errorf("unable to open fetch cache: %w", err)
	}
	return c, c.Close, nil
}

func assemble(ctx context.Context, src, dst string, env *state.LocalEnv, log *zap.Logger) (out string, err error) {
	m, err := manifest.Load(src)
	if err != nil {
		return "", err
	}
	if err := env.Rpt.StoreCopy("manifest/"+filepath.Base(src), src); err != nil {
		log.Warn("Unable to store manifest in the report", zap.Error(err))
	}

	out = buildOutputPath(m.Title, src, dst, env)
	if _, err := os.Stat(out); err == nil {
		if !env.Overwrite {
			return "", fmt.Errorf("output file already exists: %s", out)
		}
		log.Warn("Overwriting existing file", zap.String("file", out))
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("unable to check destination: %w", err)
	}

	f, closeFetcher, err := prepareFetcher(env, log)
	if err != nil {
		return "", err
	}
	defer func() {
		if er := closeFetcher(); er != nil {
			err = multierr.Append(err, er)
		}
	}()

	doc := book.New(
		book.WithFetcher(f),
		book.WithLogger(log),
		book.WithSecureContext(env.Cfg.Document.SecureContext),
		book.WithConcurrency(env.Cfg.Fetch.Concurrency),
		book.WithFixZip(env.Cfg.Document.FixZip),
		book.WithLanguage(env.Cfg.Document.Language),
		book.WithPlaceholders(book.Placeholders{
			Title:       env.Cfg.Document.Placeholders.Title,
			Author:      env.Cfg.Document.Placeholders.Author,
			Description: env.Cfg.Document.Placeholders.Description,
		}),
	)

	if err := m.Apply(ctx, doc, f, log); err != nil {
		return "", fmt.Errorf("unable to assemble book: %w", err)
	}
	data, err := doc.Finalize(ctx)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(filepath.Dir(out), 0755); err != nil {
		return "", fmt.Errorf("unable to create destination directory: %w", err)
	}
	if err := os.WriteFile(out, data, 0644); err != nil {
		return "", fmt.Errorf("unable to write book: %w", err)
	}
	if err := env.Rpt.StoreCopy("result/"+filepath.Base(out), out); err != nil {
		log.Warn("Unable to store result in the report", zap.Error(err))
	}
	return out, nil
}
