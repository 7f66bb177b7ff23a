package build

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	cli "github.com/urfave/cli/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"epubgen/state"
	"epubgen/verify"
)

// Verify checks consistency of existing book and prints its table of
// contents.
func Verify(ctx context.Context, cmd *cli.Command) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	env := state.EnvFromContext(ctx)
	log := env.Log.Named("verify")

	src := cmd.Args().Get(0)
	if len(src) == 0 {
		return errors.New("no book has been specified")
	}
	if cmd.Args().Len() > 1 {
		log.Warn("Malformed command line, too many books", zap.Strings("ignoring", cmd.Args().Slice()[1:]))
	}
	return check(src, os.Stdout, env, log)
}

func check(src string, out io.Writer, env *state.LocalEnv, log *zap.Logger) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("unable to read book: %w", err)
	}
	if err := env.Rpt.StoreCopy("book/"+filepath.Base(src), src); err != nil {
		log.Warn("Unable to store book in the report", zap.Error(err))
	}

	rpt, err := verify.Check(data, log)
	if rpt != nil && rpt.TOC != nil {
		fmt.Fprint(out, rpt.TOC.Print())
	}
	problems := multierr.Errors(err)
	for _, p := range problems {
		log.Warn("Problem found", zap.Error(p))
	}
	if len(problems) > 0 {
		return fmt.Errorf("book %s has %d problem(s)", src, len(problems))
	}

	log.Info("Book is consistent",
		zap.String("id", rpt.Identifier),
		zap.String("title", rpt.Title),
		zap.Int("entries", rpt.Entries),
		zap.Int("manifest", rpt.Manifest),
		zap.Int("spine", len(rpt.Spine)))
	return nil
}
