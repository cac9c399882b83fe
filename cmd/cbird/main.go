// Command cbird is the CLI entrypoint over the core: add, remove,
// similar, similar-to, vacuum, and dups subcommands against an index
// rooted at CBIRD_INDEX_DIR (default: the working directory).
//
// Grounded on the teacher's cmd/repurposer-cli/main.go: no CLI
// framework appears anywhere in the example pack, so subcommand
// dispatch is hand-rolled over os.Args exactly the way that file does
// it, with a flag.FlagSet per subcommand for its options and
// log.Fatalf for fatal errors (DESIGN.md explains the stdlib choice).
package main

import (
	"context"
	"flag"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"log"
	"os"
	"path/filepath"

	"github.com/cbird/core/internal/config"
	"github.com/cbird/core/internal/engine"
	"github.com/cbird/core/internal/logger"
	"github.com/cbird/core/internal/model"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "add":
		runAdd(args)
	case "remove":
		runRemove(args)
	case "similar":
		runSimilar(args)
	case "similar-to":
		runSimilarTo(args)
	case "vacuum":
		runVacuum(args)
	case "dups":
		runDups(args)
	case "neg-add":
		runNegAdd(args)
	case "neg-list":
		runNegList(args)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "cbird: unknown command %q\n\n", cmd)
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Println("cbird - content-based duplicate media finder")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  cbird add <file>...          index one or more media files")
	fmt.Println("  cbird remove <id>...         remove media by id")
	fmt.Println("  cbird similar [flags]        find duplicate/near-duplicate groups")
	fmt.Println("  cbird similar-to <file>      find matches for one file")
	fmt.Println("  cbird vacuum                 reclaim store space, sweep orphan sidecars")
	fmt.Println("  cbird dups                   list exact (md5) duplicate groups")
	fmt.Println("  cbird neg-add <md5a> <md5b>  never report this pair as a match again")
	fmt.Println("  cbird neg-list                list recorded negative-match pairs")
	fmt.Println()
	fmt.Println("Environment:")
	fmt.Println("  CBIRD_INDEX_DIR  index root directory (default: working directory)")
}

func loadConfig() config.Config {
	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("cbird: load config: %v", err)
	}
	return cfg
}

func openEngine(cfg config.Config) *engine.Engine {
	lg, err := logger.New(cfg.Log.Level)
	if err != nil {
		log.Fatalf("cbird: build logger: %v", err)
	}
	eng, err := engine.Open(cfg, lg)
	if err != nil {
		log.Fatalf("cbird: open index: %v", err)
	}
	return eng
}

func runAdd(args []string) {
	fs := flag.NewFlagSet("add", flag.ExitOnError)
	skipFrames := fs.Int("skip-frames", 2, "video head/tail frames to discard per end")
	fs.Parse(args)

	if fs.NArg() == 0 {
		log.Fatal("cbird add: at least one file path is required")
	}

	cfg := loadConfig()
	cfg.Search.SkipFrames = *skipFrames
	eng := openEngine(cfg)
	defer eng.Close()

	for _, path := range fs.Args() {
		if err := addOne(eng, cfg, path); err != nil {
			fmt.Fprintf(os.Stderr, "cbird add: %s: %v\n", path, err)
			os.Exit(1)
		}
		fmt.Printf("added %s\n", path)
	}
}

func addOne(eng *engine.Engine, cfg config.Config, path string) error {
	rel, err := filepath.Rel(cfg.Index.Dir, path)
	if err != nil {
		rel = path
	}

	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	switch mediaTypeOf(path) {
	case model.TypeImage:
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		img, _, err := image.Decode(f)
		if err != nil {
			return fmt.Errorf("decode image: %w", err)
		}
		hash, err := engine.Hash(img)
		if err != nil {
			return fmt.Errorf("compute hash: %w", err)
		}
		bounds := img.Bounds()
		rec := model.MediaRecord{
			Type:         model.TypeImage,
			RelativePath: rel,
			Width:        bounds.Dx(),
			Height:       bounds.Dy(),
			OriginalSize: info.Size(),
		}
		rec.SetHash(hash)
		return eng.Add(rec, nil)

	case model.TypeVideo:
		return eng.AddVideoFile(context.Background(), rel, info.Size())

	default:
		return fmt.Errorf("unrecognized media type for %s", path)
	}
}

func mediaTypeOf(path string) model.MediaType {
	switch filepath.Ext(path) {
	case ".jpg", ".jpeg", ".png", ".gif", ".bmp", ".webp":
		return model.TypeImage
	case ".mp4", ".mkv", ".avi", ".mov", ".webm":
		return model.TypeVideo
	default:
		return 0
	}
}

func runRemove(args []string) {
	fs := flag.NewFlagSet("remove", flag.ExitOnError)
	fs.Parse(args)
	if fs.NArg() == 0 {
		log.Fatal("cbird remove: at least one id is required")
	}

	cfg := loadConfig()
	eng := openEngine(cfg)
	defer eng.Close()

	for _, arg := range fs.Args() {
		var id uint32
		if _, err := fmt.Sscanf(arg, "%d", &id); err != nil {
			fmt.Fprintf(os.Stderr, "cbird remove: invalid id %q\n", arg)
			os.Exit(1)
		}
		if err := eng.Remove(id); err != nil {
			fmt.Fprintf(os.Stderr, "cbird remove: id %d: %v\n", id, err)
			os.Exit(1)
		}
		fmt.Printf("removed %d\n", id)
	}
}

func runSimilar(args []string) {
	fs := flag.NewFlagSet("similar", flag.ExitOnError)
	threshold := fs.Int("dct-threshold", 0, "hamming distance cutoff (0 = use default)")
	minMatches := fs.Int("min-matches", 0, "discard groups with this many candidates or fewer")
	filterParent := fs.Bool("filter-parent", false, "discard groups confined to one directory")
	merge := fs.Bool("merge-groups", false, "transitively merge overlapping groups")
	expand := fs.Bool("expand-groups", false, "flatten groups into needle/candidate pairs")
	fs.Parse(args)

	cfg := loadConfig()
	eng := openEngine(cfg)
	defer eng.Close()

	params := model.DefaultSearchParams()
	if *threshold > 0 {
		params.DctThreshold = *threshold
	}
	params.FilterSelf = true
	params.MinMatches = *minMatches
	params.FilterParent = *filterParent
	params.MergeGroups = *merge
	params.ExpandGroups = *expand

	groups, err := eng.Similar(context.Background(), params)
	if err != nil {
		log.Fatalf("cbird similar: %v", err)
	}
	printGroups(groups)
}

func runSimilarTo(args []string) {
	fs := flag.NewFlagSet("similar-to", flag.ExitOnError)
	threshold := fs.Int("dct-threshold", 0, "hamming distance cutoff (0 = use default)")
	fs.Parse(args)

	if fs.NArg() != 1 {
		log.Fatal("cbird similar-to: exactly one file path is required")
	}

	cfg := loadConfig()
	eng := openEngine(cfg)
	defer eng.Close()

	params := model.DefaultSearchParams()
	if *threshold > 0 {
		params.DctThreshold = *threshold
	}
	params.FilterSelf = true

	rel, err := filepath.Rel(cfg.Index.Dir, fs.Arg(0))
	if err != nil {
		rel = fs.Arg(0)
	}

	groups, err := eng.SimilarTo(context.Background(), rel, params)
	if err != nil {
		log.Fatalf("cbird similar-to: %v", err)
	}
	printGroups(groups)
}

func runVacuum(args []string) {
	fs := flag.NewFlagSet("vacuum", flag.ExitOnError)
	fs.Parse(args)

	cfg := loadConfig()
	eng := openEngine(cfg)
	defer eng.Close()

	if err := eng.Vacuum(); err != nil {
		log.Fatalf("cbird vacuum: %v", err)
	}
	fmt.Println("vacuum complete")
}

func runDups(args []string) {
	fs := flag.NewFlagSet("dups", flag.ExitOnError)
	fs.Parse(args)

	cfg := loadConfig()
	eng := openEngine(cfg)
	defer eng.Close()

	groups, err := eng.DuplicatesByMD5()
	if err != nil {
		log.Fatalf("cbird dups: %v", err)
	}
	printGroups(groups)
}

func runNegAdd(args []string) {
	fs := flag.NewFlagSet("neg-add", flag.ExitOnError)
	fs.Parse(args)
	if fs.NArg() != 2 {
		log.Fatal("cbird neg-add: exactly two md5 hashes are required")
	}

	cfg := loadConfig()
	eng := openEngine(cfg)
	defer eng.Close()

	if err := eng.AddNegativeMatch(fs.Arg(0), fs.Arg(1)); err != nil {
		log.Fatalf("cbird neg-add: %v", err)
	}
	fmt.Println("recorded")
}

func runNegList(args []string) {
	fs := flag.NewFlagSet("neg-list", flag.ExitOnError)
	fs.Parse(args)

	cfg := loadConfig()
	eng := openEngine(cfg)
	defer eng.Close()

	pairs, err := eng.NegativeMatches()
	if err != nil {
		log.Fatalf("cbird neg-list: %v", err)
	}
	if len(pairs) == 0 {
		fmt.Println("no negative matches recorded")
		return
	}
	for _, p := range pairs {
		fmt.Printf("%s <-> %s\n", p.MD5A, p.MD5B)
	}
}

func printGroups(groups []model.MatchGroup) {
	if len(groups) == 0 {
		fmt.Println("no matches found")
		return
	}
	for i, g := range groups {
		fmt.Printf("group %d:\n", i+1)
		for _, m := range g {
			fmt.Printf("  %s (score=%d)\n", m.Record.RelativePath, m.Score)
		}
	}
}
