package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/samber/lo"

	"github.com/tinylink/x64ld/pkg/linker"
	"github.com/tinylink/x64ld/pkg/utils"
)

var version string

// parsedArgs is what parseArgs extracts from argv before any file gets
// mapped: everything the core pipeline's Config needs, plus the file
// list in invocation order (priority ties fall back to this order).
type parsedArgs struct {
	cfg       linker.Config
	filenames []string
}

// parseArgs hand-rolls single- and double-dash option matching via
// utils.AddDashes rather than reaching for a flag library: every
// positional argument left over is an input file, mapped and parsed
// in the order given.
func parseArgs(argv []string) parsedArgs {
	args := parsedArgs{
		cfg: linker.Config{
			Output:  "a.out",
			Threads: 0,
		},
	}

	isOpt := func(arg, name string) bool {
		return lo.Contains(utils.AddDashes(name), arg)
	}

	for i := 0; i < len(argv); i++ {
		arg := argv[i]
		switch {
		case isOpt(arg, "o"):
			i++
			if i >= len(argv) {
				utils.Fatal("-o requires an argument")
			}
			args.cfg.Output = argv[i]
		case isOpt(arg, "L"):
			i++
			if i >= len(argv) {
				utils.Fatal("-L requires an argument")
			}
			args.cfg.LibraryPaths = append(args.cfg.LibraryPaths, argv[i])
		case isOpt(arg, "pie"):
			args.cfg.Pie = true
		case isOpt(arg, "relax"):
			args.cfg.Relax = true
		case isOpt(arg, "icf"):
			i++
			if i >= len(argv) {
				utils.Fatal("--icf requires an argument")
			}
			switch argv[i] {
			case "none":
				args.cfg.ICF = linker.ICFOff
			case "safe":
				args.cfg.ICF = linker.ICFConservative
			case "all":
				args.cfg.ICF = linker.ICFAll
			default:
				utils.Fatal("unknown --icf mode " + argv[i])
			}
		case isOpt(arg, "print-icf-sections"):
			args.cfg.PrintICFSections = true
		case strings.HasPrefix(arg, "-"):
			// unrecognized options are accepted and ignored, matching a
			// driver that must tolerate flags meant for other link stages
		default:
			args.filenames = append(args.filenames, arg)
		}
	}

	return args
}

// loadObjects maps and parses every plain input file named on the
// command line into an ObjectFile, in invocation order, so Priority
// matches argv position the way tie-break resolution expects.
// Archives are rejected rather than extracted: expanding a .a into its
// member objects is the caller's job upstream of this driver.
func loadObjects(ctx *linker.Context, filenames []string) []*linker.ObjectFile {
	objs := make([]*linker.ObjectFile, 0, len(filenames))
	for i, name := range filenames {
		file := linker.NewFile(name)
		switch linker.GetFileTypeFromContent(file.Content) {
		case linker.FileTypeObject:
			linker.CheckFileCompatibility(ctx, file)
			obj := linker.NewObjectFile(file, int64(i), false)
			obj.Parse(ctx)
			objs = append(objs, obj)
		case linker.FileTypeArchive:
			utils.Fatal(name + ": archive inputs must already be expanded into member object files")
		case linker.FileTypeDSO:
			utils.Fatal(name + ": shared-object inputs are not yet supported by this driver")
		default:
			utils.Fatal(name + ": not a recognized object file")
		}
	}
	return objs
}

func main() {
	args := parseArgs(os.Args[1:])
	if len(args.filenames) == 0 {
		fmt.Fprintln(os.Stderr, "x64ld: no input files")
		os.Exit(1)
	}

	ctx := linker.NewContext()
	ctx.Config = args.cfg
	ctx.Config.Machine = linker.MachineTypeX86_64

	ctx.Objs = loadObjects(ctx, args.filenames)

	if err := linker.Link(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "x64ld: %v\n", err)
		os.Exit(1)
	}

	if version != "" {
		ctx.Diag.Logf("x64ld %s: resolved %d live object files", version, len(ctx.Objs))
	}

	os.Exit(0)
}
