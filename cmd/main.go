// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

// Command exif dumps the Exif metadata of a JPEG file, echoing the
// sample lookups of the original KLab demo program. It can also strip
// the Exif segment from a file and extract the embedded thumbnail.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/mkttanabe/exif"
)

// Tag ids used by the sample lookups.
const (
	tagModel            uint16 = 0x0110
	tagDateTimeOriginal uint16 = 0x9003
	tagGPSLatitude      uint16 = 0x0002
)

func main() {
	verbose := flag.Bool("v", false, "log decoder warnings to stderr")
	stripOut := flag.String("strip", "", "write a copy of FILE without its Exif segment to `OUT`")
	thumbOut := flag.String("thumb", "", "write the embedded thumbnail image to `OUT`")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [-v] [-strip OUT] [-thumb OUT] FILE\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	if err := run(flag.Arg(0), *verbose, *stripOut, *thumbOut); err != nil {
		fmt.Fprintln(os.Stderr, "exif:", err)
		os.Exit(1)
	}
}

func run(filename string, verbose bool, stripOut, thumbOut string) error {
	opts := exif.Options{}
	if verbose {
		logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
		opts.Warnf = func(format string, args ...any) {
			logger.Warn(fmt.Sprintf(format, args...))
		}
	}

	f, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer f.Close()
	opts.R = f

	dirs, err := exif.Decode(opts)
	if err != nil && dirs == nil {
		return fmt.Errorf("decode [%s]: %w", filename, err)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "[%s] contains one or more IFD errors. use -v for details.\n", filename)
	}

	if dirs == nil {
		fmt.Printf("[%s] does not seem to contain the Exif segment.\n", filename)
	} else {
		dirs.Dump(os.Stdout)
		fmt.Println()
		printSamples(dirs)
	}

	if stripOut != "" {
		found, err := exif.StripFile(stripOut, filename)
		if err != nil {
			return fmt.Errorf("strip [%s]: %w", filename, err)
		}
		fmt.Printf("wrote [%s] (Exif segment removed: %t)\n", stripOut, found)
	}

	if thumbOut != "" {
		thumb := dirs.Thumbnail()
		if thumb == nil {
			return fmt.Errorf("[%s] has no embedded thumbnail", filename)
		}
		if err := os.WriteFile(thumbOut, thumb, 0o644); err != nil {
			return err
		}
		fmt.Printf("wrote [%s] (%d bytes)\n", thumbOut, len(thumb))
	}

	return nil
}

// printSamples looks up the three tags the original demo prints.
func printSamples(dirs exif.Directories) {
	if t := dirs.Lookup(exif.IfdPrimary, tagModel); t != nil {
		if s, err := t.StringVal(); err == nil {
			fmt.Printf("0th IFD : Model = [%s]\n", s)
		}
	}

	if t := dirs.Lookup(exif.IfdExif, tagDateTimeOriginal); t != nil {
		if s, err := t.StringVal(); err == nil {
			fmt.Printf("Exif IFD : DateTimeOriginal = [%s]\n", s)
		}
	}

	if t := dirs.Lookup(exif.IfdGPS, tagGPSLatitude); t != nil && t.Err == nil {
		fmt.Printf("GPS IFD : GPSLatitude = ")
		for i := 0; i+1 < len(t.Num); i += 2 {
			fmt.Printf("%d/%d ", t.Num[i], t.Num[i+1])
		}
		fmt.Println()
	}
}
