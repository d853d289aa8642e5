// Copyright (c) Elliot Nunn
// Licensed under the MIT license

// Command dmgkit opens a .dmg image, walks its main filesystem, and prints
// a listing — a thin demonstration of the four core engines composed
// end to end. The CLI itself (flags, colour, globbing) is explicitly out
// of this module's scope; this is the minimal glue a real front end would
// build on top of internal/udif, internal/hfsplus, internal/apfs.
package main

import (
	"bytes"
	"flag"
	"fmt"
	"os"
	gopath "path"

	"github.com/elliotnunn/dmgkit/internal/apfs"
	"github.com/elliotnunn/dmgkit/internal/hfsplus"
	"github.com/elliotnunn/dmgkit/internal/udif"
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [-extract path] image.dmg\n", os.Args[0])
		flag.PrintDefaults()
	}
	extract := flag.String("extract", "", "print the contents of one file instead of listing the tree")
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	if err := run(flag.Arg(0), *extract); err != nil {
		fmt.Fprintln(os.Stderr, "dmgkit:", err)
		os.Exit(1)
	}
}

func run(dmgPath, extractPath string) error {
	f, err := os.Open(dmgPath)
	if err != nil {
		return err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return err
	}

	r, err := udif.Open(f, st.Size())
	if err != nil {
		return fmt.Errorf("opening udif image: %w", err)
	}

	for _, p := range r.Partitions() {
		fmt.Printf("partition %d: %-12q kind=%-5v sectors=%-8d compressed=%d\n",
			p.ID, p.Name, p.Kind, p.SectorCount, p.CompressedSize)
	}

	id, err := r.MainPartitionID()
	if err != nil {
		return fmt.Errorf("selecting main partition: %w", err)
	}

	data, err := r.DecompressPartition(id)
	if err != nil {
		return fmt.Errorf("decompressing partition %d: %w", id, err)
	}

	part := bytes.NewReader(data)

	var kind udif.PartitionKind
	for _, p := range r.Partitions() {
		if p.ID == id {
			kind = p.Kind
		}
	}

	switch kind {
	case udif.KindHFS:
		v, err := hfsplus.Open(part)
		if err != nil {
			return fmt.Errorf("opening hfs+ volume: %w", err)
		}
		if extractPath != "" {
			data, err := v.ReadFile(extractPath)
			if err != nil {
				return err
			}
			_, err = os.Stdout.Write(data)
			return err
		}
		return walkHFS(v, "/")
	case udif.KindAPFS:
		v, err := apfs.Open(part, true)
		if err != nil {
			return fmt.Errorf("opening apfs volume: %w", err)
		}
		if extractPath != "" {
			data, err := v.ReadFile(extractPath)
			if err != nil {
				return err
			}
			_, err = os.Stdout.Write(data)
			return err
		}
		return walkAPFS(v, "/")
	default:
		return fmt.Errorf("partition %d has no supported filesystem (kind %v)", id, kind)
	}
}

func walkHFS(v *hfsplus.Volume, dir string) error {
	entries, err := v.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		full := gopath.Join(dir, e.Name)
		fmt.Printf("%s\n", full)
		if e.IsDir {
			if err := walkHFS(v, full); err != nil {
				return err
			}
		}
	}
	return nil
}

func walkAPFS(v *apfs.Volume, dir string) error {
	entries, err := v.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		full := gopath.Join(dir, e.Name)
		fmt.Printf("%s\n", full)
		if e.IsDir {
			if err := walkAPFS(v, full); err != nil {
				return err
			}
		}
	}
	return nil
}
