// Copyright 2026 The SGPar Authors. SPDX-License-Identifier: Apache-2.0

// copyright_header stamps the project license header on Go files that miss it.
//
// With -check it only lists the files missing the header, and exits with an error if there is any.
package main

import (
	"flag"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

var (
	flagProject = flag.String("project", "SGPar", "Project name to use in the copyright header.")
	flagYear    = flag.String("year", "2026", "Year (or range of years) of the copyright header.")
	flagCheck   = flag.Bool("check", false, "Only report the files missing the header, don't change them.")
)

func main() {
	klog.InitFlags(nil)
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] [path ...]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nAdds the copyright header to Go files missing it. Default path is current directory.\n\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	header := fmt.Sprintf("// Copyright %s The %s Authors. SPDX-License-Identifier: Apache-2.0\n", *flagYear, *flagProject)
	roots := flag.Args()
	if len(roots) == 0 {
		roots = []string{"."}
	}
	var missing int
	for _, root := range roots {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if path != root && skipDir(d.Name()) {
					return filepath.SkipDir
				}
				return nil
			}
			if !strings.HasSuffix(d.Name(), ".go") || strings.HasPrefix(d.Name(), "gen_") {
				return nil
			}
			changed, err := processFile(path, header, *flagCheck)
			if changed {
				missing++
			}
			return err
		})
		if err != nil {
			klog.Fatalf("Error walking path %q: %+v", root, err)
		}
	}
	if *flagCheck && missing > 0 {
		klog.Errorf("%d files missing the copyright header", missing)
		os.Exit(1)
	}
}

// skipDir returns whether a directory is hidden, vendored or ignored by the Go tool.
func skipDir(name string) bool {
	return strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_") || name == "vendor" || name == "testdata"
}

// processFile adds the header to the file, if missing. It returns whether the header was missing.
func processFile(path, header string, checkOnly bool) (bool, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return false, errors.Wrapf(err, "failed to read %q", path)
	}
	updated, changed := addHeader(string(content), header)
	if !changed {
		return false, nil
	}
	if checkOnly {
		fmt.Println(path)
		return true, nil
	}
	klog.Infof("Adding header to %s", path)
	info, err := os.Stat(path)
	if err != nil {
		return true, errors.Wrapf(err, "failed to stat %q", path)
	}
	if err = os.WriteFile(path, []byte(updated), info.Mode()); err != nil {
		return true, errors.Wrapf(err, "failed to write %q", path)
	}
	return true, nil
}

// addHeader returns the content with the header, after the build constraints if there are any.
// It returns false if the content already has a copyright line in its first lines.
func addHeader(content, header string) (string, bool) {
	lines := strings.Split(content, "\n")
	lastBuildTag := -1
	for ii, line := range lines {
		if ii > 50 {
			break
		}
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "// Copyright") {
			return content, false
		}
		if strings.HasPrefix(trimmed, "//go:build") || strings.HasPrefix(trimmed, "// +build") {
			lastBuildTag = ii
		}
	}
	if lastBuildTag < 0 {
		return header + "\n" + content, true
	}
	rest := strings.TrimLeft(strings.Join(lines[lastBuildTag+1:], "\n"), "\n")
	return strings.Join(lines[:lastBuildTag+1], "\n") + "\n\n" + header + "\n" + rest, true
}
