// Command mkrootimg builds a root filesystem image from a host directory
// tree, for the kernel's boot loader to hand to the VFS at startup. It
// plays the same role as biscuit's mkfs.go (biscuit/src/mkfs/mkfs.go:
// "copydata reads the file at src... f.Append... addfiles walks skeldir
// on the host and replicates its contents") but targets a plain tar
// stream rather than biscuit's custom ufs block layout, since this
// module's VFS core (spec.md §4.4) never specifies an on-disk format —
// only memfs.FS, an in-memory filesystem built directly from entries at
// boot, ships with the kernel itself.
package main

import (
	"archive/tar"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	outPath  string
	skelDir  string
	logLevel string
)

func main() {
	root := &cobra.Command{
		Use:   "mkrootimg",
		Short: "Build a root filesystem image from a host directory tree",
		RunE:  runBuild,
	}
	root.Flags().StringVarP(&outPath, "output", "o", "", "path to write the image to (required)")
	root.Flags().StringVarP(&skelDir, "skel", "s", "", "host directory tree to pack (required)")
	root.Flags().StringVar(&logLevel, "log-level", "info", "logrus level (debug, info, warn, error)")
	root.MarkFlagRequired("output")
	root.MarkFlagRequired("skel")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runBuild(cmd *cobra.Command, args []string) error {
	log := logrus.StandardLogger()
	if lvl, err := logrus.ParseLevel(logLevel); err == nil {
		log.SetLevel(lvl)
	}

	out, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("create image: %w", err)
	}
	defer out.Close()

	tw := tar.NewWriter(out)
	defer tw.Close()

	count := 0
	err = filepath.WalkDir(skelDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			log.WithField("path", path).WithError(err).Warn("failed to access path")
			return err
		}
		rel := strings.TrimPrefix(strings.TrimPrefix(path, skelDir), string(os.PathSeparator))
		if rel == "" {
			return nil
		}

		info, ierr := d.Info()
		if ierr != nil {
			return ierr
		}
		hdr, herr := tar.FileInfoHeader(info, "")
		if herr != nil {
			return herr
		}
		hdr.Name = filepath.ToSlash(rel)

		if d.IsDir() {
			hdr.Typeflag = tar.TypeDir
			if werr := tw.WriteHeader(hdr); werr != nil {
				return werr
			}
			log.WithField("dir", rel).Debug("packed directory")
			return nil
		}

		hdr.Typeflag = tar.TypeReg
		if werr := tw.WriteHeader(hdr); werr != nil {
			return werr
		}
		src, oerr := os.Open(path)
		if oerr != nil {
			return oerr
		}
		defer src.Close()
		if _, cerr := io.Copy(tw, src); cerr != nil {
			return cerr
		}
		count++
		log.WithField("file", rel).Debug("packed file")
		return nil
	})
	if err != nil {
		return fmt.Errorf("walk %s: %w", skelDir, err)
	}

	log.WithFields(logrus.Fields{"files": count, "output": outPath}).Info("root image built")
	return nil
}
