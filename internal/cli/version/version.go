// Copyright 2022 Namespace Labs Inc; All rights reserved.
// Licensed under the EARLY ACCESS SOFTWARE LICENSE AGREEMENT
// available at http://github.com/namespacelabs/foundation

package version

import (
	"runtime/debug"
	"time"

	"namespacelabs.dev/backendkit/internal/fnerrors"
)

type BinaryVersion struct {
	Version      string
	GitCommit    string
	BuildTimeStr string
	BuildTime    *time.Time
	Modified     bool
}

func Current() (*BinaryVersion, error) {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return nil, fnerrors.InternalError("buildinfo is missing")
	}

	return VersionFrom(info)
}

func VersionFrom(info *debug.BuildInfo) (*BinaryVersion, error) {
	v := &BinaryVersion{Version: info.Main.Version}

	for _, n := range info.Settings {
		switch n.Key {
		case "vcs.revision":
			v.GitCommit = n.Value
		case "vcs.time":
			v.BuildTimeStr = n.Value
		case "vcs.modified":
			v.Modified = n.Value == "true"
		}
	}

	if v.Version == "" && v.GitCommit == "" {
		return nil, fnerrors.InternalError("binary does not include version information")
	}

	if v.BuildTimeStr != "" {
		if parsed, err := time.Parse(time.RFC3339, v.BuildTimeStr); err == nil {
			v.BuildTime = &parsed
		}
	}

	return v, nil
}
