// Copyright 2022 Namespace Labs Inc; All rights reserved.
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package cmd

import (
	"github.com/spf13/cobra"
)

func RegisterCommands(root *cobra.Command) {
	root.AddCommand(NewBuildCmd())
	root.AddCommand(NewDevCmd())
	root.AddCommand(NewCacheCmd())
	root.AddCommand(NewVersionCmd())
}
