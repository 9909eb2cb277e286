// Copyright 2024-2026 Aiku AI

package bbcode_test

import (
	"fmt"

	"github.com/aiku/tavern-bridge/pkg/bbcode"
)

func ExampleToMarkdown() {
	fmt.Println(bbcode.ToMarkdown("[b]Hello[/b] [user]Jane[/user]"))
	// Output: **Hello** Jane
}
