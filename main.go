// SPDX-FileCopyrightText: © 2025 Olivier Meunier <olivier@neokraft.net>
//
// SPDX-License-Identifier: AGPL-3.0-only

// Savecomplete saves a web page with all its resources.
package main

import (
	"codeberg.org/readeck/savecomplete/internal/app"
)

func main() {
	app.Main()
}
